package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sys/unix"

	"ubuild/internal/console"
	"ubuild/internal/execx"
	"ubuild/internal/task"
	"ubuild/internal/toolchain"
)

// ConfigError is a fatal configuration failure: the host cannot build
// uprocd at all.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

// Prober inspects the host. The system implementation shells out; tests
// substitute a fake.
type Prober interface {
	// Platform returns the host's platform tags, e.g. ["linux", "posix"].
	Platform() ([]string, error)
	// FindProgram resolves explicit, or else the first of names on PATH.
	FindProgram(explicit string, names ...string) (string, error)
	CompilerKind(ctx context.Context, exe string) (toolchain.Kind, error)
	// Package queries pkg-config; found=false is not an error.
	Package(ctx context.Context, pkgConfig, name string) (pkg toolchain.Package, found bool, err error)
	RubyVersion(ctx context.Context, bin string) (string, bool)
	RubyGem(ctx context.Context, bin, gem string) bool
	Header(ctx context.Context, cc toolchain.Compiler, header string) (bool, error)
}

// SystemProber probes the real host.
type SystemProber struct {
	Cmd execx.Commander
	// Scratch is a directory for header test files.
	Scratch string
}

// Platform implements Prober using uname(2).
func (p *SystemProber) Platform() ([]string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, err
	}
	sys := strings.ToLower(unix.ByteSliceToString(uts.Sysname[:]))
	tags := []string{sys, "posix"}
	slices.Sort(tags)
	return slices.Compact(tags), nil
}

func (p *SystemProber) FindProgram(explicit string, names ...string) (string, error) {
	return execx.LookPath(explicit, names...)
}

func (p *SystemProber) CompilerKind(ctx context.Context, exe string) (toolchain.Kind, error) {
	return toolchain.DetectKind(ctx, p.Cmd, exe)
}

func (p *SystemProber) Package(ctx context.Context, pkgConfig, name string) (toolchain.Package, bool, error) {
	return toolchain.PkgConfig(ctx, p.Cmd, pkgConfig, name)
}

func (p *SystemProber) RubyVersion(ctx context.Context, bin string) (string, bool) {
	return toolchain.RubyVersion(ctx, p.Cmd, bin)
}

func (p *SystemProber) RubyGem(ctx context.Context, bin, gem string) bool {
	return toolchain.HasRubyGem(ctx, p.Cmd, bin, gem)
}

func (p *SystemProber) Header(ctx context.Context, cc toolchain.Compiler, header string) (bool, error) {
	return toolchain.HeaderExists(ctx, p.Cmd, cc, header, p.Scratch)
}

// Resolver produces the configuration record, probing only when the
// options or the probed programs changed since the last run.
type Resolver struct {
	runner *task.Runner
	prober Prober
	log    *console.Logger
}

// NewResolver returns a Resolver caching through runner.
func NewResolver(runner *task.Runner, prober Prober, log *console.Logger) *Resolver {
	if log == nil {
		log = console.Discard()
	}
	return &Resolver{runner: runner, prober: prober, log: log}
}

// Resolve returns the record for opts. The status tells whether probing
// actually ran. The platform check always runs and fails before anything
// else does.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (*Record, task.Status, error) {
	platform, err := r.prober.Platform()
	if err != nil {
		return nil, task.Ran, err
	}
	if !slices.Contains(platform, "linux") {
		return nil, task.Ran, &ConfigError{Msg: "uprocd only runs under Linux."}
	}

	spec := task.Spec{
		Op:   "configure",
		Args: append(opts.ProbeArgs(), "platform="+strings.Join(platform, ",")),
	}
	rec, status, err := task.DoStatus(ctx, r.runner, spec, func(ctx context.Context, tr *task.Recorder) (Record, error) {
		return r.probe(ctx, opts, platform, tr)
	})
	if err != nil {
		return nil, status, unwrapConfig(err)
	}
	return &rec, status, nil
}

// unwrapConfig strips the task wrapper from configuration failures so they
// read as the plain message.
func unwrapConfig(err error) error {
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return cerr
	}
	return err
}

func (r *Resolver) probe(ctx context.Context, opts Options, platform []string, tr *task.Recorder) (Record, error) {
	rec := Record{Platform: platform, Release: opts.Release}
	track := func(path string) {
		if filepath.IsAbs(path) {
			if _, err := os.Stat(path); err == nil {
				tr.AddInputs(path)
			}
		}
	}

	check := r.log.Check("checking for C compiler")
	exe, err := r.prober.FindProgram(opts.CC, "cc", "gcc", "clang")
	if err != nil {
		check.Failed("")
		return rec, &ConfigError{Msg: "no C compiler found: " + err.Error()}
	}
	kind, err := r.prober.CompilerKind(ctx, exe)
	if err != nil {
		check.Failed(exe)
		return rec, &ConfigError{Msg: err.Error()}
	}
	check.Passed(exe + " (" + string(kind) + ")")
	track(exe)

	ar, err := r.prober.FindProgram("", "ar")
	if err != nil {
		return rec, &ConfigError{Msg: "ar is required."}
	}
	track(ar)
	rec.Compiler = toolchain.NewCompiler(exe, kind, ar, toolchain.FlagOptions{
		UserFlags: opts.CFlags,
		UseColor:  opts.UseColor,
		Release:   opts.Release,
	})

	if opts.PkgConfig != "" {
		track(opts.PkgConfig)
	}
	systemd, found, err := r.pkg(ctx, opts, "libsystemd")
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, &ConfigError{Msg: "libsystemd is required."}
	}
	rec.LibSystemd = systemd

	if rec.Python3, err = r.optional(ctx, opts, "python3"); err != nil {
		return rec, err
	}

	if bin, err := r.prober.FindProgram(opts.Ruby, "ruby"); err == nil {
		rec.RubyBin = bin
		track(bin)
		check := r.log.Check("checking %s version", bin)
		if ver, ok := r.prober.RubyVersion(ctx, bin); ok {
			check.Passed(ver)
			if rec.Ruby, err = r.optional(ctx, opts, "ruby-"+ver); err != nil {
				return rec, err
			}
		} else {
			check.Failed("")
		}
	}

	rec.DocTool = r.docTool(ctx, opts, rec.RubyBin)
	if rec.DocTool.Found {
		track(rec.DocTool.Exe)
		if rec.DocTool.Script != "" {
			track(rec.DocTool.Script)
		}
	}

	check = r.log.Check("checking for Judy.h")
	ok, err := r.prober.Header(ctx, rec.Compiler, "Judy.h")
	if err != nil {
		check.Failed("")
		return rec, err
	}
	if !ok {
		check.Failed("")
		return rec, &ConfigError{Msg: "Judy is required."}
	}
	check.Passed("")

	check = r.log.Check("checking for systemctl")
	if sc, err := r.prober.FindProgram("", "systemctl"); err == nil {
		check.Passed(sc)
		rec.Systemctl = sc
	} else {
		check.Failed("")
	}

	return rec, nil
}

func (r *Resolver) pkg(ctx context.Context, opts Options, name string) (toolchain.Package, bool, error) {
	check := r.log.Check("checking for %s", name)
	pkg, found, err := r.prober.Package(ctx, opts.PkgConfig, name)
	if err != nil {
		check.Failed("")
		return pkg, false, err
	}
	if !found {
		check.Failed("")
		return pkg, false, nil
	}
	check.Passed(pkg.String())
	return pkg, true, nil
}

func (r *Resolver) optional(ctx context.Context, opts Options, name string) (Optional, error) {
	pkg, found, err := r.pkg(ctx, opts, name)
	if err != nil {
		return Optional{}, err
	}
	return Optional{Found: found, Package: pkg}, nil
}

func (r *Resolver) docTool(ctx context.Context, opts Options, rubyBin string) DocTool {
	if opts.DocTool == DocNone {
		return DocTool{}
	}
	check := r.log.Check("checking for %s", opts.DocTool)
	switch opts.DocTool {
	case DocMrkd:
		exe, err := r.prober.FindProgram(opts.Mrkd, "mrkd")
		if err != nil {
			check.Failed("")
			return DocTool{}
		}
		check.Passed(exe)
		return DocTool{Found: true, Kind: DocMrkd, Exe: exe}
	case DocRonn:
		script := opts.Ronn
		if !filepath.IsAbs(script) {
			script = filepath.Join(opts.SourceDir, script)
		}
		if abs, err := filepath.Abs(script); err == nil {
			script = abs
		}
		if rubyBin == "" || !r.prober.RubyGem(ctx, rubyBin, "ronn") {
			check.Failed("")
			return DocTool{}
		}
		if _, err := os.Stat(script); err != nil {
			check.Failed(script + " missing")
			return DocTool{}
		}
		check.Passed(script)
		return DocTool{Found: true, Kind: DocRonn, Exe: rubyBin, Script: script}
	}
	check.Failed("unknown renderer")
	return DocTool{}
}
