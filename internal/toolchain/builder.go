package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"ubuild/internal/console"
	"ubuild/internal/execx"
	"ubuild/internal/sched"
	"ubuild/internal/task"
)

// Target describes one library or executable.
type Target struct {
	Name string
	// Sources are relative to the source directory.
	Sources []string
	// Includes are include directories relative to the source directory.
	Includes     []string
	CFlags       []string
	LDLibs       []string
	ExternalLibs []string
	// Libs are archives produced by earlier targets, in link order.
	Libs []string
}

// Builder compiles and links targets through cached tasks.
type Builder struct {
	CC       Compiler
	SrcDir   string
	BuildDir string

	runner *task.Runner
	sched  *sched.Scheduler
	cmd    execx.Commander
	log    *console.Logger
}

// NewBuilder returns a Builder that runs cc in srcDir and writes artifacts
// below buildDir. Both directories are made absolute.
func NewBuilder(cc Compiler, srcDir, buildDir string, runner *task.Runner, s *sched.Scheduler, cmd execx.Commander, log *console.Logger) (*Builder, error) {
	src, err := filepath.Abs(srcDir)
	if err != nil {
		return nil, err
	}
	build, err := filepath.Abs(buildDir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = console.Discard()
	}
	return &Builder{CC: cc, SrcDir: src, BuildDir: build, runner: runner, sched: s, cmd: cmd, log: log}, nil
}

// Glob expands pattern relative to the source directory and returns the
// sorted relative matches.
func (b *Builder) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.SrcDir, pattern))
	if err != nil {
		return nil, err
	}
	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		r, err := filepath.Rel(b.SrcDir, m)
		if err != nil {
			return nil, err
		}
		rel = append(rel, r)
	}
	sort.Strings(rel)
	return rel, nil
}

func (b *Builder) src(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(b.SrcDir, rel)
}

func (b *Builder) rel(path string) string {
	for _, root := range []string{b.BuildDir, b.SrcDir} {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			return r
		}
	}
	return path
}

type compileMode int

const (
	static compileMode = iota
	shared
)

// compile builds one object file. Headers reported by the compiler's
// depfile become discovered inputs of the task.
func (b *Builder) compile(ctx context.Context, t Target, mode compileMode, source string) (string, error) {
	src := b.src(source)
	objDir := "obj"
	if mode == shared {
		objDir = "obj-pic"
	}
	obj := filepath.Join(b.BuildDir, objDir, t.Name, strings.TrimSuffix(source, filepath.Ext(source))+".o")
	dep := obj + ".d"

	argv := []string{b.CC.Exe}
	argv = append(argv, b.CC.CompileFlags()...)
	if mode == shared {
		argv = append(argv, "-fPIC")
	}
	for _, inc := range t.Includes {
		argv = append(argv, "-I"+b.src(inc))
	}
	argv = append(argv, t.CFlags...)
	argv = append(argv, "-MMD", "-MF", dep, "-c", src, "-o", obj)

	spec := task.Spec{Op: "cc.compile", Args: argv, Inputs: []string{src}, Outputs: []string{obj}}
	return task.Do(ctx, b.runner, spec, func(ctx context.Context, rec *task.Recorder) (string, error) {
		if err := os.MkdirAll(filepath.Dir(obj), 0o755); err != nil {
			return "", err
		}
		b.log.Step(b.CC.Kind.tag(), fmt.Sprintf("%s -> %s", source, b.rel(obj)))
		if err := b.cmd.Run(ctx, b.SrcDir, argv...); err != nil {
			return "", err
		}
		deps, err := ReadDepfile(dep, b.SrcDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading depfile: %w", err)
		}
		for _, d := range deps {
			if d != src {
				rec.AddInputs(d)
			}
		}
		return obj, nil
	})
}

func (k Kind) tag() string {
	if k == "" {
		return "cc"
	}
	return string(k)
}

func (b *Builder) objects(ctx context.Context, t Target, mode compileMode) ([]string, error) {
	if len(t.Sources) == 0 {
		return nil, fmt.Errorf("%s: no sources", t.Name)
	}
	return sched.Map(ctx, b.sched, t.Name, t.Sources, func(ctx context.Context, src string) (string, error) {
		return b.compile(ctx, t, mode, src)
	})
}

// StaticLib compiles t and archives it into lib<name>.a.
func (b *Builder) StaticLib(ctx context.Context, t Target) (string, error) {
	objs, err := b.objects(ctx, t, static)
	if err != nil {
		return "", err
	}
	archive := filepath.Join(b.BuildDir, "lib"+t.Name+".a")
	argv := append([]string{b.CC.AR, "rcs", archive}, objs...)

	spec := task.Spec{Op: "cc.archive", Args: argv, Inputs: objs, Outputs: []string{archive}}
	return task.Do(ctx, b.runner, spec, func(ctx context.Context, _ *task.Recorder) (string, error) {
		// ar only ever adds members.
		if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		b.log.Step("ar", fmt.Sprintf("%s -> %s", t.Name, b.rel(archive)))
		if err := b.cmd.Run(ctx, b.SrcDir, argv...); err != nil {
			return "", err
		}
		return archive, nil
	})
}

// SharedLib compiles t as position-independent code and links
// lib<name>.so.
func (b *Builder) SharedLib(ctx context.Context, t Target) (string, error) {
	objs, err := b.objects(ctx, t, shared)
	if err != nil {
		return "", err
	}
	out := filepath.Join(b.BuildDir, "lib"+t.Name+".so")
	return b.link(ctx, "cc.shared", t, objs, out, true)
}

// Exe compiles and links an executable named after t.
func (b *Builder) Exe(ctx context.Context, t Target) (string, error) {
	objs, err := b.objects(ctx, t, static)
	if err != nil {
		return "", err
	}
	out := filepath.Join(b.BuildDir, t.Name)
	return b.link(ctx, "cc.link", t, objs, out, false)
}

func (b *Builder) link(ctx context.Context, op string, t Target, objs []string, out string, sharedLib bool) (string, error) {
	argv := []string{b.CC.Exe}
	argv = append(argv, b.CC.LinkerFlags()...)
	if sharedLib {
		argv = append(argv, "-shared")
	}
	argv = append(argv, objs...)
	argv = append(argv, t.Libs...)
	argv = append(argv, "-o", out)
	argv = append(argv, t.LDLibs...)
	for _, lib := range append(slices.Clone(t.ExternalLibs), b.CC.ExternalLibs...) {
		argv = append(argv, "-l"+lib)
	}

	inputs := append(slices.Clone(objs), t.Libs...)
	spec := task.Spec{Op: op, Args: argv, Inputs: inputs, Outputs: []string{out}}
	return task.Do(ctx, b.runner, spec, func(ctx context.Context, _ *task.Recorder) (string, error) {
		b.log.Step(b.CC.Kind.tag(), fmt.Sprintf("%s -> %s", t.Name, b.rel(out)))
		if err := b.cmd.Run(ctx, b.SrcDir, argv...); err != nil {
			return "", err
		}
		return out, nil
	})
}
