// Package build wires uprocd's build graph: the native libraries and
// executables, the optional modules, the manual pages and finally the
// install manifest.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"ubuild/internal/config"
	"ubuild/internal/console"
	"ubuild/internal/docs"
	"ubuild/internal/execx"
	"ubuild/internal/manifest"
	"ubuild/internal/module"
	"ubuild/internal/sched"
	"ubuild/internal/task"
	"ubuild/internal/toolchain"
)

// SourceDirs are the source tree directories the build reads from.
var SourceDirs = []string{"api", "sds", "src", "modules", "man", "misc", "web"}

// Pipeline holds what one build needs.
type Pipeline struct {
	Rec       *config.Record
	Modules   []module.Spec
	SourceDir string
	BuildDir  string
	Prefix    string

	Runner *task.Runner
	Sched  *sched.Scheduler
	Cmd    execx.Commander
	Log    *console.Logger
}

// Result is the outcome of a build.
type Result struct {
	Input    manifest.Input
	Layout   manifest.Layout
	Entries  []manifest.Entry
	Records  []manifest.Record
	Manifest string
}

// Run builds everything and writes the manifest into the build directory.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	b, err := toolchain.NewBuilder(p.Rec.Compiler, p.SourceDir, p.BuildDir, p.Runner, p.Sched, p.Cmd, p.Log)
	if err != nil {
		return nil, err
	}
	in := manifest.Input{SourceDir: b.SrcDir}

	core, err := p.buildCore(ctx, b)
	if err != nil {
		return nil, err
	}
	in.Cgrmvd, in.Uprocd, in.Uprocctl = core[0], core[1], core[2]

	if in.U, err = Symlink(ctx, p.Runner, p.Log, in.Uprocctl, filepath.Join(b.BuildDir, "u")); err != nil {
		return nil, err
	}

	in.Modules, err = sched.Map(ctx, p.Sched, "modules", p.Modules, func(ctx context.Context, spec module.Spec) (manifest.ModuleOutput, error) {
		return p.buildModule(ctx, b, spec, in.Uprocctl)
	})
	if err != nil {
		return nil, err
	}

	if p.Rec.DocTool.Found {
		if in.Pages, err = p.buildDocs(ctx, b); err != nil {
			return nil, err
		}
		in.AliasPage = in.Pages[0]
	} else {
		p.Log.Note("No documentation renderer configured, skipping docs.")
	}

	layout := manifest.LayoutFor(p.Rec.DocTool.Kind)
	entries := manifest.Assemble(in, layout)
	if err := manifest.Verify(entries); err != nil {
		return nil, err
	}
	recs, err := manifest.Records(entries, p.Prefix)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(b.BuildDir, manifest.FileName)
	if err := manifest.Write(path, recs); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &Result{Input: in, Layout: layout, Entries: entries, Records: recs, Manifest: path}, nil
}

// buildCore builds the support libraries and returns the cgrmvd, uprocd
// and uprocctl executables.
func (p *Pipeline) buildCore(ctx context.Context, b *toolchain.Builder) ([]string, error) {
	sds, err := b.StaticLib(ctx, toolchain.Target{Name: "sds", Sources: []string{"sds/sds.c"}})
	if err != nil {
		return nil, err
	}

	sys := p.Rec.LibSystemd
	base := toolchain.Target{
		Includes:     []string{"api", "sds", "src/common"},
		CFlags:       append([]string{"-fvisibility=hidden"}, sys.CFlags...),
		LDLibs:       append([]string{"-Wl,--export-dynamic"}, sys.LDLibs...),
		ExternalLibs: []string{"Judy"},
		Libs:         []string{sds},
	}

	target := func(name string) (toolchain.Target, error) {
		t := base
		t.Name = name
		t.Libs = slices.Clone(base.Libs)
		srcs, err := b.Glob(filepath.Join("src", name, "*.c"))
		t.Sources = srcs
		return t, err
	}

	t, err := target("common")
	if err != nil {
		return nil, err
	}
	common, err := b.StaticLib(ctx, t)
	if err != nil {
		return nil, err
	}
	base.Libs = append(base.Libs, common)

	return sched.Map(ctx, p.Sched, "executables", []string{"cgrmvd", "uprocd", "uprocctl"}, func(ctx context.Context, name string) (string, error) {
		t, err := target(name)
		if err != nil {
			return "", err
		}
		return b.Exe(ctx, t)
	})
}

// buildModule builds one module, or reports it skipped when the runtime it
// needs was not found.
func (p *Pipeline) buildModule(ctx context.Context, b *toolchain.Builder, spec module.Spec, uprocctl string) (manifest.ModuleOutput, error) {
	out := manifest.ModuleOutput{Spec: spec}
	rt := p.Rec.Runtime(spec.Requires)
	if !rt.Found {
		p.Log.Note("Skipping %s module: %s not found.", spec.Name, spec.Requires)
		return out, nil
	}

	srcs, err := b.Glob(filepath.Join(spec.Dir(), "*.c"))
	if err != nil {
		return out, err
	}
	lib, err := b.SharedLib(ctx, toolchain.Target{
		Name:     spec.Name,
		Sources:  srcs,
		Includes: []string{"api"},
		CFlags:   rt.Package.CFlags,
		LDLibs:   rt.Package.LDLibs,
	})
	if err != nil {
		return out, fmt.Errorf("module %s: %w", spec.Name, err)
	}

	type copyJob struct{ src, dst string }
	jobs := []copyJob{{lib, filepath.Join(b.BuildDir, spec.Dir(), spec.Name+".so")}}
	for _, d := range spec.Descriptors() {
		jobs = append(jobs, copyJob{filepath.Join(b.SrcDir, d), filepath.Join(b.BuildDir, d)})
	}
	for _, f := range spec.Files {
		rel := filepath.Join(spec.Dir(), f)
		jobs = append(jobs, copyJob{filepath.Join(b.SrcDir, rel), filepath.Join(b.BuildDir, rel)})
	}
	out.Data, err = sched.Map(ctx, p.Sched, spec.Name, jobs, func(ctx context.Context, j copyJob) (string, error) {
		return Copy(ctx, p.Runner, p.Log, j.src, j.dst)
	})
	if err != nil {
		return out, err
	}

	for _, link := range spec.Links {
		bin, err := Symlink(ctx, p.Runner, p.Log, uprocctl, filepath.Join(b.BuildDir, link))
		if err != nil {
			return out, err
		}
		out.Binaries = append(out.Binaries, bin)
	}
	out.Built = true
	return out, nil
}

// buildDocs renders the manual pages. The first page is the short u alias
// of uprocctl's page, which module aliases are documented by too.
func (p *Pipeline) buildDocs(ctx context.Context, b *toolchain.Builder) ([]docs.Page, error) {
	uPage, err := Copy(ctx, p.Runner, p.Log,
		filepath.Join(b.SrcDir, "man", "uprocctl.1.md"),
		filepath.Join(b.BuildDir, "md", "u.1.md"))
	if err != nil {
		return nil, err
	}
	srcs, err := b.Glob(filepath.Join("man", "*.md"))
	if err != nil {
		return nil, err
	}
	for i, s := range srcs {
		srcs[i] = filepath.Join(b.SrcDir, s)
	}

	pages, err := docs.BuildAll(ctx, p.Sched, p.renderer(b), append([]string{uPage}, srcs...))
	if err != nil {
		return nil, err
	}

	web := filepath.Join(b.BuildDir, "web", "index.html")
	if _, err := Copy(ctx, p.Runner, p.Log, filepath.Join(b.SrcDir, "web", "index.html"), web); err != nil {
		return nil, err
	}
	return pages, nil
}

func (p *Pipeline) renderer(b *toolchain.Builder) docs.Renderer {
	tool := p.Rec.DocTool
	if tool.Kind == config.DocRonn {
		return &docs.Ronn{
			Ruby:   tool.Exe,
			Script: tool.Script,
			OutDir: filepath.Join(b.BuildDir, "man"),
			Runner: p.Runner,
			Cmd:    p.Cmd,
			Log:    p.Log,
		}
	}
	return &docs.Mrkd{
		Exe:   tool.Exe,
		Index: filepath.Join(b.SrcDir, "man", "index.ini"),
		OutDirs: map[docs.Format]string{
			docs.Roff: filepath.Join(b.BuildDir, "man"),
			docs.HTML: filepath.Join(b.BuildDir, "web"),
		},
		Runner: p.Runner,
		Cmd:    p.Cmd,
		Log:    p.Log,
	}
}
