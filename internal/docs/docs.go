// Package docs converts the Markdown manual pages into roff and HTML with
// whichever renderer configuration found.
package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ubuild/internal/console"
	"ubuild/internal/execx"
	"ubuild/internal/sched"
	"ubuild/internal/task"
)

// Format is an output format of a manual page.
type Format string

const (
	Roff Format = "roff"
	HTML Format = "html"
)

// Formats lists every format a page is rendered to, in result order.
var Formats = []Format{Roff, HTML}

// Renderer converts one source page into one format.
type Renderer interface {
	Render(ctx context.Context, src string, format Format) (string, error)
}

// Page is a rendered manual page.
type Page struct {
	Source string
	// Man is the roff page; its extension is the manual section.
	Man  string
	HTML string
}

// Section returns the manual section, e.g. "1" for uprocctl.1.
func (p Page) Section() string {
	return strings.TrimPrefix(filepath.Ext(p.Man), ".")
}

// Stem returns the page's basename minus its section, e.g. "python.module"
// for python.module.7.
func (p Page) Stem() string {
	base := filepath.Base(p.Man)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Build renders src into every format concurrently.
func Build(ctx context.Context, s *sched.Scheduler, r Renderer, src string) (Page, error) {
	out, err := sched.Map(ctx, s, filepath.Base(src), Formats, func(ctx context.Context, f Format) (string, error) {
		return r.Render(ctx, src, f)
	})
	if err != nil {
		return Page{}, err
	}
	return Page{Source: src, Man: out[0], HTML: out[1]}, nil
}

// BuildAll renders every source, keeping the order of srcs.
func BuildAll(ctx context.Context, s *sched.Scheduler, r Renderer, srcs []string) ([]Page, error) {
	return sched.Map(ctx, s, "docs", srcs, func(ctx context.Context, src string) (Page, error) {
		return Build(ctx, s, r, src)
	})
}

// pageName strips the source extension: man/uprocd.1.md -> uprocd.1.
func pageName(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Mrkd renders pages with mrkd, one invocation per format.
type Mrkd struct {
	Exe string
	// Index is the mrkd index file linking pages together.
	Index string
	// OutDirs maps each format to its output directory.
	OutDirs map[Format]string

	Runner *task.Runner
	Cmd    execx.Commander
	Log    *console.Logger
}

// Render implements Renderer.
func (m *Mrkd) Render(ctx context.Context, src string, format Format) (string, error) {
	outdir, ok := m.OutDirs[format]
	if !ok {
		return "", fmt.Errorf("mrkd: unsupported format %q", format)
	}
	ext := ""
	if format == HTML {
		ext = ".html"
	}
	dst := filepath.Join(outdir, pageName(src)+ext)
	argv := []string{m.Exe, src, dst, "-index", m.Index, "-format", string(format)}

	spec := task.Spec{Op: "mrkd.convert", Args: argv, Inputs: []string{src, m.Index}}
	return task.Do(ctx, m.Runner, spec, func(ctx context.Context, rec *task.Recorder) (string, error) {
		if err := os.MkdirAll(outdir, 0o755); err != nil {
			return "", err
		}
		m.Log.Step("mrkd", fmt.Sprintf("%s -> %s", src, dst))
		if err := m.Cmd.Run(ctx, "", argv...); err != nil {
			return "", err
		}
		rec.AddOutputs(dst)
		return dst, nil
	})
}

// Ronn renders pages with the ronn wrapper script, which always writes
// both formats in one run. The two format requests for a page share that
// run.
type Ronn struct {
	Ruby   string
	Script string
	OutDir string

	Runner *task.Runner
	Cmd    execx.Commander
	Log    *console.Logger
}

type ronnOutputs struct {
	Roff string `json:"roff"`
	HTML string `json:"html"`
}

// Render implements Renderer.
func (r *Ronn) Render(ctx context.Context, src string, format Format) (string, error) {
	name := pageName(src)
	outs := ronnOutputs{
		Roff: filepath.Join(r.OutDir, name),
		HTML: filepath.Join(r.OutDir, name+".html"),
	}
	argv := []string{r.Ruby, r.Script, r.OutDir, src}

	spec := task.Spec{
		Op:      "ronn.convert",
		Args:    argv,
		Inputs:  []string{src, r.Script},
		Outputs: []string{outs.Roff, outs.HTML},
	}
	got, err := task.Do(ctx, r.Runner, spec, func(ctx context.Context, _ *task.Recorder) (ronnOutputs, error) {
		if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
			return ronnOutputs{}, err
		}
		r.Log.Step("ronn", fmt.Sprintf("%s -> %s", src, r.OutDir))
		if err := r.Cmd.Run(ctx, "", argv...); err != nil {
			return ronnOutputs{}, err
		}
		return outs, nil
	})
	if err != nil {
		return "", err
	}
	switch format {
	case Roff:
		return got.Roff, nil
	case HTML:
		return got.HTML, nil
	}
	return "", fmt.Errorf("ronn: unsupported format %q", format)
}
