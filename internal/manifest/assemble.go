// Package manifest decides what gets installed where. Assembly first lists
// every candidate entry tagged with the module that owns it, then drops the
// entries of modules that were skipped.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"ubuild/internal/docs"
	"ubuild/internal/module"
)

// Entry is one artifact and its install location.
type Entry struct {
	Source string `json:"source"`
	// Dir is relative to the install prefix unless absolute.
	Dir    string `json:"dir"`
	Rename string `json:"rename,omitempty"`
	// Owner is the module the entry belongs to, empty for core entries.
	Owner string `json:"owner,omitempty"`
}

// Name is the installed file name.
func (e Entry) Name() string {
	if e.Rename != "" {
		return e.Rename
	}
	return filepath.Base(e.Source)
}

// Target is the installed path below the destination root.
func (e Entry) Target(prefix string) string {
	if filepath.IsAbs(e.Dir) {
		return filepath.Join(e.Dir, e.Name())
	}
	return filepath.Join("/", prefix, e.Dir, e.Name())
}

// ModuleOutput is the result of building one module. A module whose
// required runtime was not found has Built=false and no artifacts.
type ModuleOutput struct {
	Spec     module.Spec
	Built    bool
	Binaries []string
	Data     []string
}

// Input collects everything the build produced.
type Input struct {
	// SourceDir locates the static resources under misc/.
	SourceDir string

	Cgrmvd   string
	Uprocd   string
	Uprocctl string
	// U is the short alias link to uprocctl.
	U string

	// Modules are in declaration order.
	Modules []ModuleOutput

	// Pages are the rendered manual pages; empty when no renderer was
	// available. AliasPage is the page every module alias is documented
	// by.
	Pages     []docs.Page
	AliasPage docs.Page
}

// Assemble computes the install manifest.
func Assemble(in Input, layout Layout) []Entry {
	return Prune(Candidates(in, layout), Skipped(in.Modules))
}

// Skipped returns the names of modules that were not built.
func Skipped(mods []ModuleOutput) map[string]bool {
	skipped := map[string]bool{}
	for _, m := range mods {
		if !m.Built {
			skipped[m.Spec.Name] = true
		}
	}
	return skipped
}

// Candidates lists every entry the build could install, each tagged with
// its owning module.
func Candidates(in Input, layout Layout) []Entry {
	var out []Entry
	add := func(src, dir, owner string) {
		out = append(out, Entry{Source: src, Dir: dir, Owner: owner})
	}

	add(in.Cgrmvd, layout.LibexecDir, "")
	add(in.Uprocd, layout.LibexecDir, "")
	add(in.Uprocctl, layout.BinDir, "")
	add(in.U, layout.BinDir, "")

	misc := func(name string) string { return filepath.Join(in.SourceDir, "misc", name) }
	add(misc("uprocd@.service"), layout.UserUnitDir, "")
	add(misc("cgrmvd.service"), layout.SystemUnitDir, "")
	add(misc("uprocd.policy"), layout.PolicyDir, "")
	add(misc("com.refi64.uprocd.Cgrmvd.conf"), layout.DBusDir, "")

	owners := map[string]string{}
	for _, m := range in.Modules {
		owners[m.Spec.DocPage()] = m.Spec.Name
		for _, bin := range m.Binaries {
			add(bin, layout.BinDir, m.Spec.Name)
		}
		for _, data := range m.Data {
			add(data, layout.ModuleDir, m.Spec.Name)
		}
	}

	if len(in.Pages) == 0 {
		return out
	}

	for _, p := range in.Pages {
		owner := owners[p.Stem()]
		add(p.Man, layout.ManDir(p.Section()), owner)
		if layout.HTMLDir != "" {
			add(p.HTML, layout.HTMLDir, owner)
		}
	}

	// Aliases are declared by the module.Spec, so a skipped module still yields
	// candidates here; pruning removes them.
	alias := in.AliasPage
	for _, m := range in.Modules {
		for _, link := range m.Spec.Links {
			out = append(out, Entry{
				Source: alias.Man,
				Dir:    layout.ManDir(alias.Section()),
				Rename: fmt.Sprintf("%s.%s", link, alias.Section()),
				Owner:  m.Spec.Name,
			})
		}
	}
	return out
}

// Prune drops every entry owned by a skipped module.
func Prune(entries []Entry, skipped map[string]bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Owner != "" && skipped[e.Owner] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Verify checks that every entry's source exists.
func Verify(entries []Entry) error {
	for _, e := range entries {
		if _, err := os.Lstat(e.Source); err != nil {
			return fmt.Errorf("manifest references missing %s: %w", e.Source, err)
		}
	}
	return nil
}
