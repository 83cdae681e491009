// Package toolchain drives the native C toolchain: compiler detection,
// package and header probes, and cached compile, archive and link steps.
package toolchain

import (
	"slices"
	"strings"
)

// Kind identifies a compiler family.
type Kind string

const (
	GCC   Kind = "gcc"
	Clang Kind = "clang"
)

// Compiler describes the selected C toolchain. It is part of the
// configuration record and therefore serialized into the cache.
type Compiler struct {
	Exe          string   `json:"exe"`
	Kind         Kind     `json:"kind"`
	AR           string   `json:"ar"`
	Flags        []string `json:"flags,omitempty"`
	LinkFlags    []string `json:"link_flags,omitempty"`
	ExternalLibs []string `json:"external_libs,omitempty"`
	Debug        bool     `json:"debug"`
	Optimize     bool     `json:"optimize"`
}

// CompileFlags returns the flags passed to every compilation.
func (c Compiler) CompileFlags() []string {
	flags := slices.Clone(c.Flags)
	if c.Debug {
		flags = append(flags, "-g")
	}
	if c.Optimize {
		flags = append(flags, "-O2")
	}
	return flags
}

// LinkerFlags returns the flags passed to every link.
func (c Compiler) LinkerFlags() []string {
	flags := slices.Clone(c.LinkFlags)
	if c.Debug {
		flags = append(flags, "-g")
	}
	return flags
}

// Package holds the flags reported by pkg-config for one package.
type Package struct {
	Name   string   `json:"name"`
	CFlags []string `json:"cflags,omitempty"`
	LDLibs []string `json:"ldlibs,omitempty"`
}

// String renders the flags the way the probe line reports them.
func (p Package) String() string {
	return strings.Join(append(slices.Clone(p.CFlags), p.LDLibs...), " ")
}

// FlagOptions selects the platform flag sets applied on top of the
// user's own flags.
type FlagOptions struct {
	UserFlags []string
	UseColor  bool
	Release   bool
}

// PosixFlags are the warnings every supported compiler is run with.
var PosixFlags = []string{"-Wall", "-Werror", "-Wno-strict-prototypes", "-Wno-sign-compare"}

// NewCompiler assembles the descriptor for exe of the given kind.
func NewCompiler(exe string, kind Kind, ar string, opts FlagOptions) Compiler {
	c := Compiler{
		Exe:          exe,
		Kind:         kind,
		AR:           ar,
		Debug:        !opts.Release,
		Optimize:     opts.Release,
		ExternalLibs: []string{"dl"},
	}
	c.Flags = append(c.Flags, opts.UserFlags...)
	c.Flags = append(c.Flags, PosixFlags...)
	if opts.UseColor {
		c.Flags = append(c.Flags, "-fdiagnostics-color")
	}
	if kind == Clang && !opts.Release {
		c.Flags = append(c.Flags, "-fno-limit-debug-info")
	}
	return c
}
