package config

import (
	"ubuild/internal/module"
	"ubuild/internal/toolchain"
)

// Optional is the probe result of a package the build can do without.
type Optional struct {
	Found   bool              `json:"found"`
	Package toolchain.Package `json:"package"`
}

// DocTool is the documentation renderer, if any.
type DocTool struct {
	Found bool   `json:"found"`
	Kind  string `json:"kind,omitempty"`
	// Exe is the renderer for mrkd and the Ruby interpreter for ronn.
	Exe string `json:"exe,omitempty"`
	// Script is the ronn wrapper script.
	Script string `json:"script,omitempty"`
}

// Record is the immutable result of configuration. It is produced by
// Resolver.Resolve and only read afterwards.
type Record struct {
	Platform   []string           `json:"platform"`
	Compiler   toolchain.Compiler `json:"compiler"`
	LibSystemd toolchain.Package  `json:"libsystemd"`
	Python3    Optional           `json:"python3"`
	Ruby       Optional           `json:"ruby"`
	RubyBin    string             `json:"ruby_bin,omitempty"`
	DocTool    DocTool            `json:"doc_tool"`
	// Systemctl is empty when no service manager was found.
	Systemctl string `json:"systemctl,omitempty"`
	Release   bool   `json:"release"`
}

// Runtime returns the probe result a module requiring r depends on.
// Modules without a requirement always resolve as found.
func (r *Record) Runtime(rt module.Runtime) Optional {
	switch rt {
	case module.Python3:
		return r.Python3
	case module.Ruby:
		return r.Ruby
	default:
		return Optional{Found: true}
	}
}
