package config

import (
	"slices"
	"strings"
	"unicode"

	"ubuild/internal/console"
	"ubuild/internal/module"
)

// PrintSummary prints the human-readable configuration report.
func PrintSummary(log *console.Logger, rec *Record, modules []module.Spec) {
	log.Plain("")
	log.Banner("*", "Configure results")
	log.Plain("")

	yesNo(log, "Release mode:", rec.Release)
	log.Plain("C compiler: %s", rec.Compiler.Exe)
	log.Plain("C compiler flags: %s", uniqueJoin(rec.Compiler.CompileFlags()))
	log.Plain("C linker flags: %s", uniqueJoin(rec.Compiler.LinkerFlags()))
	yesNo(log, "Build docs:", rec.DocTool.Found)
	yesNo(log, "Service management:", rec.Systemctl != "")

	log.Plain("")
	log.Banner("=", "Modules")
	log.Plain("")

	for _, m := range modules {
		yesNo(log, title(m.Name)+" module:", rec.Runtime(m.Requires).Found)
	}
	log.Plain("")
}

func yesNo(log *console.Logger, tag string, v bool) {
	if v {
		log.Plain("%s Yes.", tag)
	} else {
		log.Plain("%s No.", tag)
	}
}

func uniqueJoin(flags []string) string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

func title(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
