// Package module describes uprocd's optional language modules: what each
// one needs from the host and what it contributes to the install.
package module

import (
	"errors"
	"fmt"
	"path"
)

// Runtime names the optional external package a module builds against.
type Runtime int

const (
	// None means the module always builds.
	None Runtime = iota
	Python3
	Ruby
)

func (r Runtime) String() string {
	switch r {
	case None:
		return "none"
	case Python3:
		return "python3"
	case Ruby:
		return "ruby"
	}
	return fmt.Sprintf("runtime(%d)", int(r))
}

// ParseRuntime is the inverse of Runtime.String.
func ParseRuntime(s string) (Runtime, error) {
	switch s {
	case "", "none":
		return None, nil
	case "python3":
		return Python3, nil
	case "ruby":
		return Ruby, nil
	}
	return None, fmt.Errorf("unknown runtime %q", s)
}

// Spec is the static descriptor of one module.
type Spec struct {
	Name     string
	Requires Runtime
	// Others are additional .module descriptors shipped with this module,
	// one per alternate binary it serves.
	Others []string
	// Files are data files copied next to the module, relative to Dir.
	Files []string
	// Links are uprocctl aliases installed for this module.
	Links []string
}

// Dir is the module's source directory relative to the source root.
func (s Spec) Dir() string {
	return path.Join("modules", s.Name)
}

// Descriptors lists the .module files of the module, primary first.
func (s Spec) Descriptors() []string {
	out := make([]string, 0, 1+len(s.Others))
	for _, n := range append([]string{s.Name}, s.Others...) {
		out = append(out, path.Join(s.Dir(), n+".module"))
	}
	return out
}

// DocPage is the basename, minus its section extension, of the manual page
// documenting this module.
func (s Spec) DocPage() string {
	return s.Name + ".module"
}

// Defaults returns the modules uprocd ships.
func Defaults() []Spec {
	return []Spec{
		{
			Name:     "python",
			Requires: Python3,
			Others:   []string{"ipython", "mrkd", "mypy"},
			Files:    []string{"_uprocd_modules.py"},
			Links:    []string{"upython", "uipython", "umrkd", "umypy"},
		},
		{
			Name:     "ruby",
			Requires: Ruby,
			Files:    []string{"_uprocd_requires.rb"},
			Links:    []string{"uruby"},
		},
	}
}

// Validate reports duplicate names and links across specs.
func Validate(specs []Spec) error {
	names := map[string]bool{}
	links := map[string]string{}
	for _, s := range specs {
		if s.Name == "" {
			return errors.New("module without a name")
		}
		if names[s.Name] {
			return fmt.Errorf("module %q declared twice", s.Name)
		}
		names[s.Name] = true
		for _, l := range s.Links {
			if owner, ok := links[l]; ok {
				return fmt.Errorf("link %q declared by both %q and %q", l, owner, s.Name)
			}
			links[l] = s.Name
		}
	}
	return nil
}
