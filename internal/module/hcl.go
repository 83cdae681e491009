package module

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// FileName is the optional module override file in the source root.
const FileName = "modules.hcl"

// hclFile is the decoding schema of modules.hcl:
//
//	module "python" {
//	  requires = python3
//	  others   = ["ipython", "mrkd", "mypy"]
//	  files    = ["_uprocd_modules.py"]
//	  links    = ["upython", "uipython", "umrkd", "umypy"]
//	}
type hclFile struct {
	Modules []*hclModule `hcl:"module,block"`
}

type hclModule struct {
	Name     string   `hcl:"name,label"`
	Requires *string  `hcl:"requires,optional"`
	Others   []string `hcl:"others,optional"`
	Files    []string `hcl:"files,optional"`
	Links    []string `hcl:"links,optional"`
}

// evalContext exposes the runtime names as bare identifiers.
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, r := range []Runtime{None, Python3, Ruby} {
		vars[r.String()] = cty.StringVal(r.String())
	}
	return &hcl.EvalContext{Variables: vars}
}

// Parse decodes module descriptors from HCL source.
func Parse(src []byte, filename string) ([]Spec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %s", filename, diags.Error())
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %s", filename, diags.Error())
	}

	specs := make([]Spec, 0, len(parsed.Modules))
	for _, m := range parsed.Modules {
		s := Spec{Name: m.Name, Others: m.Others, Files: m.Files, Links: m.Links}
		if m.Requires != nil {
			r, err := ParseRuntime(*m.Requires)
			if err != nil {
				return nil, fmt.Errorf("%s: module %q: %w", filename, m.Name, err)
			}
			s.Requires = r
		}
		specs = append(specs, s)
	}
	if err := Validate(specs); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return specs, nil
}

// Load returns the modules declared in path, or Defaults when the file
// does not exist.
func Load(path string) ([]Spec, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(src, path)
}
