package module

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	specs := Defaults()
	require.Len(t, specs, 2)
	require.NoError(t, Validate(specs))

	py := specs[0]
	assert.Equal(t, "python", py.Name)
	assert.Equal(t, Python3, py.Requires)
	assert.Equal(t, []string{
		"modules/python/python.module",
		"modules/python/ipython.module",
		"modules/python/mrkd.module",
		"modules/python/mypy.module",
	}, py.Descriptors())
	assert.Equal(t, "python.module", py.DocPage())

	rb := specs[1]
	assert.Equal(t, Ruby, rb.Requires)
	assert.Equal(t, []string{"uruby"}, rb.Links)
}

func TestParse(t *testing.T) {
	src := `
module "python" {
  requires = python3
  others   = ["ipython"]
  files    = ["_uprocd_modules.py"]
  links    = ["upython", "uipython"]
}

module "simple" {
  links = ["usimple"]
}
`
	specs, err := Parse([]byte(src), "modules.hcl")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, Spec{
		Name:     "python",
		Requires: Python3,
		Others:   []string{"ipython"},
		Files:    []string{"_uprocd_modules.py"},
		Links:    []string{"upython", "uipython"},
	}, specs[0])
	assert.Equal(t, "simple", specs[1].Name)
	assert.Equal(t, None, specs[1].Requires)
}

func TestParseRejectsUnknownRuntime(t *testing.T) {
	_, err := Parse([]byte(`module "x" { requires = "perl" }`), "modules.hcl")
	assert.ErrorContains(t, err, "unknown runtime")

	_, err = Parse([]byte(`module "x" { requires = perl }`), "modules.hcl")
	assert.Error(t, err)
}

func TestParseRejectsDuplicateLinks(t *testing.T) {
	src := `
module "a" { links = ["u"] }
module "b" { links = ["u"] }
`
	_, err := Parse([]byte(src), "modules.hcl")
	assert.ErrorContains(t, err, `link "u"`)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	specs, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), specs)

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`module "ruby" { requires = ruby }`), 0o644))
	specs, err = Load(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, Ruby, specs[0].Requires)
}

func TestRuntimeRoundTrip(t *testing.T) {
	for _, r := range []Runtime{None, Python3, Ruby} {
		got, err := ParseRuntime(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}
