package pymods

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	names := []string{
		"import", "with", "__future__",
		"string",
		"re", "os.path", "__main__", "_thread", "import",
		"importlib", "import foo", "contextlib.with", "print()",
		"json",
	}
	assert.Equal(t, []string{"string", "re", "importlib", "json"}, Filter(names))
}

func TestFilterWithoutStart(t *testing.T) {
	assert.Empty(t, Filter([]string{"re", "json"}))
}

func TestRender(t *testing.T) {
	got := string(Render([]string{"string", "re"}))
	assert.Equal(t, "\ntry:\n    import string\nexcept Exception as ex:\n    print('string', ex)\n"+
		"\ntry:\n    import re\nexcept Exception as ex:\n    print('re', ex)\n", got)
}
