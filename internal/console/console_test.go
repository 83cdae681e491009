package console

import (
	"bytes"
	"testing"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPagerPrintsWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	lines := []string{"/usr/bin/uprocctl <- build/uprocctl", "/usr/bin/u -> uprocctl"}
	require.NoError(t, RunPager(&buf, "manifest", lines))
	assert.Equal(t, "/usr/bin/uprocctl <- build/uprocctl\n/usr/bin/u -> uprocctl\n", buf.String())
}

func TestPagerTextTintsLinksAndEscapes(t *testing.T) {
	got := pagerText([]string{"/usr/bin/u -> uprocctl", "/usr/share/[x] <- build/[x]"})
	want := "[teal]/usr/bin/u -> uprocctl[-]\n" + tview.Escape("/usr/share/[x] <- build/[x]")
	assert.Equal(t, want, got)
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Arrow("a")
		l.Warn("w")
		l.Check("probe").Passed("ok")
	})
}
