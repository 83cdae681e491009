package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// RunPager shows lines in a scrollable TUI when stdout is a terminal too
// small to hold them, and writes them to w otherwise. The title carries
// the line count; lines containing " -> " are symlinks and are tinted.
func RunPager(w io.Writer, title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	if w != os.Stdout || !term.IsTerminal(fd) {
		return printLines(w, lines)
	}

	// Leave room for the border.
	_, height, err := term.GetSize(fd)
	if err == nil && len(lines) <= height-2 {
		return printLines(w, lines)
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(fmt.Sprintf(" %s (%d entries) ", title, len(lines)))
	textView.SetText(pagerText(lines))

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	position := func() {
		row, _ := textView.GetScrollOffset()
		footer.SetText(fmt.Sprintf("[gray]%d/%d  ↑/↓ PgUp/PgDn Home/End scroll, 'q' or Esc quits[white]",
			min(row+1, len(lines)), len(lines)))
	}

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})
	app.SetBeforeDrawFunc(func(tcell.Screen) bool {
		position()
		return false
	})

	if err := app.SetRoot(flex, true).SetFocus(textView).Run(); err != nil {
		return fmt.Errorf("pager: %w", err)
	}
	return nil
}

// pagerText escapes lines for tview and tints symlink lines.
func pagerText(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		line = tview.Escape(line)
		if strings.Contains(line, " -> ") {
			line = "[teal]" + line + "[-]"
		}
		b.WriteString(line)
	}
	return b.String()
}

func printLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
