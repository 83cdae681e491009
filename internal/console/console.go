// Package console renders ubuild's terminal output: tool invocation lines,
// probe results, notes and warnings, all styled with gookit/color.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
	colStep    = color.Yellow
	colDebug   = color.HEX("#9E9E9E")
)

// Logger serializes output from concurrently running tasks so that every
// message occupies whole lines. A nil *Logger discards everything.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
}

// New returns a Logger writing to w.
func New(w io.Writer, debug bool) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{out: w, debug: debug}
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{out: io.Discard}
}

// SetColor toggles ANSI styling globally. Colors are also dropped when
// stdout is not a terminal.
func SetColor(enabled bool) {
	if enabled && !term.IsTerminal(int(os.Stdout.Fd())) {
		enabled = false
	}
	color.Enable = enabled
}

// Writer exposes the underlying writer for subprocess output.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return l.out
}

// DebugEnabled reports whether Debugf prints anything.
func (l *Logger) DebugEnabled() bool {
	return l != nil && l.debug
}

func (l *Logger) line(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, s)
}

// Arrow prints "-> msg" in the success style.
func (l *Logger) Arrow(format string, a ...any) {
	l.line(colArrow.Sprint("-> ") + colSuccess.Sprintf(format, a...))
}

// Info prints an informational line.
func (l *Logger) Info(format string, a ...any) {
	l.line(colInfo.Sprintf(format, a...))
}

// Note prints a highlighted note.
func (l *Logger) Note(format string, a ...any) {
	l.line(colNote.Sprint("NOTE: ") + fmt.Sprintf(format, a...))
}

// Warn prints a warning line.
func (l *Logger) Warn(format string, a ...any) {
	l.line(colArrow.Sprint("-> ") + colWarn.Sprintf(format, a...))
}

// Error prints an error line.
func (l *Logger) Error(format string, a ...any) {
	l.line(colArrow.Sprint("-> ") + colError.Sprintf(format, a...))
}

// Debugf prints only in debug mode.
func (l *Logger) Debugf(format string, a ...any) {
	if l == nil || !l.debug {
		return
	}
	l.line(colDebug.Sprintf(strings.TrimRight(format, "\n"), a...))
}

// Step prints a tool invocation, e.g. "    cc  src/uprocd/main.c -> uprocd".
func (l *Logger) Step(tag, msg string) {
	l.line(fmt.Sprintf(" %s  %s", colStep.Sprintf("%8s", tag), msg))
}

// Check starts a probe line. The line is printed once the probe resolves.
func (l *Logger) Check(format string, a ...any) *Probe {
	return &Probe{l: l, msg: fmt.Sprintf(format, a...)}
}

// Probe is a pending "checking ..." line.
type Probe struct {
	l   *Logger
	msg string
}

// Passed completes the probe successfully. detail may be empty.
func (p *Probe) Passed(detail string) {
	res := colSuccess.Sprint("ok")
	if detail != "" {
		res += " " + detail
	}
	p.l.line(fmt.Sprintf("%-40s: %s", p.msg, res))
}

// Failed completes the probe unsuccessfully.
func (p *Probe) Failed(detail string) {
	res := colWarn.Sprint("failed")
	if detail != "" {
		res += " " + detail
	}
	p.l.line(fmt.Sprintf("%-40s: %s", p.msg, res))
}

// Banner prints msg framed by a repeated character, as used by the
// configuration summary.
func (l *Logger) Banner(c string, msg string) {
	if l == nil {
		return
	}
	total := len(msg) + 22
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, strings.Repeat(c, total))
	fmt.Fprintln(l.out, strings.Repeat(c, 10), colInfo.Sprint(msg), strings.Repeat(c, 10))
	fmt.Fprintln(l.out, strings.Repeat(c, total))
}

// Plain prints an unstyled line.
func (l *Logger) Plain(format string, a ...any) {
	l.line(fmt.Sprintf(format, a...))
}
