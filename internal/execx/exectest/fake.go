// Package exectest provides a scripted execx.Commander for tests.
package exectest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Handler answers one invocation. Returning a nil error means success.
type Handler func(dir string, argv []string) ([]byte, error)

// Fake records every invocation and answers through Handler. With no
// Handler every command succeeds with empty output.
type Fake struct {
	Handler Handler

	mu    sync.Mutex
	calls [][]string
}

// Run implements execx.Commander.
func (f *Fake) Run(ctx context.Context, dir string, argv ...string) error {
	_, err := f.Output(ctx, dir, argv...)
	return err
}

// Output implements execx.Commander.
func (f *Fake) Output(ctx context.Context, dir string, argv ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(dir, argv)
}

// Calls returns a copy of every recorded argv.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many recorded invocations ran a program whose base
// name is prog.
func (f *Fake) Count(prog string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > 0 && filepath.Base(c[0]) == prog {
			n++
		}
	}
	return n
}

// Reset forgets recorded invocations.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Produce creates the files a compiler, archiver or renderer invocation
// would write: the argument after -o, a depfile after -MF, the archive of
// "ar rcs". It is a convenient default Handler.
func Produce(dir string, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, nil
	}
	resolve := func(p string) string {
		if !filepath.IsAbs(p) {
			return filepath.Join(dir, p)
		}
		return p
	}
	touch := func(p, content string) error {
		p = resolve(p)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		return os.WriteFile(p, []byte(content), 0o644)
	}

	if filepath.Base(argv[0]) == "ar" && len(argv) > 2 {
		return nil, touch(argv[2], "!<arch>\n"+strings.Join(argv[3:], "\n"))
	}
	for i := 0; i+1 < len(argv); i++ {
		switch argv[i] {
		case "-o":
			if err := touch(argv[i+1], strings.Join(argv, " ")); err != nil {
				return nil, err
			}
		case "-MF":
			if err := touch(argv[i+1], "out.o: "+argv[len(argv)-3]+"\n"); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}
