// Package pymods regenerates the Python module's list of standard library
// imports from the library index of the Python documentation.
package pymods

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/renameio/v2"
)

const (
	// IndexURL lists every standard library module.
	IndexURL = "https://docs.python.org/3/library/index.html"
	// Selector matches module names in the index.
	Selector = "a.reference.internal code.literal span.pre"
	// Output is the generated file, relative to the source root.
	Output = "modules/python/_uprocd_modules.py"
	// first is the first module name of interest; the index lists
	// language topics before it.
	first = "string"
)

var ignore = regexp.MustCompile(`(?:^import\b|with\b|^_|[.]|\(\)$)`)

// Fetch loads url in a headless browser and returns the text of every
// element matching sel, in document order.
func Fetch(ctx context.Context, url, sel string, timeout time.Duration) ([]string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	if timeout > 0 {
		var cancel context.CancelFunc
		browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
		defer cancel()
	}

	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(n => n.textContent)`, sel)
	var names []string
	err := chromedp.Run(browserCtx,
		emulation.SetUserAgentOverride("ubuild gen-modules"),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(script, &names),
	)
	if err != nil {
		return nil, fmt.Errorf("scraping %s: %w", url, err)
	}
	return names, nil
}

// Filter keeps the importable module names, starting from "string".
func Filter(names []string) []string {
	var out []string
	passed := false
	for _, n := range names {
		switch {
		case n == first:
			passed = true
		case !passed, ignore.MatchString(n), n == "import":
			continue
		}
		out = append(out, n)
	}
	return out
}

// Render produces the Python source importing every module and reporting
// the ones that fail.
func Render(modules []string) []byte {
	var buf bytes.Buffer
	for _, m := range modules {
		fmt.Fprintf(&buf, "\ntry:\n    import %s\nexcept Exception as ex:\n    print('%s', ex)\n", m, m)
	}
	return buf.Bytes()
}

// Generate scrapes url and writes the import list to path.
func Generate(ctx context.Context, url, path string, timeout time.Duration) (int, error) {
	names, err := Fetch(ctx, url, Selector, timeout)
	if err != nil {
		return 0, err
	}
	modules := Filter(names)
	if len(modules) == 0 {
		return 0, fmt.Errorf("no modules found at %s", url)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	return len(modules), renameio.WriteFile(path, Render(modules), 0o644)
}
