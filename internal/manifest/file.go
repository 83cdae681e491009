package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"ubuild/internal/cache"
)

// FileName is the manifest written into the build directory.
const FileName = "manifest"

// LinkChecksum stands in for the checksum of a symlink.
const LinkChecksum = "000000"

// Record is one line of a manifest file.
type Record struct {
	// Target is the installed path, prefix included, destdir excluded.
	Target   string
	Checksum string
	Source   string
}

// Link reports whether the record installs a symlink.
func (r Record) Link() bool {
	return r.Checksum == LinkChecksum
}

// Records resolves entries against prefix and checksums their sources.
// The result is sorted by target.
func Records(entries []Entry, prefix string) ([]Record, error) {
	out := make([]Record, 0, len(entries))
	seen := map[string]string{}
	for _, e := range entries {
		target := e.Target(prefix)
		if prev, ok := seen[target]; ok && prev != e.Source {
			return nil, fmt.Errorf("%s is installed from both %s and %s", target, prev, e.Source)
		}
		seen[target] = e.Source

		fi, err := os.Lstat(e.Source)
		if err != nil {
			return nil, err
		}
		sum := LinkChecksum
		if fi.Mode()&os.ModeSymlink == 0 {
			if sum, err = cache.HashFile(e.Source); err != nil {
				return nil, fmt.Errorf("checksum %s: %w", e.Source, err)
			}
		}
		out = append(out, Record{Target: target, Checksum: sum, Source: e.Source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return dedupe(out), nil
}

func dedupe(recs []Record) []Record {
	out := recs[:0]
	for i, r := range recs {
		if i > 0 && recs[i-1].Target == r.Target {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Write stores records at path, one tab separated line each.
func Write(path string, recs []Record) error {
	var buf bytes.Buffer
	buf.WriteString("# target\tchecksum\tsource\n")
	for _, r := range recs {
		fmt.Fprintf(&buf, "%s\t%s\t%s\n", r.Target, r.Checksum, r.Source)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// Read loads the manifest at path.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads manifest lines from r, skipping blanks and comments.
func Parse(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("manifest line %d: want 3 fields, got %d", n, len(fields))
		}
		out = append(out, Record{Target: fields[0], Checksum: fields[1], Source: fields[2]})
	}
	return out, sc.Err()
}

// Lines renders records for display.
func Lines(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		arrow := "<-"
		if r.Link() {
			arrow = "->"
			if dest, err := os.Readlink(r.Source); err == nil {
				out = append(out, fmt.Sprintf("%s %s %s", r.Target, arrow, dest))
				continue
			}
		}
		out = append(out, fmt.Sprintf("%s %s %s", r.Target, arrow, r.Source))
	}
	return out
}
