package toolchain

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ParseDepfile reads a make-style dependency file as written by -MMD and
// returns the prerequisites of its first rule. Relative paths are resolved
// against dir.
func ParseDepfile(r io.Reader, dir string) ([]string, error) {
	var joined bytes.Buffer
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasSuffix(line, `\`) && !strings.HasSuffix(line, `\\`) {
			joined.WriteString(strings.TrimSuffix(line, `\`))
			joined.WriteByte(' ')
			continue
		}
		joined.WriteString(line)
		joined.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Only the first rule matters; -MP adds empty phony rules after it.
	rule, _, _ := strings.Cut(joined.String(), "\n")
	_, prereqs, found := cutRule(rule)
	if !found {
		return nil, nil
	}

	var deps []string
	for _, word := range splitEscaped(prereqs) {
		if !filepath.IsAbs(word) {
			word = filepath.Join(dir, word)
		}
		deps = append(deps, filepath.Clean(word))
	}
	return deps, nil
}

// ReadDepfile is ParseDepfile over a file.
func ReadDepfile(path, dir string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDepfile(f, dir)
}

// cutRule splits "target: prereqs" at the first colon that is followed by
// whitespace or the end, so that "C:\x" style targets are not split.
func cutRule(rule string) (string, string, bool) {
	for i := 0; i < len(rule); i++ {
		if rule[i] != ':' {
			continue
		}
		if i+1 == len(rule) || rule[i+1] == ' ' || rule[i+1] == '\t' {
			return rule[:i], rule[i+1:], true
		}
	}
	return "", "", false
}

// splitEscaped splits on unescaped whitespace, honouring "\ " and "$$".
func splitEscaped(s string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == ' ':
			cur.WriteByte(' ')
			i++
		case c == '$' && i+1 < len(s) && s[i+1] == '$':
			cur.WriteByte('$')
			i++
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return words
}
