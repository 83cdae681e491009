package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// Fingerprinter computes content digests of files. Digests are memoized by
// (size, mtime) for the lifetime of the Fingerprinter, which is one build
// invocation, so a file read by many tasks is hashed once.
type Fingerprinter struct {
	mu   sync.Mutex
	memo map[string]stamped
}

type stamped struct {
	size   int64
	mtime  time.Time
	digest string
}

// NewFingerprinter returns an empty Fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{memo: make(map[string]stamped)}
}

// Digest returns the BLAKE3-256 hex digest of the file at path.
func (f *Fingerprinter) Digest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	f.mu.Lock()
	s, ok := f.memo[path]
	f.mu.Unlock()
	if ok && s.size == info.Size() && s.mtime.Equal(info.ModTime()) {
		return s.digest, nil
	}

	digest, err := HashFile(path)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.memo[path] = stamped{size: info.Size(), mtime: info.ModTime(), digest: digest}
	f.mu.Unlock()
	return digest, nil
}

// Stamp fingerprints every path in order.
func (f *Fingerprinter) Stamp(paths []string) ([]Stamp, error) {
	stamps := make([]Stamp, 0, len(paths))
	for _, p := range paths {
		d, err := f.Digest(p)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting %s: %w", p, err)
		}
		stamps = append(stamps, Stamp{Path: p, Digest: d})
	}
	return stamps, nil
}

// HashFile returns the BLAKE3-256 hex digest of a file's contents.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
