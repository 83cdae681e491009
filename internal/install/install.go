// Package install copies a built manifest into the destination root, runs
// the service hooks around it and packs release archives.
package install

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"ubuild/internal/cache"
	"ubuild/internal/console"
	"ubuild/internal/fsutil"
	"ubuild/internal/manifest"
)

// ErrNoManifest is returned when install runs before a build.
var ErrNoManifest = errors.New("no manifest found, run ubuild build first")

// Load reads the manifest the last build wrote into buildDir.
func Load(buildDir string) ([]manifest.Record, error) {
	recs, err := manifest.Read(filepath.Join(buildDir, manifest.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoManifest
	}
	return recs, err
}

// StaleError reports a source that changed after the manifest was written.
type StaleError struct {
	Source string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%s changed since the last build, run ubuild build again", e.Source)
}

// Install copies every record below destDir. Sources are verified
// against their recorded checksums first, so a half-finished rebuild is
// never installed.
func Install(recs []manifest.Record, destDir string, log *console.Logger) error {
	for _, r := range recs {
		if r.Link() {
			continue
		}
		sum, err := cache.HashFile(r.Source)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", r.Source, err)
		}
		if sum != r.Checksum {
			return &StaleError{Source: r.Source}
		}
	}

	for _, r := range recs {
		dst := filepath.Join(destDir, r.Target)
		log.Step("install", dst)
		if err := fsutil.Copy(r.Source, dst); err != nil {
			return fmt.Errorf("install %s: %w", dst, err)
		}
	}
	log.Info("Installed %d files into %s", len(recs), destDir)
	return nil
}
