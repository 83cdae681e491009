package install

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"ubuild/internal/manifest"
)

// Format is a dist archive compression.
type Format string

const (
	Zstd Format = "zst"
	Gzip Format = "gz"
	XZ   Format = "xz"
)

// ParseFormat accepts a format name or an archive file name.
func ParseFormat(s string) (Format, error) {
	switch {
	case s == "" || s == "zst" || s == "zstd" || strings.HasSuffix(s, ".tar.zst"):
		return Zstd, nil
	case s == "gz" || s == "gzip" || strings.HasSuffix(s, ".tar.gz") || strings.HasSuffix(s, ".tgz"):
		return Gzip, nil
	case s == "xz" || strings.HasSuffix(s, ".tar.xz"):
		return XZ, nil
	}
	return "", fmt.Errorf("unsupported archive format %q", s)
}

// Ext returns the file extension of archives in f.
func (f Format) Ext() string {
	return ".tar." + string(f)
}

func (f Format) compress(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case Zstd:
		return zstd.NewWriter(w)
	case Gzip:
		return pgzip.NewWriter(w), nil
	case XZ:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("unsupported archive format %q", f)
}

func (f Format) decompress(r io.Reader) (io.Reader, func(), error) {
	switch f {
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case Gzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported archive format %q", f)
}

// WriteArchive writes the records as a compressed tarball to w. Entries
// are root-owned and named by their install path without the leading
// slash.
func WriteArchive(w io.Writer, recs []manifest.Record, format Format) error {
	cw, err := format.compress(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)
	for _, r := range recs {
		if err := addRecord(tw, r); err != nil {
			return fmt.Errorf("archive %s: %w", r.Target, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

func addRecord(tw *tar.Writer, r manifest.Record) error {
	info, err := os.Lstat(r.Source)
	if err != nil {
		return err
	}
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(r.Source); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = strings.TrimPrefix(r.Target, "/")
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "root", "root"
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(r.Source)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Dist writes the archive to path atomically.
func Dist(path string, recs []manifest.Record, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer out.Cleanup()
	if err := WriteArchive(out, recs, format); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}

// ListArchive returns the entry names of the archive at path.
func ListArchive(path string) ([]string, error) {
	format, err := ParseFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, done, err := format.decompress(f)
	if err != nil {
		return nil, err
	}
	defer done()

	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
}
