// Package cache persists task results between ubuild invocations.
//
// Each entry lives in its own zstd-compressed JSON file under the build
// directory:
//
//	{dir}/
//	  .lock
//	  {key[0:2]}/
//	    {key}.zst
//
// Deleting the directory forces a full rebuild and is otherwise harmless.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"

	"ubuild/internal/console"
)

const entryExt = ".zst"

// ErrLocked is returned by Open when another ubuild process holds the store.
var ErrLocked = errors.New("cache: build directory is in use by another process")

// Store is a persistent key → Entry map safe for concurrent use.
type Store struct {
	dir  string
	lock *os.File
	log  *console.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	// mu serializes writers; readers rely on atomic renames.
	mu     sync.Mutex
	closed bool
}

// Open creates dir if needed and takes an exclusive lock on it.
func Open(dir string, log *console.Logger) (*Store, error) {
	if log == nil {
		log = console.Discard()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	lock, err := os.OpenFile(filepath.Join(dir, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening cache lock: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		lock.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Store{dir: dir, lock: lock, log: log, enc: enc, dec: dec}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.enc.Close()
	s.dec.Close()
	_ = unix.Flock(int(s.lock.Fd()), unix.LOCK_UN)
	return s.lock.Close()
}

// RelPath returns the path of key's entry file relative to Dir.
func RelPath(key string) string {
	if len(key) < 2 {
		return key + entryExt
	}
	return filepath.Join(key[:2], key+entryExt)
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, RelPath(key))
}

// Lookup returns the entry stored under key. A missing, unreadable or
// corrupt entry is reported as a miss: a damaged cache costs a rebuild,
// never the build.
func (s *Store) Lookup(key string) (*Entry, bool) {
	raw, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Debugf("cache: reading %s: %v", key, err)
		}
		return nil, false
	}
	entry, err := s.decode(raw)
	if err != nil {
		s.log.Debugf("cache: discarding corrupt entry %s: %v", key, err)
		return nil, false
	}
	if entry.Key != key {
		s.log.Debugf("cache: entry %s carries key %s, ignoring", key, entry.Key)
		return nil, false
	}
	return entry, true
}

// Put records entry, replacing any previous entry with the same key.
func (s *Store) Put(entry *Entry) error {
	if entry == nil || entry.Key == "" {
		return errors.New("cache: entry without key")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return s.WriteRaw(entry.Key, s.enc.EncodeAll(data, nil))
}

// Delete removes the entry under key, if any.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.entryPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ReadRaw returns the compressed bytes of an entry, for mirroring.
func (s *Store) ReadRaw(key string) ([]byte, error) {
	return os.ReadFile(s.entryPath(key))
}

// WriteRaw stores compressed entry bytes as-is. Bytes that do not decode to
// an entry for key are rejected.
func (s *Store) WriteRaw(key string, raw []byte) error {
	entry, err := s.decode(raw)
	if err != nil {
		return fmt.Errorf("cache: rejecting entry %s: %w", key, err)
	}
	if entry.Key != key {
		return fmt.Errorf("cache: rejecting entry %s: carries key %s", key, entry.Key)
	}

	path := s.entryPath(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (s *Store) decode(raw []byte) (*Entry, error) {
	data, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Keys lists every stored key in sorted order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entryExt) {
			return nil
		}
		keys = append(keys, strings.TrimSuffix(d.Name(), entryExt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats summarizes the store's contents.
type Stats struct {
	Entries int
	Bytes   int64
}

// Stats walks the store and sums entry sizes.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entryExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Entries++
		st.Bytes += info.Size()
		return nil
	})
	return st, err
}

// Clean removes every entry, keeping the lock.
func (s *Store) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, d.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Fresh reports whether e is still valid: every recorded input has the
// same digest and every output still exists. The reason is empty when
// fresh.
func (e *Entry) Fresh(fp *Fingerprinter) (bool, string) {
	for _, in := range e.Inputs {
		d, err := fp.Digest(in.Path)
		if err != nil {
			return false, fmt.Sprintf("input %s unreadable", in.Path)
		}
		if d != in.Digest {
			return false, fmt.Sprintf("input %s changed", in.Path)
		}
	}
	for _, out := range e.Outputs {
		if _, err := os.Lstat(out); err != nil {
			return false, fmt.Sprintf("output %s missing", out)
		}
	}
	return true, ""
}
