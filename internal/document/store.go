package document

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	poaerrors "github.com/poa-ops/poactl/internal/errors"
)

// Store owns the canonical on-disk document and the advisory locks that
// serialize mutation, including ones made by a second CLI invocation.
// Two lock files exist: one serializing individual load/save calls and one
// held across the whole apply pipeline. They are separate so a Save issued
// from inside a running apply does not deadlock against the pipeline lock.
type Store struct {
	path          string
	applyLockPath string
	lock          *flock.Flock
}

// NewStore creates a store for the document at path. The lock files live
// beside the document.
func NewStore(path string) *Store {
	return &Store{
		path:          path,
		applyLockPath: path + ".apply.lock",
		lock:          flock.New(path + ".lock"),
	}
}

// Path returns the canonical document path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the canonical document is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// EnsureDocument writes the first-boot template if no document exists yet.
// It reports whether a template was written.
func (s *Store) EnsureDocument() (bool, error) {
	if s.Exists() {
		return false, nil
	}
	if err := s.Save(Default()); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads and parses the canonical document. The shared lock is held for
// the duration of the read so a concurrent Save cannot interleave.
func (s *Store) Load() (*Document, error) {
	if err := s.lock.RLock(); err != nil {
		return nil, poaerrors.NewIOError("store", "lock", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, poaerrors.NewIOError("store", "load", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, poaerrors.NewParseError("store", err)
	}
	return doc, nil
}

// Save atomically replaces the canonical document: marshal, write to a
// temporary file in the same directory, fsync, rename. A crash mid-write
// leaves either the old document or the new one, never a truncated hybrid.
func (s *Store) Save(doc *Document) error {
	if err := s.lock.Lock(); err != nil {
		return poaerrors.NewIOError("store", "lock", err)
	}
	defer s.lock.Unlock()

	data, err := doc.Marshal()
	if err != nil {
		return poaerrors.NewIOError("store", "save", err)
	}
	if err := atomicWrite(s.path, data, 0o600); err != nil {
		return poaerrors.NewIOError("store", "save", err)
	}
	return nil
}

// AcquireApplyLock takes the exclusive lock for the whole apply pipeline.
// It fails fast instead of queuing when another apply holds the lock.
// The returned release func must be called once the pipeline reaches a
// terminal state.
func (s *Store) AcquireApplyLock() (func(), error) {
	applyLock := flock.New(s.applyLockPath)
	locked, err := applyLock.TryLock()
	if err != nil {
		return nil, poaerrors.NewIOError("store", "lock", err)
	}
	if !locked {
		return nil, poaerrors.NewConcurrentApplyError("store")
	}
	return func() { applyLock.Unlock() }, nil //nolint:errcheck
}

// atomicWrite writes data to path via a temp file, fsync and rename.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file over %s: %w", path, err)
	}
	return nil
}

// AtomicWriteFile exposes the store's atomic write for other components that
// persist runtime artifacts (the env file, apply records).
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return atomicWrite(path, data, perm)
}
