package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Backend persists the encoded document as one opaque blob.
type Backend interface {
	// Load returns the stored bytes, or nil with a nil error when nothing
	// has been stored yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored bytes. A failed Save must leave the previous
	// content intact.
	Save(ctx context.Context, data []byte) error
	// Describe names the backend for logs.
	Describe() string
	Close() error
}

// FileBackend stores the document in a single local file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the file at path. The file is created
// on first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the whole file. A missing file is reported as nil content.
func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", b.path, err)
	}
	return data, nil
}

// Save writes data to a temporary file next to the target, syncs it and
// renames it into place, so readers see either the old or the new document.
func (b *FileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		cleanup()
		return fmt.Errorf("rename %q: %w", b.path, err)
	}
	return nil
}

// Describe returns "file:<path>".
func (b *FileBackend) Describe() string { return "file:" + b.path }

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }

// Path returns the backing file path.
func (b *FileBackend) Path() string { return b.path }

// MemoryBackend keeps the document in process memory. It backs ephemeral
// nodes (store.backend: memory) and lets tests inject failures.
type MemoryBackend struct {
	mu      sync.Mutex
	data    []byte
	loadErr error
	saveErr error
	saves   int
}

// NewMemoryBackend returns a backend holding initial; nil means nothing
// stored yet.
func NewMemoryBackend(initial []byte) *MemoryBackend {
	return &MemoryBackend{data: clone(initial)}
}

// Load returns a copy of the stored bytes.
func (b *MemoryBackend) Load(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return clone(b.data), nil
}

// Save replaces the stored bytes unless a save failure is injected.
func (b *MemoryBackend) Save(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.data = clone(data)
	b.saves++
	return nil
}

// FailLoad makes every subsequent Load return err; nil clears it.
func (b *MemoryBackend) FailLoad(err error) {
	b.mu.Lock()
	b.loadErr = err
	b.mu.Unlock()
}

// FailSave makes every subsequent Save return err; nil clears it.
func (b *MemoryBackend) FailSave(err error) {
	b.mu.Lock()
	b.saveErr = err
	b.mu.Unlock()
}

// Bytes returns a copy of the stored content.
func (b *MemoryBackend) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clone(b.data)
}

// Saves returns the number of successful saves.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Describe returns "memory".
func (b *MemoryBackend) Describe() string { return "memory" }

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
