package credstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/auditdeck/sessionkit/internal/crypto"
)

// FileBackend stores each key as a file in a directory, optionally sealed
// at rest. It backs the durable scope in the CLI; pointing it at a
// tmpfs-style directory gives a reboot-scoped ephemeral store.
type FileBackend struct {
	dir    string
	sealer *crypto.Sealer
}

// FileBackendOption configures a file backend
type FileBackendOption func(*FileBackend)

// WithSealer encrypts values at rest with the given sealer
func WithSealer(sealer *crypto.Sealer) FileBackendOption {
	return func(f *FileBackend) {
		f.sealer = sealer
	}
}

// NewFileBackend creates a file backend rooted at dir, creating the
// directory with owner-only permissions if needed.
func NewFileBackend(dir string, opts ...FileBackendOption) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	f := &FileBackend{dir: dir}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Get returns the value for key, or ErrNotFound
func (f *FileBackend) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if f.sealer != nil {
		plain, err := f.sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal %s: %w", key, err)
		}
		return plain, nil
	}
	return data, nil
}

// Set stores value under key, sealing it when a sealer is configured
func (f *FileBackend) Set(key string, value []byte) error {
	if f.sealer != nil {
		sealed, err := f.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
		value = sealed
	}

	if err := os.WriteFile(f.path(key), value, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error
func (f *FileBackend) Delete(key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) path(key string) string {
	// Keys are internal constants, but keep filenames shell-friendly anyway
	name := strings.ReplaceAll(key, string(os.PathSeparator), "_")
	return filepath.Join(f.dir, name)
}
