// Package filestore keeps hook and auth data snapshots as versioned JSON
// documents for hosts without a database.
package filestore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goliatone/go-commit-hooks/core"
)

// SnapshotVersion is the document version written and accepted.
const SnapshotVersion = 1

var ErrUnsupportedVersion = errors.New("filestore: unsupported snapshot version")

// document is one JSON file. Writes go to a temp file in the same directory
// and are renamed over the target.
type document struct {
	path string

	mu     sync.Mutex
	digest [sha256.Size]byte
	known  bool
}

func newDocument(path string) (*document, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore: snapshot path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve %s: %w", path, err)
	}
	return &document{path: abs}, nil
}

func (d *document) Path() string {
	return d.path
}

func (d *document) read() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", d.path, err)
	}
	d.remember(data)
	return data, nil
}

func (d *document) write(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("filestore: chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("filestore: replace %s: %w", d.path, err)
	}
	d.remember(data)
	return nil
}

// ChangedOnDisk reports whether the file differs from what this process last
// read or wrote. A missing file counts as unchanged.
func (d *document) ChangedOnDisk() (bool, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filestore: read %s: %w", d.path, err)
	}
	sum := sha256.Sum256(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.known || !bytes.Equal(sum[:], d.digest[:]), nil
}

func (d *document) remember(data []byte) {
	d.digest = sha256.Sum256(data)
	d.known = true
}

func checkVersion(path string, version int) error {
	if version != SnapshotVersion {
		return fmt.Errorf("%w: %s has version %d, expected %d", ErrUnsupportedVersion, path, version, SnapshotVersion)
	}
	return nil
}
