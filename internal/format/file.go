package format

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"provenance/internal/provenance"
)

// pathLocks serializes writes per document path so two saves of the same
// document never interleave.
var pathLocks sync.Map // abs path -> *sync.Mutex

func lockPath(path string) (func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid document path: %w", err)
	}
	v, _ := pathLocks.LoadOrStore(abs, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}

// WithExtension returns path with the .provenance extension appended when
// it has none.
func WithExtension(path string) string {
	if strings.HasSuffix(path, provenance.FileExtension) {
		return path
	}
	return path + provenance.FileExtension
}

// WriteFile serializes doc and atomically replaces path with it.
func WriteFile(path string, doc *provenance.Document) error {
	unlock, err := lockPath(path)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := Serialize(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

// ReadFile loads and parses a document.
func ReadFile(path string) (*provenance.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return Parse(data)
}
