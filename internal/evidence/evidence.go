// Package evidence persists the image artifacts attached to violation
// events.
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists evidence blobs and returns an opaque URI per blob.
type Store interface {
	Save(ctx context.Context, originalName string, data []byte) (string, error)
	Remove(ctx context.Context, uri string) error
}

// FileStore writes evidence to a local directory. Names combine the
// ingestion time with a random component so two vehicles reported in
// the same second never overwrite each other.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(_ context.Context, originalName string, data []byte) (string, error) {
	name := fmt.Sprintf("%d_%s_%s",
		time.Now().UnixNano(),
		uuid.NewString(),
		sanitizeName(originalName),
	)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence: %w", err)
	}
	return path, nil
}

func (s *FileStore) Remove(_ context.Context, uri string) error {
	// Only unlink inside our own directory.
	if filepath.Dir(uri) != filepath.Clean(s.dir) {
		return fmt.Errorf("evidence uri %q outside store", uri)
	}
	return os.Remove(uri)
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." {
		name = "evidence.jpg"
	}
	return name
}
