package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-gate/internal/apperr"
)

// FileStore keeps blobs under a root directory on the local filesystem.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Join(root, UserPrefix), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the storage directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) abs(relPath string) (string, error) {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Save writes data to a temporary file and renames it into place,
// so readers never observe a partially written image.
func (s *FileStore) Save(ctx context.Context, data []byte, info ImageInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	relPath := NewUserPath(info)
	dst, err := s.abs(relPath)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", apperr.Storage("create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", apperr.Storage("write image", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", apperr.Storage("close image", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", apperr.Storage("rename image", err)
	}
	return relPath, nil
}

// Load reads a blob.
func (s *FileStore) Load(ctx context.Context, relPath string) ([]byte, string, error) {
	p, err := s.abs(relPath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("blob %q: %w", relPath, apperr.ErrNotFound)
		}
		return nil, "", apperr.Storage("read image", err)
	}
	return data, ContentTypeFor(relPath), nil
}

// Delete removes a blob.
func (s *FileStore) Delete(ctx context.Context, relPath string) error {
	p, err := s.abs(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Storage("delete image", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
