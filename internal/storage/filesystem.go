package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

const resourcesDir = "resources"

// FileStore persists generated resources onto the local filesystem. It is
// intended for development and test environments where the resource service
// is not available. Each resource lives under resources/{id}/.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Upload writes the file under a fresh resource id and returns the id.
func (s *FileStore) Upload(ctx context.Context, up domain.ResourceUpload) (uuid.UUID, error) {
	if len(up.Data) == 0 {
		return uuid.Nil, errors.New("storage: empty upload")
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.FileName), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "resource.bin"
	}
	id := uuid.New()
	if _, err := s.Write(ctx, path.Join(resourcesDir, id.String(), name), up.Data); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Delete removes every file of the resource. Missing resources are ignored.
func (s *FileStore) Delete(ctx context.Context, id uuid.UUID) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.basePath, resourcesDir, id.String())
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: delete resource: %w", err)
	}
	return nil
}

// Files lists the stored file keys of a resource.
func (s *FileStore) Files(id uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, resourcesDir, id.String()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: list resource: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			keys = append(keys, path.Join(resourcesDir, id.String(), e.Name()))
		}
	}
	return keys, nil
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
