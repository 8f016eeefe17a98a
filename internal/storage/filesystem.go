package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// resultName is the base name of an archived generation result.
const resultName = "result"

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("storage: not found")

// FileStore keeps downloaded generation results on the local filesystem.
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

// Write persists data at the given relative key and returns the cleaned key.
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
	tmp := fullPath + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit file: %w", err)
	}
	return cleanKey, nil
}

// Read returns the bytes stored under key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// SaveResult stores a job's downloaded result as <jobKey>/result<ext>, where
// the extension follows contentType. Earlier results for the job are
// replaced.
func (s *FileStore) SaveResult(ctx context.Context, jobKey string, data []byte, contentType string) (string, error) {
	dir, err := sanitizeKey(jobKey)
	if err != nil {
		return "", err
	}
	if old, err := s.FindResult(dir); err == nil {
		_ = os.Remove(filepath.Join(s.basePath, filepath.FromSlash(old)))
	}
	return s.Write(ctx, path.Join(dir, resultName+extensionFor(contentType)), data)
}

// FindResult returns the storage key of jobKey's archived result.
func (s *FileStore) FindResult(jobKey string) (string, error) {
	if s == nil {
		return "", ErrNotFound
	}
	dir, err := sanitizeKey(jobKey)
	if err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(s.basePath, filepath.FromSlash(dir), resultName+"*"))
	if err != nil {
		return "", fmt.Errorf("storage: glob: %w", err)
	}
	var keys []string
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") {
			continue
		}
		keys = append(keys, path.Join(dir, filepath.Base(m)))
	}
	if len(keys) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(keys)
	return keys[0], nil
}

// URL joins a public base URL with key.
func URL(baseURL, key string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	key = strings.TrimLeft(key, "/")
	if baseURL == "" {
		return "/" + key
	}
	return baseURL + "/" + key
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return ".bin"
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	sort.Strings(exts)
	return exts[0]
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
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
