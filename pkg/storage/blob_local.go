package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jewelry-scraper/pkg/utils"
)

// LocalBlobStore writes artifacts under a base directory on the local
// filesystem. It is the default backend.
type LocalBlobStore struct {
	baseDir string
}

// NewLocalBlobStore creates the base directory if needed and verifies it is
// writable, so misconfiguration surfaces at startup instead of mid-crawl.
func NewLocalBlobStore(baseDir string) (*LocalBlobStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("%w: blob store base directory is required", utils.ErrConfigValidation)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating base directory %s: %w", utils.ErrFilesystem, baseDir, err)
	}

	probe := filepath.Join(baseDir, ".writable_probe")
	if err := os.WriteFile(probe, []byte{}, 0644); err != nil {
		return nil, fmt.Errorf("%w: base directory %s not writable: %w", utils.ErrFilesystem, baseDir, err)
	}
	os.Remove(probe)

	return &LocalBlobStore{baseDir: filepath.Clean(baseDir)}, nil
}

// Put writes data under path and returns a file:// URI.
func (s *LocalBlobStore) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("%w: creating parent directories for %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", utils.ErrFilesystem, path, err)
	}
	return "file://" + fullPath, nil
}

// Get reads the object stored under path.
func (s *LocalBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", utils.ErrFilesystem, path, err)
	}
	return data, nil
}

// resolve joins path onto the base dir and rejects anything escaping it.
func (s *LocalBlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: blob path is required", utils.ErrFilesystem)
	}
	full := filepath.Clean(filepath.Join(s.baseDir, path))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: blob path %q escapes base directory", utils.ErrFilesystem, path)
	}
	return full, nil
}
