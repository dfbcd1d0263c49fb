package lmblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSource implements Source for the local filesystem.
type LocalSource struct {
	basePath string
}

// NewLocalSource creates a new LocalSource instance.
func NewLocalSource(basePath string) (*LocalSource, error) {
	if basePath == "" {
		basePath = "./models"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lm blob directory: %w", err)
	}

	return &LocalSource{basePath: basePath}, nil
}

// Fetch reads the blob at ref from the local filesystem.
func (s *LocalSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(s.getFullPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("lm blob not found: %s", ref)
		}
		return nil, fmt.Errorf("failed to read lm blob: %w", err)
	}
	return data, nil
}

// Exists checks if a blob exists at the specified ref.
func (s *LocalSource) Exists(ctx context.Context, ref string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(s.getFullPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lm blob existence: %w", err)
	}
	return true, nil
}

func (s *LocalSource) getFullPath(ref string) string {
	return filepath.Join(s.basePath, ref)
}

// GetBasePath returns the base path for the local source.
func (s *LocalSource) GetBasePath() string {
	return s.basePath
}
