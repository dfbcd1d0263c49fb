// Package lmblob fetches the opaque language-model blob referenced by an
// engine's lm_path, from either local disk or Tencent COS. The blob's
// contents are never interpreted here — the scorer built on top of it is
// out of scope; this package only resolves a reference into bytes plus a
// content hash for logging/audit.
package lmblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dagsearch/dagsearch/pkg/config"
)

// Source fetches a named LM blob and returns its raw bytes.
type Source interface {
	// Fetch retrieves the blob at ref and returns its bytes.
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// Exists checks whether a blob exists at ref without fetching it.
	Exists(ctx context.Context, ref string) (bool, error)
}

// SourceType represents the kind of blob source backend.
type SourceType string

const (
	SourceTypeLocal SourceType = "local"
	SourceTypeCOS   SourceType = "cos"
)

// NewSource creates a new Source based on the configuration.
func NewSource(cfg *config.LMSourceConfig) (Source, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch SourceType(cfg.Type) {
	case SourceTypeLocal:
		return NewLocalSource(cfg.LocalPath)
	case SourceTypeCOS:
		return NewCOSSource(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalSource(cfg.LocalPath)
	}
}

// ValidateConfig validates the LM blob source configuration.
func ValidateConfig(cfg *config.LMSourceConfig) error {
	if cfg == nil {
		return fmt.Errorf("lm source config is nil")
	}

	sourceType := SourceType(cfg.Type)
	if sourceType == "" {
		sourceType = SourceTypeLocal
	}

	if sourceType != SourceTypeCOS && sourceType != SourceTypeLocal {
		return fmt.Errorf("unsupported lm source type: %s", cfg.Type)
	}

	if sourceType == SourceTypeCOS {
		if cfg.Bucket == "" {
			return fmt.Errorf("COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("COS credentials are required")
		}
	}

	if sourceType == SourceTypeLocal {
		if cfg.LocalPath == "" {
			return fmt.Errorf("local lm blob path is required")
		}
	}

	return nil
}

// FetchModel resolves ref against src and returns the blob bytes along with
// a hex-encoded sha256 hash, suitable for logging which model a run used
// without persisting the blob itself.
func FetchModel(ctx context.Context, src Source, ref string) ([]byte, string, error) {
	data, err := src.Fetch(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
