// Package objectstore persists generated images and returns their public URLs.
package objectstore

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
)

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (coordinator.ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		s, err := NewS3Store(ctx, S3Options{
			Bucket:        cfg.Bucket,
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "filesystem":
		s, err := NewFileStore(cfg.FSRoot, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported object store driver: %s", cfg.Driver)
	}
}
