// Package blob stores raw upload and artifact payloads under string keys.
// Two backends are available: an embedded Badger database for single-node
// deployments and Google Cloud Storage for shared ones.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clinrel/clinrel-go/internal/config"
)

// ErrNotFound indicates no blob exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// Store persists raw payloads under keys. Keys are opaque slash-separated
// paths such as "uploads/<job>.csv" or "outputs/<job>.csv".
type Store interface {
	// Get returns the payload stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores a payload under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Open creates the blob store selected by the configuration.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendBadger:
		return OpenBadger(cfg.BadgerPath, logger)
	case config.BlobBackendGCS:
		return OpenGCS(ctx, cfg.GCSBucket, cfg.GCSKeyFile)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
