package config

import (
	"context"
	"fmt"

	"github.com/polystore/polystore/internal/throttle"
	"github.com/polystore/polystore/pkg/metrics"
	promMetrics "github.com/polystore/polystore/pkg/metrics/prometheus"
	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/fingerprint"
	"github.com/polystore/polystore/pkg/storage/local"
)

// NewClient builds the storage client from the configuration: the
// fingerprint store, the metrics recorder, the local fallback backend
// and a factory that creates configured backends on first use.
//
// Closing the client also closes the fingerprint store.
func NewClient(ctx context.Context, cfg *Config) (*storage.Client, error) {
	fps, err := newFingerprintStore(cfg.Fingerprints)
	if err != nil {
		return nil, err
	}

	var tm metrics.TransferMetrics = metrics.NewNoopTransferMetrics()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		tm = promMetrics.NewTransferMetrics()
	}

	storageIDs := make([]string, 0, len(cfg.Storages))
	for id := range cfg.Storages {
		storageIDs = append(storageIDs, id)
	}

	factory := func(ctx context.Context, storageID string) (storage.Backend, error) {
		sc, ok := cfg.Storages[storageID]
		if !ok {
			return nil, fmt.Errorf("storage %s: %w", storageID, storage.ErrUnknownStorage)
		}
		return CreateBackend(ctx, storageID, sc, fps)
	}

	opts := []storage.Option{
		storage.WithTransferMetrics(tm),
		storage.WithCloser(func() error {
			if fps != nil {
				return fps.Close()
			}
			return nil
		}),
	}
	if cfg.Transfer.MaxPerSecond > 0 {
		opts = append(opts, storage.WithThrottle(
			throttle.New(cfg.Transfer.MaxPerSecond, cfg.Transfer.Burst)))
	}

	return storage.NewClient(storageIDs, local.New("local", ""), factory, opts...), nil
}

func newFingerprintStore(cfg FingerprintConfig) (fingerprint.Store, error) {
	switch cfg.Type {
	case "", "sidecar":
		return fingerprint.NewSidecarStore(), nil
	case "badger":
		store, err := fingerprint.NewBadgerStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open fingerprint database: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint store type %q", cfg.Type)
	}
}
