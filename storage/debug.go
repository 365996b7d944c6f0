package storage

import (
	"context"
	"log/slog"
	"time"
)

// Debug wraps any Store and adds debug logging.
// This allows any backend implementation to have debug logging without
// coupling the logging logic to the backend implementation.
type Debug struct {
	store  Store
	logger *slog.Logger
}

// NewDebug creates a new debug wrapper around an existing store.
func NewDebug(store Store, logger *slog.Logger) *Debug {
	return &Debug{
		store:  store,
		logger: logger,
	}
}

// Put stores an object with debug logging.
func (d *Debug) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := d.store.Put(ctx, key, data)
	if err != nil {
		d.logger.Debug("put failed", "key", key, "size", len(data), "duration", time.Since(start), "error", err)
		return err
	}
	d.logger.Debug("put", "key", key, "size", len(data), "duration", time.Since(start))
	return nil
}

// Get retrieves an object with debug logging.
func (d *Debug) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	data, found, err := d.store.Get(ctx, key)
	switch {
	case err != nil:
		d.logger.Debug("get failed", "key", key, "duration", time.Since(start), "error", err)
	case !found:
		d.logger.Debug("get miss", "key", key, "duration", time.Since(start))
	default:
		d.logger.Debug("get hit", "key", key, "size", len(data), "duration", time.Since(start))
	}
	return data, found, err
}

// Exists checks presence with debug logging.
func (d *Debug) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := d.store.Exists(ctx, key)
	d.logger.Debug("exists", "key", key, "exists", exists, "error", err)
	return exists, err
}

// List lists keys with debug logging.
func (d *Debug) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := d.store.List(ctx, prefix)
	d.logger.Debug("list", "prefix", prefix, "count", len(keys), "duration", time.Since(start), "error", err)
	return keys, err
}

// Clear clears the underlying store with debug logging.
func (d *Debug) Clear(ctx context.Context) error {
	start := time.Now()
	err := d.store.Clear(ctx)
	d.logger.Debug("clear", "duration", time.Since(start), "error", err)
	return err
}

// Close closes the underlying store with debug logging.
func (d *Debug) Close() error {
	err := d.store.Close()
	d.logger.Debug("close", "error", err)
	return err
}
