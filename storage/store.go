// Package storage provides key/value byte storage for cached artifacts
// over pluggable backends, plus public-URL derivation and the key
// layout helpers shared by all operations.
package storage

import "context"

// Store defines the interface for artifact storage backends.
//
// Implementations can be swapped to use different storage mechanisms.
//
// Implementations must be thread-safe and support concurrent
// operations. There is no locking discipline across callers: writes to
// the same key are idempotent (same key implies same intended content),
// so a lost race overwrites with equivalent bytes rather than
// corrupting anything.
type Store interface {
	// Put writes the full content at key, creating any missing
	// intermediate directories (or key prefixes). Writing the same key
	// twice silently replaces the content.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the content at key. A missing key is a normal
	// outcome reported as found=false with a nil error; a non-nil
	// error always indicates an I/O failure.
	Get(ctx context.Context, key string) (data []byte, found bool, err error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under prefix in descending lexicographic
	// order, so timestamp-prefixed entries come back newest first.
	List(ctx context.Context, prefix string) ([]string, error)

	// Clear removes every stored object. Used by the clear subcommand,
	// never by request handling.
	Clear(ctx context.Context) error

	// Close performs any cleanup operations needed by the backend.
	Close() error
}
