package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS implements Store using a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	prefix string
}

// NewGCS creates a new GCS-based artifact store.
// bucket is the GCS bucket name where artifacts will be stored.
// prefix is an optional prefix for all object names.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access GCS bucket %s: %w", bucket, err)
	}

	return &GCS{
		client: client,
		bucket: handle,
		prefix: prefix,
	}, nil
}

// Put uploads data at key.
func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	w := g.bucket.Object(g.objectName(key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s in GCS: %w", key, err)
	}
	return nil
}

// Get downloads the content at key. A missing object is a miss.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := g.bucket.Object(g.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s from GCS: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from GCS: %w", key, err)
	}
	return data, true, nil
}

// Exists checks the object attrs for key.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(g.objectName(key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s in GCS: %w", key, err)
	}
	return true, nil
}

// List returns all keys under prefix in descending lexicographic order.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: g.objectName(prefix)})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects under %s: %w", prefix, err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, g.prefix))
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// Clear deletes every object under the configured prefix.
func (g *GCS) Clear(ctx context.Context) error {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: g.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list GCS objects for clear: %w", err)
		}
		if err := g.bucket.Object(attrs.Name).Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete %s from GCS: %w", attrs.Name, err)
		}
	}
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// objectName converts a storage key to a bucket object name.
func (g *GCS) objectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if g.prefix != "" {
		return g.prefix + key
	}
	return key
}
