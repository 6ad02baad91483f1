// Package objectstore provides a NATS-based implementation of the
// core.ObjectStore interface. It holds audio artifacts, cloning reference
// recordings and conversion-model weights as raw blobs keyed by name.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/store"
)

// NatsObjectStore implements core.ObjectStore using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// Compile-time interface assertion.
var _ core.ObjectStore = (*NatsObjectStore)(nil)

// New creates and initializes a NatsObjectStore on the given bucket.
func New(js nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	obj, err := store.EnsureObjectStore(js, bucketName)
	if err != nil {
		return nil, err
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  obj,
	}, nil
}

// Download retrieves a blob from the object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q from bucket %q: %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object %q: %w", key, closeErr)
	}

	return data, nil
}

// Upload saves a blob to the object store.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object %q to bucket %q: %w", key, n.bucket, err)
	}

	return nil
}
