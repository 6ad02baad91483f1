// Package store provides shared helpers for the NATS JetStream persistence
// layer. Buckets are created on first use and bound to when they already
// exist, so any process can start first.
package store

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EnsureKeyValue creates a KV bucket or binds to an existing one.
func EnsureKeyValue(js nats.JetStreamContext, bucket string) (nats.KeyValue, error) {
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Records for the %s bucket.", bucket),
	})
	if err == nil {
		return kv, nil
	}

	if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		kv, err = js.KeyValue(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing KV bucket %q: %w", bucket, err)
		}

		return kv, nil
	}

	return nil, fmt.Errorf("failed to create KV bucket %q: %w", bucket, err)
}

// EnsureObjectStore creates an object-store bucket or binds to an existing
// one.
func EnsureObjectStore(js nats.JetStreamContext, bucket string) (nats.ObjectStore, error) {
	obj, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Blobs for the %s bucket.", bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err == nil {
		return obj, nil
	}

	if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		obj, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket %q: %w", bucket, err)
		}

		return obj, nil
	}

	return nil, fmt.Errorf("failed to create object store bucket %q: %w", bucket, err)
}
