// Package jobstore provides the durable job repository on NATS JetStream
// KV. Jobs are JSON records keyed by job id; the orchestrator is the sole
// writer after intake.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/store"
)

// NatsJobStore implements core.JobStore using a JetStream KV bucket.
type NatsJobStore struct {
	bucket string
	kv     nats.KeyValue
}

// Compile-time interface assertion.
var _ core.JobStore = (*NatsJobStore)(nil)

// New creates and initializes a NatsJobStore on the given bucket.
func New(js nats.JetStreamContext, bucketName string) (*NatsJobStore, error) {
	kv, err := store.EnsureKeyValue(js, bucketName)
	if err != nil {
		return nil, err
	}

	return &NatsJobStore{
		bucket: bucketName,
		kv:     kv,
	}, nil
}

// GetJob loads a job by id.
func (s *NatsJobStore) GetJob(_ context.Context, id string) (*core.Job, error) {
	kvEntry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
		}

		return nil, fmt.Errorf("failed to get job %q from bucket %q: %w", id, s.bucket, err)
	}

	var job core.Job

	err = json.Unmarshal(kvEntry.Value(), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %q: %w", id, err)
	}

	return &job, nil
}

// SaveJob persists a job record. Saves are full overwrites, which makes
// terminal-state rewrites idempotent for persistence retries.
func (s *NatsJobStore) SaveJob(_ context.Context, job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %q: %w", job.ID, err)
	}

	_, err = s.kv.Put(job.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save job %q to bucket %q: %w", job.ID, s.bucket, err)
	}

	return nil
}

// ListJobs returns every job matching the filter. Zero filter fields match
// everything.
func (s *NatsJobStore) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list jobs in bucket %q: %w", s.bucket, err)
	}

	jobs := make([]*core.Job, 0, len(keys))

	for _, key := range keys {
		job, getErr := s.GetJob(ctx, key)
		if getErr != nil {
			// Keys can disappear between listing and reading.
			if errors.Is(getErr, core.ErrJobNotFound) {
				continue
			}

			return nil, getErr
		}

		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		if filter.Mode != "" && job.Mode != filter.Mode {
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}
