// Package jobstore_test tests the JetStream-backed job repository.
package jobstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/store/jobstore"
)

// startTestServer starts an in-memory NATS server with JetStream enabled.
func startTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func newStore(t *testing.T) *jobstore.NatsJobStore {
	t.Helper()

	natsServer, natsConnection := startTestServer(t)
	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := jobstore.New(jetstreamContext, "test-jobs")
	require.NoError(t, err)

	return store
}

func sampleJob(id string, mode core.JobMode, status core.JobStatus) *core.Job {
	return &core.Job{
		ID:     id,
		Mode:   mode,
		Status: status,
		Request: core.SynthesisRequest{
			Text:     "hello",
			Language: "en",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveAndGetJob(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	job := sampleJob("job-1", core.ModeSynthesize, core.StatusQueued)
	job.ResolvedParameters = core.Parameters{"temperature": 0.6}

	require.NoError(t, store.SaveJob(ctx, job))

	loaded, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, job.Mode, loaded.Mode)
	assert.Equal(t, job.Status, loaded.Status)
	assert.Equal(t, job.Request.Text, loaded.Request.Text)
	assert.InEpsilon(t, 0.6, loaded.ResolvedParameters["temperature"], 1e-9)
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestSaveJob_OverwritesExisting(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	job := sampleJob("job-1", core.ModeSynthesize, core.StatusQueued)
	require.NoError(t, store.SaveJob(ctx, job))

	require.NoError(t, job.Start(time.Now().UTC()))
	require.NoError(t, store.SaveJob(ctx, job))

	loaded, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, loaded.Status)
}

func TestListJobs_Filters(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	queued := sampleJob("job-a", core.ModeSynthesize, core.StatusQueued)
	completed := sampleJob("job-b", core.ModeSynthesize, core.StatusCompleted)
	clone := sampleJob("job-c", core.ModeClone, core.StatusQueued)

	for _, job := range []*core.Job{queued, completed, clone} {
		require.NoError(t, store.SaveJob(ctx, job))
	}

	all, err := store.ListJobs(ctx, core.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	queuedOnly, err := store.ListJobs(ctx, core.JobFilter{Status: core.StatusQueued})
	require.NoError(t, err)
	assert.Len(t, queuedOnly, 2)

	cloneOnly, err := store.ListJobs(ctx, core.JobFilter{Mode: core.ModeClone})
	require.NoError(t, err)
	require.Len(t, cloneOnly, 1)
	assert.Equal(t, "job-c", cloneOnly[0].ID)
}

func TestListJobs_EmptyBucket(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	jobs, err := store.ListJobs(context.Background(), core.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
