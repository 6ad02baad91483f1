// Package worker_test tests the job orchestrator end to end against an
// embedded NATS server, with in-memory stores and stub backends.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/text"
	"github.com/book-expert/voice-service/internal/worker"
)

var (
	errBackendDown   = errors.New("backend down")
	errConvertBroken = errors.New("conversion runner offline")
)

// memJobStore is an in-memory core.JobStore.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*core.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*core.Job)}
}

func (m *memJobStore) GetJob(_ context.Context, id string) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
	}

	clone := *job

	return &clone, nil
}

func (m *memJobStore) SaveJob(_ context.Context, job *core.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *job
	m.jobs[job.ID] = &clone

	return nil
}

func (m *memJobStore) ListJobs(_ context.Context, filter core.JobFilter) ([]*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*core.Job

	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		if filter.Mode != "" && job.Mode != filter.Mode {
			continue
		}

		clone := *job
		out = append(out, &clone)
	}

	return out, nil
}

// memObjectStore is an in-memory core.ObjectStore.
type memObjectStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{blobs: make(map[string][]byte)}
}

func (m *memObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}

	return data, nil
}

func (m *memObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[key] = data

	return nil
}

func (m *memObjectStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[key]

	return data, ok
}

// memVoiceProfileStore is an in-memory core.VoiceProfileStore.
type memVoiceProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*core.VoiceProfile
}

func newMemVoiceProfileStore() *memVoiceProfileStore {
	return &memVoiceProfileStore{profiles: make(map[string]*core.VoiceProfile)}
}

func (m *memVoiceProfileStore) GetProfile(_ context.Context, id string) (*core.VoiceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrProfileNotFound, id)
	}

	clone := *profile

	return &clone, nil
}

func (m *memVoiceProfileStore) SaveProfile(_ context.Context, profile *core.VoiceProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *profile
	m.profiles[profile.ID] = &clone

	return nil
}

func (m *memVoiceProfileStore) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.profiles, id)

	return nil
}

// memQualityProfileStore is an in-memory core.QualityProfileStore.
type memQualityProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*core.QualityProfile
}

func newMemQualityProfileStore() *memQualityProfileStore {
	return &memQualityProfileStore{profiles: make(map[string]*core.QualityProfile)}
}

func (m *memQualityProfileStore) GetQualityProfile(_ context.Context, id string) (*core.QualityProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrQualityProfileNotFound, id)
	}

	clone := *profile

	return &clone, nil
}

func (m *memQualityProfileStore) SaveQualityProfile(_ context.Context, profile *core.QualityProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *profile
	m.profiles[profile.ID] = &clone

	return nil
}

// memConversionModelStore is an in-memory core.ConversionModelStore.
type memConversionModelStore struct {
	mu     sync.Mutex
	models map[string]*core.ConversionModel
}

func newMemConversionModelStore() *memConversionModelStore {
	return &memConversionModelStore{models: make(map[string]*core.ConversionModel)}
}

func (m *memConversionModelStore) GetModel(_ context.Context, id string) (*core.ConversionModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrConversionModelNotFound, id)
	}

	clone := *model

	return &clone, nil
}

func (m *memConversionModelStore) SaveModel(_ context.Context, model *core.ConversionModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *model
	m.models[model.ID] = &clone

	return nil
}

// stubBackend is a scriptable core.SynthesisBackend.
type stubBackend struct {
	name            string
	family          core.EngineFamily
	synthesizeCalls atomic.Int64
	// failuresBefore makes the first N synthesize calls fail with a
	// retryable execution error.
	failuresBefore int64
	// synthesizeErr, when set, fails every synthesize call.
	synthesizeErr error
	lastInput     core.SynthesisInput
	cloneResult   *core.VoiceProfile
}

func (s *stubBackend) Name() string                 { return s.name }
func (s *stubBackend) Family() core.EngineFamily    { return s.family }
func (s *stubBackend) SampleRate() int              { return 24000 }
func (s *stubBackend) SupportedLanguages() []string { return []string{"en"} }

func (s *stubBackend) Unload(_ context.Context) error {
	return nil
}

func (s *stubBackend) Synthesize(_ context.Context, in core.SynthesisInput) (*core.SynthesisResult, error) {
	call := s.synthesizeCalls.Add(1)
	s.lastInput = in

	if s.synthesizeErr != nil {
		return nil, s.synthesizeErr
	}

	if call <= s.failuresBefore {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendExecution, errBackendDown)
	}

	return &core.SynthesisResult{
		Waveform:        []byte("synthesized audio"),
		SampleRate:      24000,
		DurationSeconds: 3.5,
	}, nil
}

func (s *stubBackend) Clone(_ context.Context, in core.CloneInput) (*core.VoiceProfile, error) {
	if s.cloneResult != nil {
		result := *s.cloneResult
		result.Name = in.Name

		return &result, nil
	}

	return &core.VoiceProfile{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Language:  in.Language,
		Engine:    s.name,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// stubResolver is a scriptable core.BackendResolver.
type stubResolver struct {
	backends map[string]*stubBackend
	// failing lists engine ids whose resolution fails.
	failing map[string]bool
}

func (r *stubResolver) Resolve(_ context.Context, engineID string) (core.SynthesisBackend, error) {
	if r.failing[engineID] {
		return nil, fmt.Errorf("%w: %q", core.ErrBackendUnavailable, engineID)
	}

	backend, ok := r.backends[engineID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownEngine, engineID)
	}

	return backend, nil
}

func (r *stubResolver) ResolveWithFallback(
	ctx context.Context,
	engineID, fallbackID string,
) (core.SynthesisBackend, error) {
	backend, err := r.Resolve(ctx, engineID)
	if err == nil {
		return backend, nil
	}

	if fallbackID == "" || fallbackID == engineID {
		return nil, err
	}

	return r.Resolve(ctx, fallbackID)
}

// stubConverter is a scriptable core.VoiceConverter.
type stubConverter struct {
	fail  bool
	calls atomic.Int64
}

func (c *stubConverter) Convert(
	_ context.Context,
	_ []byte,
	_ int,
	_ *core.ConversionModel,
	_ core.Parameters,
) ([]byte, error) {
	c.calls.Add(1)

	if c.fail {
		return nil, fmt.Errorf("%w: %w", core.ErrConversionFailed, errConvertBroken)
	}

	return []byte("converted audio"), nil
}

// harness bundles everything one worker test needs.
type harness struct {
	jobs          *memJobStore
	voiceProfiles *memVoiceProfileStore
	quality       *memQualityProfileStore
	models        *memConversionModelStore
	audio         *memObjectStore
	resolver      *stubResolver
	converter     *stubConverter
	js            nats.JetStreamContext
	finished      *nats.Subscription
}

const (
	testSubmittedSubject = "voice.jobs.submitted"
	testFinishedSubject  = "voice.jobs.finished"
)

func startTestServer(t *testing.T) *nats.Conn {
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

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsConnection
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	natsConnection := startTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	_, err = jetstreamContext.AddStream(&nats.StreamConfig{
		Name:     "VOICE_JOBS",
		Subjects: []string{testSubmittedSubject, testFinishedSubject},
		Storage:  nats.MemoryStorage,
	})
	require.NoError(t, err)

	finished, err := natsConnection.SubscribeSync(testFinishedSubject)
	require.NoError(t, err)

	h := &harness{
		jobs:          newMemJobStore(),
		voiceProfiles: newMemVoiceProfileStore(),
		quality:       newMemQualityProfileStore(),
		models:        newMemConversionModelStore(),
		audio:         newMemObjectStore(),
		resolver: &stubResolver{
			backends: map[string]*stubBackend{
				"orpheus": {name: "orpheus", family: core.FamilySampling},
				"flow":    {name: "flow", family: core.FamilyDiffusion},
			},
			failing: map[string]bool{},
		},
		converter: &stubConverter{},
		js:        jetstreamContext,
		finished:  finished,
	}

	testLog, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLog.Close() })

	settings := worker.Settings{
		Subject:            testSubmittedSubject,
		QueueGroup:         "voice-workers",
		FinishedSubject:    testFinishedSubject,
		DefaultEngine:      "orpheus",
		FallbackEngine:     "flow",
		FallbackEnabled:    true,
		DefaultQualityTier: "balanced",
		SynthesisTimeout:   2 * time.Second,
		MaxAttempts:        2,
		RetryBackoff:       10 * time.Millisecond,
		ProfileTTL:         30 * 24 * time.Hour,
	}

	deps := worker.Deps{
		Jobs:             h.jobs,
		VoiceProfiles:    h.voiceProfiles,
		QualityProfiles:  h.quality,
		ConversionModels: h.models,
		Audio:            h.audio,
		Resolver:         h.resolver,
		Converter:        h.converter,
		Normalizer:       text.NewNormalizer(),
		Log:              testLog,
	}

	workerInstance, err := worker.NewNatsWorker(natsConnection, jetstreamContext, settings, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = workerInstance.Run(ctx)
	}()

	return h
}

func (h *harness) submit(t *testing.T, job *core.Job) {
	t.Helper()

	require.NoError(t, h.jobs.SaveJob(context.Background(), job))

	event := core.JobSubmittedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		JobID: job.ID,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	_, err = h.js.Publish(testSubmittedSubject, data)
	require.NoError(t, err)
}

func (h *harness) awaitFinished(t *testing.T) *core.JobFinishedEvent {
	t.Helper()

	msg, err := h.finished.NextMsg(10 * time.Second)
	require.NoError(t, err, "expected a finished event")

	var event core.JobFinishedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &event))

	return &event
}

func queuedJob(mode core.JobMode) *core.Job {
	return &core.Job{
		ID:     uuid.NewString(),
		Mode:   mode,
		Status: core.StatusQueued,
		Request: core.SynthesisRequest{
			Text:     "Chapter 1 begins here",
			Language: "en",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestWorker_SynthesisHappyPath(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)

	job := queuedJob(core.ModeSynthesize)
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, job.ID, event.JobID)
	assert.Equal(t, core.StatusCompleted, event.Status)
	assert.Equal(t, job.ID+".wav", event.OutputKey)

	stored, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, stored.Status)
	assert.Equal(t, "orpheus", stored.EngineRequested)
	assert.Equal(t, "orpheus", stored.EngineUsed)
	assert.InDelta(t, 3.5, stored.DurationSeconds, 0.01)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)

	// The balanced sampling tier was snapshotted onto the job.
	assert.InEpsilon(t, 0.6, stored.ResolvedParameters["temperature"], 1e-9)

	// The artifact was persisted before completion.
	data, ok := h.audio.get(stored.OutputKey)
	require.True(t, ok)
	assert.Equal(t, []byte("synthesized audio"), data)

	// The normalizer rewrote digits before synthesis.
	backend := h.resolver.backends["orpheus"]
	assert.Equal(t, "Chapter one begins here.", backend.lastInput.Text)
}

func TestWorker_RetriesExecutionFailure(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	h.resolver.backends["orpheus"].failuresBefore = 1

	job := queuedJob(core.ModeSynthesize)
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)
	assert.Equal(t, int64(2), h.resolver.backends["orpheus"].synthesizeCalls.Load())
}

func TestWorker_FailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	h.resolver.backends["orpheus"].failuresBefore = 99

	job := queuedJob(core.ModeSynthesize)
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusFailed, event.Status)
	assert.Equal(t, "synthesis failed after retries", event.ErrorSummary)
	assert.Equal(t, int64(2), h.resolver.backends["orpheus"].synthesizeCalls.Load())
}

func TestWorker_ValidationFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	h.resolver.backends["orpheus"].synthesizeErr = core.ErrTextEmpty

	job := queuedJob(core.ModeSynthesize)
	job.Request.Text = ""
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusFailed, event.Status)
	assert.Equal(t, "text cannot be empty", event.ErrorSummary)
	assert.Equal(t, int64(1), h.resolver.backends["orpheus"].synthesizeCalls.Load())
}

func TestWorker_EngineFallback(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	h.resolver.failing["orpheus"] = true

	job := queuedJob(core.ModeSynthesize)
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)

	stored, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	// The audit trail records both the requested and the actual engine.
	assert.Equal(t, "orpheus", stored.EngineRequested)
	assert.Equal(t, "flow", stored.EngineUsed)

	// Diffusion-family defaults were resolved for the fallback engine.
	assert.InEpsilon(t, 32, stored.ResolvedParameters["nfe_steps"], 1e-9)
}

func TestWorker_ConversionFailureDegradesToWarning(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	h.converter.fail = true

	require.NoError(t, h.models.SaveModel(context.Background(), &core.ConversionModel{
		ID:              "cm-1",
		PrimaryModelKey: "models/narrator.pth",
	}))

	job := queuedJob(core.ModeSynthesize)
	job.Request.EnableConversion = true
	job.Request.ConversionModelID = "cm-1"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)

	stored, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	require.NotEmpty(t, stored.Warnings)
	assert.Contains(t, stored.Warnings[0], "voice conversion failed")

	// The unconverted waveform was kept.
	data, ok := h.audio.get(stored.OutputKey)
	require.True(t, ok)
	assert.Equal(t, []byte("synthesized audio"), data)
	assert.Equal(t, int64(1), h.converter.calls.Load())
}

func TestWorker_ConversionSuccessReplacesWaveform(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)

	require.NoError(t, h.models.SaveModel(context.Background(), &core.ConversionModel{
		ID:              "cm-1",
		PrimaryModelKey: "models/narrator.pth",
	}))

	job := queuedJob(core.ModeSynthesize)
	job.Request.EnableConversion = true
	job.Request.ConversionModelID = "cm-1"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)

	stored, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Warnings)

	data, ok := h.audio.get(stored.OutputKey)
	require.True(t, ok)
	assert.Equal(t, []byte("converted audio"), data)
}

func TestWorker_ClonedSynthesisUsesProfile(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	ctx := context.Background()

	require.NoError(t, h.audio.Upload(ctx, "refs/vp-1.wav", []byte("reference recording")))
	require.NoError(t, h.voiceProfiles.SaveProfile(ctx, &core.VoiceProfile{
		ID:                "vp-1",
		Name:              "narrator",
		Language:          "en",
		Engine:            "orpheus",
		ReferenceAudioKey: "refs/vp-1.wav",
		Transcript:        "sample of my voice",
		CreatedAt:         time.Now().UTC(),
	}))

	job := queuedJob(core.ModeSynthesizeCloned)
	job.Request.VoiceProfileID = "vp-1"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)

	backend := h.resolver.backends["orpheus"]
	require.NotNil(t, backend.lastInput.Profile)
	assert.Equal(t, "vp-1", backend.lastInput.Profile.ID)
	assert.Equal(t, []byte("reference recording"), backend.lastInput.ReferenceAudio)

	// The profile's usage counter advanced.
	profile, err := h.voiceProfiles.GetProfile(ctx, "vp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.UsageCount)
}

func TestWorker_ClonedSynthesisExpiredProfile(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, h.voiceProfiles.SaveProfile(ctx, &core.VoiceProfile{
		ID:        "vp-stale",
		Engine:    "orpheus",
		ExpiresAt: &expired,
	}))

	job := queuedJob(core.ModeSynthesizeCloned)
	job.Request.VoiceProfileID = "vp-stale"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusFailed, event.Status)
	assert.Equal(t, "voice profile has expired", event.ErrorSummary)
}

func TestWorker_ClonedSynthesisEngineMismatch(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	ctx := context.Background()

	require.NoError(t, h.voiceProfiles.SaveProfile(ctx, &core.VoiceProfile{
		ID:     "vp-flow",
		Engine: "flow",
	}))

	job := queuedJob(core.ModeSynthesizeCloned)
	job.Request.VoiceProfileID = "vp-flow"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusFailed, event.Status)
	assert.Equal(t, "voice profile is not compatible with the selected engine", event.ErrorSummary)
}

func TestWorker_CloneJobPersistsProfile(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	ctx := context.Background()

	require.NoError(t, h.audio.Upload(ctx, "refs/upload-1.wav", []byte("reference recording")))

	job := queuedJob(core.ModeClone)
	job.Request.Text = ""
	job.ReferenceAudioKey = "refs/upload-1.wav"
	job.ProfileName = "narrator"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)
	require.NotEmpty(t, event.ProfileID)

	profile, err := h.voiceProfiles.GetProfile(ctx, event.ProfileID)
	require.NoError(t, err)

	assert.Equal(t, "narrator", profile.Name)
	assert.Equal(t, "refs/upload-1.wav", profile.ReferenceAudioKey)
	require.NotNil(t, profile.ExpiresAt)
	assert.True(t, profile.ExpiresAt.After(time.Now().UTC()))

	stored, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, stored.ProfileID)
	assert.Empty(t, stored.OutputKey)
}

func TestWorker_SkipsRedeliveredTerminalJob(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)

	job := queuedJob(core.ModeSynthesize)
	now := time.Now().UTC()
	require.NoError(t, job.Start(now))
	require.NoError(t, job.Complete(now))
	job.OutputKey = "existing.wav"

	h.submit(t, job)

	// The worker must neither reprocess nor republish a terminal job.
	_, err := h.finished.NextMsg(2 * time.Second)
	require.Error(t, err)

	stored, getErr := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, core.StatusCompleted, stored.Status)
	assert.Equal(t, "existing.wav", stored.OutputKey)
	assert.Equal(t, int64(0), h.resolver.backends["orpheus"].synthesizeCalls.Load())
}

func TestWorker_QualityProfileFamilyMismatchFails(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)
	ctx := context.Background()

	require.NoError(t, h.quality.SaveQualityProfile(ctx, &core.QualityProfile{
		ID:           "qp-diffusion",
		EngineFamily: core.FamilyDiffusion,
		Parameters:   core.Parameters{"nfe_steps": 48},
	}))

	job := queuedJob(core.ModeSynthesize)
	job.Request.QualityProfileID = "qp-diffusion"
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusFailed, event.Status)
	assert.Equal(t, "quality profile is not valid for the selected engine", event.ErrorSummary)
}

func TestWorker_ParameterOverridesWin(t *testing.T) {
	t.Parallel()

	h := setupHarness(t)

	job := queuedJob(core.ModeSynthesize)
	job.Request.ParameterOverrides = core.Parameters{"temperature": 0.33}
	job.Request.SpeedMultiplier = 1.25
	h.submit(t, job)

	event := h.awaitFinished(t)
	assert.Equal(t, core.StatusCompleted, event.Status)

	stored, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.InEpsilon(t, 0.33, stored.ResolvedParameters["temperature"], 1e-9)
	assert.InEpsilon(t, 1.25, stored.ResolvedParameters["speed"], 1e-9)

	backend := h.resolver.backends["orpheus"]
	assert.InEpsilon(t, 0.33, backend.lastInput.Parameters["temperature"], 1e-9)
}
