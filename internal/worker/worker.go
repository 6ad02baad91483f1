// Package worker provides the NATS worker that drives synthesis jobs
// through their state machine: queued -> running -> completed|failed. The
// worker is the sole mutator of job records after intake.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/quality"
	"github.com/book-expert/voice-service/internal/text"
)

// Static errors.
var (
	// ErrMissingDependency indicates that a required collaborator was not
	// provided at construction.
	ErrMissingDependency = errors.New("missing worker dependency")
	// errRetriesExhausted wraps the last synthesis failure after the retry
	// budget is spent.
	errRetriesExhausted = errors.New("synthesis retries exhausted")
)

// Settings holds the orchestration policy, resolved once at process start.
type Settings struct {
	Subject            string
	QueueGroup         string
	FinishedSubject    string
	DefaultEngine      string
	FallbackEngine     string
	FallbackEnabled    bool
	DefaultQualityTier string
	SynthesisTimeout   time.Duration
	MaxAttempts        int
	RetryBackoff       time.Duration
	ProfileTTL         time.Duration
}

// Deps holds the worker's collaborators. Everything is an interface from
// core, so tests swap in struct mocks without a NATS or runner process.
type Deps struct {
	Jobs             core.JobStore
	VoiceProfiles    core.VoiceProfileStore
	QualityProfiles  core.QualityProfileStore
	ConversionModels core.ConversionModelStore
	Audio            core.ObjectStore
	Resolver         core.BackendResolver
	Converter        core.VoiceConverter
	Normalizer       *text.Normalizer
	Log              *logger.Logger
}

// NatsWorker listens for submitted jobs on a JetStream subject and
// processes them. One job instance is owned by exactly one worker at a
// time; workers share state only through the durable stores and the
// backend registry.
type NatsWorker struct {
	natsConnection   *nats.Conn
	jetstreamContext nats.JetStreamContext
	settings         Settings
	deps             Deps
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	settings Settings,
	deps Deps,
) (*NatsWorker, error) {
	validationErr := validateDeps(deps)
	if validationErr != nil {
		return nil, validationErr
	}

	return &NatsWorker{
		natsConnection:   natsConnection,
		jetstreamContext: jetstreamContext,
		settings:         settings,
		deps:             deps,
	}, nil
}

func validateDeps(deps Deps) error {
	if deps.Jobs == nil {
		return fmt.Errorf("%w: job store", ErrMissingDependency)
	}

	if deps.Audio == nil {
		return fmt.Errorf("%w: audio object store", ErrMissingDependency)
	}

	if deps.Resolver == nil {
		return fmt.Errorf("%w: backend resolver", ErrMissingDependency)
	}

	if deps.Log == nil {
		return fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	return nil
}

// Run starts the worker and begins listening for submitted jobs. Delivery
// is at-least-once; redelivered jobs that already left the queued state
// are skipped.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.jetstreamContext.QueueSubscribe(
		w.settings.Subject,
		w.settings.QueueGroup,
		w.handleMessage,
		nats.ManualAck(),
		nats.AckWait(w.jobDeadline()),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.settings.Subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// jobDeadline bounds one whole job: every synthesis attempt plus backoff,
// with headroom for store and conversion I/O.
func (w *NatsWorker) jobDeadline() time.Duration {
	attempts := time.Duration(w.settings.MaxAttempts)

	return attempts*(w.settings.SynthesisTimeout+w.settings.RetryBackoff) + time.Minute
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	// The message is acknowledged regardless of the job outcome: both
	// terminal states are durable, and a malformed event can never become
	// processable by redelivery.
	defer func() {
		ackErr := msg.Ack()
		if ackErr != nil {
			w.deps.Log.Warn("Failed to ack message: %v", ackErr)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.jobDeadline())
	defer cancel()

	var event core.JobSubmittedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.deps.Log.Error("Failed to unmarshal job event: %v", err)

		return
	}

	job, err := w.deps.Jobs.GetJob(ctx, event.JobID)
	if err != nil {
		w.deps.Log.Error("Failed to load job %s: %v", event.JobID, err)

		return
	}

	if job.Status != core.StatusQueued {
		w.deps.Log.Info(
			"Skipping redelivered job %s in status %s",
			job.ID,
			job.Status,
		)

		return
	}

	w.processJob(ctx, job)
	w.publishFinishedEvent(event.Header, job)
}

// processJob walks one job through the state machine. The completed
// transition happens only after the output artifact write succeeded, so a
// completed job never points at a partial file.
func (w *NatsWorker) processJob(ctx context.Context, job *core.Job) {
	now := time.Now().UTC()

	startErr := job.Start(now)
	if startErr != nil {
		w.deps.Log.Error("Failed to start job %s: %v", job.ID, startErr)

		return
	}

	job.EngineRequested = w.engineFor(job)

	saveErr := w.deps.Jobs.SaveJob(ctx, job)
	if saveErr != nil {
		w.deps.Log.Error("Failed to persist running job %s: %v", job.ID, saveErr)

		return
	}

	runErr := w.runPipeline(ctx, job)

	finishedAt := time.Now().UTC()

	if runErr != nil {
		w.deps.Log.Error("Job %s failed: %v", job.ID, runErr)

		failErr := job.Fail(summarizeError(runErr), finishedAt)
		if failErr != nil {
			w.deps.Log.Error("Failed to fail job %s: %v", job.ID, failErr)

			return
		}
	} else {
		completeErr := job.Complete(finishedAt)
		if completeErr != nil {
			w.deps.Log.Error("Failed to complete job %s: %v", job.ID, completeErr)

			return
		}
	}

	saveErr = w.deps.Jobs.SaveJob(ctx, job)
	if saveErr != nil {
		w.deps.Log.Error("Failed to persist terminal job %s: %v", job.ID, saveErr)
	}
}

// runPipeline dispatches a running job by mode. It mutates the job's
// result fields and returns the failure that should become the terminal
// error, or nil when the job may complete.
func (w *NatsWorker) runPipeline(ctx context.Context, job *core.Job) error {
	backend, err := w.resolveBackend(ctx, job)
	if err != nil {
		return err
	}

	job.EngineUsed = backend.Name()

	if job.Mode == core.ModeClone {
		return w.runCloneJob(ctx, job, backend)
	}

	return w.runSynthesisJob(ctx, job, backend)
}

// engineFor applies the engine resolution order: explicit request override,
// else the configured process default.
func (w *NatsWorker) engineFor(job *core.Job) string {
	if job.Request.Engine != "" {
		return job.Request.Engine
	}

	return w.settings.DefaultEngine
}

// resolveBackend yields the adapter, honoring the fallback policy.
func (w *NatsWorker) resolveBackend(ctx context.Context, job *core.Job) (core.SynthesisBackend, error) {
	engineID := job.EngineRequested

	fallbackID := ""
	if w.settings.FallbackEnabled && w.settings.FallbackEngine != engineID {
		fallbackID = w.settings.FallbackEngine
	}

	backend, err := w.deps.Resolver.ResolveWithFallback(ctx, engineID, fallbackID)
	if err != nil {
		return nil, err
	}

	return backend, nil
}

// runSynthesisJob executes synthesize and synthesize-cloned jobs: resolve
// the voice, snapshot quality parameters, synthesize with retries, convert
// best-effort, persist the artifact.
func (w *NatsWorker) runSynthesisJob(
	ctx context.Context,
	job *core.Job,
	backend core.SynthesisBackend,
) error {
	input := core.SynthesisInput{
		Text:        w.normalize(job.Request.Text),
		Language:    job.Request.Language,
		PresetVoice: job.Request.PresetVoice,
	}

	if job.Mode == core.ModeSynthesizeCloned {
		profile, reference, profileErr := w.resolveVoiceProfile(ctx, job, backend)
		if profileErr != nil {
			return profileErr
		}

		input.Profile = profile
		input.ReferenceAudio = reference
	}

	params, paramsErr := w.resolveQualityParameters(ctx, job, backend)
	if paramsErr != nil {
		return paramsErr
	}

	input.Parameters = params

	// Snapshot the fully resolved parameters onto the job so the audit
	// record survives later edits to the stored quality profile.
	job.ResolvedParameters = params.Clone()

	saveErr := w.deps.Jobs.SaveJob(ctx, job)
	if saveErr != nil {
		return fmt.Errorf("failed to persist parameter snapshot: %w", saveErr)
	}

	result, synthErr := w.synthesizeWithRetry(ctx, backend, input)
	if synthErr != nil {
		return synthErr
	}

	waveform := w.applyConversion(ctx, job, result)

	outputKey := job.ID + ".wav"

	uploadErr := w.deps.Audio.Upload(ctx, outputKey, waveform)
	if uploadErr != nil {
		return fmt.Errorf("failed to upload audio artifact %q: %w", outputKey, uploadErr)
	}

	job.OutputKey = outputKey
	job.DurationSeconds = result.DurationSeconds

	return nil
}

// resolveVoiceProfile loads and validates the job's voice profile, fetches
// its reference audio and counts the use.
func (w *NatsWorker) resolveVoiceProfile(
	ctx context.Context,
	job *core.Job,
	backend core.SynthesisBackend,
) (*core.VoiceProfile, []byte, error) {
	profile, err := w.deps.VoiceProfiles.GetProfile(ctx, job.Request.VoiceProfileID)
	if err != nil {
		return nil, nil, err
	}

	if profile.Expired(time.Now().UTC()) {
		return nil, nil, fmt.Errorf("%w: %q", core.ErrProfileExpired, profile.ID)
	}

	if profile.Engine != backend.Name() {
		return nil, nil, fmt.Errorf(
			"%w: profile %q was created by %q, job resolved %q",
			core.ErrProfileEngineMismatch,
			profile.ID,
			profile.Engine,
			backend.Name(),
		)
	}

	reference, err := w.deps.Audio.Download(ctx, profile.ReferenceAudioKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download reference audio for profile %q: %w", profile.ID, err)
	}

	profile.UsageCount++

	saveErr := w.deps.VoiceProfiles.SaveProfile(ctx, profile)
	if saveErr != nil {
		// The usage counter is advisory; never fail a job over it.
		w.deps.Log.Warn("Failed to update usage count for profile %s: %v", profile.ID, saveErr)
	}

	return profile, reference, nil
}

// resolveQualityParameters applies the resolution precedence: request
// overrides > stored named profile > built-in tier defaults.
func (w *NatsWorker) resolveQualityParameters(
	ctx context.Context,
	job *core.Job,
	backend core.SynthesisBackend,
) (core.Parameters, error) {
	var stored *core.QualityProfile

	if job.Request.QualityProfileID != "" {
		profile, err := w.deps.QualityProfiles.GetQualityProfile(ctx, job.Request.QualityProfileID)
		if err != nil {
			return nil, err
		}

		stored = profile
	}

	tier := job.Request.QualityTier
	if tier == "" {
		tier = w.settings.DefaultQualityTier
	}

	params, err := quality.ResolveForRequest(
		tier,
		backend.Family(),
		stored,
		job.Request.ParameterOverrides,
		job.Request.SpeedMultiplier,
	)
	if err != nil {
		return nil, err
	}

	return params, nil
}

// synthesizeWithRetry retries the pure synthesis call on execution and
// timeout errors with a fixed backoff. Validation failures surface
// immediately; whole jobs are never re-queued.
func (w *NatsWorker) synthesizeWithRetry(
	ctx context.Context,
	backend core.SynthesisBackend,
	input core.SynthesisInput,
) (*core.SynthesisResult, error) {
	var lastErr error

	for attempt := 1; attempt <= w.settings.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.settings.SynthesisTimeout)
		result, err := backend.Synthesize(attemptCtx, input)

		cancel()

		if err == nil {
			return result, nil
		}

		if !retryable(err) {
			return nil, err
		}

		lastErr = err

		w.deps.Log.Warn(
			"Synthesis attempt %d/%d on engine %s failed: %v",
			attempt,
			w.settings.MaxAttempts,
			backend.Name(),
			err,
		)

		if attempt < w.settings.MaxAttempts {
			select {
			case <-time.After(w.settings.RetryBackoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", errRetriesExhausted, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("%w: %w", errRetriesExhausted, lastErr)
}

// retryable reports whether a synthesis failure is worth another bounded,
// side-effect-free attempt.
func retryable(err error) bool {
	return errors.Is(err, core.ErrBackendExecution) || errors.Is(err, core.ErrSynthesisTimeout)
}

// applyConversion runs the optional voice-conversion stage. Conversion is
// a best-effort enhancement: any failure is recorded as a warning and the
// pre-conversion waveform is kept, so a conversion outage never poisons an
// otherwise successful job.
func (w *NatsWorker) applyConversion(
	ctx context.Context,
	job *core.Job,
	result *core.SynthesisResult,
) []byte {
	if !job.Request.EnableConversion || job.Request.ConversionModelID == "" {
		return result.Waveform
	}

	if w.deps.Converter == nil || w.deps.ConversionModels == nil {
		w.deps.Log.Warn("Conversion requested for job %s but no converter is configured", job.ID)
		job.Warn("voice conversion unavailable; kept unconverted audio")

		return result.Waveform
	}

	model, err := w.deps.ConversionModels.GetModel(ctx, job.Request.ConversionModelID)
	if err != nil {
		w.deps.Log.Warn("Conversion model lookup failed for job %s: %v", job.ID, err)
		job.Warn("conversion model not found; kept unconverted audio")

		return result.Waveform
	}

	converted, err := w.deps.Converter.Convert(
		ctx,
		result.Waveform,
		result.SampleRate,
		model,
		job.Request.ConversionParameters,
	)
	if err != nil {
		w.deps.Log.Warn("Voice conversion failed for job %s: %v", job.ID, err)
		job.Warn("voice conversion failed; kept unconverted audio")

		return result.Waveform
	}

	return converted
}

// runCloneJob executes clone-only jobs: same skeleton, but the result is a
// persisted voice profile instead of an audio artifact.
func (w *NatsWorker) runCloneJob(
	ctx context.Context,
	job *core.Job,
	backend core.SynthesisBackend,
) error {
	if w.deps.VoiceProfiles == nil {
		return fmt.Errorf("%w: voice profile store", ErrMissingDependency)
	}

	reference, err := w.deps.Audio.Download(ctx, job.ReferenceAudioKey)
	if err != nil {
		return fmt.Errorf("failed to download reference audio %q: %w", job.ReferenceAudioKey, err)
	}

	// Cloning may transcribe, which is materially slower than the rest of
	// the pipeline; it shares the synthesis timeout budget.
	cloneCtx, cancel := context.WithTimeout(ctx, w.settings.SynthesisTimeout)
	defer cancel()

	profile, err := backend.Clone(cloneCtx, core.CloneInput{
		ReferenceAudio: reference,
		Language:       job.Request.Language,
		Name:           job.ProfileName,
		Transcript:     job.Transcript,
	})
	if err != nil {
		return err
	}

	profile.ReferenceAudioKey = job.ReferenceAudioKey

	if w.settings.ProfileTTL > 0 {
		expiry := profile.CreatedAt.Add(w.settings.ProfileTTL)
		profile.ExpiresAt = &expiry
	}

	saveErr := w.deps.VoiceProfiles.SaveProfile(ctx, profile)
	if saveErr != nil {
		return fmt.Errorf("failed to persist voice profile %q: %w", profile.ID, saveErr)
	}

	job.ProfileID = profile.ID
	job.DurationSeconds = profile.DurationSeconds

	return nil
}

// normalize rewrites the input text into speakable form when a normalizer
// is configured.
func (w *NatsWorker) normalize(input string) string {
	if w.deps.Normalizer == nil {
		return input
	}

	return w.deps.Normalizer.Normalize(input)
}

// publishFinishedEvent announces the terminal state on the finished
// subject. Failure to publish is logged only; the job record is already
// durable.
func (w *NatsWorker) publishFinishedEvent(header events.EventHeader, job *core.Job) {
	if w.settings.FinishedSubject == "" {
		return
	}

	header.Timestamp = time.Now().UTC()
	header.EventID = uuid.NewString()

	finished := core.JobFinishedEvent{
		Header:       header,
		JobID:        job.ID,
		Status:       job.Status,
		OutputKey:    job.OutputKey,
		ProfileID:    job.ProfileID,
		ErrorSummary: job.ErrorSummary,
	}

	data, err := json.Marshal(finished)
	if err != nil {
		w.deps.Log.Error("Failed to marshal finished event for job %s: %v", job.ID, err)

		return
	}

	_, err = w.jetstreamContext.Publish(w.settings.FinishedSubject, data)
	if err != nil {
		w.deps.Log.Error("Failed to publish finished event for job %s: %v", job.ID, err)
	}
}

// summarizeError converts an internal failure into the stable, redacted
// summary exposed on the job record. Internal wrapping and stack detail
// never leave the process.
func summarizeError(err error) string {
	switch {
	case errors.Is(err, core.ErrTextEmpty):
		return "text cannot be empty"
	case errors.Is(err, core.ErrUnsupportedLanguage):
		return "requested language is not supported by the engine"
	case errors.Is(err, core.ErrInvalidReference):
		return "reference audio is invalid or outside duration bounds"
	case errors.Is(err, core.ErrBackendUnavailable):
		return "no synthesis backend available"
	case errors.Is(err, core.ErrSynthesisTimeout):
		return "synthesis timed out"
	case errors.Is(err, core.ErrBackendExecution):
		return "synthesis failed after retries"
	case errors.Is(err, core.ErrProfileNotFound):
		return "voice profile not found"
	case errors.Is(err, core.ErrProfileExpired):
		return "voice profile has expired"
	case errors.Is(err, core.ErrProfileEngineMismatch):
		return "voice profile is not compatible with the selected engine"
	case errors.Is(err, core.ErrQualityProfileNotFound):
		return "quality profile not found"
	case errors.Is(err, core.ErrQualityFamilyMismatch):
		return "quality profile is not valid for the selected engine"
	case errors.Is(err, core.ErrUnknownQualityTier):
		return "unknown quality tier"
	case errors.Is(err, core.ErrTranscriptEmpty):
		return "reference transcription produced no text"
	default:
		return "internal processing error"
	}
}
