package orpheus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voice-service/internal/audio"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/quality"
)

// Engine identity.
const (
	// EngineName is the stable identifier of this backend.
	EngineName = "orpheus"
	// nativeSampleRate is the model's output rate in Hz.
	nativeSampleRate = 24000
)

// Device names understood by the runner.
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Sampling defaults applied when a parameter is absent from the resolved
// set.
const (
	defaultTemperature       = 0.6
	defaultTopP              = 0.9
	defaultRepetitionPenalty = 1.2
	defaultSpeed             = 1.0
)

var supportedLanguages = []string{"en", "es", "fr", "de", "it", "zh"}

// Static errors.
var (
	errPlacementIncomplete = errors.New("model not fully resident after load")
)

// Options configures engine construction.
type Options struct {
	RunnerURL string
	ModelPath string
	// Device is the requested placement. When FallbackToCPU is set, an
	// absent accelerator degrades to the CPU instead of failing fast.
	Device        string
	FallbackToCPU bool
	AcceptLicense bool
	Timeout       time.Duration
	// Reference duration bounds for cloning, in seconds.
	MinRefSeconds float64
	MaxRefSeconds float64
	// Transcriber backs the automatic-transcription fallback; the Orpheus
	// conditioning path requires a reference transcript.
	Transcriber core.Transcriber
	Logger      *logger.Logger
}

// Engine implements core.SynthesisBackend over the Orpheus runner.
type Engine struct {
	client        *Client
	log           *logger.Logger
	transcriber   core.Transcriber
	modelPath     string
	device        string
	fallbackToCPU bool
	acceptLicense bool
	minRefSeconds float64
	maxRefSeconds float64
}

// Compile-time interface assertion.
var _ core.SynthesisBackend = (*Engine)(nil)

// NewEngine constructs the adapter and loads the model. Construction is
// strictly non-interactive: license acceptance and device placement are
// explicit options, and the load is verified fully resident before the
// engine reports ready.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	client := NewClient(opts.RunnerURL, opts.Timeout)

	healthErr := client.HealthCheck(ctx)
	if healthErr != nil {
		return nil, fmt.Errorf("orpheus runner is not healthy: %w", healthErr)
	}

	engine := &Engine{
		client:        client,
		log:           opts.Logger,
		transcriber:   opts.Transcriber,
		modelPath:     opts.ModelPath,
		device:        opts.Device,
		fallbackToCPU: opts.FallbackToCPU,
		acceptLicense: opts.AcceptLicense,
		minRefSeconds: opts.MinRefSeconds,
		maxRefSeconds: opts.MaxRefSeconds,
	}

	loadErr := engine.loadWithDevicePolicy(ctx, opts.Device)
	if loadErr != nil {
		return nil, loadErr
	}

	return engine, nil
}

// loadWithDevicePolicy loads the model on the requested device, degrading
// to the CPU when the accelerator is absent and fallback is enabled. A load
// is only accepted when the runner confirms complete placement; a partially
// resident model is re-placed rather than served.
func (e *Engine) loadWithDevicePolicy(ctx context.Context, device string) error {
	status, err := e.client.LoadModel(ctx, e.modelPath, device, e.acceptLicense)
	if err != nil {
		var runnerErr *RunnerError
		if errors.As(err, &runnerErr) && runnerErr.AcceleratorUnavailable() {
			if e.fallbackToCPU && device != DeviceCPU {
				e.log.Warn(
					"Accelerator unavailable for engine %s, falling back to %s",
					EngineName,
					DeviceCPU,
				)

				return e.loadWithDevicePolicy(ctx, DeviceCPU)
			}

			return fmt.Errorf("%w: device %q: %w", core.ErrAcceleratorUnavailable, device, err)
		}

		return fmt.Errorf("failed to load model for engine %s: %w", EngineName, err)
	}

	if !status.FullyResident {
		return e.recoverPlacement(ctx, device)
	}

	e.device = status.Device

	return nil
}

// recoverPlacement handles a load that left state split across devices:
// unload everything, then either retry on the CPU or fail.
func (e *Engine) recoverPlacement(ctx context.Context, device string) error {
	unloadErr := e.client.UnloadModel(ctx)
	if unloadErr != nil {
		e.log.Warn("Failed to unload partially placed model: %v", unloadErr)
	}

	if e.fallbackToCPU && device != DeviceCPU {
		e.log.Warn(
			"Model not fully resident on %q, retrying on %s",
			device,
			DeviceCPU,
		)

		return e.loadWithDevicePolicy(ctx, DeviceCPU)
	}

	return fmt.Errorf("%w: device %q", errPlacementIncomplete, device)
}

// Name returns the stable engine identifier.
func (e *Engine) Name() string { return EngineName }

// Family returns the sampling parameter family.
func (e *Engine) Family() core.EngineFamily { return core.FamilySampling }

// SampleRate returns the native output sample rate.
func (e *Engine) SampleRate() int { return nativeSampleRate }

// SupportedLanguages returns the ordered language codes the model accepts.
func (e *Engine) SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	copy(out, supportedLanguages)

	return out
}

// Device returns the placement the model ended up on after construction.
func (e *Engine) Device() string { return e.device }

// Synthesize turns text into a waveform via the runner. Validation runs
// before any model call; a device-mismatch failure mid-inference triggers
// one placement recovery onto the CPU followed by a single retry.
func (e *Engine) Synthesize(ctx context.Context, in core.SynthesisInput) (*core.SynthesisResult, error) {
	validationErr := e.validateSynthesisInput(in)
	if validationErr != nil {
		return nil, validationErr
	}

	waveform, err := e.generate(ctx, in)
	if err != nil {
		var runnerErr *RunnerError
		if errors.As(err, &runnerErr) && runnerErr.DeviceMismatch() {
			e.log.Warn(
				"Device mismatch during inference on engine %s, recovering on %s",
				EngineName,
				DeviceCPU,
			)

			recoverErr := e.recoverPlacement(ctx, e.device)
			if recoverErr != nil {
				return nil, fmt.Errorf("%w: %w", core.ErrBackendExecution, recoverErr)
			}

			waveform, err = e.generate(ctx, in)
		}
	}

	if err != nil {
		return nil, classifyExecutionError(ctx, err)
	}

	probe, probeErr := audio.ProbeWAV(waveform)
	if probeErr != nil {
		return nil, fmt.Errorf("%w: runner returned undecodable audio: %w", core.ErrBackendExecution, probeErr)
	}

	return &core.SynthesisResult{
		Waveform:        waveform,
		SampleRate:      probe.SampleRate,
		DurationSeconds: probe.DurationSeconds,
	}, nil
}

// generate issues one runner synthesis call.
func (e *Engine) generate(ctx context.Context, in core.SynthesisInput) ([]byte, error) {
	req := generateRequest{
		Text:              in.Text,
		Language:          in.Language,
		Voice:             in.PresetVoice,
		Temperature:       paramOr(in.Parameters, quality.ParamTemperature, defaultTemperature),
		TopP:              paramOr(in.Parameters, quality.ParamTopP, defaultTopP),
		RepetitionPenalty: paramOr(in.Parameters, quality.ParamRepetitionPenalty, defaultRepetitionPenalty),
		Speed:             paramOr(in.Parameters, quality.ParamSpeed, defaultSpeed),
	}

	if in.Profile != nil {
		req.Voice = ""
		req.SpeakerRefBase64 = base64.StdEncoding.EncodeToString(in.ReferenceAudio)
		req.SpeakerRefText = in.Profile.Transcript
	}

	return e.client.GenerateSpeech(ctx, req)
}

// Clone builds a voice profile from a reference recording. The reference
// duration is validated before any model or transcription work, and a
// missing transcript is derived automatically.
func (e *Engine) Clone(ctx context.Context, in core.CloneInput) (*core.VoiceProfile, error) {
	probe, err := audio.ProbeWAV(in.ReferenceAudio)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable reference audio: %w", core.ErrInvalidReference, err)
	}

	if probe.DurationSeconds < e.minRefSeconds || probe.DurationSeconds > e.maxRefSeconds {
		return nil, fmt.Errorf(
			"%w: duration %.2fs outside [%.2fs, %.2fs]",
			core.ErrInvalidReference,
			probe.DurationSeconds,
			e.minRefSeconds,
			e.maxRefSeconds,
		)
	}

	transcript := in.Transcript
	if transcript == "" {
		transcript, err = e.transcriber.Transcribe(ctx, in.ReferenceAudio, in.Language)
		if err != nil {
			return nil, fmt.Errorf("failed to transcribe reference audio: %w", err)
		}
	}

	now := time.Now().UTC()

	return &core.VoiceProfile{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Language:        in.Language,
		Engine:          EngineName,
		Transcript:      transcript,
		DurationSeconds: probe.DurationSeconds,
		SampleRate:      probe.SampleRate,
		CreatedAt:       now,
	}, nil
}

// Unload migrates all model state off the accelerator.
func (e *Engine) Unload(ctx context.Context) error {
	err := e.client.UnloadModel(ctx)
	if err != nil {
		return fmt.Errorf("failed to unload engine %s: %w", EngineName, err)
	}

	return nil
}

// validateSynthesisInput rejects bad requests before touching the model.
func (e *Engine) validateSynthesisInput(in core.SynthesisInput) error {
	if in.Text == "" {
		return core.ErrTextEmpty
	}

	for _, lang := range supportedLanguages {
		if lang == in.Language {
			return nil
		}
	}

	return fmt.Errorf("%w: %q", core.ErrUnsupportedLanguage, in.Language)
}

// classifyExecutionError maps transport failures onto the error taxonomy:
// deadline overruns become timeouts, everything else a backend execution
// failure.
func classifyExecutionError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrSynthesisTimeout, err)
	}

	return fmt.Errorf("%w: %w", core.ErrBackendExecution, err)
}

// paramOr reads a named parameter with a default.
func paramOr(params core.Parameters, name string, fallback float64) float64 {
	if value, ok := params[name]; ok {
		return value
	}

	return fallback
}
