package flow

import (
	"context"
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
	EngineName = "flow"
	// nativeSampleRate is the vocoder's output rate in Hz.
	nativeSampleRate = 44100
)

// Device names understood by the runner.
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Diffusion defaults applied when a parameter is absent from the resolved
// set.
const (
	defaultNFESteps = 32.0
	defaultCFG      = 2.0
	defaultSway     = -1.0
	defaultSpeed    = 1.0
)

var supportedLanguages = []string{"en", "zh", "ja"}

var errPlacementIncomplete = errors.New("modules missing from target device after load")

// Options configures engine construction.
type Options struct {
	RunnerURL     string
	Checkpoint    string
	Device        string
	FallbackToCPU bool
	AcceptLicense bool
	Timeout       time.Duration
	MinRefSeconds float64
	MaxRefSeconds float64
	// Transcriber backs the automatic-transcription fallback. The flow
	// matcher conditions on reference text, so every profile needs a
	// transcript.
	Transcriber core.Transcriber
	Logger      *logger.Logger
}

// Engine implements core.SynthesisBackend over the flow-matching runner.
type Engine struct {
	client        *Client
	log           *logger.Logger
	transcriber   core.Transcriber
	checkpoint    string
	device        string
	fallbackToCPU bool
	acceptLicense bool
	minRefSeconds float64
	maxRefSeconds float64
}

// Compile-time interface assertion.
var _ core.SynthesisBackend = (*Engine)(nil)

// NewEngine constructs the adapter and loads the checkpoint. The load is
// accepted only when the runner's module-by-module placement report is
// complete; a partial placement is retried on the CPU or rejected.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	client := NewClient(opts.RunnerURL, opts.Timeout)

	statusErr := client.Status(ctx)
	if statusErr != nil {
		return nil, fmt.Errorf("flow runner is not serving: %w", statusErr)
	}

	engine := &Engine{
		client:        client,
		log:           opts.Logger,
		transcriber:   opts.Transcriber,
		checkpoint:    opts.Checkpoint,
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

func (e *Engine) loadWithDevicePolicy(ctx context.Context, device string) error {
	report, err := e.client.Load(ctx, e.checkpoint, device, e.acceptLicense)
	if err != nil {
		var runnerErr *RunnerError
		if errors.As(err, &runnerErr) && runnerErr.NoAccelerator() {
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

		return fmt.Errorf("failed to load checkpoint for engine %s: %w", EngineName, err)
	}

	if !report.FullyPlaced() {
		unloadErr := e.client.Unload(ctx)
		if unloadErr != nil {
			e.log.Warn("Failed to unload partially placed checkpoint: %v", unloadErr)
		}

		if e.fallbackToCPU && device != DeviceCPU {
			e.log.Warn(
				"Modules %v missing from %q, retrying on %s",
				report.MissingModules,
				device,
				DeviceCPU,
			)

			return e.loadWithDevicePolicy(ctx, DeviceCPU)
		}

		return fmt.Errorf("%w: %v", errPlacementIncomplete, report.MissingModules)
	}

	e.device = report.Device

	return nil
}

// Name returns the stable engine identifier.
func (e *Engine) Name() string { return EngineName }

// Family returns the diffusion parameter family.
func (e *Engine) Family() core.EngineFamily { return core.FamilyDiffusion }

// SampleRate returns the native output sample rate.
func (e *Engine) SampleRate() int { return nativeSampleRate }

// SupportedLanguages returns the ordered language codes the model accepts.
func (e *Engine) SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	copy(out, supportedLanguages)

	return out
}

// Device returns the placement the checkpoint ended up on.
func (e *Engine) Device() string { return e.device }

// Synthesize turns text into a waveform via the runner.
func (e *Engine) Synthesize(ctx context.Context, in core.SynthesisInput) (*core.SynthesisResult, error) {
	validationErr := e.validateSynthesisInput(in)
	if validationErr != nil {
		return nil, validationErr
	}

	call := synthesisCall{
		GenText:  in.Text,
		Language: in.Language,
		Voice:    in.PresetVoice,
		NFEStep:  paramOr(in.Parameters, quality.ParamNFESteps, defaultNFESteps),
		CFG:      paramOr(in.Parameters, quality.ParamCFGStrength, defaultCFG),
		Sway:     paramOr(in.Parameters, quality.ParamSwayCoefficient, defaultSway),
		Speed:    paramOr(in.Parameters, quality.ParamSpeed, defaultSpeed),
	}

	if in.Profile != nil {
		call.Voice = ""
		call.RefAudio = in.ReferenceAudio
		call.RefText = in.Profile.Transcript
	}

	parsed, waveform, err := e.client.Synthesize(ctx, call)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", core.ErrSynthesisTimeout, err)
		}

		return nil, fmt.Errorf("%w: %w", core.ErrBackendExecution, err)
	}

	sampleRate := parsed.SampleRate
	if sampleRate == 0 {
		sampleRate = nativeSampleRate
	}

	return &core.SynthesisResult{
		Waveform:        waveform,
		SampleRate:      sampleRate,
		DurationSeconds: parsed.DurationSeconds,
	}, nil
}

// Clone builds a voice profile from a reference recording. The flow
// matcher always conditions on reference text, so a missing transcript is
// derived before the profile is finalized.
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

// Unload tears the checkpoint down on the runner.
func (e *Engine) Unload(ctx context.Context) error {
	err := e.client.Unload(ctx)
	if err != nil {
		return fmt.Errorf("failed to unload engine %s: %w", EngineName, err)
	}

	return nil
}

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

func paramOr(params core.Parameters, name string, fallback float64) float64 {
	if value, ok := params[name]; ok {
		return value
	}

	return fallback
}
