// Package core defines the entities, the backend capability contract, and
// the collaborator interfaces for the voice service. Every other package
// programs against these interfaces, never against concrete backends or
// storage technologies.
package core

import "context"

// SynthesisInput carries one synthesis call into a backend. Profile and
// ReferenceAudio are set together for cloned-voice synthesis and left empty
// for preset voices.
type SynthesisInput struct {
	Text           string
	Language       string
	PresetVoice    string
	Profile        *VoiceProfile
	ReferenceAudio []byte
	Parameters     Parameters
}

// SynthesisResult is a synthesized waveform plus the measurements the
// orchestrator persists on the job.
type SynthesisResult struct {
	Waveform        []byte
	SampleRate      int
	DurationSeconds float64
}

// CloneInput carries one voice-cloning call into a backend. Transcript may
// be empty; backends that need one trigger automatic transcription.
type CloneInput struct {
	ReferenceAudio []byte
	Language       string
	Name           string
	Transcript     string
}

// SynthesisBackend is the capability contract every synthesis engine
// adapter must satisfy. Implementations normalize a concrete model runner's
// API, parameters, sample rate and language set behind this interface.
type SynthesisBackend interface {
	// Name returns the stable engine identifier.
	Name() string
	// Family returns the engine's parameter family.
	Family() EngineFamily
	// SampleRate returns the engine's native output sample rate in Hz.
	SampleRate() int
	// SupportedLanguages returns the ordered set of language codes the
	// engine accepts.
	SupportedLanguages() []string
	// Synthesize turns text into a waveform. It fails with ErrTextEmpty or
	// ErrUnsupportedLanguage before touching the model, and with
	// ErrBackendExecution or ErrSynthesisTimeout on runtime failure.
	Synthesize(ctx context.Context, in SynthesisInput) (*SynthesisResult, error)
	// Clone builds a VoiceProfile from reference audio. It fails with
	// ErrInvalidReference when the recording duration is out of bounds.
	// The returned profile is not yet persisted; the orchestrator owns
	// storage.
	Clone(ctx context.Context, in CloneInput) (*VoiceProfile, error)
	// Unload releases the engine's accelerator state. Called by the
	// registry under memory pressure and on invalidation.
	Unload(ctx context.Context) error
}

// BackendResolver yields live backend adapters for engine identifiers.
type BackendResolver interface {
	// Resolve constructs or returns the cached adapter for an engine id.
	Resolve(ctx context.Context, engineID string) (SynthesisBackend, error)
	// ResolveWithFallback tries engineID and then fallbackID; both failing
	// yields ErrBackendUnavailable. An empty fallbackID disables fallback.
	ResolveWithFallback(ctx context.Context, engineID, fallbackID string) (SynthesisBackend, error)
}

// ObjectStore is a key-value blob store for audio artifacts, reference
// recordings and conversion-model weights.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Status JobStatus
	Mode   JobMode
}

// JobStore is the durable job repository, keyed by job id.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	SaveJob(ctx context.Context, job *Job) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
}

// VoiceProfileStore owns cloned voice profiles.
type VoiceProfileStore interface {
	GetProfile(ctx context.Context, id string) (*VoiceProfile, error)
	SaveProfile(ctx context.Context, profile *VoiceProfile) error
	DeleteProfile(ctx context.Context, id string) error
}

// QualityProfileStore owns stored, named quality parameter sets.
type QualityProfileStore interface {
	GetQualityProfile(ctx context.Context, id string) (*QualityProfile, error)
	SaveQualityProfile(ctx context.Context, profile *QualityProfile) error
}

// ConversionModelStore owns voice-conversion model records.
type ConversionModelStore interface {
	GetModel(ctx context.Context, id string) (*ConversionModel, error)
	SaveModel(ctx context.Context, model *ConversionModel) error
}

// Transcriber derives a transcript from reference audio. Used by backends
// that require a reference transcript when the caller supplied none.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// VoiceConverter is the optional second-stage waveform transform. It
// operates only on an already-synthesized waveform and is backend-agnostic.
type VoiceConverter interface {
	Convert(
		ctx context.Context,
		waveform []byte,
		sampleRate int,
		model *ConversionModel,
		params Parameters,
	) ([]byte, error)
}
