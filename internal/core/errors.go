package core

import "errors"

// Static errors for the synthesis pipeline. Callers classify failures with
// errors.Is against these sentinels; dynamic detail is attached with %w
// wrapping at the point of failure.
var (
	// ErrTextEmpty indicates that a synthesis request carried no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrUnsupportedLanguage indicates that the resolved backend does not
	// speak the requested language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrInvalidReference indicates that a cloning reference recording is
	// outside the permitted duration bounds.
	ErrInvalidReference = errors.New("invalid reference audio")
	// ErrBackendUnavailable indicates that neither the requested engine nor
	// its configured fallback could be constructed.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendExecution indicates a runtime failure inside the model
	// during inference.
	ErrBackendExecution = errors.New("backend execution failed")
	// ErrSynthesisTimeout indicates that a backend invocation exceeded its
	// configured deadline.
	ErrSynthesisTimeout = errors.New("synthesis timed out")
	// ErrConversionFailed indicates that the voice-conversion stage failed.
	// The orchestrator degrades to the unconverted waveform on this error.
	ErrConversionFailed = errors.New("voice conversion failed")
	// ErrAcceleratorUnavailable indicates that the requested accelerator
	// device is absent on the model runner.
	ErrAcceleratorUnavailable = errors.New("accelerator unavailable")
	// ErrUnknownEngine indicates that no constructor is registered for the
	// requested engine identifier.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrProfileNotFound indicates that a referenced voice profile does not
	// exist in the profile store.
	ErrProfileNotFound = errors.New("voice profile not found")
	// ErrProfileExpired indicates that a referenced voice profile has passed
	// its expiry timestamp and is ineligible for new jobs.
	ErrProfileExpired = errors.New("voice profile expired")
	// ErrProfileEngineMismatch indicates that a voice profile was created
	// under a different engine than the one resolved for the job.
	ErrProfileEngineMismatch = errors.New("voice profile engine mismatch")
	// ErrQualityProfileNotFound indicates that a referenced quality profile
	// does not exist in the store.
	ErrQualityProfileNotFound = errors.New("quality profile not found")
	// ErrQualityFamilyMismatch indicates that a stored quality profile was
	// declared for a different engine family than the resolved backend.
	ErrQualityFamilyMismatch = errors.New("quality profile engine family mismatch")
	// ErrUnknownQualityTier indicates an unrecognized quality tier name.
	ErrUnknownQualityTier = errors.New("unknown quality tier")
	// ErrConversionModelNotFound indicates that a referenced conversion
	// model does not exist in the store.
	ErrConversionModelNotFound = errors.New("conversion model not found")
	// ErrJobNotFound indicates that no job exists under the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition indicates an attempt to move a job through an
	// illegal status transition.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrTranscriptEmpty indicates that automatic transcription produced no
	// usable text for a cloning reference.
	ErrTranscriptEmpty = errors.New("transcription produced empty text")
)
