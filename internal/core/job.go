package core

import (
	"fmt"
	"time"
)

// JobMode selects the pipeline a job runs through.
type JobMode string

const (
	// ModeSynthesize produces speech with a preset voice.
	ModeSynthesize JobMode = "synthesize"
	// ModeSynthesizeCloned produces speech with a cloned voice profile.
	ModeSynthesizeCloned JobMode = "synthesize-cloned"
	// ModeClone builds a voice profile from reference audio and produces no
	// audio artifact.
	ModeClone JobMode = "clone"
)

// JobStatus is the job state machine: queued -> running -> completed|failed.
type JobStatus string

const (
	// StatusQueued is the sole initial state, set at intake.
	StatusQueued JobStatus = "queued"
	// StatusRunning is entered exactly once, on dequeue.
	StatusRunning JobStatus = "running"
	// StatusCompleted is terminal; the output artifact is fully written.
	StatusCompleted JobStatus = "completed"
	// StatusFailed is terminal; ErrorSummary carries a redacted cause.
	StatusFailed JobStatus = "failed"
)

// SynthesisRequest carries the caller's synthesis parameters. It is mirrored
// onto the Job at intake and never mutated afterwards.
type SynthesisRequest struct {
	Text                 string     `json:"text"`
	Language             string     `json:"language"`
	PresetVoice          string     `json:"preset_voice,omitempty"`
	VoiceProfileID       string     `json:"voice_profile_id,omitempty"`
	QualityTier          string     `json:"quality_tier,omitempty"`
	QualityProfileID     string     `json:"quality_profile_id,omitempty"`
	ParameterOverrides   Parameters `json:"parameter_overrides,omitempty"`
	SpeedMultiplier      float64    `json:"speed_multiplier,omitempty"`
	Engine               string     `json:"engine,omitempty"`
	EnableConversion     bool       `json:"enable_conversion,omitempty"`
	ConversionModelID    string     `json:"conversion_model_id,omitempty"`
	ConversionParameters Parameters `json:"conversion_parameters,omitempty"`
}

// Job is the unit of work flowing through the service. It is created by
// intake in StatusQueued, mutated exclusively by the orchestrator, and
// immutable once terminal.
type Job struct {
	ID      string           `json:"id"`
	Mode    JobMode          `json:"mode"`
	Status  JobStatus        `json:"status"`
	Request SynthesisRequest `json:"request"`

	// Clone-mode inputs. ReferenceAudioKey addresses the uploaded reference
	// recording in the object store.
	ReferenceAudioKey string `json:"reference_audio_key,omitempty"`
	ProfileName       string `json:"profile_name,omitempty"`
	Transcript        string `json:"transcript,omitempty"`

	// Audit fields. EngineUsed may differ from EngineRequested after a
	// fallback. ResolvedParameters is snapshotted at the running transition
	// so later edits to a stored quality profile never alter the record of
	// a finished job.
	EngineRequested    string     `json:"engine_requested,omitempty"`
	EngineUsed         string     `json:"engine_used,omitempty"`
	ResolvedParameters Parameters `json:"resolved_parameters,omitempty"`

	// Results.
	OutputKey       string   `json:"output_key,omitempty"`
	ProfileID       string   `json:"profile_id,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	ErrorSummary    string   `json:"error_summary,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Start moves the job from queued to running. Running is entered at most
// once for a given job.
func (j *Job) Start(now time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusRunning)
	}

	j.Status = StatusRunning
	j.StartedAt = &now

	return nil
}

// Complete moves the job from running to completed. It must only be called
// after the output artifact has been fully persisted.
func (j *Job) Complete(now time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusCompleted)
	}

	j.Status = StatusCompleted
	j.CompletedAt = &now

	return nil
}

// Fail moves the job from running to failed, recording a redacted,
// human-readable error summary.
func (j *Job) Fail(summary string, now time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusFailed)
	}

	j.Status = StatusFailed
	j.ErrorSummary = summary
	j.CompletedAt = &now

	return nil
}

// Warn records a non-fatal degradation, such as a skipped conversion stage.
func (j *Job) Warn(message string) {
	j.Warnings = append(j.Warnings, message)
}
