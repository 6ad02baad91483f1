package core

import "time"

// EngineFamily groups backends that share a parameter shape. The sampling
// family tunes temperature-style knobs; the diffusion family tunes step
// count and guidance strength.
type EngineFamily string

const (
	// FamilySampling covers autoregressive token-sampling engines.
	FamilySampling EngineFamily = "sampling"
	// FamilyDiffusion covers flow-matching / diffusion engines.
	FamilyDiffusion EngineFamily = "diffusion"
)

// Parameters is a named numeric inference-parameter set. Keys are
// family-specific; see the quality package for the known names.
type Parameters map[string]float64

// Clone returns an independent copy so snapshots on job records cannot be
// mutated through a shared map.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}

	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// VoiceProfile is a reusable cloned voice built from a short reference
// recording. Profiles are owned by the profile store and referenced, not
// embedded, by jobs.
type VoiceProfile struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Language          string     `json:"language"`
	Engine            string     `json:"engine"`
	ReferenceAudioKey string     `json:"reference_audio_key"`
	Transcript        string     `json:"transcript,omitempty"`
	DurationSeconds   float64    `json:"duration_seconds"`
	SampleRate        int        `json:"sample_rate"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	UsageCount        int        `json:"usage_count"`
}

// Expired reports whether the profile has passed its expiry timestamp.
// Profiles without an expiry never expire.
func (p *VoiceProfile) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// QualityProfile is a stored, named parameter set valid only for its
// declared engine family.
type QualityProfile struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	EngineFamily EngineFamily `json:"engine_family"`
	Parameters   Parameters   `json:"parameters"`
	Default      bool         `json:"default"`
}

// ConversionModel references the weights of a voice-conversion model in the
// object store. IndexKey is optional; some models ship without a feature
// index.
type ConversionModel struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PrimaryModelKey string    `json:"primary_model_key"`
	IndexKey        string    `json:"index_key,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
