// Package quality maps abstract quality tiers onto engine-family-specific
// inference parameters. Resolution is a pure function: no I/O, no side
// effects, deterministic for identical inputs.
package quality

import (
	"fmt"

	"github.com/book-expert/voice-service/internal/core"
)

// Quality tiers. The semantics are consistent across engine families:
// stable favors predictable delivery, expressive favors fidelity and
// variation at the cost of speed.
const (
	TierStable     = "stable"
	TierBalanced   = "balanced"
	TierExpressive = "expressive"
)

// Parameter names for the sampling family.
const (
	ParamTemperature       = "temperature"
	ParamTopP              = "top_p"
	ParamRepetitionPenalty = "repetition_penalty"
)

// Parameter names for the diffusion family.
const (
	ParamNFESteps        = "nfe_steps"
	ParamCFGStrength     = "cfg_strength"
	ParamSwayCoefficient = "sway_coefficient"
)

// ParamSpeed is shared by both families.
const ParamSpeed = "speed"

// samplingTiers trades sampling randomness for stability: lower temperature
// and a stronger repetition penalty keep delivery predictable.
func samplingTiers(tier string) (core.Parameters, bool) {
	switch tier {
	case TierStable:
		return core.Parameters{
			ParamTemperature:       0.3,
			ParamTopP:              0.85,
			ParamRepetitionPenalty: 1.3,
		}, true
	case TierBalanced:
		return core.Parameters{
			ParamTemperature:       0.6,
			ParamTopP:              0.9,
			ParamRepetitionPenalty: 1.2,
		}, true
	case TierExpressive:
		return core.Parameters{
			ParamTemperature:       0.9,
			ParamTopP:              0.95,
			ParamRepetitionPenalty: 1.1,
		}, true
	default:
		return nil, false
	}
}

// diffusionTiers trades denoising steps for latency: more function
// evaluations and stronger guidance raise fidelity and cost.
func diffusionTiers(tier string) (core.Parameters, bool) {
	switch tier {
	case TierStable:
		return core.Parameters{
			ParamNFESteps:        16,
			ParamCFGStrength:     2.0,
			ParamSwayCoefficient: -1.0,
		}, true
	case TierBalanced:
		return core.Parameters{
			ParamNFESteps:        32,
			ParamCFGStrength:     2.0,
			ParamSwayCoefficient: -1.0,
		}, true
	case TierExpressive:
		return core.Parameters{
			ParamNFESteps:        64,
			ParamCFGStrength:     2.5,
			ParamSwayCoefficient: -0.8,
		}, true
	default:
		return nil, false
	}
}

// Resolve returns the built-in parameter set for a tier and engine family.
// The returned map is freshly allocated on every call.
func Resolve(tier string, family core.EngineFamily) (core.Parameters, error) {
	var (
		params core.Parameters
		known  bool
	)

	switch family {
	case core.FamilySampling:
		params, known = samplingTiers(tier)
	case core.FamilyDiffusion:
		params, known = diffusionTiers(tier)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrQualityFamilyMismatch, family)
	}

	if !known {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownQualityTier, tier)
	}

	return params, nil
}

// ResolveForRequest applies the resolution precedence: explicit per-request
// overrides win over a stored named profile, which wins over the built-in
// tier defaults. A stored profile declared for a different engine family is
// rejected rather than silently ignored. A positive speed multiplier is
// merged into the result.
func ResolveForRequest(
	tier string,
	family core.EngineFamily,
	stored *core.QualityProfile,
	overrides core.Parameters,
	speedMultiplier float64,
) (core.Parameters, error) {
	params, err := Resolve(tier, family)
	if err != nil {
		return nil, err
	}

	if stored != nil {
		if stored.EngineFamily != family {
			return nil, fmt.Errorf(
				"%w: profile %q is for family %q, backend is %q",
				core.ErrQualityFamilyMismatch,
				stored.ID,
				stored.EngineFamily,
				family,
			)
		}

		for name, value := range stored.Parameters {
			params[name] = value
		}
	}

	for name, value := range overrides {
		params[name] = value
	}

	if speedMultiplier > 0 {
		params[ParamSpeed] = speedMultiplier
	}

	return params, nil
}
