package policy

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// IdentityDelta measures how much a generation altered the subject, for
// generation modes that are allowed to influence pose. Percent fields are
// absolute change versus the reference.
type IdentityDelta struct {
	FaceSimilarity       float64 `json:"face_similarity"` // 0-1, higher is closer
	EyeShiftPercent      float64 `json:"eye_shift_percent"`
	NoseShiftPercent     float64 `json:"nose_shift_percent"`
	JawShiftPercent      float64 `json:"jaw_shift_percent"`
	ShoulderShiftPercent float64 `json:"shoulder_shift_percent"`
	BodyShiftPercent     float64 `json:"body_shift_percent"`
}

// StrictThresholds are the per-feature limits the over-correction guard
// enforces.
type StrictThresholds struct {
	MinFaceSimilarity  float64
	MaxEyeShift        float64
	MaxNoseShift       float64
	MaxJawShift        float64
	MaxShoulderShift   float64
	MaxBodyShift       float64
	HighAggregateDrift float64
}

// DefaultStrictThresholds returns the production guard limits.
func DefaultStrictThresholds() StrictThresholds {
	return StrictThresholds{
		MinFaceSimilarity:  0.85,
		MaxEyeShift:        3.0,
		MaxNoseShift:       3.0,
		MaxJawShift:        4.0,
		MaxShoulderShift:   5.0,
		MaxBodyShift:       6.0,
		HighAggregateDrift: 8.0,
	}
}

// GuardAction is the over-correction verdict.
type GuardAction string

const (
	GuardAccept GuardAction = "ACCEPT"

	// GuardRetryStricter forces minimum generator temperature next call.
	GuardRetryStricter GuardAction = "RETRY_STRICTER"

	// GuardFallbackToFlash keeps the generator's scene/garment output but
	// discards its face/body pixels in favor of the deterministic
	// compositor output.
	GuardFallbackToFlash GuardAction = "FALLBACK_TO_FLASH"
)

// GuardDecision is the guard's output.
type GuardDecision struct {
	Action         GuardAction `json:"action"`
	Violations     []string    `json:"violations,omitempty"`
	AggregateDrift float64     `json:"aggregate_drift"`

	// ForcedTemperature is set for RETRY_STRICTER.
	ForcedTemperature float64 `json:"forced_temperature,omitempty"`
}

// minimumTemperature is the generator temperature forced on a stricter
// retry.
const minimumTemperature = 0.1

// GuardOverCorrection is a second safety net layered on top of the region
// compositor: it checks whether the generator "improved" the subject's
// identity and decides between accepting, a stricter retry, and falling
// back to deterministic composited pixels.
func GuardOverCorrection(d IdentityDelta, th StrictThresholds) GuardDecision {
	var violations []string

	if d.FaceSimilarity < th.MinFaceSimilarity {
		violations = append(violations, fmt.Sprintf("face similarity %.2f below %.2f", d.FaceSimilarity, th.MinFaceSimilarity))
	}
	if d.EyeShiftPercent > th.MaxEyeShift {
		violations = append(violations, fmt.Sprintf("eye shift %.1f%% over %.1f%%", d.EyeShiftPercent, th.MaxEyeShift))
	}
	if d.NoseShiftPercent > th.MaxNoseShift {
		violations = append(violations, fmt.Sprintf("nose shift %.1f%% over %.1f%%", d.NoseShiftPercent, th.MaxNoseShift))
	}
	if d.JawShiftPercent > th.MaxJawShift {
		violations = append(violations, fmt.Sprintf("jaw shift %.1f%% over %.1f%%", d.JawShiftPercent, th.MaxJawShift))
	}
	if d.ShoulderShiftPercent > th.MaxShoulderShift {
		violations = append(violations, fmt.Sprintf("shoulder shift %.1f%% over %.1f%%", d.ShoulderShiftPercent, th.MaxShoulderShift))
	}
	if d.BodyShiftPercent > th.MaxBodyShift {
		violations = append(violations, fmt.Sprintf("body shift %.1f%% over %.1f%%", d.BodyShiftPercent, th.MaxBodyShift))
	}

	aggregate := (d.EyeShiftPercent + d.NoseShiftPercent + d.JawShiftPercent + d.ShoulderShiftPercent + d.BodyShiftPercent) / 5

	decision := GuardDecision{Violations: violations, AggregateDrift: aggregate}
	switch {
	case len(violations) == 0:
		decision.Action = GuardAccept
	case len(violations) <= 2 && aggregate < th.HighAggregateDrift:
		decision.Action = GuardRetryStricter
		decision.ForcedTemperature = minimumTemperature
	default:
		decision.Action = GuardFallbackToFlash
	}

	if decision.Action != GuardAccept {
		log.Info().
			Str("action", string(decision.Action)).
			Int("violations", len(violations)).
			Float64("aggregate_drift", aggregate).
			Msg("Over-correction guard triggered")
	}

	return decision
}
