package policy

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Action is the policy verdict for one failed attempt.
type Action string

const (
	ActionAccept           Action = "ACCEPT"
	ActionRetryStrict      Action = "RETRY_STRICT"
	ActionDowngradeRealism Action = "DOWNGRADE_REALISM"
	ActionAbort            Action = "ABORT"
)

// FailureKind names what went wrong with the attempt being judged.
type FailureKind string

const (
	FailureNone          FailureKind = "none"
	FailureDrift         FailureKind = "drift"
	FailureSceneSwitch   FailureKind = "scene_switch"
	FailureLightingDelta FailureKind = "lighting_delta"
)

// Consistency levels for generation constraints.
const (
	ConsistencyStandard = "standard"
	ConsistencyStrict   = "strict"
	ConsistencyFlexible = "flexible"
)

// Constraints are the generation parameters the ladder adjusts between
// attempts.
type Constraints struct {
	BackgroundConsistency   string  `json:"background_consistency"`
	LightingConsistency     string  `json:"lighting_consistency"`
	MaxLightingDeltaPercent float64 `json:"max_lighting_delta_percent"`

	// ForcedTemperature, when > 0, pins the generator temperature for the
	// next attempt (set by the over-correction guard).
	ForcedTemperature float64 `json:"forced_temperature,omitempty"`
}

// DefaultConstraints returns the first-attempt constraints.
func DefaultConstraints(maxLightingDeltaPercent float64) Constraints {
	return Constraints{
		BackgroundConsistency:   ConsistencyStandard,
		LightingConsistency:     ConsistencyStandard,
		MaxLightingDeltaPercent: maxLightingDeltaPercent,
	}
}

// Decision is the ladder's output for one attempt.
type Decision struct {
	Action      Action      `json:"action"`
	Constraints Constraints `json:"constraints"`
	Reason      string      `json:"reason"`
}

// Engine is the retry/fallback decision ladder. It is a state machine, not
// a pure function: it consults and records against the rate limiter.
type Engine struct {
	limiter   *RateLimiter
	baseDelta float64
}

// NewEngine creates an Engine around the given limiter. baseDelta is the
// default lighting tolerance in percent.
func NewEngine(limiter *RateLimiter, baseDelta float64) *Engine {
	return &Engine{limiter: limiter, baseDelta: baseDelta}
}

// Next judges a completed attempt. attempt is 1-based. failure describes
// why the attempt was rejected (FailureNone accepts immediately).
// measuredDelta is the observed lighting delta for adaptive widening.
//
// Ladder: FIRST_ATTEMPT -> RETRY_STRICT -> DOWNGRADE_REALISM -> ABORT.
// The rate limit overrides the ladder: once exceeded, every retry request
// becomes an immediate abort.
func (e *Engine) Next(userID string, attempt int, failure FailureKind, measuredDelta float64, current Constraints) Decision {
	if failure == FailureNone {
		return Decision{Action: ActionAccept, Constraints: current, Reason: "attempt accepted"}
	}

	if e.limiter.IsLimited(userID) {
		log.Warn().
			Str("user_id", userID).
			Int("attempt", attempt).
			Msg("Retry denied: rate limit exceeded")
		return Decision{Action: ActionAbort, Constraints: current, Reason: "rate limited, try again later"}
	}

	if attempt >= 3 {
		return Decision{Action: ActionAbort, Constraints: current, Reason: "retry ladder exhausted"}
	}

	e.limiter.Record(userID)

	next := current
	var action Action
	var reason string

	switch attempt {
	case 1:
		action = ActionRetryStrict
		next.BackgroundConsistency = ConsistencyStrict
		next.LightingConsistency = ConsistencyStrict
		reason = "retrying with strict scene constraints"
		if failure == FailureLightingDelta {
			// Some lighting variance is acceptable; widen the tolerance
			// rather than fighting the generator over it.
			next.MaxLightingDeltaPercent = math.Min(20, math.Max(e.baseDelta, measuredDelta+5))
			reason = "retrying with widened lighting tolerance"
		}
	default:
		action = ActionDowngradeRealism
		next.LightingConsistency = ConsistencyFlexible
		next.MaxLightingDeltaPercent = 25
		reason = "downgrading realism for eventual success"
	}

	log.Info().
		Str("user_id", userID).
		Int("attempt", attempt).
		Str("failure", string(failure)).
		Str("action", string(action)).
		Float64("max_lighting_delta", next.MaxLightingDeltaPercent).
		Msg("Retry ladder decision")

	return Decision{Action: action, Constraints: next, Reason: reason}
}
