// Package promptbuild assembles generation prompts and parameters from the
// scene authority and the user's request. It is deliberately thin: prompt
// wording has no bearing on identity safety, which is enforced in pixels
// downstream.
package promptbuild

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/generator"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/policy"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/scene"
)

// UserRequest carries the user-controlled generation inputs.
type UserRequest struct {
	// GarmentDescription is optional free text about the garment.
	GarmentDescription string

	// StylePreference is an optional style hint ("casual", "editorial").
	StylePreference string

	// Mode selects the generation strategy. The zero value and
	// ModeDeterministic both pin temperature low; ModeCreative allows the
	// model latitude over pose and scene detail, and the orchestrator
	// compensates with the over-correction guard.
	Mode generator.Mode
}

// Parameters is everything the orchestrator hands the generator for one
// attempt.
type Parameters struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	Mode         generator.Mode
}

// Builder produces generation parameters for one attempt.
type Builder interface {
	Build(authority scene.Authority, req UserRequest, constraints policy.Constraints) (Parameters, error)
}

// systemPrompt anchors every generation call. The face-safety language is
// advisory only; the compositor enforces it regardless.
const systemPrompt = `You are a virtual try-on image generator.
Replace the person's clothing with the provided garment.
Keep the person's face, hair, skin tone, body shape, and pose exactly as in the source photo.
Keep the background and scene unchanged unless instructed otherwise.`

// Default is the production Builder.
type Default struct{}

// NewDefault creates the default builder.
func NewDefault() *Default {
	return &Default{}
}

// Build assembles the prompt from the scene authority and constraints.
func (d *Default) Build(authority scene.Authority, req UserRequest, constraints policy.Constraints) (Parameters, error) {
	var sb strings.Builder

	sb.WriteString("Dress the person in the provided garment photo.")
	if req.GarmentDescription != "" {
		sb.WriteString(fmt.Sprintf(" The garment is: %s.", req.GarmentDescription))
	}
	if req.StylePreference != "" {
		sb.WriteString(fmt.Sprintf(" Style the result as: %s.", req.StylePreference))
	}

	if authority.DetectedEnvironment != scene.EnvironmentUnknown {
		sb.WriteString(fmt.Sprintf(" The photo is %s (%s lighting, %s intensity); keep the scene consistent with that.",
			authority.DetectedEnvironment,
			authority.LightingProfile.Type,
			authority.LightingProfile.Intensity))
	}

	switch constraints.BackgroundConsistency {
	case policy.ConsistencyStrict:
		sb.WriteString(" Do not change the background in any way.")
	case policy.ConsistencyFlexible:
		sb.WriteString(" Minor background adjustments are acceptable if needed for a natural result.")
	}
	if constraints.LightingConsistency == policy.ConsistencyStrict {
		sb.WriteString(" Match the original lighting exactly.")
	}

	params := Parameters{
		Prompt:       sb.String(),
		SystemPrompt: systemPrompt,
		Mode:         generator.ModeDeterministic,
		Temperature:  0.4,
	}
	if req.Mode == generator.ModeCreative {
		params.Mode = generator.ModeCreative
		params.Temperature = 0.7
	}
	if constraints.ForcedTemperature > 0 {
		params.Temperature = constraints.ForcedTemperature
	}
	return params, nil
}

// Minimal returns the fallback parameters used when prompt assembly fails.
// It omits all scene context but keeps the garment instruction, so the run
// can still proceed.
func Minimal(req UserRequest) Parameters {
	log.Warn().Msg("Falling back to minimal generation prompt")
	prompt := "Dress the person in the provided garment photo. Keep the person and background unchanged."
	if req.GarmentDescription != "" {
		prompt += fmt.Sprintf(" The garment is: %s.", req.GarmentDescription)
	}
	return Parameters{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Mode:         generator.ModeDeterministic,
		Temperature:  0.4,
	}
}
