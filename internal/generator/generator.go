// Package generator wraps the image generation model behind an interface so
// the pipeline can treat it as an untrusted collaborator: its output is
// always re-validated and re-composited before anything reaches the user.
package generator

import "context"

// Mode selects how much creative latitude the generator gets.
type Mode string

const (
	// ModeDeterministic pins temperature low for identity-sensitive work.
	ModeDeterministic Mode = "deterministic"

	// ModeCreative allows the model its default variability, used only for
	// scene and garment detail passes.
	ModeCreative Mode = "creative"
)

// Request is one generation call. PersonImage is required; GarmentImage is
// optional for refinement passes that re-send a composited frame.
type Request struct {
	PersonImage  []byte
	PersonMIME   string
	GarmentImage []byte
	GarmentMIME  string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	Mode         Mode
}

// Result is the generator's raw output. Callers must not trust the pixels:
// every result goes through drift scoring and compositing downstream.
type Result struct {
	ImageData []byte
	MIMEType  string

	// Text is any commentary the model returned alongside the image.
	Text string
}

// Generator produces a try-on candidate image.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
