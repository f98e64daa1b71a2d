package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/jsonutil"
)

// DefaultAnalysisModel is the cheap text model used for the quality gate.
const DefaultAnalysisModel = "gemini-2.5-flash"

// assessSystemPrompt instructs the model to act as a photo intake check.
const assessSystemPrompt = `You are a photo intake validator for a virtual try-on service.
You receive one photo of a person and must judge whether it is usable.
Respond with ONLY a valid JSON object, no prose, no markdown fences.`

// assessPrompt is the per-request instruction and output schema.
const assessPrompt = `Evaluate this photo for virtual try-on suitability.

Respond with a JSON object:
{
  "face_visible": true/false,
  "face_size_ok": true/false,
  "blur_score": 0.0-1.0,
  "pose_neutrality": 0.0-1.0,
  "lighting_quality": 0.0-1.0,
  "face_occlusion": 0.0-1.0,
  "issues": ["short note per problem, empty array if none"]
}

face_visible: is there a clearly visible human face?
face_size_ok: does the face occupy at least roughly 5% of the frame?
blur_score: 1.0 is tack sharp, 0.0 is unrecognizably blurred.
pose_neutrality: 1.0 is a frontal neutral pose, 0.0 is fully turned away.
face_occlusion: fraction of the face covered by hands, hair, masks, or objects.`

// GeminiAnalyzer implements Analyzer against the Gemini SDK.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

// NewGeminiAnalyzer wraps an existing genai client. An empty model selects
// DefaultAnalysisModel.
func NewGeminiAnalyzer(client *genai.Client, model string) *GeminiAnalyzer {
	if model == "" {
		model = DefaultAnalysisModel
	}
	return &GeminiAnalyzer{client: client, model: model}
}

// Assess sends the photo to Gemini and parses the structured verdict.
func (a *GeminiAnalyzer) Assess(ctx context.Context, image []byte, mimeType string) (*Report, error) {
	startTime := time.Now()
	log.Info().
		Str("model", a.model).
		Int("image_bytes", len(image)).
		Msg("Running quality gate on input photo")

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assessSystemPrompt}},
		},
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			{Text: assessPrompt},
		},
	}}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil || resp.Text() == "" {
		return nil, fmt.Errorf("received empty response from Gemini API")
	}

	report, err := jsonutil.ParseJSON[Report](resp.Text())
	if err != nil {
		log.Error().Err(err).Str("response", resp.Text()).Msg("Failed to parse quality report")
		return nil, fmt.Errorf("quality report: %w", err)
	}

	log.Info().
		Bool("face_visible", report.FaceVisible).
		Float64("blur_score", report.BlurScore).
		Dur("duration", time.Since(startTime)).
		Msg("Quality gate complete")

	return &report, nil
}
