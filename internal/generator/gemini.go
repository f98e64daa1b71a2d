package generator

// gemini.go provides a REST API client for Gemini image generation. Direct
// HTTP calls are used instead of the Go SDK because the SDK's image-output
// support lags behind the REST surface.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// geminiBaseURL is the Gemini REST API base URL.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultImageModel is the production try-on generation model.
const DefaultImageModel = "gemini-2.5-flash-image"

// GeminiGenerator calls a Gemini image model via REST API.
type GeminiGenerator struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGeminiGenerator creates a generator against the given model. An empty
// model selects DefaultImageModel.
func NewGeminiGenerator(apiKey, model string, timeout time.Duration) *GeminiGenerator {
	if model == "" {
		model = DefaultImageModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second // generation can take 10-30s per image
	}
	return &GeminiGenerator{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// --- REST API request/response types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate sends the person photo, optional garment photo, and the prompt to
// the image model and returns the candidate image.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()
	log.Info().
		Str("model", g.model).
		Int("person_bytes", len(req.PersonImage)).
		Int("garment_bytes", len(req.GarmentImage)).
		Str("mode", string(req.Mode)).
		Float64("temperature", req.Temperature).
		Msg("Sending try-on request to Gemini")

	apiReq := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if req.Mode == ModeDeterministic || req.Temperature > 0 {
		temp := req.Temperature
		if req.Mode == ModeDeterministic && temp <= 0 {
			temp = 0.1
		}
		apiReq.GenerationConfig.Temperature = &temp
	}

	if req.SystemPrompt != "" {
		apiReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		}
	}

	parts := []geminiPart{
		{
			InlineData: &geminiBlobData{
				MIMEType: req.PersonMIME,
				Data:     base64.StdEncoding.EncodeToString(req.PersonImage),
			},
		},
	}
	if req.GarmentImage != nil {
		parts = append(parts, geminiPart{
			InlineData: &geminiBlobData{
				MIMEType: req.GarmentMIME,
				Data:     base64.StdEncoding.EncodeToString(req.GarmentImage),
			},
		})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})
	apiReq.Contents = append(apiReq.Contents, geminiContent{Role: "user", Parts: parts})

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, g.model, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Gemini generation API returned error")
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if geminiResp.Error != nil {
		return nil, fmt.Errorf("API error: %s (code: %d)", geminiResp.Error.Message, geminiResp.Error.Code)
	}

	result := &Result{}
	for _, candidate := range geminiResp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("failed to decode image data: %w", err)
				}
				result.ImageData = decoded
				result.MIMEType = part.InlineData.MIMEType
			}
			if part.Text != "" {
				result.Text += part.Text
			}
		}
	}

	if result.ImageData == nil {
		return nil, fmt.Errorf("no image returned in response (text: %s)", truncateString(result.Text, 200))
	}

	log.Info().
		Int("output_bytes", len(result.ImageData)).
		Str("output_mime", result.MIMEType).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini generation complete")

	return result, nil
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
