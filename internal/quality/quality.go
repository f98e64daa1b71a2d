// Package quality gates input photos before any generation work happens.
// A cheap model pass catches unusable uploads (no visible face, severe blur)
// early so the pipeline does not waste a generation attempt on them.
package quality

import "context"

// Report is the analyzer's structured verdict on an input photo. Only
// FaceVisible is fatal; everything else surfaces as a warning and the
// pipeline proceeds.
type Report struct {
	FaceVisible     bool     `json:"face_visible"`
	FaceSizeOK      bool     `json:"face_size_ok"`
	BlurScore       float64  `json:"blur_score"`       // 0-1, higher is sharper
	PoseNeutrality  float64  `json:"pose_neutrality"`  // 0-1, higher is more frontal
	LightingQuality float64  `json:"lighting_quality"` // 0-1
	FaceOcclusion   float64  `json:"face_occlusion"`   // 0-1, fraction covered
	Issues          []string `json:"issues,omitempty"`
}

// Warnings returns human-readable notes for every non-fatal problem.
func (r *Report) Warnings() []string {
	var warnings []string
	if !r.FaceSizeOK {
		warnings = append(warnings, "face is small in frame; identity preservation may degrade")
	}
	if r.BlurScore < 0.4 {
		warnings = append(warnings, "photo is blurry; results may be soft")
	}
	if r.PoseNeutrality < 0.5 {
		warnings = append(warnings, "strong head turn detected; frontal photos work best")
	}
	if r.LightingQuality < 0.4 {
		warnings = append(warnings, "poor lighting in source photo")
	}
	if r.FaceOcclusion > 0.3 {
		warnings = append(warnings, "face is partially covered")
	}
	warnings = append(warnings, r.Issues...)
	return warnings
}

// Analyzer assesses an input photo for generation suitability.
type Analyzer interface {
	Assess(ctx context.Context, image []byte, mimeType string) (*Report, error)
}
