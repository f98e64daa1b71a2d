package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/generator"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/pipeline"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/promptbuild"
)

// maxUploadBytes caps the multipart form size (person + garment photos).
const maxUploadBytes = 32 << 20

type server struct {
	orchestrator *pipeline.Orchestrator
}

func newServer(o *pipeline.Orchestrator) *server {
	return &server{orchestrator: o}
}

// tryonResponse is the JSON body returned by POST /api/tryon. The image is
// inlined base64 so one response carries the full result.
type tryonResponse struct {
	Success  bool     `json:"success"`
	Status   string   `json:"status"`
	RunID    string   `json:"run_id"`
	Attempts int      `json:"attempts"`
	Warnings []string `json:"warnings,omitempty"`
	MIMEType string   `json:"mime_type,omitempty"`
	Image    string   `json:"image,omitempty"` // base64
}

func (s *server) handleTryon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		log.Warn().Err(err).Msg("Failed to parse multipart form")
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	person, personMIME, err := readFormImage(r, "person")
	if err != nil {
		http.Error(w, "person photo is required", http.StatusBadRequest)
		return
	}
	garment, garmentMIME, err := readFormImage(r, "garment")
	if err != nil {
		http.Error(w, "garment photo is required", http.StatusBadRequest)
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		userID = r.RemoteAddr
	}

	req := pipeline.Request{
		UserID:          userID,
		PersonImage:     person,
		PersonMIME:      personMIME,
		GarmentImage:    garment,
		GarmentMIME:     garmentMIME,
		SkipQualityGate: r.FormValue("skip_quality_gate") == "true",
		Refine:          r.FormValue("refine") == "true",
		OutputFormat:    r.FormValue("format"),
		User: promptbuild.UserRequest{
			GarmentDescription: r.FormValue("garment_description"),
			StylePreference:    r.FormValue("style"),
			Mode:               parseMode(r.FormValue("mode")),
		},
	}

	result := s.orchestrator.Run(r.Context(), req)

	resp := tryonResponse{
		Success:  result.Success,
		Status:   result.Status,
		RunID:    result.Debug.RunID,
		Attempts: result.Debug.Attempts,
		Warnings: result.Warnings,
	}
	if result.Success {
		resp.MIMEType = result.MIMEType
		resp.Image = base64.StdEncoding.EncodeToString(result.FinalImage)
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(statusCodeFor(result.Status))
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to write try-on response")
	}
}

// statusCodeFor maps the pipeline's user-visible statuses to HTTP codes.
func statusCodeFor(status string) int {
	switch status {
	case pipeline.StatusInvalidInput, pipeline.StatusNoFace:
		return http.StatusUnprocessableEntity
	case pipeline.StatusRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// handleRunTrace serves GET /api/runs/{id}/trace as zstd-compressed JSON.
func (s *server) handleRunTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	runID, ok := strings.CutSuffix(rest, "/trace")
	if !ok || runID == "" || strings.Contains(runID, "/") {
		http.NotFound(w, r)
		return
	}

	entry := s.orchestrator.Traces().Get(runID)
	if entry == nil {
		http.NotFound(w, r)
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to marshal trace")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="trace-`+runID+`.json.zst"`)

	enc, err := zstd.NewWriter(w)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create zstd writer")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if _, err := enc.Write(data); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to write compressed trace")
	}
	if err := enc.Close(); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to flush compressed trace")
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// parseMode maps the form's mode field to a generation strategy. Anything
// other than an explicit creative request stays deterministic.
func parseMode(v string) generator.Mode {
	if v == string(generator.ModeCreative) {
		return generator.ModeCreative
	}
	return generator.ModeDeterministic
}

// readFormImage pulls one uploaded image out of the multipart form.
func readFormImage(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, "", err
	}
	return data, formMIME(header), nil
}

// formMIME resolves the upload's MIME type, sniffing when the client did not
// send one.
func formMIME(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	name := strings.ToLower(header.Filename)
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
