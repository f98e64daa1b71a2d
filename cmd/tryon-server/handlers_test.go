package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/config"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/generator"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/pipeline"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/quality"
)

func newTestServer() *server {
	o := pipeline.New(config.Default(), config.TestTimeouts(), generator.NewStub(), quality.NewStub())
	return newServer(o)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(150 + x%40), uint8(110 + y%30), uint8(90 + (x+y)%20), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleTryonRejectsNonPost(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.handleTryon(rec, httptest.NewRequest(http.MethodGet, "/api/tryon", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleTryonMissingPersonPhoto(t *testing.T) {
	s := newTestServer()
	body, contentType := multipartBody(t, nil, map[string][]byte{"garment": testPNG(t, 50, 50)})

	req := httptest.NewRequest(http.MethodPost, "/api/tryon", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.handleTryon(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleTryonRunsThePipeline(t *testing.T) {
	s := newTestServer()
	body, contentType := multipartBody(t,
		map[string]string{"user_id": "tester", "skip_quality_gate": "true"},
		map[string][]byte{
			"person":  testPNG(t, 200, 200),
			"garment": testPNG(t, 100, 100),
		})

	req := httptest.NewRequest(http.MethodPost, "/api/tryon", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.handleTryon(rec, req)

	var resp tryonResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp.RunID == "" {
		t.Error("response missing run_id")
	}
}

func TestHandleRunTraceRoundTrip(t *testing.T) {
	s := newTestServer()
	body, contentType := multipartBody(t,
		map[string]string{"user_id": "tester", "skip_quality_gate": "true"},
		map[string][]byte{
			"person":  testPNG(t, 200, 200),
			"garment": testPNG(t, 100, 100),
		})

	req := httptest.NewRequest(http.MethodPost, "/api/tryon", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.handleTryon(rec, req)

	var resp tryonResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	traceReq := httptest.NewRequest(http.MethodGet, "/api/runs/"+resp.RunID+"/trace", nil)
	traceRec := httptest.NewRecorder()
	s.handleRunTrace(traceRec, traceReq)

	if traceRec.Code != http.StatusOK {
		t.Fatalf("trace status = %d, want %d", traceRec.Code, http.StatusOK)
	}

	dec, err := zstd.NewReader(traceRec.Body)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	decompressed, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	var entry pipeline.TraceEntry
	if err := json.Unmarshal(decompressed, &entry); err != nil {
		t.Fatalf("trace not JSON: %v", err)
	}
	if entry.RunID != resp.RunID {
		t.Errorf("trace run_id = %q, want %q", entry.RunID, resp.RunID)
	}
}

func TestHandleTryonCreativeModeSelectsStrategy(t *testing.T) {
	gen := generator.NewStub()
	s := newServer(pipeline.New(config.Default(), config.TestTimeouts(), gen, quality.NewStub()))
	body, contentType := multipartBody(t,
		map[string]string{"user_id": "tester", "skip_quality_gate": "true", "mode": "creative"},
		map[string][]byte{
			"person":  testPNG(t, 200, 200),
			"garment": testPNG(t, 100, 100),
		})

	req := httptest.NewRequest(http.MethodPost, "/api/tryon", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.handleTryon(rec, req)

	if len(gen.Calls) == 0 {
		t.Fatal("generator never called")
	}
	if gen.Calls[0].Mode != generator.ModeCreative {
		t.Errorf("generation mode = %q, want %q", gen.Calls[0].Mode, generator.ModeCreative)
	}
}

func TestHandleRunTraceUnknownRun(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.handleRunTrace(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope/trace", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
