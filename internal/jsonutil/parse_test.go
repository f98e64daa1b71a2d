package jsonutil

import "testing"

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading whitespace", "  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	got, err := ExtractJSON(`Here is the verdict: {"face_visible": true} hope that helps`)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != `{"face_visible": true}` {
		t.Errorf("ExtractJSON() = %q", got)
	}

	if _, err := ExtractJSON("no json here"); err == nil {
		t.Error("ExtractJSON() error = nil for text without JSON, want error")
	}
}

func TestParseJSON(t *testing.T) {
	type verdict struct {
		FaceVisible bool    `json:"face_visible"`
		BlurScore   float64 `json:"blur_score"`
	}

	raw := "```json\n{\"face_visible\": true, \"blur_score\": 0.85}\n```"
	got, err := ParseJSON[verdict](raw)
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	if !got.FaceVisible || got.BlurScore != 0.85 {
		t.Errorf("ParseJSON() = %+v", got)
	}

	if _, err := ParseJSON[verdict]("the model refused to answer"); err == nil {
		t.Error("ParseJSON() error = nil for non-JSON response, want error")
	}
}
