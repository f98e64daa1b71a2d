package quality

import (
	"context"
	"fmt"
	"sync"
)

// Stub is an in-memory Analyzer for testing. The zero value returns a clean
// report for every photo.
type Stub struct {
	// Report overrides the default clean report when set.
	Report *Report

	// ShouldFail makes Assess return an error.
	ShouldFail  bool
	FailMessage string

	// AssessCalls counts invocations.
	AssessCalls int

	mu sync.Mutex
}

// NewStub creates a stub analyzer.
func NewStub() *Stub {
	return &Stub{}
}

// Assess records the call and returns the configured report.
func (s *Stub) Assess(ctx context.Context, image []byte, mimeType string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AssessCalls++

	if s.ShouldFail {
		if s.FailMessage != "" {
			return nil, fmt.Errorf("%s", s.FailMessage)
		}
		return nil, fmt.Errorf("stub analyzer configured to fail")
	}

	if s.Report != nil {
		r := *s.Report
		return &r, nil
	}
	return &Report{
		FaceVisible:     true,
		FaceSizeOK:      true,
		BlurScore:       0.9,
		PoseNeutrality:  0.9,
		LightingQuality: 0.8,
		FaceOcclusion:   0,
	}, nil
}
