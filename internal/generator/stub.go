package generator

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
)

// Stub is an in-memory Generator for testing. It records calls for
// assertions and can be configured to fail or to return a canned image.
type Stub struct {
	// Control behavior
	ShouldFail  bool   // Whether Generate should fail
	FailMessage string // Custom failure message

	// Output returns these bytes when set; otherwise a gray image matching
	// the person image's dimensions is synthesized.
	Output     []byte
	OutputMIME string

	// Transform, when set, produces the output from the decoded person
	// image (e.g. to simulate identity drift).
	Transform func(person *imaging.Buffer) *imaging.Buffer

	// Track calls for assertions
	Calls []StubCall

	mu sync.Mutex
}

// StubCall records one Generate invocation.
type StubCall struct {
	Prompt      string
	Temperature float64
	Mode        Mode
	PersonBytes int
	Timestamp   time.Time
}

// NewStub creates a stub generator.
func NewStub() *Stub {
	return &Stub{Calls: []StubCall{}}
}

// Generate records the call and returns the configured output.
func (s *Stub) Generate(ctx context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, StubCall{
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		Mode:        req.Mode,
		PersonBytes: len(req.PersonImage),
		Timestamp:   time.Now(),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.ShouldFail {
		if s.FailMessage != "" {
			return nil, fmt.Errorf("%s", s.FailMessage)
		}
		return nil, fmt.Errorf("stub generator configured to fail")
	}

	if s.Output != nil {
		mime := s.OutputMIME
		if mime == "" {
			mime = "image/png"
		}
		return &Result{ImageData: s.Output, MIMEType: mime}, nil
	}

	person, err := imaging.Decode(req.PersonImage)
	if err != nil {
		return nil, fmt.Errorf("stub could not decode person image: %w", err)
	}

	out := person
	if s.Transform != nil {
		out = s.Transform(person)
	} else {
		gray, err := imaging.New(person.Width(), person.Height(), color.RGBA{128, 128, 128, 255})
		if err != nil {
			return nil, fmt.Errorf("stub could not build output: %w", err)
		}
		out = gray
	}

	encoded, err := imaging.Encode(out, "png")
	if err != nil {
		return nil, fmt.Errorf("stub could not encode output: %w", err)
	}
	return &Result{ImageData: encoded, MIMEType: "image/png"}, nil
}

// Reset clears recorded calls and failure configuration.
func (s *Stub) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
	s.ShouldFail = false
	s.FailMessage = ""
	s.Output = nil
	s.Transform = nil
}
