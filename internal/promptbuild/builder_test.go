package promptbuild

import (
	"strings"
	"testing"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/generator"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/policy"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/scene"
)

func TestBuildIncludesSceneContext(t *testing.T) {
	authority := scene.Authority{
		DetectedEnvironment: scene.EnvironmentOutdoor,
		Confidence:          0.9,
		LightingProfile: scene.LightingProfile{
			Type:      scene.LightingDaylight,
			Intensity: scene.IntensityBright,
		},
	}

	params, err := NewDefault().Build(authority, UserRequest{GarmentDescription: "red wool coat"}, policy.DefaultConstraints(15))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !strings.Contains(params.Prompt, "red wool coat") {
		t.Errorf("Build() prompt missing garment description: %q", params.Prompt)
	}
	if !strings.Contains(params.Prompt, "outdoor") {
		t.Errorf("Build() prompt missing environment: %q", params.Prompt)
	}
	if params.SystemPrompt == "" {
		t.Error("Build() system prompt empty")
	}
}

func TestBuildOmitsUnknownEnvironment(t *testing.T) {
	authority := scene.StrictDefaultAuthority(15)

	params, err := NewDefault().Build(authority, UserRequest{}, policy.DefaultConstraints(15))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if strings.Contains(params.Prompt, "unknown") {
		t.Errorf("Build() prompt leaked unknown environment: %q", params.Prompt)
	}
}

func TestBuildAppliesConstraints(t *testing.T) {
	constraints := policy.Constraints{
		BackgroundConsistency: policy.ConsistencyStrict,
		LightingConsistency:   policy.ConsistencyStrict,
		ForcedTemperature:     0.1,
	}

	params, err := NewDefault().Build(scene.StrictDefaultAuthority(15), UserRequest{}, constraints)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(params.Prompt, "Do not change the background") {
		t.Errorf("Build() prompt missing strict background instruction: %q", params.Prompt)
	}
	if params.Temperature != 0.1 {
		t.Errorf("Build() temperature = %v, want forced 0.1", params.Temperature)
	}
}

func TestBuildCreativeMode(t *testing.T) {
	params, err := NewDefault().Build(scene.StrictDefaultAuthority(15), UserRequest{Mode: generator.ModeCreative}, policy.DefaultConstraints(15))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if params.Mode != generator.ModeCreative {
		t.Errorf("Mode = %q, want %q", params.Mode, generator.ModeCreative)
	}
	if params.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", params.Temperature)
	}

	constraints := policy.DefaultConstraints(15)
	constraints.ForcedTemperature = 0.1
	params, err = NewDefault().Build(scene.StrictDefaultAuthority(15), UserRequest{Mode: generator.ModeCreative}, constraints)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if params.Temperature != 0.1 {
		t.Errorf("forced Temperature = %v, want 0.1", params.Temperature)
	}
}

func TestMinimalFallback(t *testing.T) {
	params := Minimal(UserRequest{GarmentDescription: "denim jacket"})
	if !strings.Contains(params.Prompt, "denim jacket") {
		t.Errorf("Minimal() prompt missing garment description: %q", params.Prompt)
	}
	if params.Temperature <= 0 {
		t.Errorf("Minimal() temperature = %v, want > 0", params.Temperature)
	}
}
