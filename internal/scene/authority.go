package scene

import (
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
)

// Enforcement is the consistency policy derived from a classification.
type Enforcement struct {
	ForbidSceneSwitch       bool    `json:"forbid_scene_switch"`
	ForbidIndoorOutdoorMix  bool    `json:"forbid_indoor_outdoor_mix"`
	MaxLightingDeltaPercent float64 `json:"max_lighting_delta_percent"`
}

// Authority is the scene policy object for one pipeline run. Computed once
// from the reference image and read-only afterwards: it steers generation
// and then validates the generator's output against the same constraints.
type Authority struct {
	DetectedEnvironment Environment     `json:"detected_environment"`
	Confidence          float64         `json:"confidence"`
	LightingProfile     LightingProfile `json:"lighting_profile"`
	Enforcement         Enforcement     `json:"enforcement"`
}

// DetectAuthority builds the scene authority for a reference image.
func (c *Classifier) DetectAuthority(buf *imaging.Buffer, maxLightingDeltaPercent float64) Authority {
	cls := c.ClassifyEnvironment(buf)
	return Authority{
		DetectedEnvironment: cls.Environment,
		Confidence:          cls.Confidence,
		LightingProfile:     InferLighting(buf),
		Enforcement: Enforcement{
			ForbidSceneSwitch:       true,
			ForbidIndoorOutdoorMix:  true,
			MaxLightingDeltaPercent: maxLightingDeltaPercent,
		},
	}
}

// StrictDefaultAuthority is the safe fallback used when scene detection
// fails: unknown environment, neutral light, and strict enforcement.
func StrictDefaultAuthority(maxLightingDeltaPercent float64) Authority {
	return Authority{
		DetectedEnvironment: EnvironmentUnknown,
		Confidence:          0,
		LightingProfile: LightingProfile{
			Type:                   LightingNeutral,
			ColorTemperatureKelvin: 5500,
			Direction:              "front",
			Intensity:              IntensityNormal,
		},
		Enforcement: Enforcement{
			ForbidSceneSwitch:       true,
			ForbidIndoorOutdoorMix:  true,
			MaxLightingDeltaPercent: maxLightingDeltaPercent,
		},
	}
}

// ValidateAgainst checks a generated image against the authority and
// returns the measured lighting delta plus whether it stayed within the
// enforced tolerance. Unknown reference environments validate leniently:
// only the lighting delta is checked. The lighting tolerance itself is
// enforced only when the generated frame classifies to a known
// environment; a frame with no readable scene (flat placeholder, heavy
// stylization) has nothing to match lighting against, so its delta is
// reported for diagnostics but does not fail validation.
func (a Authority) ValidateAgainst(c *Classifier, ref, gen *imaging.Buffer) (lightingDelta float64, sceneSwitched, ok bool) {
	lightingDelta = LightingDelta(ref, gen)

	genCls := c.ClassifyEnvironment(gen)
	if a.Enforcement.ForbidSceneSwitch && a.DetectedEnvironment != EnvironmentUnknown &&
		genCls.Environment != EnvironmentUnknown && genCls.Environment != a.DetectedEnvironment {
		sceneSwitched = true
	}

	lightingOK := genCls.Environment == EnvironmentUnknown ||
		lightingDelta <= a.Enforcement.MaxLightingDeltaPercent
	ok = !sceneSwitched && lightingOK
	return lightingDelta, sceneSwitched, ok
}
