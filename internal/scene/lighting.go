package scene

import (
	"math"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
)

// LightingType is the discrete color-temperature bucket of a scene.
type LightingType string

const (
	LightingWarm        LightingType = "warm"
	LightingNeutralWarm LightingType = "neutral_warm"
	LightingNeutral     LightingType = "neutral"
	LightingDaylight    LightingType = "daylight"
)

// Intensity is the discrete brightness bucket of a scene.
type Intensity string

const (
	IntensityDim    Intensity = "dim"
	IntensityNormal Intensity = "normal"
	IntensityBright Intensity = "bright"
	IntensityHarsh  Intensity = "harsh"
)

// LightingProfile summarizes the light in one image.
type LightingProfile struct {
	Type                   LightingType `json:"type"`
	ColorTemperatureKelvin int          `json:"color_temperature_kelvin"`
	// Direction is always "front": directional estimation needs landmark
	// data this component does not have. Documented limitation, not
	// fabricated precision.
	Direction string    `json:"direction"`
	Intensity Intensity `json:"intensity"`
}

// InferLighting derives a lighting profile from channel means. The color
// temperature bucket comes from the red/blue ratio, intensity from mean
// brightness.
func InferLighting(buf *imaging.Buffer) LightingProfile {
	profile := LightingProfile{
		Type:                   LightingNeutral,
		ColorTemperatureKelvin: 5500,
		Direction:              "front",
		Intensity:              IntensityNormal,
	}
	if buf == nil || buf.Width() == 0 || buf.Height() == 0 {
		return profile
	}

	small, err := imaging.Resize(buf, statSize, statSize)
	if err != nil {
		small = buf
	}

	var rSum, bSum float64
	for y := 0; y < small.Height(); y++ {
		for x := 0; x < small.Width(); x++ {
			r, _, b, _ := small.PixelAt(x, y)
			rSum += float64(r)
			bSum += float64(b)
		}
	}
	if bSum < 1 {
		bSum = 1
	}
	ratio := rSum / bSum

	switch {
	case ratio > 1.25:
		profile.Type = LightingWarm
		profile.ColorTemperatureKelvin = 2700
	case ratio > 1.10:
		profile.Type = LightingNeutralWarm
		profile.ColorTemperatureKelvin = 4000
	case ratio > 0.95:
		profile.Type = LightingNeutral
		profile.ColorTemperatureKelvin = 5500
	default:
		profile.Type = LightingDaylight
		profile.ColorTemperatureKelvin = 6500
	}

	brightness := imaging.MeanBrightness(small) / 255.0
	switch {
	case brightness < 0.35:
		profile.Intensity = IntensityDim
	case brightness < 0.60:
		profile.Intensity = IntensityNormal
	case brightness < 0.80:
		profile.Intensity = IntensityBright
	default:
		profile.Intensity = IntensityHarsh
	}

	return profile
}

// intensityLevel maps buckets to an ordinal scale for delta math.
func intensityLevel(i Intensity) int {
	switch i {
	case IntensityDim:
		return 0
	case IntensityNormal:
		return 1
	case IntensityBright:
		return 2
	case IntensityHarsh:
		return 3
	default:
		return 1
	}
}

// LightingDelta computes the lighting inconsistency between a reference and
// a generated image as a 0-100 percent. This scalar is the sole lighting
// signal consumed downstream.
func LightingDelta(ref, gen *imaging.Buffer) float64 {
	refProfile := InferLighting(ref)
	genProfile := InferLighting(gen)
	return profileDelta(refProfile, genProfile)
}

func profileDelta(ref, gen LightingProfile) float64 {
	delta := math.Abs(float64(ref.ColorTemperatureKelvin-gen.ColorTemperatureKelvin)) / 6000.0 * 100.0
	if ref.Type != gen.Type {
		delta += 15
	}
	levelDiff := intensityLevel(ref.Intensity) - intensityLevel(gen.Intensity)
	if levelDiff < 0 {
		levelDiff = -levelDiff
	}
	delta += 5 * float64(levelDiff)
	if delta > 100 {
		delta = 100
	}
	return delta
}
