// Package drift measures structural dissimilarity between the face region
// of a reference image and a generated image. High drift means the
// generator altered the subject's identity and the attempt must be retried.
package drift

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
)

// Status is the verdict for one generation attempt.
type Status string

const (
	StatusPass     Status = "PASS"
	StatusSoftPass Status = "SOFT_PASS"
	StatusRetry    Status = "RETRY"
)

// Feature names for the per-feature delta map.
const (
	FeatureLandmarkDistance = "landmark_distance"
	FeatureCheekVolumeRatio = "cheek_volume_ratio"
	FeatureJawContourVar    = "jaw_contour_variance"
	FeatureEyeSpacingDelta  = "eye_spacing_delta"
)

// Fixed feature weights for the combined score.
var featureWeights = map[string]float64{
	FeatureLandmarkDistance: 0.35,
	FeatureCheekVolumeRatio: 0.20,
	FeatureJawContourVar:    0.25,
	FeatureEyeSpacingDelta:  0.20,
}

// Metrics is the drift measurement for one attempt. Recomputed per attempt,
// never persisted across attempts except for trend logging.
type Metrics struct {
	PerFeatureDeltaPercent map[string]float64 `json:"per_feature_delta_percent"`
	WeightedDriftPercent   float64            `json:"weighted_drift_percent"`
	Status                 Status             `json:"status"`

	// ExtractionFailed marks verdicts produced without usable features
	// (decode failure). Whether that scores PASS or RETRY depends on the
	// scorer's FailOpen setting.
	ExtractionFailed bool `json:"extraction_failed,omitempty"`
}

// Config holds thresholds and the extraction-failure policy.
type Config struct {
	PassPercent     float64
	SoftPassPercent float64

	// FailOpen scores attempts as PASS when feature extraction fails.
	// The permissive default silently trusts the generator on decode
	// errors; set false to force a retry instead.
	FailOpen bool
}

// DefaultConfig returns thresholds of 5% / 8% and fail-open behavior.
func DefaultConfig() Config {
	return Config{PassPercent: 5.0, SoftPassPercent: 8.0, FailOpen: true}
}

// Scorer computes drift metrics.
type Scorer struct {
	cfg Config
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	if cfg.PassPercent <= 0 {
		cfg.PassPercent = 5.0
	}
	if cfg.SoftPassPercent < cfg.PassPercent {
		cfg.SoftPassPercent = 8.0
	}
	return &Scorer{cfg: cfg}
}

// patchSize is the fixed resolution each sub-region is compared at.
const patchSize = 32

// subRegion defines one compared face area as fractions of the assumed
// face bounding box.
type subRegion struct {
	x0, y0, x1, y1 float64
	useEdges       bool
}

var (
	regionForeheadEyes = subRegion{0.05, 0.15, 0.95, 0.45, false}
	regionNoseCheeks   = subRegion{0.15, 0.40, 0.85, 0.70, true}
	regionJaw          = subRegion{0.15, 0.65, 0.85, 0.95, true}
	regionLeftEye      = subRegion{0.18, 0.28, 0.42, 0.45, false}
	regionRightEye     = subRegion{0.58, 0.28, 0.82, 0.45, false}
)

// Score compares the face region of ref against gen and produces the
// weighted drift verdict.
func (s *Scorer) Score(ref, gen *imaging.Buffer) Metrics {
	deltas, ok := s.featureDeltas(ref, gen)
	if !ok {
		status := StatusPass
		if !s.cfg.FailOpen {
			status = StatusRetry
		}
		log.Warn().
			Str("status", string(status)).
			Bool("fail_open", s.cfg.FailOpen).
			Msg("Drift feature extraction failed, applying extraction-failure policy")
		return Metrics{
			PerFeatureDeltaPercent: map[string]float64{},
			Status:                 status,
			ExtractionFailed:       true,
		}
	}

	var weighted float64
	for feature, delta := range deltas {
		weighted += featureWeights[feature] * delta
	}

	status := StatusRetry
	switch {
	case weighted <= s.cfg.PassPercent:
		status = StatusPass
	case weighted <= s.cfg.SoftPassPercent:
		status = StatusSoftPass
	}

	log.Debug().
		Float64("weighted_drift_percent", weighted).
		Str("status", string(status)).
		Msg("Drift scored")

	return Metrics{
		PerFeatureDeltaPercent: deltas,
		WeightedDriftPercent:   weighted,
		Status:                 status,
	}
}

func (s *Scorer) featureDeltas(ref, gen *imaging.Buffer) (map[string]float64, bool) {
	if ref == nil || gen == nil || ref.Width() == 0 || gen.Width() == 0 {
		return nil, false
	}

	refFace := assumedFaceBox(ref)
	genFace := assumedFaceBox(gen)

	// Pure lighting shifts are not structural drift: shrink every delta by
	// up to 30% proportional to the overall brightness difference.
	brightnessDiff := math.Abs(imaging.MeanBrightness(ref) - imaging.MeanBrightness(gen))
	lightingFactor := 1.0 - 0.3*math.Min(1.0, brightnessDiff/128.0)

	compare := func(region subRegion) (float64, bool) {
		refPatch := grayPatch(ref, refFace, region)
		genPatch := grayPatch(gen, genFace, region)
		if refPatch == nil || genPatch == nil {
			return 0, false
		}
		if flatPatch(refPatch) != flatPatch(genPatch) {
			// Structure on one side only: a placeholder or blown-out frame
			// has no facial features to measure against. Same treatment as
			// a decode failure, so the extraction-failure policy applies.
			return 0, false
		}
		delta := (1.0 - nccSimilarity(refPatch, genPatch)) * 100.0
		if region.useEdges {
			delta = 0.7*delta + 0.3*edgeDensityDiff(refPatch, genPatch)
		}
		return delta * lightingFactor, true
	}

	forehead, ok1 := compare(regionForeheadEyes)
	cheeks, ok2 := compare(regionNoseCheeks)
	jaw, ok3 := compare(regionJaw)
	leftEye, ok4 := compare(regionLeftEye)
	rightEye, ok5 := compare(regionRightEye)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, false
	}

	return map[string]float64{
		FeatureLandmarkDistance: forehead,
		FeatureCheekVolumeRatio: cheeks,
		FeatureJawContourVar:    jaw,
		FeatureEyeSpacingDelta:  (leftEye + rightEye) / 2,
	}, true
}

// assumedFaceBox is the crude upper-center face area used when scoring.
// Drift scoring does not get landmark data; it compares the same
// proportional regions in both images.
func assumedFaceBox(buf *imaging.Buffer) imaging.Box {
	return imaging.Box{
		X:      buf.Width() / 4,
		Y:      buf.Height() / 20,
		Width:  buf.Width() / 2,
		Height: buf.Height() / 2,
	}.Clamp(buf.Width(), buf.Height())
}

// grayPatch crops a sub-region of the face box and downsamples it to the
// fixed comparison resolution as a luma plane.
func grayPatch(buf *imaging.Buffer, face imaging.Box, region subRegion) []float64 {
	box := imaging.Box{
		X:      face.X + int(region.x0*float64(face.Width)),
		Y:      face.Y + int(region.y0*float64(face.Height)),
		Width:  int((region.x1 - region.x0) * float64(face.Width)),
		Height: int((region.y1 - region.y0) * float64(face.Height)),
	}.Clamp(buf.Width(), buf.Height())
	if box.Empty() {
		return nil
	}

	crop := imaging.ExtractRegion(buf, box)
	if crop == nil {
		return nil
	}
	small, err := imaging.Resize(crop, patchSize, patchSize)
	if err != nil {
		return nil
	}

	gray := imaging.Grayscale(small)
	plane := make([]float64, patchSize*patchSize)
	for y := 0; y < patchSize; y++ {
		for x := 0; x < patchSize; x++ {
			v, _, _, _ := gray.PixelAt(x, y)
			plane[y*patchSize+x] = float64(v)
		}
	}
	return plane
}

// flatPatch reports whether a luma patch carries no measurable structure.
// Uses the same variance epsilon as nccSimilarity.
func flatPatch(p []float64) bool {
	n := float64(len(p))
	var mean float64
	for _, v := range p {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range p {
		d := v - mean
		variance += d * d
	}
	return variance < 1e-9
}

// nccSimilarity computes normalized cross-correlation clamped to [0, 1].
// Two flat patches count as identical when their means agree.
func nccSimilarity(a, b []float64) float64 {
	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		return 1.0
	}

	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	const eps = 1e-9
	if varA < eps && varB < eps {
		return 1.0 - math.Min(1.0, math.Abs(meanA-meanB)/255.0)
	}
	if varA < eps || varB < eps {
		return 0.5
	}

	ncc := cov / math.Sqrt(varA*varB)
	if ncc < 0 {
		return 0
	}
	if ncc > 1 {
		return 1
	}
	return ncc
}

// edgeDensityDiff computes the percent difference of Sobel gradient
// magnitude sums between two luma patches.
func edgeDensityDiff(a, b []float64) float64 {
	ea := sobelSum(a, patchSize, patchSize)
	eb := sobelSum(b, patchSize, patchSize)
	larger := math.Max(ea, eb)
	if larger < 1e-9 {
		return 0
	}
	diff := math.Abs(ea-eb) / larger * 100.0
	if diff > 100 {
		diff = 100
	}
	return diff
}

func sobelSum(plane []float64, w, h int) float64 {
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -plane[(y-1)*w+x-1] + plane[(y-1)*w+x+1] +
				-2*plane[y*w+x-1] + 2*plane[y*w+x+1] +
				-plane[(y+1)*w+x-1] + plane[(y+1)*w+x+1]
			gy := -plane[(y-1)*w+x-1] - 2*plane[(y-1)*w+x] - plane[(y-1)*w+x+1] +
				plane[(y+1)*w+x-1] + 2*plane[(y+1)*w+x] + plane[(y+1)*w+x+1]
			sum += math.Sqrt(gx*gx + gy*gy)
		}
	}
	return sum
}
