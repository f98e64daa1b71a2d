// Package scene estimates indoor/outdoor environment and lighting from
// pixel statistics alone — no network calls. Its output both steers
// generation and validates the generator's output afterwards.
package scene

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
)

// Environment is the detected scene environment.
type Environment string

const (
	EnvironmentIndoor  Environment = "indoor"
	EnvironmentOutdoor Environment = "outdoor"
	EnvironmentUnknown Environment = "unknown"
)

// Classification is the result of environment detection.
type Classification struct {
	Environment Environment `json:"environment"`
	Confidence  float64     `json:"confidence"`
	Indicators  []string    `json:"indicators"`
}

// confidenceFloor is the minimum confidence required to commit to a guess.
// Below it the classifier reports unknown; unknown is the conservative
// default and is never upgraded.
const confidenceFloor = 0.70

// confidenceCap bounds how sure a pixel heuristic is allowed to claim to be.
const confidenceCap = 0.95

// statSize is the downsample edge used for pixel statistics.
const statSize = 64

// Classifier caches classification results by content hash. Safe for
// concurrent use; the cache is bounded with oldest-first eviction.
type Classifier struct {
	mu       sync.Mutex
	cache    map[uint64]Classification
	order    []uint64
	maxCache int
}

// NewClassifier creates a Classifier with the given cache bound.
func NewClassifier(cacheSize int) *Classifier {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	return &Classifier{
		cache:    make(map[uint64]Classification),
		maxCache: cacheSize,
	}
}

// ClassifyEnvironment estimates indoor/outdoor from downsampled pixel
// statistics. Classification is a pure function of pixel content, so
// results are cached by content hash.
func (c *Classifier) ClassifyEnvironment(buf *imaging.Buffer) Classification {
	if buf == nil || buf.Width() == 0 || buf.Height() == 0 {
		return Classification{Environment: EnvironmentUnknown}
	}

	key := imaging.ContentHash(buf)
	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	cls := classify(buf)

	c.mu.Lock()
	if _, ok := c.cache[key]; !ok {
		c.cache[key] = cls
		c.order = append(c.order, key)
		for len(c.order) > c.maxCache {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.cache, oldest)
		}
	}
	c.mu.Unlock()

	log.Debug().
		Str("environment", string(cls.Environment)).
		Float64("confidence", cls.Confidence).
		Strs("indicators", cls.Indicators).
		Msg("Scene environment classified")

	return cls
}

func classify(buf *imaging.Buffer) Classification {
	stats := sampleStats(buf)

	var outdoorScore, indoorScore float64
	var indicators []string

	if stats.skyFoliageRatio > 0.25 {
		outdoorScore += 2.0
		indicators = append(indicators, "sky or foliage dominates upper frame")
	}
	if stats.brightness > 0.62 {
		outdoorScore += 1.0
		indicators = append(indicators, "bright ambient light")
	}
	if stats.saturation > 0.30 {
		outdoorScore += 0.5
		indicators = append(indicators, "saturated palette")
	}
	if stats.warmCastRatio > 0.30 {
		indoorScore += 1.5
		indicators = append(indicators, "warm tungsten color cast")
	}
	if stats.brightness < 0.45 {
		indoorScore += 1.0
		indicators = append(indicators, "dim ambient light")
	}
	if stats.saturation < 0.15 {
		indoorScore += 0.5
		indicators = append(indicators, "muted palette")
	}

	if outdoorScore == 0 && indoorScore == 0 {
		return Classification{Environment: EnvironmentUnknown, Indicators: indicators}
	}

	gap := outdoorScore - indoorScore
	if gap < 0 {
		gap = -gap
	}
	confidence := 0.5 + 0.15*gap
	if confidence > confidenceCap {
		confidence = confidenceCap
	}

	env := EnvironmentOutdoor
	if indoorScore > outdoorScore {
		env = EnvironmentIndoor
	}
	if confidence < confidenceFloor {
		env = EnvironmentUnknown
	}

	return Classification{Environment: env, Confidence: confidence, Indicators: indicators}
}

// pixelStats are the raw signals the classifier scores.
type pixelStats struct {
	brightness      float64 // mean luma, 0-1
	saturation      float64 // mean HSV-style saturation, 0-1
	skyFoliageRatio float64 // blue/green-dominant fraction of the top 30%
	warmCastRatio   float64 // red-dominant fraction of the whole frame
}

func sampleStats(buf *imaging.Buffer) pixelStats {
	small, err := imaging.Resize(buf, statSize, statSize)
	if err != nil {
		small = buf
	}

	w := small.Width()
	h := small.Height()
	topRows := (h * 30) / 100
	if topRows < 1 {
		topRows = 1
	}

	var lumaSum, satSum float64
	var skyCount, topCount, warmCount int
	total := w * h

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := small.PixelAt(x, y)
			ri, gi, bi := int(r), int(g), int(b)

			lumaSum += float64(299*ri+587*gi+114*bi) / 1000.0 / 255.0

			maxC := maxInt(ri, maxInt(gi, bi))
			minC := minInt(ri, minInt(gi, bi))
			if maxC > 0 {
				satSum += float64(maxC-minC) / float64(maxC)
			}

			if y < topRows {
				topCount++
				if (bi > ri+10 && bi > gi+5) || (gi > ri+20 && gi > bi+10) {
					skyCount++
				}
			}
			if ri > bi+20 && ri >= gi {
				warmCount++
			}
		}
	}

	return pixelStats{
		brightness:      lumaSum / float64(total),
		saturation:      satSum / float64(total),
		skyFoliageRatio: float64(skyCount) / float64(topCount),
		warmCastRatio:   float64(warmCount) / float64(total),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
