// Package config loads pipeline configuration from environment variables,
// with an optional YAML file for threshold tuning.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable parameters for one pipeline deployment.
type Config struct {
	// FaceExpandFactor scales the detected face box to include
	// forehead/jaw/neck margin before masking.
	FaceExpandFactor float64 `yaml:"face_expand_factor"`

	// FeatherRadiusPx is the mask feather radius in pixels.
	FeatherRadiusPx int `yaml:"feather_radius_px"`

	// DriftPassPercent and DriftSoftPassPercent are the drift score
	// thresholds. Scores above the soft-pass threshold trigger a retry.
	DriftPassPercent     float64 `yaml:"drift_pass_percent"`
	DriftSoftPassPercent float64 `yaml:"drift_soft_pass_percent"`

	// DriftFailOpen controls drift scoring when feature extraction fails:
	// true scores the attempt as PASS, false forces RETRY.
	DriftFailOpen bool `yaml:"drift_fail_open"`

	// MaxRetriesPerSession and RateWindowSeconds configure the per-user
	// sliding-window rate limit.
	MaxRetriesPerSession int `yaml:"max_retries_per_session"`
	RateWindowSeconds    int `yaml:"rate_window_seconds"`

	// MaxLightingDeltaPercent is the default scene-consistency tolerance.
	MaxLightingDeltaPercent float64 `yaml:"max_lighting_delta_percent"`

	// SceneCacheSize bounds the scene classifier result cache.
	SceneCacheSize int `yaml:"scene_cache_size"`

	// TraceRetention bounds the in-memory run trace ring.
	TraceRetention int `yaml:"trace_retention"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		FaceExpandFactor:        1.4,
		FeatherRadiusPx:         12,
		DriftPassPercent:        5.0,
		DriftSoftPassPercent:    8.0,
		DriftFailOpen:           true,
		MaxRetriesPerSession:    3,
		RateWindowSeconds:       300,
		MaxLightingDeltaPercent: 15.0,
		SceneCacheSize:          128,
		TraceRetention:          64,
	}
}

// Load builds a Config from defaults, an optional YAML file named by
// TRYON_CONFIG_FILE, and TRYON_* environment overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("TRYON_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if val := os.Getenv("TRYON_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.MaxRetriesPerSession = n
		}
	}
	if val := os.Getenv("TRYON_RATE_WINDOW_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.RateWindowSeconds = n
		}
	}
	if val := os.Getenv("TRYON_DRIFT_FAIL_OPEN"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.DriftFailOpen = b
		}
	}

	return cfg, nil
}
