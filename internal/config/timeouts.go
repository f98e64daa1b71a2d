package config

import (
	"os"
	"strconv"
	"time"
)

// TimeoutConfig holds the timeout for each external call the pipeline makes.
type TimeoutConfig struct {
	// QualityGate is the budget for the quality analyzer call.
	QualityGate time.Duration

	// Generation is the budget for one generator invocation.
	// Image generation regularly takes 10-30s.
	Generation time.Duration

	// Refinement is the budget for the optional scene refinement pass.
	Refinement time.Duration
}

// DefaultTimeouts returns the default timeout configuration.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		QualityGate: 30 * time.Second,
		Generation:  120 * time.Second,
		Refinement:  90 * time.Second,
	}
}

// LoadTimeouts loads the timeout configuration from environment variables.
func LoadTimeouts() TimeoutConfig {
	cfg := DefaultTimeouts()

	if val := os.Getenv("TRYON_QUALITY_TIMEOUT"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
			cfg.QualityGate = time.Duration(seconds) * time.Second
		}
	}
	if val := os.Getenv("TRYON_GENERATION_TIMEOUT"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
			cfg.Generation = time.Duration(seconds) * time.Second
		}
	}
	if val := os.Getenv("TRYON_REFINEMENT_TIMEOUT"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
			cfg.Refinement = time.Duration(seconds) * time.Second
		}
	}

	return cfg
}

// TestTimeouts returns a timeout configuration suitable for tests.
func TestTimeouts() TimeoutConfig {
	return TimeoutConfig{
		QualityGate: 1 * time.Second,
		Generation:  2 * time.Second,
		Refinement:  1 * time.Second,
	}
}
