package reliability

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config controls reliability test intensity.
type Config struct {
	Level            string        `envconfig:"OTELZ_RELIABILITY_LEVEL"`
	Duration         time.Duration `envconfig:"OTELZ_RELIABILITY_DURATION" default:"30s"`
	MaxGoroutines    int           `envconfig:"OTELZ_RELIABILITY_MAX_GOROUTINES" default:"100"`
	FailureThreshold float64       `envconfig:"OTELZ_RELIABILITY_FAILURE_THRESHOLD" default:"0.05"`
}

// Reliability levels.
const (
	LevelBasic  = "basic"
	LevelStress = "stress"
)

// loadConfig reads the reliability configuration from the environment.
func loadConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("reliability config: %v", err)
	}
	return cfg
}

// runLevel runs the subtests registered for the configured level and skips
// when reliability testing is disabled.
func runLevel(t *testing.T, basic, stress map[string]func(*testing.T, Config)) {
	t.Helper()
	cfg := loadConfig(t)

	var tests map[string]func(*testing.T, Config)
	switch cfg.Level {
	case LevelBasic:
		tests = basic
	case LevelStress:
		tests = stress
	default:
		t.Skip("OTELZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) { fn(t, cfg) })
	}
}
