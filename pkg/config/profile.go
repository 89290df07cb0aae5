package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LedgerProfile is a deployment-specific YAML profile tuning the
// advisory plausibility thresholds and archival settings.
type LedgerProfile struct {
	Name      string          `yaml:"name" json:"name"`
	Advisory  AdvisoryConfig  `yaml:"advisory" json:"advisory"`
	Archive   ArchiveConfig   `yaml:"archive" json:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// AdvisoryConfig tunes the consumption-rate plausibility check.
type AdvisoryConfig struct {
	LookbackDays int     `yaml:"lookback_days" json:"lookback_days"`
	HighFactor   float64 `yaml:"high_factor" json:"high_factor"`
	LowFactor    float64 `yaml:"low_factor" json:"low_factor"`
	MinSamples   int     `yaml:"min_samples" json:"min_samples"`
}

// Lookback returns the lookback window as a duration.
func (a AdvisoryConfig) Lookback() time.Duration {
	return time.Duration(a.LookbackDays) * 24 * time.Hour
}

// ArchiveConfig selects the audit-bundle archival backend.
type ArchiveConfig struct {
	Backend  string `yaml:"backend" json:"backend"` // "fs" | "s3" | "gcs"
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// TelemetryConfig controls the OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
}

// DefaultProfile returns the thresholds used when no profile file is
// configured.
func DefaultProfile() *LedgerProfile {
	return &LedgerProfile{
		Name: "default",
		Advisory: AdvisoryConfig{
			LookbackDays: 90,
			HighFactor:   2.0,
			LowFactor:    0.25,
			MinSamples:   2,
		},
		Archive: ArchiveConfig{Backend: "fs", Dir: "audit-archive"},
	}
}

// LoadProfile reads a YAML ledger profile. Missing advisory fields fall
// back to the defaults.
func LoadProfile(path string) (*LedgerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile %s: %w", path, err)
	}

	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	if profile.Advisory.LookbackDays <= 0 {
		profile.Advisory.LookbackDays = 90
	}
	if profile.Advisory.HighFactor <= 0 {
		profile.Advisory.HighFactor = 2.0
	}
	if profile.Advisory.LowFactor <= 0 {
		profile.Advisory.LowFactor = 0.25
	}
	return profile, nil
}
