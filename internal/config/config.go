// Package config loads runtime settings for an ultrasync device: compiled
// defaults, overlaid by an optional YAML file, overlaid by command-line
// flags. The display name persists separately in its own single-key YAML
// file; the user ID is minted fresh each process start and never stored.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ultrasync-link/ultrasync/internal/modem"
)

// Config is the device's tunable surface, expanded with the ambient
// fields a deployable binary needs.
type Config struct {
	Mode              modem.Mode `yaml:"mode"`
	Volume            int        `yaml:"volume"` // 0..100
	AutoDiscovery     bool       `yaml:"autoDiscovery"`
	Username          string     `yaml:"username"`
	SampleRate        int        `yaml:"sampleRate"`
	DeviceIndex       int        `yaml:"deviceIndex"`
	LogLevel          string     `yaml:"logLevel"`
	GoertzelThreshold float64    `yaml:"goertzelThreshold"`
	FFTThresholdDB    float64    `yaml:"fftThresholdDB"`
}

// Default returns the compiled-in baseline every layer overlays onto.
func Default() Config {
	return Config{
		Mode:              modem.ModeHigh,
		Volume:            80,
		AutoDiscovery:     true,
		SampleRate:        modem.DefaultSampleRate,
		DeviceIndex:       -1,
		LogLevel:          "info",
		GoertzelThreshold: modem.DefaultThreshold,
		FFTThresholdDB:    -40,
	}
}

// Load reads path if it exists, overlaying every field the file sets onto
// Default, zero values included; fields absent from the file keep their
// defaults.
// A missing file is not an error: it just means "use the defaults".
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating or truncating the file.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
