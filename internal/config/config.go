// Package config loads the repository tuning file. All knobs have working
// defaults; a missing file means a default configuration, not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// FileName is the tuning file looked up inside the repository state dir.
const FileName = "config.yaml"

// Tuning holds the operational knobs of one repository.
type Tuning struct {
	// StatusCacheTTLSeconds bounds how long a status result is reused.
	StatusCacheTTLSeconds int `yaml:"statusCacheTTLSeconds"`
	// PackThresholdBytes is the loose-object size below which objects are
	// candidates for packing.
	PackThresholdBytes int `yaml:"packThresholdBytes"`
	// MinimumFreeGB refuses writes when the store volume has less free space.
	MinimumFreeGB uint `yaml:"minimumFreeGB"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`
}

func Default() Tuning {
	return Tuning{
		StatusCacheTTLSeconds: 2,
		PackThresholdBytes:    16 * 1024,
		MinimumFreeGB:         1,
		LogLevel:              "info",
	}
}

// Load reads the tuning file at path. Absent file yields defaults; a present
// but unparseable file is an error. Zero values fall back to defaults so a
// partial file works.
func Load(path string) (Tuning, error) {
	t := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("config: parse %s: %w", path, err)
	}
	d := Default()
	if t.StatusCacheTTLSeconds <= 0 {
		t.StatusCacheTTLSeconds = d.StatusCacheTTLSeconds
	}
	if t.PackThresholdBytes <= 0 {
		t.PackThresholdBytes = d.PackThresholdBytes
	}
	if t.MinimumFreeGB == 0 {
		t.MinimumFreeGB = d.MinimumFreeGB
	}
	if t.LogLevel == "" {
		t.LogLevel = d.LogLevel
	}
	return t, nil
}

// Save writes the tuning file.
func Save(path string, t Tuning) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// StatusCacheTTL converts the configured seconds to a duration.
func (t Tuning) StatusCacheTTL() time.Duration {
	return time.Duration(t.StatusCacheTTLSeconds) * time.Second
}
