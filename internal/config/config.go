// Package config loads the detector inventory for an acquisition host.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindAD      = "ad"
	KindPilatus = "pilatus"
)

var ErrInvalidConfig = errors.New("invalid acquisition config")

// AcquisitionConfig is the inventory file: where frames land and which
// detectors exist.
type AcquisitionConfig struct {
	Name           string           `toml:"name"`
	Directory      string           `toml:"directory"`
	FilenamePrefix string           `toml:"filename_prefix"`
	Simulate       bool             `toml:"simulate"`
	Detectors      []DetectorConfig `toml:"detectors"`
}

type DetectorConfig struct {
	ID         string  `toml:"id"`
	Kind       string  `toml:"kind"`
	Prefix     string  `toml:"prefix"`
	Exposure   float64 `toml:"exposure"`
	TimeoutSec float64 `toml:"timeout_sec"`
	DropFrames bool    `toml:"drop_frames"`

	// Simulation only: the frame size the simulated driver reports.
	SensorWidth  int `toml:"sensor_width"`
	SensorHeight int `toml:"sensor_height"`
}

// ExposureDuration is the configured exposure, zero when unset.
func (d DetectorConfig) ExposureDuration() time.Duration {
	return time.Duration(d.Exposure * float64(time.Second))
}

// Timeout is the per-operation detector timeout, zero when unset.
func (d DetectorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec * float64(time.Second))
}

func LoadAcquisitionConfig(path string) (AcquisitionConfig, error) {
	var cfg AcquisitionConfig
	if err := loadToml(path, &cfg); err != nil {
		return AcquisitionConfig{}, err
	}
	applyDefaults(&cfg)
	if err := ValidateAcquisitionConfig(cfg); err != nil {
		return AcquisitionConfig{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *AcquisitionConfig) {
	if cfg.Name == "" {
		cfg.Name = "acqctl"
	}
	if cfg.Directory == "" {
		cfg.Directory = os.TempDir()
	}
	if cfg.FilenamePrefix == "" {
		cfg.FilenamePrefix = cfg.Name + "-"
	}
	for i := range cfg.Detectors {
		if cfg.Detectors[i].Kind == "" {
			cfg.Detectors[i].Kind = KindAD
		}
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateAcquisitionConfig(cfg AcquisitionConfig) error {
	if strings.TrimSpace(cfg.Directory) == "" {
		return fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	if len(cfg.Detectors) == 0 {
		return fmt.Errorf("%w: at least one detector is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(cfg.Detectors))
	for i, det := range cfg.Detectors {
		if err := ValidateDetectorEntry(det); err != nil {
			return fmt.Errorf("detector[%d] invalid: %w", i, err)
		}
		if _, dup := seen[det.ID]; dup {
			return fmt.Errorf("%w: duplicate detector id %q", ErrInvalidConfig, det.ID)
		}
		seen[det.ID] = struct{}{}
	}
	return nil
}

func ValidateDetectorEntry(cfg DetectorConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		return fmt.Errorf("%w: prefix is required", ErrInvalidConfig)
	}
	switch cfg.Kind {
	case KindAD, KindPilatus:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, cfg.Kind)
	}
	if cfg.Exposure < 0 || cfg.TimeoutSec < 0 {
		return fmt.Errorf("%w: exposure and timeout_sec must not be negative", ErrInvalidConfig)
	}
	if cfg.SensorWidth < 0 || cfg.SensorHeight < 0 {
		return fmt.Errorf("%w: sensor size must not be negative", ErrInvalidConfig)
	}
	return nil
}
