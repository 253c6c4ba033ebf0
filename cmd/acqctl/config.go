package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/acqctl/internal/config"
	"github.com/danmuck/acqctl/internal/protocol/session"
)

// serviceConfig is the runtime setup of one acqctl process.
type serviceConfig struct {
	ID                string
	AcquisitionConfig string
	DBPath            string
	AdminAddr         string
	AdminToken        string
	CorsOrigins       []string
	ConnectTimeout    time.Duration
	ConnectAttempts   int
	Count             int
	Detectors         []string
	IOCAddr           string
	Session           session.Config
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		ID:                "acqctl",
		AcquisitionConfig: "acquisition.toml",
		DBPath:            "acqctl.db",
		ConnectTimeout:    10 * time.Second,
		ConnectAttempts:   3,
		Count:             1,
		Session:           session.DefaultConfig(),
	}
}

// acqctl config.toml key mapping to runtime settings.
type fileConfig struct {
	ID                string   `toml:"id"`
	AcquisitionConfig string   `toml:"acquisition_config"`
	DBPath            string   `toml:"db_path"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
	CorsOrigins       []string `toml:"cors_origins"`
	ConnectTimeoutSec float64  `toml:"connect_timeout_sec"`
	ConnectAttempts   int      `toml:"connect_attempts"`
	Count             int      `toml:"count"`
	Detectors         []string `toml:"detectors"`
	IOCAddr           string   `toml:"ioc_addr"`
	config.SessionKeys
}

// loadServiceConfig overlays the keys present in path onto the defaults.
// Relative file paths resolve against the config file's directory.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load acqctl config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("acquisition_config") {
		cfg.AcquisitionConfig = strings.TrimSpace(raw.AcquisitionConfig)
	}
	if meta.IsDefined("db_path") {
		cfg.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("connect_timeout_sec") {
		cfg.ConnectTimeout = time.Duration(raw.ConnectTimeoutSec * float64(time.Second))
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("count") {
		cfg.Count = raw.Count
	}
	if meta.IsDefined("detectors") {
		cfg.Detectors = raw.Detectors
	}
	if meta.IsDefined("ioc_addr") {
		cfg.IOCAddr = strings.TrimSpace(raw.IOCAddr)
	}

	base := filepath.Dir(path)
	cfg.Session = raw.SessionKeys.Apply(meta, base, cfg.Session)
	cfg.AcquisitionConfig = resolvePath(base, cfg.AcquisitionConfig)
	cfg.DBPath = resolvePath(base, cfg.DBPath)

	if err := validateServiceConfig(cfg); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func validateServiceConfig(cfg serviceConfig) error {
	switch {
	case cfg.ID == "":
		return fmt.Errorf("load acqctl config: id is required")
	case cfg.AcquisitionConfig == "":
		return fmt.Errorf("load acqctl config: acquisition_config is required")
	case cfg.DBPath == "":
		return fmt.Errorf("load acqctl config: db_path is required")
	case cfg.ConnectTimeout <= 0:
		return fmt.Errorf("load acqctl config: connect_timeout_sec must be positive")
	case cfg.ConnectAttempts < 1:
		return fmt.Errorf("load acqctl config: connect_attempts must be at least 1")
	case cfg.Count < 1:
		return fmt.Errorf("load acqctl config: count must be at least 1")
	}
	if cfg.IOCAddr != "" {
		if err := cfg.Session.ValidateClientTransport(); err != nil {
			return fmt.Errorf("load acqctl config: %w", err)
		}
	}
	return nil
}

func resolvePath(base, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
