package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/acqctl/internal/config"
	"github.com/danmuck/acqctl/internal/protocol/session"
)

// iocConfig is the runtime setup of one simulated IOC host.
type iocConfig struct {
	ID                string
	AcquisitionConfig string
	ListenAddr        string
	Session           session.Config
}

func defaultIOCConfig() iocConfig {
	return iocConfig{
		ID:                "iocsim",
		AcquisitionConfig: "acquisition.toml",
		ListenAddr:        "127.0.0.1:5064",
		Session:           session.DefaultConfig(),
	}
}

// iocsim config.toml key mapping to runtime settings.
type fileConfig struct {
	ID                string `toml:"id"`
	AcquisitionConfig string `toml:"acquisition_config"`
	ListenAddr        string `toml:"listen_addr"`
	config.SessionKeys
}

func loadIOCConfig(path string) (iocConfig, error) {
	cfg := defaultIOCConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return iocConfig{}, fmt.Errorf("load iocsim config: %w", err)
	}
	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("acquisition_config") {
		cfg.AcquisitionConfig = strings.TrimSpace(raw.AcquisitionConfig)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	base := filepath.Dir(path)
	if cfg.AcquisitionConfig != "" && !filepath.IsAbs(cfg.AcquisitionConfig) {
		cfg.AcquisitionConfig = filepath.Join(base, cfg.AcquisitionConfig)
	}
	cfg.Session = raw.SessionKeys.Apply(meta, base, cfg.Session)

	switch {
	case cfg.ID == "":
		return iocConfig{}, fmt.Errorf("load iocsim config: id is required")
	case cfg.AcquisitionConfig == "":
		return iocConfig{}, fmt.Errorf("load iocsim config: acquisition_config is required")
	case cfg.ListenAddr == "":
		return iocConfig{}, fmt.Errorf("load iocsim config: listen_addr is required")
	}
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return iocConfig{}, fmt.Errorf("load iocsim config: %w", err)
	}
	return cfg, nil
}
