package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/acqctl/internal/protocol/session"
	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadIOCConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfg, err := loadIOCConfig(writeFile(t, dir, "config.toml", `
listen_addr = "127.0.0.1:6064"
session_tls_enabled = true
session_tls_cert_file = "ioc.crt"
session_tls_key_file = "ioc.key"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "iocsim" || cfg.ListenAddr != "127.0.0.1:6064" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.AcquisitionConfig != filepath.Join(dir, "acquisition.toml") {
		t.Fatalf("acquisition config should resolve against the config dir: %q", cfg.AcquisitionConfig)
	}
	if !cfg.Session.TLS.Enabled || cfg.Session.TLS.CertFile != filepath.Join(dir, "ioc.crt") {
		t.Fatalf("unexpected session tls %+v", cfg.Session.TLS)
	}
}

func TestLoadIOCConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	if _, err := loadIOCConfig(writeFile(t, dir, "config.toml", `listen_addr = ""`)); err == nil {
		t.Fatalf("empty listen addr should be rejected")
	}
	_, err := loadIOCConfig(writeFile(t, dir, "config.toml", `session_security_mode = "production"`))
	if !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected tls required, got %v", err)
	}
}

func TestNewIOCHostsConfiguredDetectors(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	writeFile(t, dir, "acquisition.toml", `
directory = "/data"

[[detectors]]
id = "cam1"
prefix = "SIM:CAM1:"

[[detectors]]
id = "pil"
kind = "pilatus"
prefix = "SIM:PIL:"
`)
	cfg, err := loadIOCConfig(writeFile(t, dir, "config.toml", `id = "ioc-a"`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := newIOC(ctx, cfg)
	if err != nil {
		t.Fatalf("new ioc: %v", err)
	}
	ln, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client, err := session.Dial(ctx, ln.Addr().String(), "probe", session.DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if client.ServerID() != "ioc-a" || client.PVCount() == 0 {
		t.Fatalf("unexpected hello ack server=%q pvs=%d", client.ServerID(), client.PVCount())
	}
	if err := client.Connect(ctx, "SIM:PIL:DET:TriggerMode"); err != nil {
		t.Fatalf("pilatus record should be hosted: %v", err)
	}
	v, _, err := client.Get(ctx, "SIM:CAM1:DET:DetectorState_RBV")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if v == nil {
		t.Fatalf("state should be populated by the simulated ioc")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}
