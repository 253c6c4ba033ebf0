package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/acqctl/internal/protocol/session"
)

// SessionKeys are the session_* keys shared by the acqctl and iocsim config
// files. Embed it in a file config struct and call Apply after decoding.
type SessionKeys struct {
	SecurityMode       string  `toml:"session_security_mode"`
	RequestTimeoutSec  float64 `toml:"session_request_timeout_sec"`
	TLSEnabled         bool    `toml:"session_tls_enabled"`
	TLSMutual          bool    `toml:"session_tls_mutual"`
	TLSCertFile        string  `toml:"session_tls_cert_file"`
	TLSKeyFile         string  `toml:"session_tls_key_file"`
	TLSCAFile          string  `toml:"session_tls_ca_file"`
	TLSServerName      string  `toml:"session_tls_server_name"`
	InsecureSkipVerify bool    `toml:"session_tls_insecure_skip_verify"`
}

// Apply overlays the keys defined in meta onto cfg. Relative certificate
// paths resolve against base.
func (k SessionKeys) Apply(meta toml.MetaData, base string, cfg session.Config) session.Config {
	if meta.IsDefined("session_security_mode") {
		cfg.SecurityMode = session.SecurityMode(strings.TrimSpace(k.SecurityMode))
	}
	if meta.IsDefined("session_request_timeout_sec") {
		cfg.RequestTimeout = time.Duration(k.RequestTimeoutSec * float64(time.Second))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.TLS.Enabled = k.TLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.TLS.Mutual = k.TLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.TLS.CertFile = resolve(base, k.TLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.TLS.KeyFile = resolve(base, k.TLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.TLS.CAFile = resolve(base, k.TLSCAFile)
	}
	if meta.IsDefined("session_tls_server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(k.TLSServerName)
	}
	if meta.IsDefined("session_tls_insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = k.InsecureSkipVerify
	}
	return cfg.WithDefaults()
}

func resolve(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
