package session

import (
	"time"

	"github.com/danmuck/acqctl/internal/protocol"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig selects TLS and mutual TLS for a session endpoint.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines session timeouts, limits and transport security.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	WriteTimeout     time.Duration
	MaxPayload       uint32
	SecurityMode     SecurityMode
	TLS              TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		RequestTimeout:   10 * time.Second,
		WriteTimeout:     15 * time.Second,
		MaxPayload:       protocol.DefaultMaxPayload,
		SecurityMode:     SecurityModeDevelopment,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = def.MaxPayload
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
