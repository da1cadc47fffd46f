// Package telemetry exposes the agent's own activity as Prometheus metrics.
package telemetry

import (
	"errors"
	"net"
	"strings"
	"time"
)

// DefaultPath is the default HTTP path metrics are served on.
const DefaultPath = "/metrics"

// DefaultShutdownTimeout is the default graceful shutdown timeout.
const DefaultShutdownTimeout = 5 * time.Second

// Config holds the configuration for the telemetry endpoint.
type Config struct {
	// ListenAddress is the TCP address the metrics endpoint listens on.
	// Empty disables the endpoint; metrics are still recorded.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path metrics are served on.
	// Default: /metrics
	Path string `yaml:"path"`

	// ShutdownTimeout is the maximum time to wait for a graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
			return errors.New("telemetry: config: ListenAddress must be host:port")
		}
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errors.New("telemetry: config: Path must start with /")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("telemetry: config: ShutdownTimeout must be positive")
	}
	return nil
}

// Enabled reports whether the HTTP endpoint should be served.
func (c *Config) Enabled() bool {
	return c.ListenAddress != ""
}
