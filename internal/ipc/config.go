// Package ipc implements the client side of the local nucleus IPC channel:
// configuration fetch, topic publish and subscription streams over a Unix
// domain socket.
package ipc

import (
	"errors"
	"path/filepath"
	"time"
)

// Config holds the configuration for the IPC client.
// Config is passed as a constructor argument, no file I/O in this package.
type Config struct {
	// SocketPath is the path of the nucleus Unix domain socket.
	// Default: /greengrass/v2/ipc.socket
	SocketPath string `yaml:"socket_path"`

	// AuthToken is sent in the Authorization header of every request.
	AuthToken string `yaml:"auth_token"`

	// ConnectTimeout bounds dialing the socket.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds every request/response call and the handshake of
	// subscription streams.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultSocketPath is the default nucleus socket path.
const DefaultSocketPath = "/greengrass/v2/ipc.socket"

// DefaultConnectTimeout is the default socket dial timeout.
const DefaultConnectTimeout = 10 * time.Second

// DefaultRequestTimeout is the default per-call timeout.
const DefaultRequestTimeout = 10 * time.Second

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("ipc: config: SocketPath is required")
	}
	if !filepath.IsAbs(c.SocketPath) {
		return errors.New("ipc: config: SocketPath must be absolute")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("ipc: config: ConnectTimeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("ipc: config: RequestTimeout must be positive")
	}
	return nil
}
