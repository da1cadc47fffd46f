// Package mqtt implements the agent channel directly against an MQTT broker,
// for devices that run the agent outside a nucleus. Component configuration
// is read from a local YAML file and watched for changes.
package mqtt

import (
	"errors"
	"net/url"
	"time"
)

// DefaultConnectTimeout is the default broker connect timeout.
const DefaultConnectTimeout = 10 * time.Second

// DefaultRequestTimeout is the default per-operation timeout.
const DefaultRequestTimeout = 10 * time.Second

// DefaultDisconnectQuiesce is how long Close waits for in-flight work, in
// milliseconds, before disconnecting.
const DefaultDisconnectQuiesce = 250

// Config holds the configuration for the MQTT channel.
type Config struct {
	// BrokerURL is the broker address, e.g. ssl://example-ats.iot.eu-west-1.amazonaws.com:8883.
	BrokerURL string `yaml:"broker_url"`

	// ClientID is the MQTT client identifier. Defaults to the thing name at
	// wiring time.
	ClientID string `yaml:"client_id"`

	// CAFile is a PEM bundle used to verify the broker.
	CAFile string `yaml:"ca_file"`

	// CertFile and KeyFile hold the device certificate and private key.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ComponentConfigFile is a YAML file holding the component
	// configuration. Changes to it are reported as configuration updates.
	ComponentConfigFile string `yaml:"component_config_file"`

	// ConnectTimeout bounds the broker connect handshake.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds publish and subscribe acknowledgements.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks that required fields are set and values are acceptable.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("mqtt: config: BrokerURL is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil || u.Host == "" {
		return errors.New("mqtt: config: BrokerURL must be an absolute URL")
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return errors.New("mqtt: config: unsupported BrokerURL scheme " + u.Scheme)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("mqtt: config: CertFile and KeyFile must be set together")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("mqtt: config: ConnectTimeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("mqtt: config: RequestTimeout must be positive")
	}
	return nil
}
