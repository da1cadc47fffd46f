package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/backoff"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/mqtt"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/probe"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/telemetry"
)

// Environment variables set by the nucleus for the component.
const (
	ThingNameEnvKey  = "AWS_IOT_THING_NAME"
	AuthTokenEnvKey  = "SVCUID"
	SocketPathEnvKey = "AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT"
)

// Transports.
const (
	TransportIPC  = "ipc"
	TransportMQTT = "mqtt"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultTransport is the default channel transport.
	DefaultTransport = TransportIPC
)

// metricsTopicFormat is the Device Defender reserved topic for JSON reports.
const metricsTopicFormat = "$aws/things/%s/defender/metrics/json"

// MetricsTopic returns the metrics topic for thingName.
func MetricsTopic(thingName string) string {
	return fmt.Sprintf(metricsTopicFormat, thingName)
}

// AgentConfig is the top-level configuration for the agent. It is populated
// from an optional YAML file and the component environment via LoadConfig.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// Transport selects the channel: "ipc" or "mqtt".
	// Default: "ipc"
	Transport string `yaml:"transport"`

	// ThingName is the device name. Overridden by AWS_IOT_THING_NAME.
	ThingName string `yaml:"thing_name"`

	// OnCycleFailure selects what happens after a failed publish cycle.
	// Default: "reschedule"
	OnCycleFailure FailurePolicy `yaml:"on_cycle_failure"`

	// PublishRetry bounds publish retries. Its MaxAttempts is overridden by
	// GG_DD_PUB_RETRY_COUNT.
	PublishRetry backoff.Policy `yaml:"publish_retry"`

	// ConnectRetry bounds connection retries at startup.
	ConnectRetry backoff.Policy `yaml:"connect_retry"`

	IPC       ipc.Config       `yaml:"ipc"`
	MQTT      mqtt.Config      `yaml:"mqtt"`
	Probe     probe.Config     `yaml:"probe"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.OnCycleFailure == "" {
		c.OnCycleFailure = FailureReschedule
	}
	c.PublishRetry.ApplyDefaults()
	c.ConnectRetry.ApplyDefaults()
	c.IPC.ApplyDefaults()
	c.MQTT.ApplyDefaults()
	c.Probe.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
func (c *AgentConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log level %q", c.LogLevel)
	}
	if c.ThingName == "" {
		return errors.New("agent: config: thing name is required (set " + ThingNameEnvKey + ")")
	}
	if c.OnCycleFailure != FailureReschedule && c.OnCycleFailure != FailureHalt {
		return fmt.Errorf("agent: config: invalid on_cycle_failure %q (must be %q or %q)",
			c.OnCycleFailure, FailureReschedule, FailureHalt)
	}
	if c.PublishRetry.MaxAttempts > MaxPublishRetry {
		return fmt.Errorf("agent: config: publish_retry.max_attempts must be <= %d", MaxPublishRetry)
	}
	if err := c.PublishRetry.Validate(); err != nil {
		return err
	}
	if err := c.ConnectRetry.Validate(); err != nil {
		return err
	}
	switch c.Transport {
	case TransportIPC:
		if err := c.IPC.Validate(); err != nil {
			return err
		}
	case TransportMQTT:
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("agent: config: invalid transport %q (must be %q or %q)",
			c.Transport, TransportIPC, TransportMQTT)
	}
	if err := c.Probe.Validate(); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}

// ParseConfig reads a YAML configuration file. Defaults are applied but the
// result is not validated, since required values may come from the
// environment.
func ParseConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: config: read %s: %w", path, err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agent: config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadEnv overrides cfg with the component environment.
func LoadEnv(cfg *AgentConfig, lookup func(string) (string, bool), logger *slog.Logger) {
	if v, ok := lookup(ThingNameEnvKey); ok && v != "" {
		cfg.ThingName = v
	}
	if v, ok := lookup(SocketPathEnvKey); ok && v != "" {
		cfg.IPC.SocketPath = v
	}
	if v, ok := lookup(AuthTokenEnvKey); ok && v != "" {
		cfg.IPC.AuthToken = v
	}
	if v, ok := lookup(PublishRetryEnvKey); ok {
		cfg.PublishRetry.MaxAttempts = ResolvePublishRetries(v, ok, logger)
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.ThingName
	}
}

// LoadConfig builds the agent configuration from the file at path (skipped
// when path is empty) and the environment. overrides run after the
// environment, so command line flags take precedence, and the result is
// validated last.
func LoadConfig(path string, lookup func(string) (string, bool), logger *slog.Logger, overrides ...func(*AgentConfig)) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if path != "" {
		var err error
		if cfg, err = ParseConfig(path); err != nil {
			return nil, err
		}
	} else {
		cfg.ApplyDefaults()
	}
	LoadEnv(cfg, lookup, logger)
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
