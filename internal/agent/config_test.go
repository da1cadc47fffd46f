package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/backoff"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestMetricsTopic(t *testing.T) {
	if got, want := MetricsTopic("dev1"), "$aws/things/dev1/defender/metrics/json"; got != want {
		t.Errorf("MetricsTopic() = %q, want %q", got, want)
	}
}

func TestAgentConfig_ApplyDefaults(t *testing.T) {
	var cfg AgentConfig
	cfg.ApplyDefaults()

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.Transport != TransportIPC {
		t.Errorf("Transport = %q, want %q", cfg.Transport, TransportIPC)
	}
	if cfg.OnCycleFailure != FailureReschedule {
		t.Errorf("OnCycleFailure = %q, want %q", cfg.OnCycleFailure, FailureReschedule)
	}
	if cfg.PublishRetry != backoff.DefaultPolicy() {
		t.Errorf("PublishRetry = %+v, want %+v", cfg.PublishRetry, backoff.DefaultPolicy())
	}
	if cfg.ConnectRetry != backoff.DefaultPolicy() {
		t.Errorf("ConnectRetry = %+v, want %+v", cfg.ConnectRetry, backoff.DefaultPolicy())
	}
	if cfg.IPC.SocketPath != ipc.DefaultSocketPath {
		t.Errorf("IPC.SocketPath = %q, want %q", cfg.IPC.SocketPath, ipc.DefaultSocketPath)
	}
}

func TestAgentConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AgentConfig)
		wantErr bool
	}{
		{"valid", func(*AgentConfig) {}, false},
		{"missing thing name", func(c *AgentConfig) { c.ThingName = "" }, true},
		{"bad log level", func(c *AgentConfig) { c.LogLevel = "verbose" }, true},
		{"bad transport", func(c *AgentConfig) { c.Transport = "carrier-pigeon" }, true},
		{"bad failure policy", func(c *AgentConfig) { c.OnCycleFailure = "panic" }, true},
		{"halt policy", func(c *AgentConfig) { c.OnCycleFailure = FailureHalt }, false},
		{"too many publish retries", func(c *AgentConfig) { c.PublishRetry.MaxAttempts = 73 }, true},
		{"mqtt without broker", func(c *AgentConfig) { c.Transport = TransportMQTT }, true},
		{"mqtt with broker", func(c *AgentConfig) {
			c.Transport = TransportMQTT
			c.MQTT.BrokerURL = "tls://broker.local:8883"
		}, false},
		{"probe window too long", func(c *AgentConfig) { c.Probe.CPUSampleWindow = time.Hour }, true},
		{"bad telemetry address", func(c *AgentConfig) { c.Telemetry.ListenAddress = "9100" }, true},
		{"telemetry enabled", func(c *AgentConfig) { c.Telemetry.ListenAddress = "127.0.0.1:9100" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAgentConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfig_ValidYAML(t *testing.T) {
	yaml := `
log_level: debug
thing_name: gateway-7
on_cycle_failure: halt
publish_retry:
  max_attempts: 2
  initial_delay: 1s
  max_delay: 30s
ipc:
  socket_path: /run/greengrass/ipc.socket
  request_timeout: 3s
`
	cfg, err := ParseConfig(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.ThingName != "gateway-7" {
		t.Errorf("ThingName = %q, want %q", cfg.ThingName, "gateway-7")
	}
	if cfg.OnCycleFailure != FailureHalt {
		t.Errorf("OnCycleFailure = %q, want %q", cfg.OnCycleFailure, FailureHalt)
	}
	if cfg.PublishRetry.MaxAttempts != 2 || cfg.PublishRetry.InitialDelay != time.Second || cfg.PublishRetry.MaxDelay != 30*time.Second {
		t.Errorf("PublishRetry = %+v", cfg.PublishRetry)
	}
	if cfg.PublishRetry.MaxJitter != backoff.DefaultMaxJitter {
		t.Errorf("PublishRetry.MaxJitter = %v, want %v when omitted", cfg.PublishRetry.MaxJitter, backoff.DefaultMaxJitter)
	}
	if cfg.IPC.SocketPath != "/run/greengrass/ipc.socket" {
		t.Errorf("IPC.SocketPath = %q", cfg.IPC.SocketPath)
	}
	if cfg.IPC.RequestTimeout != 3*time.Second {
		t.Errorf("IPC.RequestTimeout = %v, want 3s", cfg.IPC.RequestTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseConfig_ZeroRetriesKept(t *testing.T) {
	yaml := `
publish_retry:
  max_attempts: 0
connect_retry:
  max_attempts: 0
  max_jitter: 0s
`
	cfg, err := ParseConfig(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.PublishRetry.MaxAttempts != 0 {
		t.Errorf("PublishRetry.MaxAttempts = %d, want 0", cfg.PublishRetry.MaxAttempts)
	}
	if cfg.ConnectRetry.MaxAttempts != 0 {
		t.Errorf("ConnectRetry.MaxAttempts = %d, want 0", cfg.ConnectRetry.MaxAttempts)
	}
	if cfg.ConnectRetry.MaxJitter != 0 {
		t.Errorf("ConnectRetry.MaxJitter = %v, want 0", cfg.ConnectRetry.MaxJitter)
	}
	if cfg.PublishRetry.InitialDelay != backoff.DefaultInitialDelay {
		t.Errorf("PublishRetry.InitialDelay = %v, want %v", cfg.PublishRetry.InitialDelay, backoff.DefaultInitialDelay)
	}
}

func TestLoadConfig_ZeroRetriesWithoutEnv(t *testing.T) {
	path := writeTemp(t, "thing_name: dev\npublish_retry:\n  max_attempts: 0\n")
	cfg, err := LoadConfig(path, envLookup(nil), discardLogger())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PublishRetry.MaxAttempts != 0 {
		t.Errorf("PublishRetry.MaxAttempts = %d, want 0", cfg.PublishRetry.MaxAttempts)
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	if _, err := ParseConfig(writeTemp(t, "log_level: [unclosed")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseConfig_MissingFile(t *testing.T) {
	if _, err := ParseConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_EnvironmentOnly(t *testing.T) {
	env := map[string]string{
		ThingNameEnvKey:    "dev-env",
		AuthTokenEnvKey:    "svcuid",
		SocketPathEnvKey:   "/tmp/nucleus.sock",
		PublishRetryEnvKey: "9",
	}
	cfg, err := LoadConfig("", envLookup(env), discardLogger())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ThingName != "dev-env" {
		t.Errorf("ThingName = %q", cfg.ThingName)
	}
	if cfg.IPC.AuthToken != "svcuid" {
		t.Errorf("IPC.AuthToken = %q", cfg.IPC.AuthToken)
	}
	if cfg.IPC.SocketPath != "/tmp/nucleus.sock" {
		t.Errorf("IPC.SocketPath = %q", cfg.IPC.SocketPath)
	}
	if cfg.PublishRetry.MaxAttempts != 9 {
		t.Errorf("PublishRetry.MaxAttempts = %d, want 9", cfg.PublishRetry.MaxAttempts)
	}
	if cfg.MQTT.ClientID != "dev-env" {
		t.Errorf("MQTT.ClientID = %q, want thing name", cfg.MQTT.ClientID)
	}
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	path := writeTemp(t, "thing_name: from-file\npublish_retry:\n  max_attempts: 3\n  initial_delay: 5s\n")
	env := map[string]string{
		ThingNameEnvKey:    "from-env",
		PublishRetryEnvKey: "500",
	}
	cfg, err := LoadConfig(path, envLookup(env), discardLogger())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ThingName != "from-env" {
		t.Errorf("ThingName = %q, want from-env", cfg.ThingName)
	}
	if cfg.PublishRetry.MaxAttempts != MaxPublishRetry {
		t.Errorf("PublishRetry.MaxAttempts = %d, want %d", cfg.PublishRetry.MaxAttempts, MaxPublishRetry)
	}
}

func TestLoadConfig_FileRetriesKeptWithoutEnv(t *testing.T) {
	path := writeTemp(t, "thing_name: dev\npublish_retry:\n  max_attempts: 3\n  initial_delay: 5s\n")
	cfg, err := LoadConfig(path, envLookup(nil), discardLogger())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PublishRetry.MaxAttempts != 3 {
		t.Errorf("PublishRetry.MaxAttempts = %d, want 3", cfg.PublishRetry.MaxAttempts)
	}
}

func TestLoadConfig_OverridesRunBeforeValidation(t *testing.T) {
	env := map[string]string{ThingNameEnvKey: "from-env"}
	cfg, err := LoadConfig("", envLookup(env), discardLogger(), func(c *AgentConfig) {
		c.LogLevel = "debug"
		c.ThingName = "from-flag"
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.ThingName != "from-flag" {
		t.Errorf("LogLevel, ThingName = %q, %q; want debug, from-flag", cfg.LogLevel, cfg.ThingName)
	}

	_, err = LoadConfig("", envLookup(env), discardLogger(), func(c *AgentConfig) { c.LogLevel = "loud" })
	if err == nil {
		t.Fatal("expected validation error for an overridden log level")
	}
}

func TestLoadConfig_MissingThingName(t *testing.T) {
	if _, err := LoadConfig("", envLookup(nil), discardLogger()); err == nil {
		t.Fatal("expected error without a thing name")
	}
}
