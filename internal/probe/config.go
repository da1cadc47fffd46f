// Package probe collects device metrics and renders them as Device Defender
// metrics reports.
package probe

import (
	"errors"
	"time"
)

// DefaultCPUSampleWindow is the default window CPU utilisation is measured
// over.
const DefaultCPUSampleWindow = time.Second

// Config holds the configuration for the metrics probe.
type Config struct {
	// CPUSampleWindow is how long CPU utilisation is sampled per collection.
	// Default: 1s
	CPUSampleWindow time.Duration `yaml:"cpu_sample_window"`

	// IncludeLoopback counts loopback traffic in the network statistics.
	IncludeLoopback bool `yaml:"include_loopback"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.CPUSampleWindow == 0 {
		c.CPUSampleWindow = DefaultCPUSampleWindow
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.CPUSampleWindow < 0 {
		return errors.New("probe: config: CPUSampleWindow must not be negative")
	}
	if c.CPUSampleWindow > time.Minute {
		return errors.New("probe: config: CPUSampleWindow must be at most 1m")
	}
	return nil
}
