// Package backoff implements the capped, jittered exponential delay policy
// and the bounded retry loop used for IPC connect and metrics publishing.
package backoff

import (
	"errors"
	"math/rand/v2"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultInitialDelay is the starting delay of a fresh retry sequence.
const DefaultInitialDelay = 5 * time.Second

// DefaultMaxDelay is the upper bound for any computed delay.
const DefaultMaxDelay = 600 * time.Second

// DefaultMaxJitter is the upper bound of the uniform jitter added per step.
const DefaultMaxJitter = 30 * time.Second

// DefaultMaxAttempts is the default number of retries after the first failure.
const DefaultMaxAttempts = 5

// Policy holds the retry bounds. A Policy is immutable once resolved.
type Policy struct {
	// MaxAttempts is the number of retries allowed after the first failure.
	// Zero disables retrying.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay a fresh retry sequence starts from.
	// Default: 5s
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps every computed delay.
	// Default: 600s
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxJitter bounds the random delay added on each step.
	// Default: 30s
	MaxJitter time.Duration `yaml:"max_jitter"`

	// explicit is set once the policy was read from configuration.
	explicit bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		MaxJitter:    DefaultMaxJitter,
	}
}

// UnmarshalYAML decodes a policy on top of DefaultPolicy. Keys that are
// present keep their value, zero included.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	type plain Policy
	decoded := plain(DefaultPolicy())
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*p = Policy(decoded)
	p.explicit = true
	return nil
}

// ApplyDefaults sets default values for zero-valued fields.
// A zero-valued Policy that was not read from configuration becomes
// DefaultPolicy. Otherwise MaxAttempts and MaxJitter are respected as-is, so
// that zero retries or zero jitter can be configured.
func (p *Policy) ApplyDefaults() {
	if !p.explicit && p.MaxAttempts == 0 && p.InitialDelay == 0 && p.MaxDelay == 0 && p.MaxJitter == 0 {
		p.MaxAttempts = DefaultMaxAttempts
		p.MaxJitter = DefaultMaxJitter
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultMaxDelay
	}
}

// Validate checks that the policy values are usable.
func (p *Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("backoff: policy: MaxAttempts must be >= 0")
	}
	if p.InitialDelay <= 0 {
		return errors.New("backoff: policy: InitialDelay must be positive")
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("backoff: policy: MaxDelay must be >= InitialDelay")
	}
	if p.MaxJitter < 0 {
		return errors.New("backoff: policy: MaxJitter must be >= 0")
	}
	return nil
}

// JitterFunc returns a random duration in [0, max].
type JitterFunc func(max time.Duration) time.Duration

// UniformJitter draws uniformly from [0, max] inclusive.
func UniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// Backoff computes successive retry delays for a Policy.
type Backoff struct {
	policy Policy
	jitter JitterFunc
}

// New creates a Backoff for the given policy using UniformJitter.
func New(p Policy) *Backoff {
	return &Backoff{policy: p, jitter: UniformJitter}
}

// SetJitter replaces the jitter source. Intended for tests.
func (b *Backoff) SetJitter(fn JitterFunc) {
	b.jitter = fn
}

// Policy returns the policy the Backoff was created with.
func (b *Backoff) Policy() Policy {
	return b.policy
}

// Next returns the delay following previous:
// min(previous*2 + jitter, MaxDelay). Once previous has reached MaxDelay the
// result stays pinned at MaxDelay and no jitter is added.
func (b *Backoff) Next(previous time.Duration) time.Duration {
	if previous >= b.policy.MaxDelay {
		return b.policy.MaxDelay
	}
	next := previous*2 + b.jitter(b.policy.MaxJitter)
	return min(next, b.policy.MaxDelay)
}
