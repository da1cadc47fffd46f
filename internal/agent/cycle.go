package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/backoff"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/telemetry"
)

// FailurePolicy selects what happens after a publish cycle fails.
type FailurePolicy string

const (
	// FailureReschedule arms the next periodic cycle after a failure.
	FailureReschedule FailurePolicy = "reschedule"
	// FailureHalt leaves the schedule idle until the next reconfiguration.
	FailureHalt FailurePolicy = "halt"
)

// Cycle outcomes reported to a Recorder.
const (
	OutcomeSuccess   = telemetry.OutcomeSuccess
	OutcomeFailure   = telemetry.OutcomeFailure
	OutcomeCancelled = telemetry.OutcomeCancelled
)

// MetricsSnapshot is one collected set of device metrics.
type MetricsSnapshot interface {
	Payload() ([]byte, error)
}

// MetricsProbe collects device metrics.
type MetricsProbe interface {
	Collect(ctx context.Context) (MetricsSnapshot, error)
}

// ProbeFunc adapts a function to MetricsProbe.
type ProbeFunc func(ctx context.Context) (MetricsSnapshot, error)

// Collect calls f(ctx).
func (f ProbeFunc) Collect(ctx context.Context) (MetricsSnapshot, error) { return f(ctx) }

// Publisher publishes a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos ipc.QoS) error
}

// Recorder observes cycle activity.
type Recorder interface {
	CycleCompleted(outcome string)
	PublishAttempt(err error)
	Reconfigured(interval time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(string)      {}
func (nopRecorder) PublishAttempt(error)       {}
func (nopRecorder) Reconfigured(time.Duration) {}

// CycleConfig holds the configuration for the publish cycle.
type CycleConfig struct {
	// ThingName is the device name used in the metrics topic (required).
	ThingName string

	// Retry bounds publish retries within one cycle.
	Retry backoff.Policy

	// OnFailure selects the behaviour after a failed cycle.
	// Default: reschedule
	OnFailure FailurePolicy
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *CycleConfig) ApplyDefaults() {
	c.Retry.ApplyDefaults()
	if c.OnFailure == "" {
		c.OnFailure = FailureReschedule
	}
}

// Validate checks that required fields are set.
func (c *CycleConfig) Validate() error {
	if c.ThingName == "" {
		return errors.New("agent: cycle config: ThingName is required")
	}
	if c.OnFailure != FailureReschedule && c.OnFailure != FailureHalt {
		return fmt.Errorf("agent: cycle config: invalid failure policy %q", c.OnFailure)
	}
	return c.Retry.Validate()
}

// Cycle collects a metrics snapshot and publishes it with bounded retries,
// then asks the Scheduler to arm the next run.
type Cycle struct {
	cfg       CycleConfig
	topic     string
	scheduler *Scheduler
	probe     MetricsProbe
	publisher Publisher
	retrier   *backoff.Retrier
	recorder  Recorder
	current   atomic.Pointer[Configuration]
	logger    *slog.Logger
}

// NewCycle creates a Cycle. Defaults are applied to cfg.
func NewCycle(cfg CycleConfig, scheduler *Scheduler, probe MetricsProbe, publisher Publisher, logger *slog.Logger) (*Cycle, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("component", "publish_cycle")
	c := &Cycle{
		cfg:       cfg,
		topic:     MetricsTopic(cfg.ThingName),
		scheduler: scheduler,
		probe:     probe,
		publisher: publisher,
		retrier:   backoff.NewRetrier(cfg.Retry, logger),
		recorder:  nopRecorder{},
		logger:    logger,
	}
	def := DefaultConfiguration()
	c.current.Store(&def)
	return c, nil
}

// SetRecorder sets the activity recorder.
func (c *Cycle) SetRecorder(r Recorder) {
	c.recorder = r
}

// SetClock sets the clock used for retry waits.
func (c *Cycle) SetClock(clk backoff.Clock) {
	c.retrier.SetClock(clk)
}

// SetJitter sets the jitter source used for retry delays.
func (c *Cycle) SetJitter(fn backoff.JitterFunc) {
	c.retrier.SetJitter(fn)
}

// Current returns the configuration in effect.
func (c *Cycle) Current() Configuration {
	return *c.current.Load()
}

// Start makes cfg current and runs the first cycle immediately.
func (c *Cycle) Start(cfg Configuration) {
	c.current.Store(&cfg)
	c.recorder.Reconfigured(cfg.SampleInterval)
	c.scheduler.Arm(0, c.run)
}

// Restart replaces the configuration, cancels the pending or in-flight cycle
// and runs a fresh cycle immediately.
func (c *Cycle) Restart(cfg Configuration) {
	c.logger.Info("configuration changed, restarting publish cycle", "sample_interval", cfg.SampleInterval)
	c.Start(cfg)
}

func (c *Cycle) run(ctx context.Context, gen uint64) {
	cfg := c.Current()
	c.logger.Info("collecting and publishing metrics",
		"thing_name", c.cfg.ThingName,
		"topic", c.topic,
		"sample_interval", cfg.SampleInterval,
	)

	err := c.collectAndPublish(ctx)
	if ctx.Err() != nil {
		c.logger.Debug("publish cycle cancelled", "generation", gen)
		c.recorder.CycleCompleted(OutcomeCancelled)
		return
	}
	if err == nil {
		c.recorder.CycleCompleted(OutcomeSuccess)
		c.scheduler.ArmNext(gen, cfg.SampleInterval, c.run)
		return
	}

	c.logger.Error("publish cycle failed", "error", err)
	c.recorder.CycleCompleted(OutcomeFailure)
	if c.cfg.OnFailure == FailureHalt {
		c.logger.Warn("publishing halted until the next configuration change")
		return
	}
	c.scheduler.ArmNext(gen, cfg.SampleInterval, c.run)
}

func (c *Cycle) collectAndPublish(ctx context.Context) error {
	snapshot, err := c.probe.Collect(ctx)
	if err != nil {
		return fmt.Errorf("agent: collect metrics: %w", err)
	}
	payload, err := snapshot.Payload()
	if err != nil {
		return fmt.Errorf("agent: encode metrics: %w", err)
	}

	return c.retrier.Do(ctx, "publish metrics", func(ctx context.Context) error {
		err := c.publisher.Publish(ctx, c.topic, payload, ipc.QoSAtMostOnce)
		c.recorder.PublishAttempt(err)
		return err
	})
}
