// Package agent implements the metrics publishing runtime: configuration
// resolution, the publish cycle and its scheduler, and reconfiguration.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/backoff"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

// Channel is the messaging channel the agent talks to. *ipc.Client and
// *mqtt.Client implement it.
type Channel interface {
	Connect(ctx context.Context) error
	GetConfiguration(ctx context.Context) (map[string]any, error)
	SubscribeToTopic(ctx context.Context, topic string, h ipc.StreamHandler) error
	SubscribeToConfigUpdates(ctx context.Context, keyPath []string, h ipc.StreamHandler) error
	Publish(ctx context.Context, topic string, payload []byte, qos ipc.QoS) error
	Close() error
}

// Agent wires the channel, probe, scheduler, publish cycle and watcher
// together for the lifetime of the process.
type Agent struct {
	cfg      AgentConfig
	channel  Channel
	probe    MetricsProbe
	recorder Recorder
	clock    backoff.Clock
	jitter   backoff.JitterFunc
	logger   *slog.Logger
}

// New creates an Agent. cfg is expected to be loaded with LoadConfig.
func New(cfg AgentConfig, channel Channel, probe MetricsProbe, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		channel:  channel,
		probe:    probe,
		recorder: nopRecorder{},
		logger:   logger,
	}
}

// SetRecorder sets the activity recorder.
func (a *Agent) SetRecorder(r Recorder) {
	a.recorder = r
}

// SetClock sets the clock used for connect and publish retry waits.
func (a *Agent) SetClock(c backoff.Clock) {
	a.clock = c
}

// SetJitter sets the jitter source for connect and publish retry delays.
func (a *Agent) SetJitter(fn backoff.JitterFunc) {
	a.jitter = fn
}

// Run connects the channel and publishes metrics until ctx is cancelled.
// It returns an error only when the channel cannot be connected.
func (a *Agent) Run(ctx context.Context) error {
	topic := MetricsTopic(a.cfg.ThingName)
	a.logger.Info("starting device defender agent",
		"thing_name", a.cfg.ThingName,
		"transport", a.cfg.Transport,
		"publish_retries", a.cfg.PublishRetry.MaxAttempts,
	)

	connect := backoff.NewRetrier(a.cfg.ConnectRetry, a.logger)
	if a.clock != nil {
		connect.SetClock(a.clock)
	}
	if a.jitter != nil {
		connect.SetJitter(a.jitter)
	}
	if err := connect.Do(ctx, "connect "+a.cfg.Transport+" channel", a.channel.Connect); err != nil {
		return fmt.Errorf("agent: connect: %w", err)
	}
	defer func() {
		if err := a.channel.Close(); err != nil {
			a.logger.Warn("closing channel failed", "error", err)
		}
	}()

	raw, err := a.channel.GetConfiguration(ctx)
	if err != nil {
		a.logger.Warn("failed to fetch the component configuration, using defaults", "error", err)
		raw = nil
	}

	for _, t := range []string{topic + "/accepted", topic + "/rejected"} {
		if err := a.channel.SubscribeToTopic(ctx, t, newTopicLogger(t, a.logger)); err != nil {
			a.logger.Error("failed to subscribe to topic", "topic", t, "error", err)
		}
	}

	scheduler := NewScheduler(a.logger)
	defer scheduler.Stop()

	cycle, err := NewCycle(CycleConfig{
		ThingName: a.cfg.ThingName,
		Retry:     a.cfg.PublishRetry,
		OnFailure: a.cfg.OnCycleFailure,
	}, scheduler, a.probe, a.channel, a.logger)
	if err != nil {
		return err
	}
	cycle.SetRecorder(a.recorder)
	if a.clock != nil {
		cycle.SetClock(a.clock)
	}
	if a.jitter != nil {
		cycle.SetJitter(a.jitter)
	}
	cycle.Start(ResolveConfiguration(raw, a.logger))

	watcher := NewWatcher(a.channel, cycle.Restart, a.logger)
	if err := a.channel.SubscribeToConfigUpdates(ctx, []string{SampleIntervalConfigKey}, watcher.Handler()); err != nil {
		a.logger.Error("failed to subscribe to configuration updates, changes will not be applied", "error", err)
	}

	_ = watcher.Run(ctx)
	a.logger.Info("shutting down device defender agent")
	return nil
}
