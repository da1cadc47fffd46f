package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/agent"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/mqtt"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/probe"
	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/telemetry"
)

func runAgent(_ *cobra.Command, _ []string) error {
	// Configuration problems are reported before the level is known.
	bootLogger := setupLogger(os.Stdout, agent.DefaultLogLevel)

	cfg, err := agent.LoadConfig(cfgFile, os.LookupEnv, bootLogger, applyFlags)
	if err != nil {
		bootLogger.Error("invalid configuration", "error", err)
		return fmt.Errorf("defender-agent: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.LogLevel)
	logger.Info("starting defender-agent",
		"version", buildVersion,
		"thing_name", cfg.ThingName,
		"transport", cfg.Transport,
	)

	channel, err := newChannel(cfg, logger)
	if err != nil {
		return fmt.Errorf("defender-agent: create channel: %w", err)
	}

	metrics := telemetry.New()
	a := agent.New(*cfg, channel, newProbe(cfg.Probe, logger), logger)
	a.SetRecorder(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Telemetry.Enabled() {
		srv := telemetry.NewServer(cfg.Telemetry, metrics, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	err = a.Run(ctx)
	stop()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("defender-agent stopped", "error", err)
		return fmt.Errorf("defender-agent: %w", err)
	}
	logger.Info("defender-agent stopped")
	return nil
}

// applyFlags overrides cfg with the command line flags.
func applyFlags(cfg *agent.AgentConfig) {
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func newChannel(cfg *agent.AgentConfig, logger *slog.Logger) (agent.Channel, error) {
	if cfg.Transport == agent.TransportMQTT {
		return mqtt.NewClient(cfg.MQTT, logger)
	}
	return ipc.NewClient(cfg.IPC, logger)
}

func newProbe(cfg probe.Config, logger *slog.Logger) agent.MetricsProbe {
	p := probe.New(probe.NewSystemReader(cfg), logger)
	return agent.ProbeFunc(func(ctx context.Context) (agent.MetricsSnapshot, error) {
		report, err := p.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return report, nil
	})
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
