package agent

import (
	"context"
	"log/slog"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

// ConfigSource fetches the raw component configuration.
type ConfigSource interface {
	GetConfiguration(ctx context.Context) (map[string]any, error)
}

// Watcher applies configuration changes. Stream callbacks only signal the
// watcher; fetching and resolving happen on the Run goroutine.
type Watcher struct {
	source   ConfigSource
	onChange func(Configuration)
	notify   chan struct{}
	logger   *slog.Logger
}

// NewWatcher creates a Watcher that calls onChange with every newly
// resolved configuration.
func NewWatcher(source ConfigSource, onChange func(Configuration), logger *slog.Logger) *Watcher {
	return &Watcher{
		source:   source,
		onChange: onChange,
		notify:   make(chan struct{}, 1),
		logger:   logger.With("component", "config_watcher"),
	}
}

// Notify wakes the watcher. Notifications received while a reload is
// pending are coalesced.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Handler returns the stream handler for the configuration-update
// subscription.
func (w *Watcher) Handler() ipc.StreamHandler {
	return watcherHandler{w: w}
}

// Run waits for notifications and applies the new configuration until ctx
// is cancelled. Run always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.notify:
		}
		w.reload(ctx)
	}
}

func (w *Watcher) reload(ctx context.Context) {
	raw, err := w.source.GetConfiguration(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("failed to fetch updated configuration, keeping the current one", "error", err)
		return
	}
	w.onChange(ResolveConfiguration(raw, w.logger))
}

type watcherHandler struct {
	w *Watcher
}

func (h watcherHandler) OnStreamEvent(evt ipc.StreamEvent) {
	h.w.logger.Info("received configuration update", "key_path", evt.KeyPath)
	h.w.Notify()
}

func (h watcherHandler) OnStreamError(err error) bool {
	h.w.logger.Error("configuration update stream failed", "error", err)
	return true
}

func (h watcherHandler) OnStreamClosed() {
	h.w.logger.Info("configuration update stream closed")
}
