package mqtt

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

// configWatch reports changes to the component configuration file.
type configWatch struct {
	watcher *fsnotify.Watcher
	path    string
	keyPath []string
	handler ipc.StreamHandler
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// watchConfigFile starts watching path. The parent directory is watched so
// that editors replacing the file by rename are detected.
func watchConfigFile(path string, keyPath []string, h ipc.StreamHandler, logger *slog.Logger) (*configWatch, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &configWatch{
		watcher: watcher,
		path:    abs,
		keyPath: keyPath,
		handler: h,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *configWatch) loop() {
	defer close(w.done)
	defer w.handler.OnStreamClosed()
	defer w.watcher.Close()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("component configuration changed", "path", w.path, "op", event.Op.String())
			w.handler.OnStreamEvent(ipc.StreamEvent{
				Type:    ipc.EventConfigurationUpdate,
				KeyPath: w.keyPath,
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.handler.OnStreamError(fmt.Errorf("mqtt: watch %s: %w", w.path, err)) {
				return
			}
		}
	}
}

// stop ends the watch and waits for the loop to exit.
func (w *configWatch) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}
