package agent

import (
	"log/slog"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

// topicLogger logs messages received on a subscribed topic.
type topicLogger struct {
	topic  string
	logger *slog.Logger
}

func newTopicLogger(topic string, logger *slog.Logger) *topicLogger {
	return &topicLogger{topic: topic, logger: logger}
}

func (l *topicLogger) OnStreamEvent(evt ipc.StreamEvent) {
	l.logger.Info("received message", "topic", evt.TopicName, "payload", string(evt.Payload))
}

func (l *topicLogger) OnStreamError(err error) bool {
	l.logger.Error("subscription stream failed", "topic", l.topic, "error", err)
	return true
}

func (l *topicLogger) OnStreamClosed() {
	l.logger.Info("subscription stream closed", "topic", l.topic)
}
