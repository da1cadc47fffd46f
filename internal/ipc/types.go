package ipc

import (
	"fmt"
	"strings"
)

// QoS is the delivery guarantee requested for a published message.
type QoS int

const (
	// QoSAtMostOnce delivers a message at most once.
	QoSAtMostOnce QoS = 0
	// QoSAtLeastOnce delivers a message at least once.
	QoSAtLeastOnce QoS = 1
)

// String returns the QoS level name.
func (q QoS) String() string {
	switch q {
	case QoSAtMostOnce:
		return "AT_MOST_ONCE"
	case QoSAtLeastOnce:
		return "AT_LEAST_ONCE"
	default:
		return fmt.Sprintf("QoS(%d)", int(q))
	}
}

// ConfigurationResponse is the body of GET /v1/configuration.
type ConfigurationResponse struct {
	ComponentName string         `json:"componentName"`
	Value         map[string]any `json:"value"`
}

// PublishRequest is the body of POST /v1/iotcore/publish.
type PublishRequest struct {
	TopicName string `json:"topicName"`
	QoS       QoS    `json:"qos"`
	Payload   []byte `json:"payload"`
}

// IoTCoreMessage is the data of a "message" stream event.
type IoTCoreMessage struct {
	TopicName string `json:"topicName"`
	Payload   []byte `json:"payload"`
}

// ConfigurationUpdate is the data of a "configuration-update" stream event.
type ConfigurationUpdate struct {
	ComponentName string   `json:"componentName"`
	KeyPath       []string `json:"keyPath"`
}

// Stream event type names.
const (
	EventMessage             = "message"
	EventConfigurationUpdate = "configuration-update"
)

// joinKeyPath renders a key path as a query parameter value.
func joinKeyPath(keyPath []string) string {
	return strings.Join(keyPath, ",")
}
