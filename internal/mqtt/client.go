package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"gopkg.in/yaml.v3"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

var (
	errNotConnected = errors.New("not connected")
	errClosed       = errors.New("client closed")
	errTimeout      = errors.New("timed out waiting for broker acknowledgement")
)

// ClientFactory creates the underlying paho client.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Client is the MQTT channel client. It is safe for concurrent use.
type Client struct {
	cfg        Config
	newClient  ClientFactory
	logger     *slog.Logger
	configFile *configWatch

	mu     sync.Mutex
	client paho.Client
	subs   map[string]ipc.StreamHandler
	closed bool
}

// NewClient creates a Client. Config defaults are applied automatically.
// No connection is made until Connect is called.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		newClient: paho.NewClient,
		logger:    logger.With("component", "mqtt"),
		subs:      make(map[string]ipc.StreamHandler),
	}, nil
}

// SetClientFactory replaces the paho client constructor. Intended for tests.
func (c *Client) SetClientFactory(fn ClientFactory) {
	c.newClient = fn
}

// Connect dials the broker. Each call starts a fresh connection attempt.
func (c *Client) Connect(ctx context.Context) error {
	opts, err := c.clientOptions()
	if err != nil {
		return &ipc.Error{Op: ipc.OpConnect, Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ipc.Error{Op: ipc.OpConnect, Err: errClosed}
	}
	client := c.newClient(opts)
	c.mu.Unlock()

	if err := waitToken(ctx, client.Connect(), c.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return &ipc.Error{Op: ipc.OpConnect, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		client.Disconnect(DefaultDisconnectQuiesce)
		return &ipc.Error{Op: ipc.OpConnect, Err: errClosed}
	}
	c.client = client
	c.logger.Info("connected to MQTT broker", "broker", c.cfg.BrokerURL, "client_id", c.cfg.ClientID)
	return nil
}

func (c *Client) clientOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(func(paho.Client) {
		c.logger.Debug("broker connection established")
	})

	tlsCfg, err := newTLSConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// GetConfiguration reads the component configuration file. Without a
// configured file the configuration is empty.
func (c *Client) GetConfiguration(_ context.Context) (map[string]any, error) {
	if c.cfg.ComponentConfigFile == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(c.cfg.ComponentConfigFile)
	if err != nil {
		return nil, &ipc.Error{Op: ipc.OpGetConfiguration, Err: err}
	}
	value := map[string]any{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, &ipc.Error{Op: ipc.OpGetConfiguration, Err: fmt.Errorf("parse %s: %w", c.cfg.ComponentConfigFile, err)}
	}
	return value, nil
}

// Publish sends payload to topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos ipc.QoS) error {
	client, err := c.connected()
	if err != nil {
		return &ipc.Error{Op: ipc.OpPublish, Err: err}
	}
	if err := waitToken(ctx, client.Publish(topic, byte(qos), false, payload), c.cfg.RequestTimeout); err != nil {
		c.logger.Error("publish failed", "topic", topic, "error", err)
		return &ipc.Error{Op: ipc.OpPublish, Err: err}
	}
	c.logger.Info("published to broker", "topic", topic)
	return nil
}

// SubscribeToTopic subscribes to topic at most once and dispatches received
// messages to h. A lost connection is reported to h, which may end the
// subscription.
func (c *Client) SubscribeToTopic(ctx context.Context, topic string, h ipc.StreamHandler) error {
	client, err := c.connected()
	if err != nil {
		return &ipc.Error{Op: ipc.OpSubscribe, Err: err}
	}

	onMessage := func(_ paho.Client, m paho.Message) {
		h.OnStreamEvent(ipc.StreamEvent{
			Type:      ipc.EventMessage,
			TopicName: m.Topic(),
			Payload:   m.Payload(),
		})
	}
	if err := waitToken(ctx, client.Subscribe(topic, byte(ipc.QoSAtMostOnce), onMessage), c.cfg.RequestTimeout); err != nil {
		return &ipc.Error{Op: ipc.OpSubscribe, Err: err}
	}

	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()
	c.logger.Info("subscribed to topic", "topic", topic)
	return nil
}

// SubscribeToConfigUpdates watches the component configuration file and
// reports every change to h as a configuration-update event for keyPath.
func (c *Client) SubscribeToConfigUpdates(_ context.Context, keyPath []string, h ipc.StreamHandler) error {
	if c.cfg.ComponentConfigFile == "" {
		return &ipc.Error{Op: ipc.OpSubscribe, Err: errors.New("no component configuration file configured")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &ipc.Error{Op: ipc.OpSubscribe, Err: errClosed}
	}
	if c.configFile != nil {
		return &ipc.Error{Op: ipc.OpSubscribe, Err: errors.New("configuration updates already subscribed")}
	}

	w, err := watchConfigFile(c.cfg.ComponentConfigFile, keyPath, h, c.logger)
	if err != nil {
		return &ipc.Error{Op: ipc.OpSubscribe, Err: err}
	}
	c.configFile = w
	c.logger.Info("watching component configuration", "path", c.cfg.ComponentConfigFile)
	return nil
}

// Close disconnects from the broker and ends every subscription.
// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.client = nil
	subs := c.subs
	c.subs = map[string]ipc.StreamHandler{}
	watch := c.configFile
	c.mu.Unlock()

	if watch != nil {
		watch.stop()
	}
	if client != nil {
		client.Disconnect(DefaultDisconnectQuiesce)
	}
	for _, h := range subs {
		h.OnStreamClosed()
	}
	return nil
}

func (c *Client) connected() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if c.client == nil {
		return nil, errNotConnected
	}
	return c.client, nil
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("broker connection lost", "error", err)

	c.mu.Lock()
	subs := make(map[string]ipc.StreamHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if !h.OnStreamError(fmt.Errorf("mqtt: connection lost: %w", err)) {
			continue
		}
		c.mu.Lock()
		_, ok := c.subs[topic]
		delete(c.subs, topic)
		client := c.client
		c.mu.Unlock()
		if !ok {
			continue
		}
		if client != nil {
			client.Unsubscribe(topic)
		}
		h.OnStreamClosed()
	}
}

// waitToken waits for t to complete, ctx to be done or timeout to elapse.
func waitToken(ctx context.Context, t paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTimeout
	}
}
