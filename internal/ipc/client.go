package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
)

// baseURL is the placeholder host used for requests over the Unix socket.
const baseURL = "http://ipc"

// errClosed is returned by operations on a closed Client.
var errClosed = errors.New("client closed")

// Client is the IPC channel client. It is safe for concurrent use by the
// publish cycle, the reconfiguration watcher and stream goroutines.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	streamCtx    context.Context
	streamCancel context.CancelFunc
	wg           sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client. Config defaults are applied automatically.
// No connection is made until Connect is called.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	socketPath := cfg.SocketPath
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		ResponseHeaderTimeout: cfg.RequestTimeout,
		DisableCompression:    true,
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Transport: transport},
		logger:       logger.With("component", "ipc"),
		streamCtx:    streamCtx,
		streamCancel: streamCancel,
	}, nil
}

// Connect verifies that the nucleus socket is reachable and accepts the
// client's auth token.
func (c *Client) Connect(ctx context.Context) error {
	if err := checkSocket(c.cfg.SocketPath); err != nil {
		return &Error{Op: OpConnect, Err: err}
	}
	if err := c.doRequest(ctx, OpConnect, http.MethodGet, "/v1/ping", nil, nil); err != nil {
		return err
	}
	c.logger.Info("created IPC client", "socket", c.cfg.SocketPath)
	return nil
}

// GetConfiguration returns the component's configuration value.
func (c *Client) GetConfiguration(ctx context.Context) (map[string]any, error) {
	var resp ConfigurationResponse
	if err := c.doRequest(ctx, OpGetConfiguration, http.MethodGet, "/v1/configuration", nil, &resp); err != nil {
		c.logger.Error("exception occurred during fetching the configuration", "error", err)
		return nil, err
	}
	if resp.Value == nil {
		return map[string]any{}, nil
	}
	return resp.Value, nil
}

// Publish sends payload to topic through the nucleus.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	req := PublishRequest{TopicName: topic, QoS: qos, Payload: payload}
	if err := c.doRequest(ctx, OpPublish, http.MethodPost, "/v1/iotcore/publish", req, nil); err != nil {
		c.logger.Error("exception occurred during publish", "topic", topic, "error", err)
		return err
	}
	c.logger.Info("published to the IoT core", "topic", topic)
	return nil
}

// SubscribeToTopic opens an at-most-once message stream for topic and
// dispatches events to h on a dedicated goroutine until the stream ends or
// the client is closed.
func (c *Client) SubscribeToTopic(ctx context.Context, topic string, h StreamHandler) error {
	q := url.Values{}
	q.Set("topic", topic)
	q.Set("qos", strconv.Itoa(int(QoSAtMostOnce)))
	if err := c.subscribe(ctx, "/v1/iotcore/subscribe?"+q.Encode(), h); err != nil {
		c.logger.Error("exception occurred during subscribe", "topic", topic, "error", err)
		return err
	}
	c.logger.Info("subscribed to topic", "topic", topic)
	return nil
}

// SubscribeToConfigUpdates opens a configuration-update stream for keyPath.
func (c *Client) SubscribeToConfigUpdates(ctx context.Context, keyPath []string, h StreamHandler) error {
	q := url.Values{}
	q.Set("keyPath", joinKeyPath(keyPath))
	if err := c.subscribe(ctx, "/v1/configuration/subscribe?"+q.Encode(), h); err != nil {
		c.logger.Error("exception occurred during subscribing to the configuration updates", "error", err)
		return err
	}
	c.logger.Info("subscribed to configuration updates", "key_path", keyPath)
	return nil
}

// Close tears down all subscription streams and waits for their goroutines.
// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.streamCancel()
	c.wg.Wait()
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// subscribe performs the stream handshake and starts the consumer goroutine.
// The stream lives on the client's stream context, not on ctx; ctx only
// bounds the handshake.
func (c *Client) subscribe(ctx context.Context, path string, h StreamHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Error{Op: OpSubscribe, Err: errClosed}
	}
	c.wg.Add(1)
	c.mu.Unlock()

	reqCtx, cancelReq := context.WithCancel(c.streamCtx)
	stop := context.AfterFunc(ctx, cancelReq)
	resp, err := c.sendRequest(reqCtx, http.MethodGet, path, nil)
	stop()
	if err != nil {
		cancelReq()
		c.wg.Done()
		return &Error{Op: OpSubscribe, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		cancelReq()
		c.wg.Done()
		return errorFromResponse(OpSubscribe, resp)
	}

	go func() {
		defer c.wg.Done()
		defer cancelReq()
		defer resp.Body.Close()
		consumeStream(resp.Body, h, c.isClosed)
	}()
	return nil
}

// doRequest executes a request/response call bounded by RequestTimeout and
// decodes the JSON response into result when non-nil.
func (c *Client) doRequest(ctx context.Context, op Op, method, path string, body, result any) error {
	if c.isClosed() {
		return &Error{Op: op, Err: errClosed}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.sendRequest(ctx, method, path, body)
	if err != nil {
		return wrapError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(op, resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// sendRequest builds and executes an HTTP request with standard headers and
// optional JSON body marshaling.
func (c *Client) sendRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if bodyReader != nil {
		req, err = http.NewRequestWithContext(ctx, method, baseURL+path, bodyReader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, baseURL+path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", c.cfg.AuthToken)
	}

	return c.httpClient.Do(req)
}
