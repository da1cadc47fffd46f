package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws-greengrass/aws-greengrass-device-defender/internal/ipc"
)

var errPublish = &ipc.Error{Op: ipc.OpPublish, StatusCode: 503, Message: "service unavailable"}

type publishCall struct {
	topic   string
	payload []byte
	qos     ipc.QoS
}

type mockChannel struct {
	mu sync.Mutex

	connectErrs  []error
	connectCalls int

	config      map[string]any
	configErr   error
	configCalls int

	// publishErrs[i] is returned by the i-th publish; calls past the end
	// succeed.
	publishErrs []error
	published   []publishCall

	topicSubErr   error
	topics        []string
	configSubErr  error
	configKeyPath []string
	configHandler ipc.StreamHandler

	closeCalls int
}

func (m *mockChannel) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.connectCalls
	m.connectCalls++
	if idx < len(m.connectErrs) {
		return m.connectErrs[idx]
	}
	return nil
}

func (m *mockChannel) GetConfiguration(_ context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configCalls++
	if m.configErr != nil {
		return nil, m.configErr
	}
	out := make(map[string]any, len(m.config))
	for k, v := range m.config {
		out[k] = v
	}
	return out, nil
}

func (m *mockChannel) SubscribeToTopic(_ context.Context, topic string, _ ipc.StreamHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topicSubErr != nil {
		return m.topicSubErr
	}
	m.topics = append(m.topics, topic)
	return nil
}

func (m *mockChannel) SubscribeToConfigUpdates(_ context.Context, keyPath []string, h ipc.StreamHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configSubErr != nil {
		return m.configSubErr
	}
	m.configKeyPath = keyPath
	m.configHandler = h
	return nil
}

func (m *mockChannel) Publish(_ context.Context, topic string, payload []byte, qos ipc.QoS) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.published)
	m.published = append(m.published, publishCall{topic: topic, payload: payload, qos: qos})
	if idx < len(m.publishErrs) {
		return m.publishErrs[idx]
	}
	return nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *mockChannel) setConfig(cfg map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
}

func (m *mockChannel) getPublished() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.published...)
}

func (m *mockChannel) getConfigHandler() ipc.StreamHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configHandler
}

func (m *mockChannel) getCloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// mockSnapshot is a MetricsSnapshot with a fixed payload.
type mockSnapshot struct {
	payload []byte
	err     error
}

func (s mockSnapshot) Payload() ([]byte, error) { return s.payload, s.err }

// mockProbe counts collections and tracks how many cycles are active at
// once. A cycle is active from Collect until the recorder sees it complete.
type mockProbe struct {
	err      error
	calls    atomic.Int32
	active   atomic.Int32
	maxSeen  atomic.Int32
	snapshot mockSnapshot
}

func newMockProbe() *mockProbe {
	return &mockProbe{snapshot: mockSnapshot{payload: []byte(`{"header":{"report_id":1}}`)}}
}

func (p *mockProbe) Collect(_ context.Context) (MetricsSnapshot, error) {
	p.calls.Add(1)
	n := p.active.Add(1)
	for {
		cur := p.maxSeen.Load()
		if n <= cur || p.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.snapshot, nil
}

// mockRecorder records cycle activity. If probe is set, completed cycles
// are subtracted from its active count.
type mockRecorder struct {
	probe *mockProbe

	mu        sync.Mutex
	outcomes  []string
	attempts  int
	failures  int
	intervals []time.Duration

	completed chan string
}

func newMockRecorder(probe *mockProbe) *mockRecorder {
	return &mockRecorder{probe: probe, completed: make(chan string, 32)}
}

func (r *mockRecorder) CycleCompleted(outcome string) {
	if r.probe != nil {
		r.probe.active.Add(-1)
	}
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
	r.completed <- outcome
}

func (r *mockRecorder) PublishAttempt(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if err != nil {
		r.failures++
	}
}

func (r *mockRecorder) Reconfigured(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals = append(r.intervals, interval)
}

func (r *mockRecorder) getIntervals() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.intervals...)
}

func (r *mockRecorder) waitOutcome(timeout time.Duration) (string, error) {
	select {
	case o := <-r.completed:
		return o, nil
	case <-time.After(timeout):
		return "", errors.New("timed out waiting for cycle completion")
	}
}
