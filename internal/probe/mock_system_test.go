package probe

import (
	"context"
	"sync"
)

// mockSystemReader returns queued readings in order, repeating the last one.
type mockSystemReader struct {
	mu    sync.Mutex
	stats []*SystemStats
	err   error
	calls int
}

func (m *mockSystemReader) ReadStats(ctx context.Context) (*SystemStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if idx >= len(m.stats) {
		idx = len(m.stats) - 1
	}
	s := *m.stats[idx]
	return &s, nil
}
