package probe

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Probe turns successive system readings into metrics reports. Network
// statistics are reported as the traffic since the previous collection.
type Probe struct {
	reader SystemReader
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	prev   *SystemStats
	lastID int64
}

// New creates a Probe reading from reader.
func New(reader SystemReader, logger *slog.Logger) *Probe {
	return &Probe{
		reader: reader,
		now:    time.Now,
		logger: logger.With("component", "probe"),
	}
}

// SetNow sets the time source used for report ids.
func (p *Probe) SetNow(fn func() time.Time) {
	p.now = fn
}

// Collect reads the current device state and builds a report.
func (p *Probe) Collect(ctx context.Context) (*Report, error) {
	stats, err := p.reader.ReadStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe: collect: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.now().Unix()
	if id <= p.lastID {
		id = p.lastID + 1
	}
	p.lastID = id

	var traffic NetworkStats
	if p.prev != nil {
		traffic = NetworkStats{
			BytesIn:    delta(stats.BytesIn, p.prev.BytesIn),
			BytesOut:   delta(stats.BytesOut, p.prev.BytesOut),
			PacketsIn:  delta(stats.PacketsIn, p.prev.PacketsIn),
			PacketsOut: delta(stats.PacketsOut, p.prev.PacketsOut),
		}
	}
	p.prev = stats

	tcp := uniquePorts(stats.TCPListen)
	udp := uniquePorts(stats.UDPListen)
	conns := sortedConnections(stats.Established)

	report := &Report{
		Header: Header{ReportID: id, Version: ReportVersion},
		Metrics: Metrics{
			ListeningTCPPorts: PortList{Ports: tcp, Total: len(tcp)},
			ListeningUDPPorts: PortList{Ports: udp, Total: len(udp)},
			NetworkStats:      traffic,
			TCPConnections: TCPConnections{
				Established: ConnectionList{Connections: conns, Total: len(conns)},
			},
		},
		CustomMetrics: map[string][]CustomValue{
			CustomMetricCPUUsage:    {{Number: stats.CPUUsagePercent}},
			CustomMetricMemoryUsage: {{Number: stats.MemoryUsagePercent}},
		},
	}

	p.logger.Debug("metrics collected",
		"report_id", id,
		"tcp_listen", len(tcp),
		"udp_listen", len(udp),
		"established", len(conns),
		"bytes_in", traffic.BytesIn,
		"bytes_out", traffic.BytesOut,
	)
	return report, nil
}

// delta returns cur-prev, or cur when the counter went backwards.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func uniquePorts(in []ListeningPort) []ListeningPort {
	out := slices.Clone(in)
	if out == nil {
		out = []ListeningPort{}
	}
	slices.SortFunc(out, func(a, b ListeningPort) int {
		return cmp.Or(cmp.Compare(a.Port, b.Port), cmp.Compare(a.Interface, b.Interface))
	})
	return slices.Compact(out)
}

func sortedConnections(in []Connection) []Connection {
	out := slices.Clone(in)
	if out == nil {
		out = []Connection{}
	}
	slices.SortFunc(out, func(a, b Connection) int {
		return cmp.Or(cmp.Compare(a.LocalPort, b.LocalPort), cmp.Compare(a.RemoteAddr, b.RemoteAddr))
	})
	return out
}

func joinAddr(ip string, port uint32) string {
	return net.JoinHostPort(ip, strconv.FormatUint(uint64(port), 10))
}
