package probe

import (
	"context"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

// SystemStats holds one raw reading of the device state. Network counters
// are cumulative.
type SystemStats struct {
	CPUUsagePercent    float64
	MemoryUsagePercent float64
	BytesIn            uint64
	BytesOut           uint64
	PacketsIn          uint64
	PacketsOut         uint64
	TCPListen          []ListeningPort
	UDPListen          []ListeningPort
	Established        []Connection
}

// SystemReader abstracts OS-level metrics retrieval.
type SystemReader interface {
	ReadStats(ctx context.Context) (*SystemStats, error)
}

// Connection states reported by gopsutil.
const (
	statusListen      = "LISTEN"
	statusEstablished = "ESTABLISHED"
)

// gopsutilReader reads system stats through gopsutil.
type gopsutilReader struct {
	cfg Config
}

// NewSystemReader returns a SystemReader backed by gopsutil.
func NewSystemReader(cfg Config) SystemReader {
	cfg.ApplyDefaults()
	return &gopsutilReader{cfg: cfg}
}

func (r *gopsutilReader) ReadStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats

	percents, err := cpu.PercentWithContext(ctx, r.cfg.CPUSampleWindow, false)
	if err != nil {
		return nil, fmt.Errorf("read cpu: %w", err)
	}
	if len(percents) > 0 {
		stats.CPUUsagePercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	stats.MemoryUsagePercent = vm.UsedPercent

	if err := r.readCounters(ctx, &stats); err != nil {
		return nil, err
	}

	tcp, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("read tcp connections: %w", err)
	}
	for _, c := range tcp {
		switch c.Status {
		case statusListen:
			stats.TCPListen = append(stats.TCPListen, ListeningPort{Port: c.Laddr.Port, Interface: c.Laddr.IP})
		case statusEstablished:
			stats.Established = append(stats.Established, Connection{
				LocalPort:  c.Laddr.Port,
				RemoteAddr: joinAddr(c.Raddr.IP, c.Raddr.Port),
			})
		}
	}

	udp, err := gnet.ConnectionsWithContext(ctx, "udp")
	if err != nil {
		return nil, fmt.Errorf("read udp sockets: %w", err)
	}
	for _, c := range udp {
		// Unconnected UDP sockets have no remote address.
		if c.Raddr.Port == 0 && c.Laddr.Port != 0 {
			stats.UDPListen = append(stats.UDPListen, ListeningPort{Port: c.Laddr.Port, Interface: c.Laddr.IP})
		}
	}

	return &stats, nil
}

func (r *gopsutilReader) readCounters(ctx context.Context, stats *SystemStats) error {
	counters, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return fmt.Errorf("read network counters: %w", err)
	}

	var loopback []string
	if !r.cfg.IncludeLoopback {
		ifaces, err := gnet.InterfacesWithContext(ctx)
		if err != nil {
			return fmt.Errorf("read interfaces: %w", err)
		}
		for _, iface := range ifaces {
			if slices.Contains(iface.Flags, "loopback") {
				loopback = append(loopback, iface.Name)
			}
		}
	}

	for _, c := range counters {
		if slices.Contains(loopback, c.Name) {
			continue
		}
		stats.BytesIn += c.BytesRecv
		stats.BytesOut += c.BytesSent
		stats.PacketsIn += c.PacketsRecv
		stats.PacketsOut += c.PacketsSent
	}
	return nil
}
