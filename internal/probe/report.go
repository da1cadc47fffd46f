package probe

import "encoding/json"

// ReportVersion is the Device Defender report format version.
const ReportVersion = "1.0"

// Report is a Device Defender metrics report.
type Report struct {
	Header        Header                   `json:"header"`
	Metrics       Metrics                  `json:"metrics"`
	CustomMetrics map[string][]CustomValue `json:"custom_metrics,omitempty"`
}

// Header identifies a report.
type Header struct {
	ReportID int64  `json:"report_id"`
	Version  string `json:"version"`
}

// Metrics holds the standard device-side metrics.
type Metrics struct {
	ListeningTCPPorts PortList       `json:"listening_tcp_ports"`
	ListeningUDPPorts PortList       `json:"listening_udp_ports"`
	NetworkStats      NetworkStats   `json:"network_stats"`
	TCPConnections    TCPConnections `json:"tcp_connections"`
}

// PortList is a set of listening ports.
type PortList struct {
	Ports []ListeningPort `json:"ports"`
	Total int             `json:"total"`
}

// ListeningPort is a socket accepting traffic.
type ListeningPort struct {
	Port      uint32 `json:"port"`
	Interface string `json:"interface,omitempty"`
}

// NetworkStats are traffic counters since the previous report.
type NetworkStats struct {
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
}

// TCPConnections wraps the established connection list.
type TCPConnections struct {
	Established ConnectionList `json:"established_connections"`
}

// ConnectionList is a set of established TCP connections.
type ConnectionList struct {
	Connections []Connection `json:"connections"`
	Total       int          `json:"total"`
}

// Connection is an established TCP connection.
type Connection struct {
	LocalPort  uint32 `json:"local_port"`
	RemoteAddr string `json:"remote_addr"`
}

// CustomValue is a single custom metric value.
type CustomValue struct {
	Number float64 `json:"number"`
}

// Custom metric names.
const (
	CustomMetricCPUUsage    = "cpu_usage"
	CustomMetricMemoryUsage = "memory_usage"
)

// Payload returns the JSON encoding of the report.
func (r *Report) Payload() ([]byte, error) {
	return json.Marshal(r)
}
