// Package discovery finds AxeOS devices on the local network.
package discovery

import (
	"time"

	"github.com/powerhive/axehive/pkg/miner"
)

// DiscoveredMiner contains information about a discovered device.
type DiscoveredMiner struct {
	// Host is the address the device answered on (IP or IP:port).
	Host string

	Hostname string
	MAC      string

	// Model is the ASIC model (e.g., "BM1370").
	Model string

	// Board is the board revision (e.g., "601").
	Board string

	Firmware        string
	FirmwareVersion string

	// State is the operational state (see miner.State constants).
	State string

	FirmwareType miner.FirmwareType
	DiscoveredAt time.Time
}

// ScanResult contains the results of a network scan.
type ScanResult struct {
	// Miners is the list of discovered devices, in scan order.
	Miners []DiscoveredMiner

	// Errors contains detection errors keyed by host.
	Errors map[string]error

	Duration time.Duration

	// ScannedIPs is the number of addresses that were scanned.
	ScannedIPs int

	// ResponsiveHosts is the number of hosts that accepted a connection on the target port.
	ResponsiveHosts int
}

// ScanOptions configures network scanning behavior.
type ScanOptions struct {
	// Timeout is the timeout for each host (default: 3s).
	Timeout time.Duration

	// Concurrency is the maximum number of concurrent probes (default: 50).
	Concurrency int

	// Port is the HTTP port to scan (default: 80).
	Port int

	// RateLimit caps new connections per second. Zero means unlimited.
	RateLimit int

	// SkipDetection only checks port connectivity, without identifying firmware.
	SkipDetection bool
}

// DefaultScanOptions returns the default scan options.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Timeout:     3 * time.Second,
		Concurrency: 50,
		Port:        80,
	}
}
