// Package miner provides shared interfaces and types for miner interaction.
// It decouples discovery and collection from a specific firmware API.
package miner

import "context"

// Client abstracts miner API operations.
// axeos.HTTPClient is the AxeOS implementation.
type Client interface {
	// Host returns the miner's host address (IP or hostname).
	Host() string

	// GetMinerInfo returns basic miner information.
	GetMinerInfo(ctx context.Context) (*Info, error)

	// GetMinerStatus returns the miner's operational status.
	GetMinerStatus(ctx context.Context) (*Status, error)
}

// FirmwareProber attempts to detect a specific firmware type on a host.
type FirmwareProber interface {
	// Probe attempts to connect to the host and retrieve miner information.
	// Returns an error if this firmware type is not detected.
	Probe(ctx context.Context, host string) (*Info, error)

	// FirmwareType returns which firmware this prober detects.
	FirmwareType() FirmwareType

	// NewClient creates a client for hosts confirmed to run this firmware.
	NewClient(host string) Client
}
