package miner

// Info contains basic miner information.
// This is a firmware-agnostic representation of miner details.
type Info struct {
	// Miner is the display name (e.g., "Bitaxe BM1370").
	Miner string

	// Model is the ASIC model identifier (e.g., "BM1370").
	Model string

	// Board is the hardware board revision (e.g., "601").
	Board string

	// Firmware is the firmware name (e.g., "AxeOS").
	Firmware string

	// FirmwareVersion is the firmware version (e.g., "v2.10.1").
	FirmwareVersion string

	// Algorithm is the mining algorithm (e.g., "sha256d").
	Algorithm string

	// IP is the miner's IP address or hostname as dialed.
	IP string

	// MAC is the miner's MAC address.
	MAC string

	// Hostname is the miner's hostname.
	Hostname string
}

// Status contains the miner's operational status.
type Status struct {
	// State is the current miner state, one of the State constants.
	State string

	// Description is a human-readable status description.
	Description string
}

// Miner states reported by Status.
const (
	StateRunning  = "running"
	StateIdle     = "idle"
	StateOverheat = "overheat"
)

// FirmwareType represents different firmware types.
type FirmwareType string

const (
	FirmwareAxeOS   FirmwareType = "axeos"
	FirmwareUnknown FirmwareType = "unknown"
)
