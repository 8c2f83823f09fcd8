// Package database provides SQLite storage for AxeOS devices and telemetry.
package database

import (
	"time"
)

// Device represents an AxeOS device.
type Device struct {
	ID              int64     `json:"id"`
	MACAddress      string    `json:"mac_address"`
	Host            string    `json:"host"`
	Hostname        string    `json:"hostname"`
	ASICModel       string    `json:"asic_model"`
	BoardVersion    string    `json:"board_version"`
	FirmwareVersion string    `json:"firmware_version"`
	AxeOSVersion    string    `json:"axeos_version"`
	IsOnline        bool      `json:"is_online"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// Snapshot is one stored telemetry reading.
type Snapshot struct {
	ID               int64     `json:"id"`
	DeviceID         int64     `json:"device_id"`
	CycleID          string    `json:"cycle_id"`
	TakenAt          time.Time `json:"taken_at"`
	Hashrate         float64   `json:"hashrate"`
	ExpectedHashrate float64   `json:"expected_hashrate"`
	BestDiff         uint64    `json:"best_diff"`
	BestSessionDiff  uint64    `json:"best_session_diff"`
	PoolDifficulty   uint64    `json:"pool_difficulty"`
	SharesAccepted   uint64    `json:"shares_accepted"`
	SharesRejected   uint64    `json:"shares_rejected"`
	BlockFound       bool      `json:"block_found"`
	Temp             float64   `json:"temp"`
	TempTarget       float64   `json:"temp_target"`
	FanRPM           int64     `json:"fan_rpm"`
	FanSpeed         float64   `json:"fan_speed"`
	AutoFanSpeed     bool      `json:"auto_fan_speed"`
	Frequency        int64     `json:"frequency"`
	WifiRSSI         int64     `json:"wifi_rssi"`
	StratumURL       string    `json:"stratum_url"`
	StratumPort      uint16    `json:"stratum_port"`
	StratumUser      string    `json:"stratum_user"`
	UsingFallback    bool      `json:"using_fallback"`
	StratumLatency   *float64  `json:"stratum_latency,omitempty"`
	OverheatMode     bool      `json:"overheat_mode"`
	UptimeSeconds    uint64    `json:"uptime_seconds"`

	Rejections []ShareRejection `json:"rejections"`
}

// ShareRejection is a stored share rejection reason.
type ShareRejection struct {
	Message string `json:"message"`
	Count   uint64 `json:"count"`
}
