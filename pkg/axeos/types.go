// Package axeos provides a client for the AxeOS HTTP API served by Bitaxe
// mining devices, and a strict decoder for its system info payload.
package axeos

// ShareRejectedReason counts rejected shares for a single pool rejection message.
type ShareRejectedReason struct {
	Message string `json:"message"`
	Count   uint64 `json:"count"`
}

// SystemInfo is the decoded /api/system/info payload.
// Each call returns a freshly built value owned by the caller.
type SystemInfo struct {
	// Identity and firmware
	ASICModel    string `json:"asic_model"`
	Version      string `json:"version"`
	AxeOSVersion string `json:"axe_os_version"`
	BoardVersion string `json:"board_version"`

	// Pool configuration
	StratumURL             string `json:"stratum_url"`
	StratumPort            uint16 `json:"stratum_port"`
	StratumUser            string `json:"stratum_user"`
	IsUsingFallbackStratum bool   `json:"is_using_fallback_stratum"`
	FallbackStratumURL     string `json:"fallback_stratum_url"`
	FallbackStratumPort    uint16 `json:"fallback_stratum_port"`
	FallbackStratumUser    string `json:"fallback_stratum_user"`

	// StratumLatency is the pool response time in ms. Nil until the firmware
	// has taken a measurement.
	StratumLatency *float64 `json:"stratum_latency,omitempty"`

	// Performance
	Hashrate         float64 `json:"hashrate"`
	ExpectedHashrate float64 `json:"expected_hashrate"`
	BestDiff         uint64  `json:"best_diff"`
	BestSessionDiff  uint64  `json:"best_session_diff"`
	PoolDifficulty   uint64  `json:"pool_difficulty"`

	// Shares
	SharesAccepted        uint64                `json:"shares_accepted"`
	SharesRejected        uint64                `json:"shares_rejected"`
	SharesRejectedReasons []ShareRejectedReason `json:"shares_rejected_reasons"`
	BlockFound            bool                  `json:"block_found"`

	// Thermal and fan
	AutoFanSpeed bool    `json:"auto_fan_speed"` // true if auto, false if manual
	FanRPM       int64   `json:"fan_rpm"`
	FanSpeed     float64 `json:"fan_speed"`
	Temp         float64 `json:"temp"`
	TempTarget   float64 `json:"temp_target"`

	// Hardware and network
	Frequency              int64  `json:"frequency"`
	Hostname               string `json:"hostname"`
	SSID                   string `json:"ssid"`
	WifiRSSI               int64  `json:"wifi_rssi"`
	WifiStatus             string `json:"wifi_status"`
	MACAddr                string `json:"mac_addr"`
	APEnabled              bool   `json:"ap_enabled"`
	IsPSRAMAvailable       bool   `json:"is_psram_available"`
	OverclockEnabled       bool   `json:"overclock_enabled"`
	OverheatProtectionMode bool   `json:"overheat_protection_mode"`

	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// Pool identifies a stratum connection.
type Pool struct {
	URL  string
	Port uint16
	User string
}

// ActivePool returns the pool the device is currently mining on.
func (s *SystemInfo) ActivePool() Pool {
	if s.IsUsingFallbackStratum {
		return Pool{URL: s.FallbackStratumURL, Port: s.FallbackStratumPort, User: s.FallbackStratumUser}
	}
	return Pool{URL: s.StratumURL, Port: s.StratumPort, User: s.StratumUser}
}

// ShareRejectRate returns rejected / (accepted + rejected), or 0 when no shares were submitted.
func (s *SystemInfo) ShareRejectRate() float64 {
	total := s.SharesAccepted + s.SharesRejected
	if total == 0 {
		return 0
	}
	return float64(s.SharesRejected) / float64(total)
}

// HashrateRatio returns the measured hashrate relative to the expected hashrate.
func (s *SystemInfo) HashrateRatio() float64 {
	if s.ExpectedHashrate == 0 {
		return 0
	}
	return s.Hashrate / s.ExpectedHashrate
}
