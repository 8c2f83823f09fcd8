package database

import (
	"time"

	"github.com/powerhive/axehive/pkg/axeos"
)

// AxeOSMapper converts AxeOS API responses to database models.
type AxeOSMapper struct{}

// NewAxeOSMapper creates a new AxeOS mapper.
func NewAxeOSMapper() *AxeOSMapper {
	return &AxeOSMapper{}
}

// MapDevice converts SystemInfo to a Device polled on host.
func (m *AxeOSMapper) MapDevice(info *axeos.SystemInfo, host string) *Device {
	return &Device{
		MACAddress:      info.MACAddr,
		Host:            host,
		Hostname:        info.Hostname,
		ASICModel:       info.ASICModel,
		BoardVersion:    info.BoardVersion,
		FirmwareVersion: info.Version,
		AxeOSVersion:    info.AxeOSVersion,
	}
}

// MapSnapshot converts SystemInfo to a Snapshot for deviceID.
// Pool fields describe the active pool, fallback or primary.
func (m *AxeOSMapper) MapSnapshot(info *axeos.SystemInfo, deviceID int64, cycleID string, takenAt time.Time) *Snapshot {
	pool := info.ActivePool()

	s := &Snapshot{
		DeviceID:         deviceID,
		CycleID:          cycleID,
		TakenAt:          takenAt.UTC(),
		Hashrate:         info.Hashrate,
		ExpectedHashrate: info.ExpectedHashrate,
		BestDiff:         info.BestDiff,
		BestSessionDiff:  info.BestSessionDiff,
		PoolDifficulty:   info.PoolDifficulty,
		SharesAccepted:   info.SharesAccepted,
		SharesRejected:   info.SharesRejected,
		BlockFound:       info.BlockFound,
		Temp:             info.Temp,
		TempTarget:       info.TempTarget,
		FanRPM:           info.FanRPM,
		FanSpeed:         info.FanSpeed,
		AutoFanSpeed:     info.AutoFanSpeed,
		Frequency:        info.Frequency,
		WifiRSSI:         info.WifiRSSI,
		StratumURL:       pool.URL,
		StratumPort:      pool.Port,
		StratumUser:      pool.User,
		UsingFallback:    info.IsUsingFallbackStratum,
		OverheatMode:     info.OverheatProtectionMode,
		UptimeSeconds:    info.UptimeSeconds,
		Rejections:       make([]ShareRejection, 0, len(info.SharesRejectedReasons)),
	}
	if info.StratumLatency != nil {
		latency := *info.StratumLatency
		s.StratumLatency = &latency
	}
	for _, r := range info.SharesRejectedReasons {
		s.Rejections = append(s.Rejections, ShareRejection{Message: r.Message, Count: r.Count})
	}
	return s
}
