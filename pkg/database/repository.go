package database

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceNotFound is returned when a device lookup has no match.
var ErrDeviceNotFound = errors.New("device not found")

// Repository defines the interface for device and telemetry storage.
type Repository interface {
	Close() error

	// Devices
	UpsertDeviceByMAC(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id int64) (*Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*Device, error)
	GetDeviceByHost(ctx context.Context, host string) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)
	SetDeviceOnline(ctx context.Context, id int64, online bool) error

	// Snapshots
	InsertSnapshot(ctx context.Context, s *Snapshot) error
	LatestSnapshot(ctx context.Context, deviceID int64) (*Snapshot, error)
	ListSnapshots(ctx context.Context, deviceID int64, from, to time.Time) ([]*Snapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
}

// DeviceWithLatest pairs a device with its most recent snapshot, if any.
type DeviceWithLatest struct {
	Device *Device   `json:"device"`
	Latest *Snapshot `json:"latest,omitempty"`
}

// ListDevicesWithLatest lists every device together with its latest snapshot.
func ListDevicesWithLatest(ctx context.Context, repo Repository) ([]DeviceWithLatest, error) {
	devices, err := repo.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]DeviceWithLatest, 0, len(devices))
	for _, d := range devices {
		latest, err := repo.LatestSnapshot(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, DeviceWithLatest{Device: d, Latest: latest})
	}
	return out, nil
}
