package discovery

import (
	"context"
	"time"

	"github.com/powerhive/axehive/pkg/miner"
)

// Detector identifies the device at a single address.
type Detector struct {
	multiProber *MultiProber
	timeout     time.Duration
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorTimeout sets the detection timeout.
func WithDetectorTimeout(timeout time.Duration) DetectorOption {
	return func(d *Detector) {
		d.timeout = timeout
	}
}

// NewDetector creates a new detector over the given firmware probers.
func NewDetector(probers []miner.FirmwareProber, opts ...DetectorOption) *Detector {
	d := &Detector{
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.multiProber = NewMultiProber(probers, WithMultiProberTimeout(d.timeout))

	return d
}

// DetectMiner identifies the device at host, which may include a port.
func (d *Detector) DetectMiner(ctx context.Context, host string) (*DiscoveredMiner, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.multiProber.Probe(ctx, host)
	if err != nil {
		return nil, err
	}

	state := ""
	if status, err := result.Client.GetMinerStatus(ctx); err == nil && status != nil {
		state = status.State
	}

	return &DiscoveredMiner{
		Host:            host,
		Hostname:        result.Info.Hostname,
		MAC:             result.Info.MAC,
		Model:           result.Info.Model,
		Board:           result.Info.Board,
		Firmware:        result.Info.Firmware,
		FirmwareVersion: result.Info.FirmwareVersion,
		State:           state,
		FirmwareType:    result.FirmwareType,
		DiscoveredAt:    time.Now(),
	}, nil
}

// GetClient returns a client for the firmware detected at host.
func (d *Detector) GetClient(ctx context.Context, host string) (miner.Client, miner.FirmwareType, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.multiProber.Probe(ctx, host)
	if err != nil {
		return nil, miner.FirmwareUnknown, err
	}

	return result.Client, result.FirmwareType, nil
}
