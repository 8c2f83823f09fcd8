package axeos

import (
	"context"
	"time"

	"github.com/powerhive/axehive/pkg/miner"
)

// Prober implements miner.FirmwareProber for AxeOS firmware.
type Prober struct {
	timeout time.Duration
	opts    []ClientOption
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProberTimeout sets the probe timeout.
func WithProberTimeout(timeout time.Duration) ProberOption {
	return func(p *Prober) {
		p.timeout = timeout
	}
}

// WithProberClientOptions sets options applied to every client the prober creates.
func WithProberClientOptions(opts ...ClientOption) ProberOption {
	return func(p *Prober) {
		p.opts = append(p.opts, opts...)
	}
}

// NewProber creates a new AxeOS firmware prober.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		timeout: 3 * time.Second,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe attempts to connect and identify AxeOS firmware.
// Implements miner.FirmwareProber.
func (p *Prober) Probe(ctx context.Context, host string) (*miner.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := NewClientForHost(host, p.opts...)
	if err != nil {
		return nil, err
	}

	info, err := client.SystemInfo(ctx)
	if err != nil {
		return nil, err
	}

	if info.ASICModel == "" {
		return nil, ErrNotAxeOSFirmware
	}

	return minerInfo(info, client.baseURL.Hostname()), nil
}

// FirmwareType returns the firmware type this prober detects.
// Implements miner.FirmwareProber.
func (p *Prober) FirmwareType() miner.FirmwareType {
	return miner.FirmwareAxeOS
}

// NewClient creates a client for hosts confirmed to run AxeOS.
// Implements miner.FirmwareProber. It returns nil if host is not a valid host.
func (p *Prober) NewClient(host string) miner.Client {
	client, err := NewClientForHost(host, p.opts...)
	if err != nil {
		return nil
	}
	return client
}

// Ensure Prober implements miner.FirmwareProber.
var _ miner.FirmwareProber = (*Prober)(nil)
