package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/powerhive/axehive/pkg/miner"
)

// ErrNotMiner indicates no prober recognized the host.
var ErrNotMiner = errors.New("host is not a recognized miner")

// ProbeResult contains the result of a firmware probe.
type ProbeResult struct {
	Info         *miner.Info
	FirmwareType miner.FirmwareType
	Client       miner.Client
}

// MultiProber tries multiple firmware probers to detect the firmware type.
type MultiProber struct {
	probers []miner.FirmwareProber
	timeout time.Duration
}

// MultiProberOption configures a MultiProber.
type MultiProberOption func(*MultiProber)

// WithMultiProberTimeout sets the overall timeout for one host.
func WithMultiProberTimeout(timeout time.Duration) MultiProberOption {
	return func(mp *MultiProber) {
		mp.timeout = timeout
	}
}

// NewMultiProber creates a new multi-prober. Probers are tried in order.
func NewMultiProber(probers []miner.FirmwareProber, opts ...MultiProberOption) *MultiProber {
	mp := &MultiProber{
		probers: probers,
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(mp)
	}

	return mp
}

// Probe returns the first successful probe result for host.
func (mp *MultiProber) Probe(ctx context.Context, host string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, mp.timeout)
	defer cancel()

	var lastErr error

	for _, prober := range mp.probers {
		info, err := prober.Probe(ctx, host)
		if err == nil && info != nil {
			client := prober.NewClient(host)
			if client == nil {
				lastErr = fmt.Errorf("%s: cannot create client for %s", prober.FirmwareType(), host)
				continue
			}
			return &ProbeResult{
				Info:         info,
				FirmwareType: prober.FirmwareType(),
				Client:       client,
			}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotMiner
}

// DetectFirmwareType detects just the firmware type without returning a client.
func (mp *MultiProber) DetectFirmwareType(ctx context.Context, host string) (miner.FirmwareType, error) {
	result, err := mp.Probe(ctx, host)
	if err != nil {
		return miner.FirmwareUnknown, err
	}
	return result.FirmwareType, nil
}
