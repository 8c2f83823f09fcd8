// Package harvest polls AxeOS devices on an interval and stores their telemetry.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/powerhive/axehive/pkg/axeos"
	"github.com/powerhive/axehive/pkg/database"
	"github.com/powerhive/axehive/pkg/discovery"
	"github.com/powerhive/axehive/pkg/miner"
)

// ErrNoMAC is returned for devices that do not report a MAC address.
var ErrNoMAC = errors.New("device did not report a MAC address")

// Config controls what a Harvester polls and how often.
type Config struct {
	// Targets are polled every cycle. Each is a base URL or a host[:port].
	Targets []string

	// Networks are CIDRs rescanned for devices every DiscoveryTTL, or sooner
	// when no discovered device is left.
	Networks []string

	Interval     time.Duration
	Concurrency  int
	Timeout      time.Duration
	DiscoveryTTL time.Duration

	// Retention is how long snapshots are kept. Zero keeps them forever.
	Retention time.Duration
}

// DefaultConfig returns the harvester defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		Concurrency:  10,
		Timeout:      3 * time.Second,
		DiscoveryTTL: 10 * time.Minute,
		Retention:    7 * 24 * time.Hour,
	}
}

// CycleResult summarizes one harvest cycle.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	// Targets is the number of addresses polled.
	Targets int

	// Polled maps each successfully polled target to its device ID.
	Polled map[string]int64

	// Errors contains poll errors keyed by target.
	Errors map[string]error

	// Discovered is the number of devices found by a network rescan this cycle.
	Discovered int

	// MarkedOffline is the number of devices that went offline this cycle.
	MarkedOffline int

	// Pruned is the number of snapshots removed by retention.
	Pruned int64
}

// Harvester collects SystemInfo snapshots from AxeOS devices.
type Harvester struct {
	repo       database.Repository
	mapper     *database.AxeOSMapper
	scanner    *discovery.Scanner
	clientOpts []axeos.ClientOption
	logger     *log.Logger
	cfg        Config

	// cycleMu serializes cycles and guards the discovery state below.
	cycleMu sync.Mutex

	// discovered maps a scanned host to the time of the scan that found it.
	// Entries are checked with Get against DiscoveryTTL; Range would refresh them.
	discovered     *ttlworker.Cache[string, time.Time]
	discoveredList []string
	lastScan       time.Time
	closeOnce      sync.Once

	lastMu sync.RWMutex
	last   *CycleResult
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithLogger sets the harvester logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Harvester) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithScanner sets the scanner used to rescan Config.Networks.
func WithScanner(s *discovery.Scanner) Option {
	return func(h *Harvester) {
		h.scanner = s
	}
}

// WithClientOptions sets options applied to every device client.
func WithClientOptions(opts ...axeos.ClientOption) Option {
	return func(h *Harvester) {
		h.clientOpts = append(h.clientOpts, opts...)
	}
}

// New creates a harvester storing into repo.
func New(repo database.Repository, cfg Config, opts ...Option) *Harvester {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = def.DiscoveryTTL
	}

	h := &Harvester{
		repo:       repo,
		mapper:     database.NewAxeOSMapper(),
		discovered: ttlworker.NewCache[string, time.Time](cfg.DiscoveryTTL),
		logger:     log.New(io.Discard),
		cfg:        cfg,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.scanner == nil && len(cfg.Networks) > 0 {
		h.scanner = discovery.NewScanner(
			[]miner.FirmwareProber{axeos.NewProber(axeos.WithProberTimeout(cfg.Timeout))},
			discovery.WithTimeout(cfg.Timeout),
		)
	}

	return h
}

// Run harvests once immediately and then every Config.Interval until ctx is cancelled.
// The harvester is closed when Run returns.
func (h *Harvester) Run(ctx context.Context) error {
	h.logger.Info("harvester started", "interval", h.cfg.Interval, "targets", len(h.cfg.Targets), "networks", len(h.cfg.Networks))

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	defer h.Close()

	for {
		if _, err := h.RunOnce(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("harvest cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			h.logger.Info("harvester stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single harvest cycle.
func (h *Harvester) RunOnce(ctx context.Context) (*CycleResult, error) {
	h.cycleMu.Lock()
	defer h.cycleMu.Unlock()

	result := &CycleResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Polled:    make(map[string]int64),
		Errors:    make(map[string]error),
	}
	logger := h.logger.With("cycle", result.ID[:8])

	targets := h.resolveTargets(ctx, result, logger)
	result.Targets = len(targets)

	h.pollAll(ctx, targets, result, logger)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := h.markOffline(ctx, result, logger); err != nil {
		return result, fmt.Errorf("mark offline: %w", err)
	}

	if h.cfg.Retention > 0 {
		pruned, err := h.repo.DeleteSnapshotsBefore(ctx, time.Now().Add(-h.cfg.Retention))
		if err != nil {
			return result, fmt.Errorf("prune snapshots: %w", err)
		}
		result.Pruned = pruned
	}

	result.Duration = time.Since(result.StartedAt)
	h.lastMu.Lock()
	h.last = result
	h.lastMu.Unlock()

	logger.Info("harvest complete",
		"targets", result.Targets,
		"ok", len(result.Polled),
		"failed", len(result.Errors),
		"offline", result.MarkedOffline,
		"pruned", result.Pruned,
		"elapsed", result.Duration.Round(time.Millisecond))
	return result, nil
}

// LastCycle returns the result of the most recent completed cycle, or nil.
func (h *Harvester) LastCycle() *CycleResult {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	return h.last
}

// resolveTargets merges the static targets with the discovered hosts,
// rescanning the configured networks once DiscoveryTTL has passed since the last scan
// or when every discovered host has been dropped.
func (h *Harvester) resolveTargets(ctx context.Context, result *CycleResult, logger *log.Logger) []string {
	seen := make(map[string]struct{})
	var targets []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}

	for _, t := range h.cfg.Targets {
		add(t)
	}

	discovered := h.discoveredHosts(time.Now())
	if h.scanner != nil && len(h.cfg.Networks) > 0 &&
		(len(discovered) == 0 || time.Since(h.lastScan) >= h.cfg.DiscoveryTTL) {
		h.rescan(ctx, result, logger)
		discovered = h.discoveredHosts(time.Now())
	}

	for _, host := range discovered {
		add(host)
	}
	return targets
}

// rescan replaces the discovered hosts with the devices found on Config.Networks.
func (h *Harvester) rescan(ctx context.Context, result *CycleResult, logger *log.Logger) {
	scannedAt := time.Now()
	var found []string
	for _, network := range h.cfg.Networks {
		scan, err := h.scanner.ScanNetwork(ctx, network)
		if err != nil {
			logger.Warn("network scan failed", "network", network, "err", err)
			continue
		}
		for _, m := range scan.Miners {
			h.discovered.Set(m.Host, scannedAt)
			found = append(found, m.Host)
		}
		logger.Info("network scanned", "network", network, "found", len(scan.Miners), "elapsed", scan.Duration.Round(time.Millisecond))
	}

	for _, host := range h.discoveredList {
		if !slices.Contains(found, host) {
			h.discovered.Delete(host)
		}
	}
	sort.Strings(found)
	h.discoveredList = slices.Compact(found)
	h.lastScan = scannedAt
	result.Discovered = len(h.discoveredList)
}

// discoveredHosts returns the discovered hosts whose scan is younger than
// DiscoveryTTL at now, dropping the rest.
func (h *Harvester) discoveredHosts(now time.Time) []string {
	live := h.discoveredList[:0]
	for _, host := range h.discoveredList {
		scannedAt := h.discovered.Get(host)
		if scannedAt.IsZero() || now.Sub(scannedAt) >= h.cfg.DiscoveryTTL {
			h.discovered.Delete(host)
			continue
		}
		live = append(live, host)
	}
	h.discoveredList = live
	return slices.Clone(live)
}

// Close stops the discovery cache. The harvester must not be used afterwards.
// Close may be called more than once.
func (h *Harvester) Close() {
	h.closeOnce.Do(h.discovered.Destroy)
}

func (h *Harvester) pollAll(ctx context.Context, targets []string, result *CycleResult, logger *log.Logger) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, h.cfg.Concurrency)
	)

pollLoop:
	for _, target := range targets {
		select {
		case <-ctx.Done():
			break pollLoop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer func() { <-sem }()

			deviceID, err := h.pollOne(ctx, target, result.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("poll failed", "target", target, "kind", axeos.KindOf(err), "err", err)
				result.Errors[target] = err
				// Forget discovered hosts that stopped answering so a rescan can find them again.
				h.discovered.Delete(target)
				return
			}
			logger.Debug("polled", "target", target, "device", deviceID)
			result.Polled[target] = deviceID
		}(target)
	}

	wg.Wait()
}

// pollOne fetches SystemInfo from target and stores the device and a snapshot.
func (h *Harvester) pollOne(ctx context.Context, target, cycleID string) (int64, error) {
	client, err := h.newClient(target)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	info, err := client.SystemInfo(ctx)
	if err != nil {
		return 0, err
	}
	if info.MACAddr == "" {
		return 0, ErrNoMAC
	}

	device := h.mapper.MapDevice(info, client.Host())
	if err := h.repo.UpsertDeviceByMAC(ctx, device); err != nil {
		return 0, fmt.Errorf("upsert device: %w", err)
	}

	snapshot := h.mapper.MapSnapshot(info, device.ID, cycleID, time.Now())
	if err := h.repo.InsertSnapshot(ctx, snapshot); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return device.ID, nil
}

func (h *Harvester) newClient(target string) (*axeos.HTTPClient, error) {
	if strings.Contains(target, "://") {
		return axeos.NewClient(target, h.clientOpts...)
	}
	return axeos.NewClientForHost(target, h.clientOpts...)
}

// markOffline flags every online device that was not polled successfully this cycle.
func (h *Harvester) markOffline(ctx context.Context, result *CycleResult, logger *log.Logger) error {
	devices, err := h.repo.ListDevices(ctx)
	if err != nil {
		return err
	}

	polled := make(map[int64]bool, len(result.Polled))
	for _, id := range result.Polled {
		polled[id] = true
	}

	for _, d := range devices {
		if !d.IsOnline || polled[d.ID] {
			continue
		}
		if err := h.repo.SetDeviceOnline(ctx, d.ID, false); err != nil {
			return err
		}
		result.MarkedOffline++
		logger.Info("device offline", "mac", d.MACAddress, "host", d.Host)
	}
	return nil
}
