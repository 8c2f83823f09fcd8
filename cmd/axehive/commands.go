package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/powerhive/axehive/internal/api"
	"github.com/powerhive/axehive/internal/harvest"
	"github.com/powerhive/axehive/internal/netutil"
	"github.com/powerhive/axehive/pkg/axeos"
	"github.com/powerhive/axehive/pkg/database"
	"github.com/powerhive/axehive/pkg/discovery"
	"github.com/powerhive/axehive/pkg/miner"
)

func createProbers(cfg *Config, opts ...axeos.ClientOption) []miner.FirmwareProber {
	return []miner.FirmwareProber{axeos.NewProber(
		axeos.WithProberTimeout(cfg.ScanTimeout),
		axeos.WithProberClientOptions(opts...),
	)}
}

// publicTargets returns the scan targets that start outside the private,
// loopback and link-local IPv4 ranges.
// Hostnames are not resolved and never reported.
func publicTargets(targets []string) []string {
	var public []string
	for _, t := range targets {
		t = strings.TrimSpace(t)
		ip := t
		switch {
		case strings.Contains(t, "/"):
			ip, _, _ = strings.Cut(t, "/")
		case strings.Contains(t, "-"):
			ip, _, _ = strings.Cut(t, "-")
		}
		ip = strings.TrimSpace(ip)
		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || netutil.IsPrivateIP(ip) {
			continue
		}
		public = append(public, t)
	}
	return public
}

func newDeviceClient(target string) (*axeos.HTTPClient, error) {
	if strings.Contains(target, "://") {
		return axeos.NewClient(target)
	}
	return axeos.NewClientForHost(target)
}

// runInfo prints the decoded SystemInfo of one device as indented JSON.
func runInfo(ctx context.Context, w io.Writer, target string) error {
	client, err := newDeviceClient(target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, axeos.DefaultTimeout)
	defer cancel()

	info, err := client.SystemInfo(ctx)
	if err != nil {
		return err
	}

	out, err := sonic.ConfigStd.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func runDetect(ctx context.Context, w io.Writer, host string, cfg *Config) error {
	detector := discovery.NewDetector(createProbers(cfg), discovery.WithDetectorTimeout(cfg.ScanTimeout))

	discovered, err := detector.DetectMiner(ctx, host)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	fmt.Fprintf(w, "AxeOS device detected:\n")
	fmt.Fprintf(w, "  Host:          %s\n", discovered.Host)
	fmt.Fprintf(w, "  Hostname:      %s\n", discovered.Hostname)
	fmt.Fprintf(w, "  MAC:           %s\n", discovered.MAC)
	fmt.Fprintf(w, "  ASIC:          %s\n", discovered.Model)
	fmt.Fprintf(w, "  Board:         %s\n", discovered.Board)
	fmt.Fprintf(w, "  Firmware:      %s %s\n", discovered.Firmware, discovered.FirmwareVersion)
	fmt.Fprintf(w, "  State:         %s\n", discovered.State)
	return nil
}

func runScan(ctx context.Context, w io.Writer, targets []string, cfg *Config) error {
	scanner := discovery.NewScanner(createProbers(cfg),
		discovery.WithTimeout(cfg.ScanTimeout),
		discovery.WithRateLimit(cfg.ScanRate),
	)

	for _, t := range publicTargets(targets) {
		fmt.Fprintf(w, "Warning: %s is not a private network address\n", t)
	}
	fmt.Fprintf(w, "Scanning %s for AxeOS devices...\n", strings.Join(targets, ", "))

	result, err := scanner.ScanTargets(ctx, targets)
	if err != nil && result == nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Fprintf(w, "\nScan completed in %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Scanned IPs: %d, Responsive: %d, Devices found: %d\n",
		result.ScannedIPs, result.ResponsiveHosts, len(result.Miners))

	if len(result.Miners) > 0 {
		fmt.Fprintln(w, "\nDiscovered Devices:")
		fmt.Fprintln(w, "-------------------")
		for _, m := range result.Miners {
			state := m.State
			if state == "" {
				state = "unknown"
			}
			fmt.Fprintf(w, "  %-21s - %-17s %-8s (%s %s) [%s]\n",
				m.Host, m.MAC, m.Model, m.Firmware, m.FirmwareVersion, state)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\nHosts with errors: %d (not AxeOS or connection failed)\n", len(result.Errors))
	}
	return err
}

func runList(ctx context.Context, w io.Writer, cfg *Config) error {
	repo, err := database.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	devices, err := database.ListDevicesWithLatest(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices in database")
		return nil
	}

	fmt.Fprintf(w, "%-8s %-21s %-17s %-8s %-12s %-10s %s\n", "STATUS", "HOST", "MAC", "ASIC", "HASHRATE", "TEMP", "LAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 96))

	for _, d := range devices {
		status := "OFFLINE"
		if d.Device.IsOnline {
			status = "ONLINE"
		}
		hashrate, temp := "-", "-"
		if s := d.Latest; s != nil {
			hashrate = fmt.Sprintf("%.1f GH/s", s.Hashrate)
			temp = fmt.Sprintf("%.1f C", s.Temp)
		}
		fmt.Fprintf(w, "%-8s %-21s %-17s %-8s %-12s %-10s %s\n",
			status, d.Device.Host, d.Device.MACAddress, d.Device.ASICModel,
			hashrate, temp, d.Device.LastSeenAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

// newHarvester opens the database and builds a harvester from cfg.
func newHarvester(cfg *Config, logger *log.Logger) (*harvest.Harvester, *database.SQLiteRepository, error) {
	targets, err := cfg.Targets()
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 && len(cfg.NetworkCIDRs) == 0 {
		return nil, nil, fmt.Errorf("nothing to harvest: set AXEHIVE_HOSTS, AXEHIVE_INVENTORY or NETWORK_CIDR")
	}

	repo, err := database.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	clientLogger := axeos.WithLogger(logger.WithPrefix("axeos"))
	scanner := discovery.NewScanner(createProbers(cfg, clientLogger),
		discovery.WithTimeout(cfg.ScanTimeout),
		discovery.WithRateLimit(cfg.ScanRate),
	)

	h := harvest.New(repo, harvest.Config{
		Targets:      targets,
		Networks:     cfg.NetworkCIDRs,
		Interval:     cfg.HarvestInterval,
		Concurrency:  cfg.Concurrency,
		Timeout:      cfg.ScanTimeout,
		DiscoveryTTL: cfg.DiscoveryTTL,
		Retention:    cfg.Retention,
	},
		harvest.WithLogger(logger.WithPrefix("harvest")),
		harvest.WithScanner(scanner),
		harvest.WithClientOptions(clientLogger),
	)
	return h, repo, nil
}

func runHarvest(ctx context.Context, cfg *Config, logger *log.Logger) error {
	h, repo, err := newHarvester(cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	return h.Run(ctx)
}

// runServe runs the harvester and the API until ctx is cancelled.
func runServe(ctx context.Context, cfg *Config, logger *log.Logger) error {
	h, repo, err := newHarvester(cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := api.NewServer(repo,
		api.WithCycleReporter(h),
		api.WithLogger(logger.WithPrefix("api")),
	)

	var (
		wg       sync.WaitGroup
		serveErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr = server.Start(ctx, cfg.APIAddr)
		// A failed listener stops harvesting too.
		cancel()
	}()

	harvestErr := h.Run(ctx)
	cancel()
	wg.Wait()

	if serveErr != nil {
		return serveErr
	}
	return harvestErr
}
