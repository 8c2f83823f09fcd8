package harvest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/powerhive/axehive/internal/axeostest"
	"github.com/powerhive/axehive/pkg/axeos"
	"github.com/powerhive/axehive/pkg/database"
	"github.com/powerhive/axehive/pkg/discovery"
	"github.com/powerhive/axehive/pkg/miner"
)

func newRepo(t *testing.T) *database.SQLiteRepository {
	t.Helper()
	repo, err := database.NewSQLiteRepository(filepath.Join(t.TempDir(), "harvest.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testConfig(targets ...string) Config {
	cfg := DefaultConfig()
	cfg.Targets = targets
	cfg.Timeout = time.Second
	return cfg
}

func TestRunOnce_StoresSnapshot(t *testing.T) {
	ctx := context.Background()
	dev := axeostest.NewDevice(t.Cleanup)
	repo := newRepo(t)

	// Duplicate and blank targets are dropped.
	h := New(repo, testConfig(dev.Host(), dev.Host(), " "))
	t.Cleanup(h.Close)

	result, err := h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.ID == "" {
		t.Error("cycle ID is empty")
	}
	if result.Targets != 1 || len(result.Polled) != 1 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v", result)
	}

	device, err := repo.GetDeviceByMAC(ctx, "66:F3:55:23:1A:BD")
	if err != nil || device == nil {
		t.Fatalf("GetDeviceByMAC = %v, %v", device, err)
	}
	if device.Host != dev.Host() || !device.IsOnline {
		t.Errorf("device = %+v", device)
	}

	snap, err := repo.LatestSnapshot(ctx, device.ID)
	if err != nil || snap == nil {
		t.Fatalf("LatestSnapshot = %v, %v", snap, err)
	}
	if snap.CycleID != result.ID {
		t.Errorf("CycleID = %q, want %q", snap.CycleID, result.ID)
	}
	if snap.BestDiff != 2_030_000_000 || len(snap.Rejections) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRunOnce_URLTarget(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	h := New(newRepo(t), testConfig(dev.URL))
	t.Cleanup(h.Close)

	result, err := h.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := result.Polled[dev.URL]; !ok {
		t.Errorf("Polled = %v, errors = %v", result.Polled, result.Errors)
	}
}

func TestRunOnce_MarksOffline(t *testing.T) {
	ctx := context.Background()
	dev := axeostest.NewDevice(t.Cleanup)
	repo := newRepo(t)
	h := New(repo, testConfig(dev.Host()))
	t.Cleanup(h.Close)

	if _, err := h.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	dev.SetStatus(http.StatusInternalServerError)
	result, err := h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if result.MarkedOffline != 1 {
		t.Errorf("MarkedOffline = %d, want 1", result.MarkedOffline)
	}
	if got := axeos.KindOf(result.Errors[dev.Host()]); got != axeos.KindStatus {
		t.Errorf("error kind = %v, want %v", got, axeos.KindStatus)
	}

	device, _ := repo.GetDeviceByMAC(ctx, "66:F3:55:23:1A:BD")
	if device == nil || device.IsOnline {
		t.Errorf("device = %+v, want offline", device)
	}

	// Already offline devices are not counted again.
	result, err = h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("third RunOnce: %v", err)
	}
	if result.MarkedOffline != 0 {
		t.Errorf("MarkedOffline = %d on repeat, want 0", result.MarkedOffline)
	}
}

func TestRunOnce_DecodeErrorAndMissingMAC(t *testing.T) {
	bad := axeostest.NewDevice(t.Cleanup)
	bad.SetBody(axeostest.SystemInfoWith("bestDiff", `"5 X"`))
	noMAC := axeostest.NewDevice(t.Cleanup)
	noMAC.SetBody(axeostest.SystemInfoWith("macAddr", `""`))

	h := New(newRepo(t), testConfig(bad.Host(), noMAC.Host()))
	t.Cleanup(h.Close)
	result, err := h.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !errors.Is(result.Errors[bad.Host()], axeos.ErrUnknownUnit) {
		t.Errorf("bad device error = %v, want ErrUnknownUnit", result.Errors[bad.Host()])
	}
	if !errors.Is(result.Errors[noMAC.Host()], ErrNoMAC) {
		t.Errorf("no-MAC device error = %v, want ErrNoMAC", result.Errors[noMAC.Host()])
	}
}

func TestRunOnce_DiscoversNetwork(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	_, portStr, _ := net.SplitHostPort(dev.Host())
	port, _ := strconv.Atoi(portStr)

	scanner := discovery.NewScanner(
		[]miner.FirmwareProber{axeos.NewProber(axeos.WithProberTimeout(time.Second))},
		discovery.WithPort(port),
		discovery.WithTimeout(time.Second),
	)

	cfg := testConfig()
	cfg.Networks = []string{"127.0.0.1/32"}
	h := New(newRepo(t), cfg, WithScanner(scanner))
	t.Cleanup(h.Close)

	result, err := h.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Discovered != 1 {
		t.Fatalf("Discovered = %d, want 1", result.Discovered)
	}
	if _, ok := result.Polled[dev.Host()]; !ok {
		t.Errorf("Polled = %v, want %s", result.Polled, dev.Host())
	}

	// The cached host is reused without rescanning.
	result, err = h.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if result.Discovered != 0 || len(result.Polled) != 1 {
		t.Errorf("second cycle discovered=%d polled=%v", result.Discovered, result.Polled)
	}
}

func TestDiscoveredHosts_Expire(t *testing.T) {
	cfg := testConfig()
	cfg.DiscoveryTTL = 100 * time.Millisecond
	h := New(newRepo(t), cfg)
	t.Cleanup(h.Close)

	scannedAt := time.Now()
	h.discovered.Set("10.0.0.5:80", scannedAt)
	h.discovered.Set("10.0.0.6:80", scannedAt)
	h.discoveredList = []string{"10.0.0.5:80", "10.0.0.6:80"}

	// Repeated reads within the TTL do not extend a host's lifetime.
	for i := 0; i < 5; i++ {
		now := scannedAt.Add(time.Duration(i) * 10 * time.Millisecond)
		if got := h.discoveredHosts(now); len(got) != 2 {
			t.Fatalf("read %d: hosts = %v, want 2", i, got)
		}
	}

	if got := h.discoveredHosts(scannedAt.Add(cfg.DiscoveryTTL)); len(got) != 0 {
		t.Errorf("hosts after TTL = %v, want none", got)
	}
	if len(h.discoveredList) != 0 {
		t.Errorf("discoveredList = %v, want empty", h.discoveredList)
	}
	if v := h.discovered.Get("10.0.0.5:80"); !v.IsZero() {
		t.Errorf("expired host still cached at %v", v)
	}

	// Hosts removed after a failed poll are dropped from the list.
	h.discovered.Set("10.0.0.7:80", time.Now())
	h.discoveredList = []string{"10.0.0.7:80"}
	h.discovered.Delete("10.0.0.7:80")
	if got := h.discoveredHosts(time.Now()); len(got) != 0 {
		t.Errorf("hosts after delete = %v, want none", got)
	}
}

func TestRunOnce_RescansAfterDiscoveryTTL(t *testing.T) {
	first, err := axeostest.NewDeviceAt("127.0.0.2:0", t.Cleanup)
	if err != nil {
		t.Skipf("cannot listen on 127.0.0.2: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(first.Host())
	port, _ := strconv.Atoi(portStr)

	scanner := discovery.NewScanner(
		[]miner.FirmwareProber{axeos.NewProber(axeos.WithProberTimeout(time.Second))},
		discovery.WithPort(port),
		discovery.WithTimeout(time.Second),
	)

	cfg := testConfig()
	cfg.Networks = []string{"127.0.0.2/31"}
	cfg.DiscoveryTTL = 500 * time.Millisecond
	h := New(newRepo(t), cfg, WithScanner(scanner))
	t.Cleanup(h.Close)

	ctx := context.Background()
	result, err := h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	if result.Discovered != 1 || len(result.Polled) != 1 {
		t.Fatalf("first cycle discovered=%d polled=%v", result.Discovered, result.Polled)
	}

	result, err = h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if result.Discovered != 0 || len(result.Polled) != 1 {
		t.Fatalf("second cycle discovered=%d polled=%v, want cached host only", result.Discovered, result.Polled)
	}

	// A device that joins later is found once the discovery TTL has passed.
	second, err := axeostest.NewDeviceAt(net.JoinHostPort("127.0.0.3", portStr), t.Cleanup)
	if err != nil {
		t.Skipf("cannot listen on 127.0.0.3: %v", err)
	}
	second.SetBody(axeostest.SystemInfoWith("macAddr", `"66:F3:55:23:1A:BE"`))
	time.Sleep(cfg.DiscoveryTTL + 100*time.Millisecond)

	result, err = h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("third RunOnce: %v", err)
	}
	if result.Discovered != 2 {
		t.Errorf("third cycle Discovered = %d, want 2", result.Discovered)
	}
	for _, dev := range []*axeostest.Device{first, second} {
		if _, ok := result.Polled[dev.Host()]; !ok {
			t.Errorf("third cycle Polled = %v, missing %s", result.Polled, dev.Host())
		}
	}
}

func TestRun_ClosesDiscoveryCache(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 20 * time.Millisecond
	h := New(newRepo(t), cfg)
	t.Cleanup(h.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	// Close after Run is a no-op.
	h.Close()
}

func TestRunOnce_PrunesOldSnapshots(t *testing.T) {
	ctx := context.Background()
	dev := axeostest.NewDevice(t.Cleanup)
	repo := newRepo(t)

	cfg := testConfig(dev.Host())
	cfg.Retention = time.Hour
	h := New(repo, cfg)
	t.Cleanup(h.Close)

	if _, err := h.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	device, _ := repo.GetDeviceByMAC(ctx, "66:F3:55:23:1A:BD")
	old := &database.Snapshot{DeviceID: device.ID, CycleID: "old", TakenAt: time.Now().Add(-2 * time.Hour)}
	if err := repo.InsertSnapshot(ctx, old); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}

	result, err := h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", result.Pruned)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	cfg := testConfig(dev.Host())
	cfg.Interval = 20 * time.Millisecond
	h := New(newRepo(t), cfg)
	t.Cleanup(h.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := h.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run returned %v, want context.DeadlineExceeded", err)
	}
	if n := dev.Requests(); n < 2 {
		t.Errorf("device polled %d times, want at least 2", n)
	}
}
