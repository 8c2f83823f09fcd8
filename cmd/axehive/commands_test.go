package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/powerhive/axehive/internal/axeostest"
	"github.com/powerhive/axehive/pkg/axeos"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "axehive.db")
	cfg.ScanTimeout = time.Second
	cfg.LogLevel = "error"
	return cfg
}

func TestRunInfo(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)

	for _, target := range []string{dev.URL, dev.Host()} {
		var out bytes.Buffer
		if err := runInfo(context.Background(), &out, target); err != nil {
			t.Fatalf("runInfo(%q): %v", target, err)
		}

		var got map[string]any
		if err := json.Unmarshal(out.Bytes(), &got); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out.String())
		}
		if got["best_diff"] != float64(2_030_000_000) || got["mac_addr"] != "66:F3:55:23:1A:BD" {
			t.Errorf("unexpected output %s", out.String())
		}
		if !strings.Contains(out.String(), "\n  \"") {
			t.Errorf("output is not indented:\n%s", out.String())
		}
	}
}

func TestRunInfo_Errors(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	dev.SetBody(axeostest.SystemInfoWith("hashRate", `"fast"`))

	err := runInfo(context.Background(), &bytes.Buffer{}, dev.URL)
	if axeos.KindOf(err) != axeos.KindDecode {
		t.Errorf("decode failure: err = %v", err)
	}

	err = runInfo(context.Background(), &bytes.Buffer{}, "ftp://bitaxe")
	if axeos.KindOf(err) != axeos.KindURL {
		t.Errorf("bad URL: err = %v", err)
	}
}

func TestRunDetect(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)

	var out bytes.Buffer
	if err := runDetect(context.Background(), &out, dev.Host(), testConfig(t)); err != nil {
		t.Fatalf("runDetect: %v", err)
	}
	if !strings.Contains(out.String(), "66:F3:55:23:1A:BD") || !strings.Contains(out.String(), "BM1370") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunScan_Summary(t *testing.T) {
	var out bytes.Buffer
	if err := runScan(context.Background(), &out, []string{"127.0.0.1"}, testConfig(t)); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if !strings.Contains(out.String(), "Scanned IPs: 1") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunScan_WarnsOnPublicTargets(t *testing.T) {
	var out bytes.Buffer
	if err := runScan(context.Background(), &out, []string{"127.0.0.1", "192.0.2.1"}, testConfig(t)); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if !strings.Contains(out.String(), "Warning: 192.0.2.1 is not a private network address") {
		t.Errorf("missing warning:\n%s", out.String())
	}
}

func TestPublicTargets(t *testing.T) {
	targets := []string{
		"192.168.1.0/24",
		"10.0.0.1-10.0.0.9",
		"172.16.4.20",
		"127.0.0.1",
		"169.254.1.1",
		"bitaxe.local",
		"8.8.8.0/30",
		"1.1.1.1 - 1.1.1.3",
		"203.0.113.7",
		"",
	}
	got := publicTargets(targets)
	want := []string{"8.8.8.0/30", "1.1.1.1 - 1.1.1.3", "203.0.113.7"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("publicTargets = %q, want %q", got, want)
	}
}

type countingTransport struct {
	requests atomic.Int64
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.requests.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestCreateProbers_ClientOptions(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	rt := &countingTransport{}

	probers := createProbers(testConfig(t), axeos.WithTransport(rt))
	if len(probers) != 1 {
		t.Fatalf("got %d probers, want 1", len(probers))
	}
	if _, err := probers[0].Probe(context.Background(), dev.Host()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rt.requests.Load() == 0 {
		t.Error("prober did not use the configured transport")
	}
}

func TestRunList(t *testing.T) {
	cfg := testConfig(t)

	var out bytes.Buffer
	if err := runList(context.Background(), &out, cfg); err != nil {
		t.Fatalf("runList: %v", err)
	}
	if !strings.Contains(out.String(), "No devices") {
		t.Errorf("empty database output:\n%s", out.String())
	}

	dev := axeostest.NewDevice(t.Cleanup)
	cfg.Hosts = []string{dev.Host()}
	h, repo, err := newHarvester(cfg, newLogger(cfg.LogLevel))
	if err != nil {
		t.Fatalf("newHarvester: %v", err)
	}
	_, err = h.RunOnce(context.Background())
	h.Close()
	repo.Close()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	out.Reset()
	if err := runList(context.Background(), &out, cfg); err != nil {
		t.Fatalf("runList: %v", err)
	}
	if !strings.Contains(out.String(), "ONLINE") || !strings.Contains(out.String(), "1184.8 GH/s") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestNewHarvester_NothingToDo(t *testing.T) {
	_, _, err := newHarvester(testConfig(t), newLogger("error"))
	if err == nil || !strings.Contains(err.Error(), "nothing to harvest") {
		t.Errorf("err = %v", err)
	}
}

func TestRunServe_StopsOnCancel(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	cfg := testConfig(t)
	cfg.Hosts = []string{dev.Host()}
	cfg.APIAddr = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := runServe(ctx, cfg, newLogger("error"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("runServe returned %v, want context.DeadlineExceeded", err)
	}
	if dev.Requests() == 0 {
		t.Error("device was never polled")
	}
}
