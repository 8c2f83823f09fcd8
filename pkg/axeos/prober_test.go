package axeos

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/powerhive/axehive/internal/axeostest"
	"github.com/powerhive/axehive/pkg/miner"
)

func TestProber_Probe(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	p := NewProber(WithProberTimeout(time.Second))

	info, err := p.Probe(context.Background(), dev.Host())
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if info.Miner != "Bitaxe BM1370" {
		t.Errorf("Miner = %q", info.Miner)
	}
	if info.MAC != "66:F3:55:23:1A:BD" {
		t.Errorf("MAC = %q", info.MAC)
	}
	if p.FirmwareType() != miner.FirmwareAxeOS {
		t.Errorf("FirmwareType = %q", p.FirmwareType())
	}

	client := p.NewClient(dev.Host())
	if client == nil || client.Host() != dev.Host() {
		t.Fatalf("NewClient(%q) = %v", dev.Host(), client)
	}
}

func TestProber_NotAxeOS(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	dev.SetBody(axeostest.SystemInfoWith("ASICModel", `""`))

	_, err := NewProber().Probe(context.Background(), dev.Host())
	if !errors.Is(err, ErrNotAxeOSFirmware) {
		t.Fatalf("error = %v, want ErrNotAxeOSFirmware", err)
	}
}

func TestProber_OtherHTTPServer(t *testing.T) {
	dev := axeostest.NewDevice(t.Cleanup)
	dev.SetStatus(http.StatusNotFound)

	_, err := NewProber().Probe(context.Background(), dev.Host())
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want 404 status error", err)
	}
}
