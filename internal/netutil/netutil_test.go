package netutil

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"
)

func TestParseCIDR(t *testing.T) {
	tests := []struct {
		cidr      string
		wantLen   int
		wantFirst string
		wantLast  string
	}{
		{"192.168.1.0/24", 254, "192.168.1.1", "192.168.1.254"},
		{"192.168.1.77/24", 254, "192.168.1.1", "192.168.1.254"},
		{"10.0.0.0/30", 2, "10.0.0.1", "10.0.0.2"},
		{"10.0.0.8/31", 2, "10.0.0.8", "10.0.0.9"},
		{"10.0.0.5/32", 1, "10.0.0.5", "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			ips, err := ParseCIDR(tt.cidr)
			if err != nil {
				t.Fatalf("ParseCIDR returned error: %v", err)
			}
			if len(ips) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(ips), tt.wantLen)
			}
			if ips[0] != tt.wantFirst || ips[len(ips)-1] != tt.wantLast {
				t.Errorf("range = %s..%s, want %s..%s", ips[0], ips[len(ips)-1], tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestParseCIDR_Errors(t *testing.T) {
	for _, cidr := range []string{"not-a-cidr", "10.0.0.0/8", "fd00::/120"} {
		if _, err := ParseCIDR(cidr); err == nil {
			t.Errorf("ParseCIDR(%q) succeeded, want error", cidr)
		}
	}
}

func TestParseRange(t *testing.T) {
	ips, err := ParseRange("192.168.1.254", "192.168.2.1")
	if err != nil {
		t.Fatalf("ParseRange returned error: %v", err)
	}
	want := []string{"192.168.1.254", "192.168.1.255", "192.168.2.0", "192.168.2.1"}
	if !reflect.DeepEqual(ips, want) {
		t.Errorf("ParseRange = %v, want %v", ips, want)
	}

	if _, err := ParseRange("192.168.1.10", "192.168.1.1"); err == nil {
		t.Error("reversed range succeeded, want error")
	}
}

func TestExpandTargets(t *testing.T) {
	got, err := ExpandTargets([]string{"10.0.0.0/30", " 10.0.0.2-10.0.0.3 ", "bitaxe-01.local", "", "10.0.0.1"})
	if err != nil {
		t.Fatalf("ExpandTargets returned error: %v", err)
	}
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "bitaxe-01.local"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandTargets = %v, want %v", got, want)
	}
}

func TestIsPrivateIP(t *testing.T) {
	cases := map[string]bool{
		"10.1.2.3":    true,
		"172.20.0.1":  true,
		"192.168.0.1": true,
		"8.8.8.8":     false,
		"garbage":     false,
	}
	for ip, want := range cases {
		if got := IsPrivateIP(ip); got != want {
			t.Errorf("IsPrivateIP(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestPortScanner_ScanHosts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	ps := NewPortScanner(WithScanTimeout(500*time.Millisecond), WithScanConcurrency(2))

	open := ps.ScanHosts(context.Background(), []string{"127.0.0.1", "127.0.0.1"}, port)
	if len(open) != 2 {
		t.Errorf("ScanHosts = %v, want both entries open", open)
	}
}
