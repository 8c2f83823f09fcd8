package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the axehive CLI.
type Config struct {
	// Database
	DBPath string

	// Devices polled every cycle (base URLs or host[:port]).
	Hosts []string

	// Network (comma-separated CIDRs supported via NETWORK_CIDR env var)
	NetworkCIDRs []string

	// Harvesting
	HarvestInterval time.Duration
	Concurrency     int
	ScanTimeout     time.Duration
	ScanRate        int
	DiscoveryTTL    time.Duration
	Retention       time.Duration

	// API
	APIAddr string

	LogLevel      string
	InventoryPath string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DBPath:          "axehive.db",
		HarvestInterval: 30 * time.Second,
		Concurrency:     10,
		ScanTimeout:     3 * time.Second,
		DiscoveryTTL:    10 * time.Minute,
		Retention:       168 * time.Hour,
		APIAddr:         ":8080",
		LogLevel:        "info",
	}
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv("AXEHIVE_DB"); v != "" {
		cfg.DBPath = v
	}
	cfg.Hosts = splitList(os.Getenv("AXEHIVE_HOSTS"))
	cfg.NetworkCIDRs = splitList(os.Getenv("NETWORK_CIDR"))
	if d, ok := envDuration("HARVEST_INTERVAL"); ok {
		cfg.HarvestInterval = d
	}
	if n, ok := envInt("HARVEST_CONCURRENCY"); ok && n > 0 {
		cfg.Concurrency = n
	}
	if d, ok := envDuration("SCAN_TIMEOUT"); ok {
		cfg.ScanTimeout = d
	}
	if n, ok := envInt("SCAN_RATE"); ok && n >= 0 {
		cfg.ScanRate = n
	}
	if d, ok := envDuration("DISCOVERY_TTL"); ok {
		cfg.DiscoveryTTL = d
	}
	if d, ok := envDuration("RETENTION"); ok {
		cfg.Retention = d
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("AXEHIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.InventoryPath = os.Getenv("AXEHIVE_INVENTORY")

	return cfg
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envDuration parses a positive duration; RETENTION may also be 0 to keep everything.
func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 || (d == 0 && key != "RETENTION") {
		return 0, false
	}
	return d, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// =============================================================================
// Inventory
// =============================================================================

// InventoryDevice is a named device from the inventory file.
type InventoryDevice struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Inventory is the YAML device inventory:
//
//	devices:
//	  - name: garage
//	    url: http://192.168.1.50
type Inventory struct {
	Devices []InventoryDevice `yaml:"devices"`
}

// LoadInventory reads the inventory at path.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	for i, d := range inv.Devices {
		if strings.TrimSpace(d.URL) == "" {
			return nil, fmt.Errorf("inventory %s: device %d (%q) has no url", path, i, d.Name)
		}
	}
	return &inv, nil
}

// Targets returns the configured hosts followed by the inventory device URLs.
func (c *Config) Targets() ([]string, error) {
	targets := append([]string(nil), c.Hosts...)
	if c.InventoryPath == "" {
		return targets, nil
	}

	inv, err := LoadInventory(c.InventoryPath)
	if err != nil {
		return nil, err
	}
	for _, d := range inv.Devices {
		targets = append(targets, strings.TrimSpace(d.URL))
	}
	return targets, nil
}
