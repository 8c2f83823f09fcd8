// axehive discovers Bitaxe devices running AxeOS, records their telemetry
// into an SQLite database and serves it over a small HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

const usage = `axehive - AxeOS device telemetry

Usage:
  axehive <command> [arguments]

Commands:
  info <url>             Fetch /api/system/info and print it as JSON
                         Example: axehive info http://192.168.1.50
  detect <host>          Check whether host runs AxeOS
                         Example: axehive detect 192.168.1.50
  scan <target...>       Scan CIDRs, a-b ranges or hosts for AxeOS devices
                         Example: axehive scan 192.168.1.0/24
  list                   List devices stored in the database
  harvest                Poll devices on HARVEST_INTERVAL until interrupted
  serve                  Harvest and serve the HTTP API on API_ADDR

Environment Variables:
  AXEHIVE_DB           SQLite database path (default: axehive.db)
  AXEHIVE_HOSTS        Comma-separated device URLs or hosts polled every cycle
  AXEHIVE_INVENTORY    YAML inventory of named devices
  NETWORK_CIDR         Comma-separated CIDRs scanned for devices
  HARVEST_INTERVAL     Polling interval (default: 30s)
  HARVEST_CONCURRENCY  Parallel device polls (default: 10)
  SCAN_TIMEOUT         Per-device timeout (default: 3s)
  SCAN_RATE            Scan connections per second, 0 = unlimited (default: 0)
  DISCOVERY_TTL        How long scanned devices are remembered (default: 10m)
  RETENTION            Snapshot retention, 0 = forever (default: 168h)
  API_ADDR             API listen address (default: :8080)
  AXEHIVE_LOG_LEVEL    debug, info, warn or error (default: info)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	cfg := LoadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	args := os.Args[2:]
	var err error
	switch cmd := os.Args[1]; cmd {
	case "info":
		if len(args) != 1 {
			fmt.Println("Usage: axehive info <url>")
			os.Exit(1)
		}
		err = runInfo(ctx, os.Stdout, args[0])
	case "detect":
		if len(args) != 1 {
			fmt.Println("Usage: axehive detect <host>")
			os.Exit(1)
		}
		err = runDetect(ctx, os.Stdout, args[0], cfg)
	case "scan":
		if len(args) == 0 {
			fmt.Println("Usage: axehive scan <cidr|range|host>...")
			os.Exit(1)
		}
		err = runScan(ctx, os.Stdout, args, cfg)
	case "list":
		err = runList(ctx, os.Stdout, cfg)
	case "harvest":
		err = runHarvest(ctx, cfg, logger)
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}

	if err != nil && ctx.Err() == nil {
		logger.Fatal("command failed", "cmd", os.Args[1], "err", err)
	}
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "axehive",
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
}
