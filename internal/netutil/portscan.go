package netutil

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PortScanner checks which hosts accept TCP connections on a port.
type PortScanner struct {
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
}

// PortScannerOption configures a PortScanner.
type PortScannerOption func(*PortScanner)

// WithScanTimeout sets the dial timeout for each host.
func WithScanTimeout(timeout time.Duration) PortScannerOption {
	return func(ps *PortScanner) {
		ps.timeout = timeout
	}
}

// WithScanConcurrency sets the maximum number of concurrent dials.
func WithScanConcurrency(concurrency int) PortScannerOption {
	return func(ps *PortScanner) {
		if concurrency > 0 {
			ps.concurrency = concurrency
		}
	}
}

// WithScanLimiter paces dials through limiter. A nil limiter disables pacing.
func WithScanLimiter(limiter *rate.Limiter) PortScannerOption {
	return func(ps *PortScanner) {
		ps.limiter = limiter
	}
}

// NewPortScanner creates a new port scanner.
func NewPortScanner(opts ...PortScannerOption) *PortScanner {
	ps := &PortScanner{
		timeout:     2 * time.Second,
		concurrency: 100,
	}

	for _, opt := range opts {
		opt(ps)
	}

	return ps
}

// IsPortOpen checks if a TCP port is open on the given host.
func (ps *PortScanner) IsPortOpen(ctx context.Context, host string, port int) bool {
	dialer := &net.Dialer{Timeout: ps.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ScanHosts returns the hosts with port open, in input order.
func (ps *PortScanner) ScanHosts(ctx context.Context, hosts []string, port int) []string {
	open := make([]bool, len(hosts))

	var wg sync.WaitGroup
	sem := make(chan struct{}, ps.concurrency)

scanLoop:
	for i, host := range hosts {
		if ps.limiter != nil {
			if err := ps.limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			break scanLoop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			defer func() { <-sem }()
			open[i] = ps.IsPortOpen(ctx, h, port)
		}(i, host)
	}
	wg.Wait()

	var openHosts []string
	for i, ok := range open {
		if ok {
			openHosts = append(openHosts, hosts[i])
		}
	}
	return openHosts
}
