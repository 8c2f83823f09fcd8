package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/powerhive/axehive/internal/netutil"
	"github.com/powerhive/axehive/pkg/miner"
)

// Scanner discovers devices on the network.
type Scanner struct {
	portScanner *netutil.PortScanner
	detector    *Detector
	limiter     *rate.Limiter
	opts        ScanOptions
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithTimeout sets the timeout for each host.
func WithTimeout(timeout time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.opts.Timeout = timeout
	}
}

// WithConcurrency sets the maximum concurrent scans.
func WithConcurrency(concurrency int) ScannerOption {
	return func(s *Scanner) {
		if concurrency > 0 {
			s.opts.Concurrency = concurrency
		}
	}
}

// WithPort sets the port to scan.
func WithPort(port int) ScannerOption {
	return func(s *Scanner) {
		s.opts.Port = port
	}
}

// WithRateLimit caps new connections per second across the whole scan.
func WithRateLimit(perSecond int) ScannerOption {
	return func(s *Scanner) {
		s.opts.RateLimit = perSecond
	}
}

// WithSkipDetection only checks port connectivity without firmware detection.
func WithSkipDetection(skip bool) ScannerOption {
	return func(s *Scanner) {
		s.opts.SkipDetection = skip
	}
}

// NewScanner creates a network scanner. Probers are tried in order.
func NewScanner(probers []miner.FirmwareProber, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		opts: DefaultScanOptions(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.opts.RateLimit > 0 {
		burst := s.opts.RateLimit
		if burst < 10 {
			burst = 10
		}
		s.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst)
	}

	s.portScanner = netutil.NewPortScanner(
		netutil.WithScanTimeout(s.opts.Timeout),
		netutil.WithScanConcurrency(s.opts.Concurrency),
		netutil.WithScanLimiter(s.limiter),
	)
	s.detector = NewDetector(probers, WithDetectorTimeout(s.opts.Timeout))

	return s
}

// ScanNetwork scans a CIDR range, e.g. "192.168.1.0/24".
func (s *Scanner) ScanNetwork(ctx context.Context, cidr string) (*ScanResult, error) {
	ips, err := netutil.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}

	return s.scanIPs(ctx, ips)
}

// ScanHosts scans specific addresses.
func (s *Scanner) ScanHosts(ctx context.Context, hosts []string) (*ScanResult, error) {
	return s.scanIPs(ctx, hosts)
}

// ScanTargets scans a mixed list of CIDRs, ranges and hosts.
func (s *Scanner) ScanTargets(ctx context.Context, targets []string) (*ScanResult, error) {
	ips, err := netutil.ExpandTargets(targets)
	if err != nil {
		return nil, err
	}

	return s.scanIPs(ctx, ips)
}

// hostAddr returns the address the HTTP client should dial for ip.
func (s *Scanner) hostAddr(ip string) string {
	if s.opts.Port == 0 || s.opts.Port == 80 {
		return ip
	}
	return net.JoinHostPort(ip, strconv.Itoa(s.opts.Port))
}

func (s *Scanner) scanIPs(ctx context.Context, ips []string) (*ScanResult, error) {
	startTime := time.Now()

	result := &ScanResult{
		Miners:     make([]DiscoveredMiner, 0),
		Errors:     make(map[string]error),
		ScannedIPs: len(ips),
	}

	// Phase 1: TCP pre-scan to find responsive hosts
	responsiveHosts := s.portScanner.ScanHosts(ctx, ips, s.opts.Port)
	result.ResponsiveHosts = len(responsiveHosts)

	if s.opts.SkipDetection {
		for _, ip := range responsiveHosts {
			result.Miners = append(result.Miners, DiscoveredMiner{
				Host:         s.hostAddr(ip),
				FirmwareType: miner.FirmwareUnknown,
				DiscoveredAt: time.Now(),
			})
		}
		result.Duration = time.Since(startTime)
		return result, nil
	}

	// Phase 2: identify firmware on responsive hosts
	found := make([]*DiscoveredMiner, len(responsiveHosts))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.opts.Concurrency)
	)

scanLoop:
	for i, ip := range responsiveHosts {
		select {
		case <-ctx.Done():
			break scanLoop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			defer func() { <-sem }()

			discovered, err := s.detector.DetectMiner(ctx, host)
			if err != nil {
				mu.Lock()
				result.Errors[host] = err
				mu.Unlock()
				return
			}
			found[i] = discovered
		}(i, s.hostAddr(ip))
	}

	wg.Wait()

	for _, m := range found {
		if m != nil {
			result.Miners = append(result.Miners, *m)
		}
	}
	result.Duration = time.Since(startTime)

	return result, ctx.Err()
}
