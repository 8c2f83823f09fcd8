package axeos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/powerhive/axehive/pkg/miner"
)

const (
	// UserAgent identifies this client to the device.
	UserAgent = "axehive/1.0"

	// DefaultTimeout bounds every request issued by the client.
	DefaultTimeout = 25 * time.Second

	// SystemInfoPath is the system info endpoint, resolved against the base URL.
	SystemInfoPath = "/api/system/info"

	// maxErrorBody caps how much of a non-2xx body is kept on the error.
	maxErrorBody = 512
)

// Client is the interface for interacting with the AxeOS API.
type Client interface {
	miner.Client

	// SystemInfo returns the device's current telemetry snapshot.
	SystemInfo(ctx context.Context) (*SystemInfo, error)
}

// HTTPClient is the HTTP implementation of Client.
// It holds no mutable state after construction and is safe for concurrent use.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *log.Logger
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTransport sets the underlying transport. The timeout and user agent stay fixed.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Transport = &userAgentTransport{next: rt}
	}
}

// WithLogger sets a logger for request tracing at debug level.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the device at baseURL, e.g. "http://192.168.1.100".
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, &Error{Kind: KindURL, URL: baseURL, Err: err}
	}

	c := &HTTPClient{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: &userAgentTransport{next: http.DefaultTransport},
		},
		logger: log.New(io.Discard),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// NewClientForHost creates a client for a bare host or host:port over plain HTTP.
func NewClientForHost(host string, opts ...ClientOption) (*HTTPClient, error) {
	return NewClient("http://"+host, opts...)
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

// BaseURL returns the device base URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL.String()
}

// Host returns the device host, including the port when one was given.
func (c *HTTPClient) Host() string {
	return c.baseURL.Host
}

// SystemInfo fetches and decodes /api/system/info.
func (c *HTTPClient) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	body, err := c.get(ctx, SystemInfoPath)
	if err != nil {
		return nil, err
	}
	return DecodeSystemInfo(body)
}

// get issues a GET for path and returns the body of a 2xx response.
func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, &Error{Kind: KindURL, URL: path, Err: err}
	}
	fullURL := c.baseURL.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindURL, URL: fullURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "url", fullURL, "err", err)
		return nil, &Error{Kind: KindTransport, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("response", "url", fullURL, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		io.Copy(io.Discard, resp.Body)
		return nil, &Error{
			Kind:       KindStatus,
			URL:        fullURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: fullURL, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return body, nil
}

// userAgentTransport is an http.RoundTripper that stamps every request with UserAgent.
type userAgentTransport struct {
	next http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", UserAgent)
	return next.RoundTrip(req)
}

// =============================================================================
// miner.Client interface implementation
// =============================================================================

// GetMinerInfo returns generic miner information (implements miner.Client).
func (c *HTTPClient) GetMinerInfo(ctx context.Context) (*miner.Info, error) {
	info, err := c.SystemInfo(ctx)
	if err != nil {
		return nil, err
	}
	return minerInfo(info, c.baseURL.Hostname()), nil
}

// GetMinerStatus returns generic miner status (implements miner.Client).
func (c *HTTPClient) GetMinerStatus(ctx context.Context) (*miner.Status, error) {
	info, err := c.SystemInfo(ctx)
	if err != nil {
		return nil, err
	}
	return minerStatus(info), nil
}

func minerInfo(info *SystemInfo, ip string) *miner.Info {
	return &miner.Info{
		Miner:           "Bitaxe " + info.ASICModel,
		Model:           info.ASICModel,
		Board:           info.BoardVersion,
		Firmware:        "AxeOS",
		FirmwareVersion: info.AxeOSVersion,
		Algorithm:       "sha256d",
		IP:              ip,
		MAC:             info.MACAddr,
		Hostname:        info.Hostname,
	}
}

func minerStatus(info *SystemInfo) *miner.Status {
	state := miner.StateIdle
	switch {
	case info.OverheatProtectionMode:
		state = miner.StateOverheat
	case info.Hashrate > 0:
		state = miner.StateRunning
	}

	description := fmt.Sprintf("Hashrate: %.2f GH/s, Temp: %.1f C", info.Hashrate, info.Temp)
	if info.IsUsingFallbackStratum {
		description += " [fallback pool]"
	}

	return &miner.Status{
		State:       state,
		Description: description,
	}
}

// Ensure HTTPClient implements the Client interfaces.
var (
	_ Client       = (*HTTPClient)(nil)
	_ miner.Client = (*HTTPClient)(nil)
)
