// Package api serves stored device telemetry over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/powerhive/axehive/internal/harvest"
	"github.com/powerhive/axehive/pkg/database"
)

// DefaultSnapshotWindow is used when /snapshots has no since parameter.
const DefaultSnapshotWindow = time.Hour

// CycleReporter exposes the last harvest cycle. *harvest.Harvester implements it.
type CycleReporter interface {
	LastCycle() *harvest.CycleResult
}

// Server is the HTTP API server.
type Server struct {
	repo      database.Repository
	cycles    CycleReporter
	logger    *log.Logger
	startedAt time.Time
	srv       *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCycleReporter reports harvest progress on /api/health.
func WithCycleReporter(r CycleReporter) ServerOption {
	return func(s *Server) {
		s.cycles = r
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates an API server reading from repo.
func NewServer(repo database.Repository, opts ...ServerOption) *Server {
	s := &Server{
		repo:      repo,
		logger:    log.New(io.Discard),
		startedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	if s.logger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	api := engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/devices", s.handleDevices)
		api.GET("/devices/:mac/latest", s.handleLatest)
		api.GET("/devices/:mac/snapshots", s.handleSnapshots)
	}

	return engine
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("api listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

// render writes v as a JSON response encoded with sonic.
func render(c *gin.Context, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json; charset=utf-8", data)
}

// =============================================================================
// Handlers
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

type cycleSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Targets    int       `json:"targets"`
	Polled     int       `json:"polled"`
	Failed     int       `json:"failed"`
}

type healthResponse struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime"`
	LastCycle *cycleSummary `json:"last_cycle,omitempty"`
}

// handleHealth reports liveness and the last harvest cycle.
// GET /api/health
func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.cycles != nil {
		if last := s.cycles.LastCycle(); last != nil {
			resp.LastCycle = &cycleSummary{
				ID:         last.ID,
				StartedAt:  last.StartedAt,
				DurationMS: last.Duration.Milliseconds(),
				Targets:    last.Targets,
				Polled:     len(last.Polled),
				Failed:     len(last.Errors),
			}
		}
	}
	render(c, http.StatusOK, resp)
}

// handleDevices lists devices with their latest snapshot.
// GET /api/devices
func (s *Server) handleDevices(c *gin.Context) {
	devices, err := database.ListDevicesWithLatest(c.Request.Context(), s.repo)
	if err != nil {
		s.internalError(c, err)
		return
	}
	render(c, http.StatusOK, devices)
}

// handleLatest returns the latest snapshot of one device.
// GET /api/devices/:mac/latest
func (s *Server) handleLatest(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	snapshot, err := s.repo.LatestSnapshot(c.Request.Context(), device.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if snapshot == nil {
		render(c, http.StatusNotFound, errorResponse{Error: "no snapshots for device " + device.MACAddress})
		return
	}
	render(c, http.StatusOK, database.DeviceWithLatest{Device: device, Latest: snapshot})
}

// handleSnapshots returns the snapshots of one device taken within ?since=<duration>.
// GET /api/devices/:mac/snapshots
func (s *Server) handleSnapshots(c *gin.Context) {
	window := DefaultSnapshotWindow
	if v := c.Query("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			render(c, http.StatusBadRequest, errorResponse{Error: "invalid since duration: " + v})
			return
		}
		window = d
	}

	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	now := time.Now()
	snapshots, err := s.repo.ListSnapshots(c.Request.Context(), device.ID, now.Add(-window), now)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if snapshots == nil {
		snapshots = []*database.Snapshot{}
	}
	render(c, http.StatusOK, snapshots)
}

// lookupDevice resolves the :mac path parameter, writing a 404 when unknown.
func (s *Server) lookupDevice(c *gin.Context) (*database.Device, bool) {
	mac := strings.TrimSpace(c.Param("mac"))
	device, err := s.repo.GetDeviceByMAC(c.Request.Context(), mac)
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	if device == nil {
		render(c, http.StatusNotFound, errorResponse{Error: "unknown device " + mac})
		return nil, false
	}
	return device, true
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", "path", c.Request.URL.Path, "err", err)
	render(c, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
