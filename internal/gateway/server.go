// Package gateway is the device-facing HTTP surface: registration, device
// listing, deletion, type listing, token checks, export requests, and
// artifact downloads, all behind a single access-gate middleware.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/iomt-labs/telemetry-gateway/internal/authgate"
	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/export"
	"github.com/iomt-labs/telemetry-gateway/internal/registry"
)

// DeviceService is the registration workflow the gateway exposes.
type DeviceService interface {
	Register(ctx context.Context, userID, deviceID, deviceName, deviceType string) error
	Devices(ctx context.Context, userID string) ([]registry.Registration, error)
	Remove(ctx context.Context, userID, deviceID string) error
}

// ExportService is the export pipeline the gateway exposes.
type ExportService interface {
	Export(ctx context.Context, userID, deviceID string, begin, end time.Time) (export.Artifact, error)
	Open(ctx context.Context, fileName string) (*os.File, export.Artifact, error)
}

// Pinger checks liveness of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the gateway's dependencies.
type Config struct {
	Logger    *slog.Logger
	Validator authgate.Validator
	Devices   DeviceService
	Types     catalog.Catalog
	Exporter  ExportService

	// Optional liveness probes for /healthz.
	Telemetry Pinger
	Records   Pinger
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Validator == nil {
		return errors.New("token validator is required")
	}
	if c.Devices == nil {
		return errors.New("device service is required")
	}
	if c.Types == nil {
		return errors.New("device type catalog is required")
	}
	if c.Exporter == nil {
		return errors.New("export service is required")
	}
	return nil
}

// Server routes device-facing HTTP traffic.
type Server struct {
	cfg    Config
	router *chi.Mux
}

// New creates the Server and mounts its routes.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, router: chi.NewRouter()}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	// Original clients call paths with trailing slashes.
	s.router.Use(chimiddleware.StripSlashes)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(requestLogger(cfg.Logger))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/jwt", s.handleCheckToken)
	s.router.Get("/download/{file}", s.handleDownload)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/devices/register", s.handleRegisterDevice)
		r.Get("/devices/get", s.handleListDevices)
		r.Get("/devices/types", s.handleListTypes)
		r.Get("/devices/delete", s.handleDeleteDevice)
		r.Post("/exports", s.handleExport)
	})

	return s, nil
}

// Router returns the HTTP handler for mounting into an http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}
