package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/export"
	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
	"github.com/iomt-labs/telemetry-gateway/internal/registry"
)

const pingTimeout = 5 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type registerDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
}

// handleRegisterDevice registers a device and provisions its telemetry
// table. An unknown device type is a 403 like a failed token check, the
// status the original service returned for it.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.DeviceType == "" {
		http.Error(w, "device_id and device_type are required", http.StatusBadRequest)
		return
	}

	userID := userIDFrom(r.Context())
	err := s.cfg.Devices.Register(r.Context(), userID, req.DeviceID, req.DeviceName, req.DeviceType)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusForbidden, struct{}{})
	case err != nil:
		s.cfg.Logger.Error("device registration failed",
			"user_id", userID, "device_id", req.DeviceID, "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

type deviceJSON struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	regs, err := s.cfg.Devices.Devices(r.Context(), userID)
	if err != nil {
		s.cfg.Logger.Error("listing devices failed", "user_id", userID, "error", err)
		http.Error(w, "listing devices failed", http.StatusInternalServerError)
		return
	}

	devices := make([]deviceJSON, 0, len(regs))
	for _, reg := range regs {
		devices = append(devices, deviceJSON{
			DeviceID:   reg.DeviceID,
			DeviceName: reg.DeviceName,
			DeviceType: reg.DeviceType,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type deviceTypeJSON struct {
	DeviceType string `json:"device_type"`
	Prefix     string `json:"prefix"`
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.cfg.Types.List(r.Context())
	if err != nil {
		s.cfg.Logger.Error("listing device types failed", "error", err)
		http.Error(w, "listing device types failed", http.StatusInternalServerError)
		return
	}

	out := make([]deviceTypeJSON, 0, len(types))
	for _, dt := range types {
		out = append(out, deviceTypeJSON{DeviceType: dt.DeviceType, Prefix: dt.Prefix})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		// Original firmware sends the parameter as "id".
		deviceID = r.URL.Query().Get("id")
	}
	if deviceID == "" {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}

	userID := userIDFrom(r.Context())
	err := s.cfg.Devices.Remove(r.Context(), userID, deviceID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, struct{}{})
	case err != nil:
		s.cfg.Logger.Error("device removal failed",
			"user_id", userID, "device_id", deviceID, "error", err)
		http.Error(w, "device removal failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// handleCheckToken reports token validity. Always 200; only the boolean
// differs.
func (s *Server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	valid := false
	if token := bearerToken(r); token != "" {
		if _, err := s.cfg.Validator.Validate(r.Context(), token); err == nil {
			valid = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type exportRequest struct {
	DeviceID  string `json:"device_id"`
	DateBegin string `json:"date_begin"`
	DateEnd   string `json:"date_end"`
}

// parseExportTime accepts the original's date-only form and RFC 3339.
func parseExportTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, want 2006-01-02 or RFC 3339", s)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	begin, err := parseExportTime(req.DateBegin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseExportTime(req.DateEnd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if end.Before(begin) {
		http.Error(w, "date_end is before date_begin", http.StatusBadRequest)
		return
	}

	userID := userIDFrom(r.Context())
	artifact, err := s.cfg.Exporter.Export(r.Context(), userID, req.DeviceID, begin, end)
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, struct{}{})
	case err != nil:
		s.cfg.Logger.Error("export failed",
			"user_id", userID, "device_id", req.DeviceID, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"file": artifact.FileName})
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "file")

	f, _, err := s.cfg.Exporter.Open(r.Context(), fileName)
	if errors.Is(err, export.ErrNotFound) {
		metrics.Downloads.WithLabelValues("not_found").Inc()
		http.NotFound(w, r)
		return
	}
	if err != nil {
		metrics.Downloads.WithLabelValues("error").Inc()
		s.cfg.Logger.Error("artifact download failed", "file", fileName, "error", err)
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	if _, err := io.Copy(w, f); err != nil {
		s.cfg.Logger.Debug("artifact stream interrupted", "file", fileName, "error", err)
		return
	}
	metrics.Downloads.WithLabelValues("ok").Inc()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	for name, p := range map[string]Pinger{"telemetry": s.cfg.Telemetry, "records": s.cfg.Records} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			s.cfg.Logger.Error("health check failed", "store", name, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy: " + name + " store unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
