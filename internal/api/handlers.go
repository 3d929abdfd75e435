package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/therealutkarshpriyadarshi/logscope/internal/scanner"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

type scanResponse struct {
	Devices []types.Device    `json:"devices"`
	Scan    *types.ScanResult `json:"scan,omitempty"`
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListDevices())
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.service.GetDevice(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) getDeviceLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := parseLines(r.URL.Query().Get("lines"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.service.GetDeviceLogs(r.Context(), chi.URLParam(r, "id"), lines, r.URL.Query().Get("file"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListActiveSessions(r.URL.Query().Get("device")))
}

func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	devices, result, err := s.service.TriggerFullScan(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Devices: devices,
		Scan:    result,
	})
}

func (s *Server) scanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ScanStatus())
}

// parseLines validates the lines query parameter: absent means the default,
// values above the maximum are clamped.
func parseLines(raw string) (int, error) {
	if raw == "" {
		return DefaultLogLines, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("lines must be a positive integer")
	}
	if n > MaxLogLines {
		n = MaxLogLines
	}
	return n, nil
}

// writeServiceError maps scanner errors to HTTP statuses
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scanner.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, scanner.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "log file not found")
	case errors.Is(err, scanner.ErrScanInProgress):
		writeError(w, http.StatusConflict, "scan already in progress")
	case errors.Is(err, scanner.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "scanner is shutting down")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
