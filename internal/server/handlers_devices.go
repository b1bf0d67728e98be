package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medichine/internal/store"
	logx "medichine/pkg/logx"
)

// handleDisconnectDevice releases the device from the caller's account and
// returns the controller to its unconfigured state.
func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "device_id and email are required")
		return
	}

	res, err := s.deps.Store.DisconnectDevice(r.Context(), req.DeviceID, req.Email)
	if err != nil {
		s.log.Error("device disconnect failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusForbidden, res)
		return
	}

	// Disconnecting the bound device also clears the live binding.
	if s.deps.Backend.DeviceID() == req.DeviceID {
		s.deps.Backend.Reset()
		s.deps.Engine.SetConfigReceived(false)
		s.deps.Engine.SetBackendReady(false)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUserDevices(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if !emailPattern.MatchString(email) {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	devices, err := s.deps.Store.UserDevices(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if devices == nil {
		devices = []store.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Store.Device(r.Context(), chi.URLParam(r, "device_id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	info.OwnerEmail = maskEmail(info.OwnerEmail)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleConnectionHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.deps.Store.ConnectionHistory(r.Context(), chi.URLParam(r, "device_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if events == nil {
		events = []store.ConnectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
