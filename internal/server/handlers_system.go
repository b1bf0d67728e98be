package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medichine/internal/dispense/engine"
	"medichine/internal/fireq"
	logx "medichine/pkg/logx"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "medichine",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timezone":   s.deps.Clock.Zone(),
		"local_time": now.Format("02/01/2006 03:04 PM"),
	})
}

type registerRequest struct {
	BackendURL string `json:"backend_url"`
	DeviceID   string `json:"device_id"`
	AuthToken  string `json:"auth_token"`
	Email      string `json:"email"`
}

// handleRegisterFirebase completes the QR setup flow: it binds the device to
// the caller's account, points the command queue at their backend, and flips
// the engine's readiness flags.
func (s *Server) handleRegisterFirebase(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BackendURL == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "backend_url and device_id are required")
		return
	}
	if !strings.HasPrefix(req.BackendURL, "http://") && !strings.HasPrefix(req.BackendURL, "https://") {
		writeError(w, http.StatusBadRequest, "backend_url must be an http(s) URL")
		return
	}
	if !emailPattern.MatchString(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	res, err := s.deps.Store.RegisterDevice(r.Context(), req.DeviceID, req.Email, req.BackendURL)
	if err != nil {
		s.log.Error("device registration failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusForbidden, res)
		return
	}

	err = s.deps.Backend.Configure(fireq.Settings{
		BackendURL: req.BackendURL,
		DeviceID:   req.DeviceID,
		AuthToken:  req.AuthToken,
		OwnerEmail: req.Email,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Engine.SetConfigReceived(true)

	// A failed ping leaves the engine in backoff until the backend answers.
	if perr := s.deps.Backend.Ping(r.Context()); perr != nil {
		s.log.Warn("backend unreachable after registration", logx.Err(perr))
		s.deps.Engine.SetBackendReady(false)
	} else {
		s.deps.Engine.SetBackendReady(true)
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFirebaseConfig(w http.ResponseWriter, r *http.Request) {
	set := s.deps.Backend.Snapshot()
	if set.BackendURL == "" {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":  true,
		"backend_url": set.BackendURL,
		"device_id":   set.DeviceID,
		"auth_token":  maskToken(set.AuthToken),
		"owner_email": maskEmail(set.OwnerEmail),
	})
}

// handleResetSystem returns the controller to its factory state: binding
// cleared, readiness flags down, daily ledger wiped.
func (s *Server) handleResetSystem(w http.ResponseWriter, r *http.Request) {
	set := s.deps.Backend.Snapshot()
	if set.DeviceID != "" {
		if _, err := s.deps.Store.DisconnectDevice(r.Context(), set.DeviceID, set.OwnerEmail); err != nil {
			s.log.Warn("registry disconnect during reset failed", logx.Err(err))
		}
	}
	s.deps.Backend.Reset()
	s.deps.Engine.SetConfigReceived(false)
	s.deps.Engine.SetBackendReady(false)
	s.deps.Ledger.ResetAll()
	s.deps.Notifier.SetDispensingMessage("")
	s.log.Info("system reset to unconfigured state")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "System reset successfully"})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     st,
		"device_id":  s.deps.Backend.DeviceID(),
		"local_time": s.deps.Clock.Now().Format("02/01/2006 03:04 PM"),
	})
}

func (s *Server) handleUpdateTimezone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Timezone == "" {
		writeError(w, http.StatusBadRequest, "timezone is required")
		return
	}
	if err := s.deps.Clock.Set(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timezone %q", req.Timezone))
		return
	}
	if s.deps.TimezoneChanged != nil {
		s.deps.TimezoneChanged(req.Timezone)
	}
	s.log.Info("timezone updated", logx.String("timezone", req.Timezone))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"timezone":   req.Timezone,
		"local_time": s.deps.Clock.Now().Format("02/01/2006 03:04 PM"),
	})
}

func (s *Server) handleUpdateDispensingMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.deps.Notifier.SetDispensingMessage(req.Message)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Dispensing message updated"})
}

// handleTestCommand triggers a manual dispense on one container, through the
// same single-flight gate the scheduler uses.
func (s *Server) handleTestCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContainerID int `json:"container_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContainerID < 1 || req.ContainerID > 4 {
		writeError(w, http.StatusBadRequest, "container_id must be between 1 and 4")
		return
	}

	name := fmt.Sprintf("Test Container %d", req.ContainerID)
	err := s.deps.Engine.ManualDispense(r.Context(), req.ContainerID, name)
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, "test command not delivered: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"message":   fmt.Sprintf("Test command sent to container %d", req.ContainerID),
			"container": req.ContainerID,
		})
	}
}

func (s *Server) handleTestFirebaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := s.deps.Backend.Ping(ctx)
	connected := err == nil
	s.deps.Engine.SetBackendReady(connected)
	resp := map[string]any{"connected": connected}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
