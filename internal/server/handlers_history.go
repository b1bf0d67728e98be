package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medichine/internal/store"
	logx "medichine/pkg/logx"
)

type pushHistoryRequest struct {
	DeviceID      string `json:"device_id"`
	MedicineName  string `json:"medicine_name"`
	ContainerID   int    `json:"container_id"`
	Quantity      int    `json:"quantity"`
	ScheduledTime string `json:"scheduled_time"`
	ScheduledDays string `json:"scheduled_days"`
	DatetimeTaken string `json:"datetime_taken"`
	TimeTaken     string `json:"time_taken"`
}

// handlePushHistory is the device's own reporting endpoint: the dispenser
// posts here after a dose is taken. It is authenticated by device id match,
// not owner email.
func (s *Server) handlePushHistory(w http.ResponseWriter, r *http.Request) {
	var req pushHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bound := s.deps.Backend.DeviceID()
	if bound == "" {
		writeError(w, http.StatusServiceUnavailable, "device not configured")
		return
	}
	if req.DeviceID != bound {
		writeError(w, http.StatusForbidden, "unknown device")
		return
	}
	if req.MedicineName == "" || req.ContainerID < 1 {
		writeError(w, http.StatusBadRequest, "medicine_name and container_id are required")
		return
	}

	id, err := s.deps.Store.AppendHistory(r.Context(), bound, store.HistoryEntry{
		MedicineName:  req.MedicineName,
		ContainerID:   req.ContainerID,
		Quantity:      req.Quantity,
		ScheduledTime: req.ScheduledTime,
		ScheduledDays: req.ScheduledDays,
		DatetimeTaken: req.DatetimeTaken,
		TimeTaken:     req.TimeTaken,
	})
	if err != nil {
		s.log.Error("intake record write failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history write failed")
		return
	}
	if err := s.deps.Store.TouchDevice(r.Context(), bound); err != nil {
		s.log.Warn("device last-connected update failed", logx.Err(err))
	}

	// Caregiver notification is best-effort; the record is already durable.
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Notifier.NotifyTaken(nctx, req.MedicineName, req.ContainerID, req.Quantity); err != nil {
			s.log.Warn("taken notification failed", logx.Err(err))
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	list, err := s.deps.Store.ListHistory(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if list == nil {
		list = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": list})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	err := s.deps.Store.DeleteHistory(r.Context(), deviceID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "history record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteAllHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	n, err := s.deps.Store.DeleteAllHistory(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}
