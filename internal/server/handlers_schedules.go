package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medichine/internal/store"
	logx "medichine/pkg/logx"
)

// deviceID resolves the bound device for schedule and history operations. An
// unbound controller has nothing to operate on.
func (s *Server) deviceID(w http.ResponseWriter) (string, bool) {
	id := s.deps.Backend.DeviceID()
	if id == "" {
		writeError(w, http.StatusServiceUnavailable, "device not configured: waiting for QR registration")
		return "", false
	}
	return id, true
}

func urlParamInt(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (s *Server) handleSaveSchedule(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	var sc store.Schedule
	if err := decodeJSON(r, &sc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.deps.Store.SaveSchedule(r.Context(), deviceID, sc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("schedule saved",
		logx.Int64("schedule_id", id),
		logx.Int("container", sc.ContainerID),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	id, err := urlParamInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	sc, err := s.deps.Store.GetSchedule(r.Context(), deviceID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleGetContainerSchedules(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	containerID, err := urlParamInt(r, "container_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid container id")
		return
	}
	list, err := s.deps.Store.ListContainerSchedules(r.Context(), deviceID, int(containerID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if list == nil {
		list = []store.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
}

func (s *Server) handleGetAllSchedules(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	list, err := s.deps.Store.ListAllSchedules(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if list == nil {
		list = []store.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	id, err := urlParamInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	var sc store.Schedule
	if err := decodeJSON(r, &sc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err = s.deps.Store.UpdateSchedule(r.Context(), deviceID, id, sc)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	id, err := urlParamInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	err = s.deps.Store.DeleteSchedule(r.Context(), deviceID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteContainerSchedules(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.deviceID(w)
	if !ok {
		return
	}
	containerID, err := urlParamInt(r, "container_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid container id")
		return
	}
	n, err := s.deps.Store.DeleteContainerSchedules(r.Context(), deviceID, int(containerID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}
