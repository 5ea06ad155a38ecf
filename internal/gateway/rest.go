package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okibrian/valet/internal/schedule"
)

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"devices": s.devices.List()})
}

func (s *Server) handleDeviceTasks(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_device_id", "missing device id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": s.registry.TasksForDevice(id)})
}

func (s *Server) handleDeviceLog(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_device_id", "missing device id")
		return
	}
	entries, err := s.journal.ListByDevice(r.Context(), id, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "worklog_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleRestartDevice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_device_id", "missing device id")
		return
	}
	userID := ""
	if d, err := s.devices.Get(id); err == nil {
		userID = d.UserID
	}
	n := s.restartDeviceTasks(id, userID)
	respondJSON(w, http.StatusOK, map[string]any{"restarted": n})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	task, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", "no such task")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	entries, err := s.journal.ListByTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "worklog_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !s.registry.Cancel(id) {
		respondError(w, http.StatusNotFound, "task_not_cancellable", "task not found or already finished")
		return
	}
	task, _ := s.registry.Get(id)
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"personas": s.personas.List()})
}

type createScheduleRequest struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`
	Prompt   string `json:"prompt"`
	CronExpr string `json:"cron_expr"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"schedules": s.schedules.List()})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entry, err := s.schedules.Add(req.DeviceID, req.UserID, req.Prompt, req.CronExpr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !s.schedules.Remove(id) {
		respondError(w, http.StatusNotFound, "schedule_not_found", "no such schedule")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": id})
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, true)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, false)
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.schedules.SetEnabled(id, enabled); err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			respondError(w, http.StatusNotFound, "schedule_not_found", "no such schedule")
			return
		}
		respondError(w, http.StatusInternalServerError, "schedule_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}
