package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
)

// SetStateRequest is the body of PUT /devices/{name}/state.
type SetStateRequest struct {
	On *bool `json:"on"`
}

// SetStateResponse acknowledges a queued job. The outcome arrives later on
// the WebSocket stream and in the command log.
type SetStateResponse struct {
	JobID  string `json:"job_id"`
	Device string `json:"device"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// handleListDevices returns every configured device without its local key.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Summaries()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one configured device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, entry.Summary())
}

// handleSetDeviceState queues an on/off job and returns 202 without waiting
// for the device.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.registry.Has(name) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, `"on" is required`)
		return
	}

	job := dispatch.NewJob(name, *req.On, dispatch.SourceAPI)
	if err := s.dispatcher.Submit(job); err != nil {
		if errors.Is(err, dispatch.ErrPoolStopped) {
			writeError(w, http.StatusServiceUnavailable, "dispatcher is shutting down")
			return
		}
		s.logger.Error("failed to submit job", "device", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue command")
		return
	}

	s.logger.Info("command queued via API",
		"job_id", job.ID,
		"device", name,
		"action", job.Action(),
		"request_id", requestIDFrom(r.Context()),
	)

	writeJSON(w, http.StatusAccepted, SetStateResponse{
		JobID:  job.ID,
		Device: name,
		Action: job.Action(),
		Status: "queued",
	})
}

