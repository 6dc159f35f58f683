package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-actionbridge/internal/audit"
)

// handleListCommands returns the command log, newest first.
//
// Query parameters:
//   - device: filter by device name
//   - result: filter by outcome (success, device_error, unknown_device, ...)
//   - source: filter by source (mqtt, api)
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "command log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Device: q.Get("device"),
		Result: q.Get("result"),
		Source: q.Get("source"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetCommand returns one command log entry.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "command log is disabled")
		return
	}

	entry, err := s.commands.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "command not found")
			return
		}
		s.logger.Error("failed to get command log entry", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get command")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// intParam parses an optional integer query parameter; "" is zero.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
