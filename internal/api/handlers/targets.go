package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/kestrelhq/wsgateway/internal/api/responses"
	"github.com/kestrelhq/wsgateway/internal/manager"
)

// TargetsHandler handles per-target connection actions.
type TargetsHandler struct {
	manager *manager.Manager
	logger  *slog.Logger
}

// NewTargetsHandler creates a new targets handler.
func NewTargetsHandler(mgr *manager.Manager, logger *slog.Logger) *TargetsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TargetsHandler{
		manager: mgr,
		logger:  logger.With("handler", "targets"),
	}
}

// GetStatuses handles GET /api/statuses requests.
func (h *TargetsHandler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.manager.GetAllStatuses()

	result := make(map[string]string, len(statuses))
	for id, status := range statuses {
		result[id] = string(status)
	}

	responses.JSON(w, http.StatusOK, result)
}

// ExecuteAction handles POST /api/targets/{id}/action requests.
func (h *TargetsHandler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/targets/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "action" {
		responses.Error(w, http.StatusBadRequest, "invalid_path", "Invalid path format")
		return
	}
	targetID := parts[0]

	if targetID == "" {
		responses.Error(w, http.StatusBadRequest, "invalid_request", "Target ID is required")
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if !responses.DecodeJSON(w, r, h.logger, &req) {
		return
	}

	if req.Action != "join" && req.Action != "rejoin" && req.Action != "exit" {
		responses.Error(w, http.StatusBadRequest, "invalid_action", "Action must be 'join', 'rejoin', or 'exit'")
		return
	}

	var err error
	switch req.Action {
	case "join":
		err = h.manager.Join(targetID)
	case "rejoin":
		err = h.manager.Rejoin(targetID)
	case "exit":
		err = h.manager.Exit(targetID)
	}

	if err != nil {
		h.logger.Error("action failed", "target_id", targetID, "action", req.Action, "error", err)

		status := http.StatusInternalServerError
		errorCode := "action_failed"

		switch err {
		case manager.ErrTargetNotFound:
			status = http.StatusNotFound
			errorCode = "target_not_found"
		case manager.ErrTooManyConnections:
			status = http.StatusConflict
			errorCode = "too_many_connections"
		case manager.ErrAlreadyConnected:
			status = http.StatusConflict
			errorCode = "already_connected"
		case manager.ErrNotConnected:
			status = http.StatusConflict
			errorCode = "not_connected"
		}

		responses.Error(w, status, errorCode, err.Error())
		return
	}

	newStatus := h.manager.GetStatus(targetID)

	h.logger.Info("action executed", "target_id", targetID, "action", req.Action, "new_status", newStatus)
	responses.JSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"target_id":  targetID,
		"action":     req.Action,
		"new_status": string(newStatus),
	})
}
