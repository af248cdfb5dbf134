package handlers

import (
	"log/slog"
	"net/http"

	"github.com/kestrelhq/wsgateway/internal/api/responses"
	"github.com/kestrelhq/wsgateway/internal/config"
)

// ConfigHandler serves the target configuration over REST.
type ConfigHandler struct {
	store  config.ConfigStore
	logger *slog.Logger
}

func NewConfigHandler(store config.ConfigStore, logger *slog.Logger) *ConfigHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigHandler{
		store:  store,
		logger: logger.With("handler", "config"),
	}
}

// GetConfig handles GET /api/config requests.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Load()
	if err != nil {
		h.logger.Error(responses.ErrLoadConfig, "error", err)
		responses.Error(w, http.StatusInternalServerError, "internal_error", responses.ErrLoadConfigMsg)
		return
	}
	responses.JSON(w, http.StatusOK, cfg)
}

// ReplaceConfig handles POST /api/config requests.
func (h *ConfigHandler) ReplaceConfig(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Targets []config.Target `json:"targets"`
	}

	if !responses.DecodeJSON(w, r, h.logger, &input) {
		return
	}

	cfg := &config.Configuration{Targets: input.Targets}
	if err := h.store.Save(cfg); err != nil {
		h.logger.Error(responses.ErrSaveConfig, "error", err)
		responses.Error(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	h.logger.Info("configuration replaced", "targets", len(cfg.Targets))
	responses.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"targets": cfg.Targets,
	})
}

// UpdateConfig handles PUT /api/config requests, merging the given targets
// into the existing set by id.
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Targets []config.Target `json:"targets"`
	}

	if !responses.DecodeJSON(w, r, h.logger, &input) {
		return
	}

	cfg, err := h.store.Load()
	if err != nil {
		h.logger.Error(responses.ErrLoadConfig, "error", err)
		responses.Error(w, http.StatusInternalServerError, "internal_error", responses.ErrLoadConfigMsg)
		return
	}

	cfg.Targets = mergeTargets(cfg.Targets, input.Targets)

	if err := h.store.Save(cfg); err != nil {
		h.logger.Error(responses.ErrSaveConfig, "error", err)
		responses.Error(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	h.logger.Info("configuration updated", "targets", len(cfg.Targets))
	responses.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"targets": cfg.Targets,
	})
}

func mergeTargets(existing, updates []config.Target) []config.Target {
	byID := make(map[string]*config.Target, len(existing))
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}

	for _, update := range updates {
		if entry, ok := byID[update.ID]; ok {
			applyTargetUpdate(entry, update)
		} else if update.ID != "" {
			newEntry := update
			byID[update.ID] = &newEntry
		}
	}

	result := make([]config.Target, 0, len(byID))
	for _, t := range byID {
		result = append(result, *t)
	}
	return result
}

func applyTargetUpdate(entry *config.Target, update config.Target) {
	if update.Label != "" {
		entry.Label = update.Label
	}
	if update.Token != "" {
		entry.Token = update.Token
	}
	if update.Intents != 0 {
		entry.Intents = update.Intents
	}
	entry.ShardID = update.ShardID
	entry.ShardCount = update.ShardCount
	if update.Status != "" {
		entry.Status = update.Status
	}
	entry.GuildID = update.GuildID
	entry.ChannelID = update.ChannelID
	entry.SelfMute = update.SelfMute
	entry.SelfDeaf = update.SelfDeaf
	entry.ConnectOnStart = update.ConnectOnStart
	if update.Priority > 0 {
		entry.Priority = update.Priority
	}
}
