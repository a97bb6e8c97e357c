package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/wolfman30/clinicdesk/internal/aiconfig"
	"github.com/wolfman30/clinicdesk/internal/schedule"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

type activationPolicy interface {
	Activation(cfg aiconfig.Config, now time.Time) (bool, bool)
	Mode() aiconfig.GatingMode
}

// AIConfigHandler serves the AI configuration API.
type AIConfigHandler struct {
	store  aiconfig.Store
	policy activationPolicy
	now    func() time.Time
	logger *logging.Logger
}

func NewAIConfigHandler(store aiconfig.Store, policy activationPolicy, logger *logging.Logger) *AIConfigHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AIConfigHandler{store: store, policy: policy, now: time.Now, logger: logger}
}

// updateAIConfigRequest is a partial update: omitted fields keep their
// current value.
type updateAIConfigRequest struct {
	Enabled              *bool   `json:"enabled"`
	ActiveOutsideHours   *bool   `json:"active_outside_hours"`
	WorkingHoursStart    *string `json:"working_hours_start"`
	WorkingHoursEnd      *string `json:"working_hours_end"`
	WorkingDays          *[]int  `json:"working_days"`
	AutoResponseEnabled  *bool   `json:"auto_response_enabled"`
	AutoResponseTemplate *string `json:"auto_response_template"`
	Timezone             *string `json:"timezone"`
}

func (req updateAIConfigRequest) apply(cfg aiconfig.Config) aiconfig.Config {
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.ActiveOutsideHours != nil {
		cfg.ActiveOutsideHours = *req.ActiveOutsideHours
	}
	if req.WorkingHoursStart != nil {
		cfg.WorkingHoursStart = *req.WorkingHoursStart
	}
	if req.WorkingHoursEnd != nil {
		cfg.WorkingHoursEnd = *req.WorkingHoursEnd
	}
	if req.WorkingDays != nil {
		cfg.WorkingDays = append([]int(nil), (*req.WorkingDays)...)
	}
	if req.AutoResponseEnabled != nil {
		cfg.AutoResponseEnabled = *req.AutoResponseEnabled
	}
	if req.AutoResponseTemplate != nil {
		cfg.AutoResponseTemplate = *req.AutoResponseTemplate
	}
	if req.Timezone != nil {
		cfg.Timezone = *req.Timezone
	}
	return cfg
}

// Get handles GET /api/ai-config.
func (h *AIConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetAIConfiguration(r.Context())
	if err != nil {
		h.logger.Error("failed to load ai configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}
	writeData(w, http.StatusOK, cfg)
}

// Update handles PUT /api/ai-config.
func (h *AIConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateAIConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}
	current, err := h.store.GetAIConfiguration(r.Context())
	if err != nil {
		h.logger.Error("failed to load ai configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}
	next := req.apply(current)
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	saved, err := h.store.SaveAIConfiguration(r.Context(), next)
	if err != nil {
		if errors.Is(err, aiconfig.ErrInvalid) {
			writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
		h.logger.Error("failed to save ai configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save configuration")
		return
	}
	h.logger.Info("ai configuration updated",
		"enabled", saved.Enabled,
		"active_outside_hours", saved.ActiveOutsideHours,
		"working_hours", saved.WorkingHoursStart+"-"+saved.WorkingHoursEnd,
		"working_days", saved.WorkingDays,
	)
	writeData(w, http.StatusOK, saved)
}

// AIStatus is what GET /api/ai-config/status reports.
type AIStatus struct {
	Enabled      bool      `json:"enabled"`
	WorkingHours bool      `json:"working_hours"`
	Active       bool      `json:"active"`
	GatingMode   string    `json:"gating_mode"`
	Schedule     string    `json:"schedule"`
	Timezone     string    `json:"timezone"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Status handles GET /api/ai-config/status: whether the assistant would
// answer a message arriving now.
func (h *AIConfigHandler) Status(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetAIConfiguration(r.Context())
	if err != nil {
		h.logger.Error("failed to load ai configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}
	now := h.now()
	status := AIStatus{
		Enabled:      cfg.Enabled,
		WorkingHours: cfg.IsWorkingTime(now),
		Schedule:     schedule.Describe(cfg.WorkingHours()),
		Timezone:     cfg.Timezone,
		CheckedAt:    now.UTC(),
		GatingMode:   string(aiconfig.GatingLegacy),
	}
	if h.policy != nil {
		status.WorkingHours, status.Active = h.policy.Activation(cfg, now)
		status.GatingMode = string(h.policy.Mode())
	} else {
		status.Active = aiconfig.GatingLegacy.ShouldActivate(cfg, status.WorkingHours)
	}
	status.Active = status.Active && cfg.Enabled
	writeData(w, http.StatusOK, status)
}
