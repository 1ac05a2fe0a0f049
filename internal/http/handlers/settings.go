package handlers

import (
	"net/http"

	"covertext/internal/repo"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SettingsHandler exposes the agency auto-send default, the per-agent
// override, and the agent's usage readout.
type SettingsHandler struct {
	agencies *repo.AgencyRepository
	agents   *repo.AgentRepository
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(agencies *repo.AgencyRepository, agents *repo.AgentRepository) *SettingsHandler {
	return &SettingsHandler{agencies: agencies, agents: agents}
}

// GetAgencySettings godoc
// @Summary Get agency settings
// @Tags settings
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /settings/agency [get]
func (h *SettingsHandler) GetAgencySettings(c echo.Context) error {
	agencyID, ok := c.Get("agency_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agency context"})
	}

	agency, err := h.agencies.GetByID(agencyID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Agency not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auto_send_enabled": agency.AutoSendEnabled,
		"sms_number":        agency.SMSNumber,
	})
}

// UpdateAutoSendRequest toggles the agency-wide auto-send default.
type UpdateAutoSendRequest struct {
	AutoSendEnabled *bool `json:"auto_send_enabled" validate:"required"`
}

// UpdateAgencyAutoSend godoc
// @Summary Update agency auto-send default
// @Description Toggle whether automated messages transmit immediately or draft for review
// @Tags settings
// @Accept json
// @Produce json
// @Param request body UpdateAutoSendRequest true "Auto-send setting"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /settings/agency/auto-send [put]
func (h *SettingsHandler) UpdateAgencyAutoSend(c echo.Context) error {
	agencyID, ok := c.Get("agency_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agency context"})
	}

	var req UpdateAutoSendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := h.agencies.SetAutoSend(agencyID, *req.AutoSendEnabled); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update setting"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"auto_send_enabled": *req.AutoSendEnabled})
}

// UpdateOverrideRequest sets or clears the agent-level auto-send override.
// A null value clears the override so the agent follows the agency default
// again; true or false pins the agent's behavior regardless of the default.
type UpdateOverrideRequest struct {
	AutoSendOverride *bool `json:"auto_send_override"`
}

// UpdateAgentOverride godoc
// @Summary Update agent auto-send override
// @Description Set or clear (null) the current agent's auto-send override
// @Tags settings
// @Accept json
// @Produce json
// @Param request body UpdateOverrideRequest true "Override setting"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /settings/agent/auto-send [put]
func (h *SettingsHandler) UpdateAgentOverride(c echo.Context) error {
	agentID, ok := c.Get("agent_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agent context"})
	}

	var req UpdateOverrideRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if err := h.agents.SetAutoSendOverride(agentID, req.AutoSendOverride); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update override"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"auto_send_override": req.AutoSendOverride})
}

// GetUsage godoc
// @Summary Get usage
// @Description Current agent's cycle usage against the tier allotment
// @Tags settings
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /settings/usage [get]
func (h *SettingsHandler) GetUsage(c echo.Context) error {
	agentID, ok := c.Get("agent_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agent context"})
	}

	agent, err := h.agents.GetByID(agentID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Agent not found"})
	}

	included := agent.SubscriptionTier.IncludedMessages()
	overage := 0
	if agent.MessagesSentCount > included {
		overage = agent.MessagesSentCount - included
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscription_tier":   agent.SubscriptionTier,
		"messages_sent_count": agent.MessagesSentCount,
		"included_messages":   included,
		"overage_count":       overage,
		"billing_cycle_end":   agent.BillingCycleEnd,
	})
}
