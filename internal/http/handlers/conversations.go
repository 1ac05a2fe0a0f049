package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"covertext/internal/repo"
	"covertext/internal/services"
	"covertext/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ConversationHandler exposes the agent-facing messaging surface: the
// conversation list, message history, manual sends and the draft queue.
type ConversationHandler struct {
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
	agents        *repo.AgentRepository
	agencies      *repo.AgencyRepository
	gate          *services.SendGateService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(
	conversations *repo.ConversationRepository,
	messages *repo.MessageRepository,
	agents *repo.AgentRepository,
	agencies *repo.AgencyRepository,
	gate *services.SendGateService,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		agents:        agents,
		agencies:      agencies,
		gate:          gate,
	}
}

func pagination(c echo.Context) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// sendContext loads the agent and agency rows the send gate evaluates.
func (h *ConversationHandler) sendContext(c echo.Context) (*models.Agent, *models.Agency, error) {
	agentID, ok := c.Get("agent_id").(uuid.UUID)
	if !ok {
		return nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "Missing agent context")
	}
	agent, err := h.agents.GetByID(agentID)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "Agent not found")
	}
	agency := agent.Agency
	if agency == nil {
		agency, err = h.agencies.GetByID(agent.AgencyID)
		if err != nil {
			return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, "Agency not found")
		}
	}
	return agent, agency, nil
}

// List godoc
// @Summary List conversations
// @Description List the current agent's conversations, most recent traffic first
// @Tags conversations
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} models.PaginationResult[models.Conversation]
// @Failure 401 {object} map[string]string
// @Router /conversations [get]
func (h *ConversationHandler) List(c echo.Context) error {
	agentID, ok := c.Get("agent_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agent context"})
	}

	limit, offset := pagination(c)
	result, err := h.conversations.ListByAgent(agentID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list conversations"})
	}

	return c.JSON(http.StatusOK, result)
}

// ListMessages godoc
// @Summary List conversation messages
// @Description List a conversation's messages, newest first
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Message
// @Failure 404 {object} map[string]string
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	agencyID, ok := c.Get("agency_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agency context"})
	}

	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid conversation ID"})
	}

	conv, err := h.conversations.GetByID(convID, agencyID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	}

	limit, offset := pagination(c)
	messages, err := h.messages.ListByConversation(conv.ID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list messages"})
	}

	return c.JSON(http.StatusOK, messages)
}

// SendMessageRequest is the body of a manual send.
type SendMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

// SendMessage godoc
// @Summary Send a message
// @Description Send a manual message through the send gate
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body SendMessageRequest true "Message body"
// @Success 200 {object} models.Message
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /conversations/{id}/messages [post]
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	agent, agency, err := h.sendContext(c)
	if err != nil {
		return err
	}

	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid conversation ID"})
	}

	conv, err := h.conversations.GetByID(convID, agency.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	msg, outcome, err := h.gate.Dispatch(c.Request().Context(), services.SendRequest{
		Conversation: conv,
		Agent:        agent,
		Agency:       agency,
		Body:         req.Body,
		Category:     models.CategoryManual,
		Type:         models.TypeManual,
	})
	if err != nil {
		var rejection *services.PolicyRejectionError
		if errors.As(err, &rejection) {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error":  rejection.Message,
				"reason": rejection.Reason,
			})
		}
		if outcome == services.OutcomeFailed && msg != nil {
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"error":   "Message transmission failed",
				"message": msg,
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to send message"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"outcome": string(outcome),
		"message": msg,
	})
}

// ListDrafts godoc
// @Summary List draft messages
// @Description List the current agent's pending draft messages, oldest first
// @Tags conversations
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Message
// @Failure 401 {object} map[string]string
// @Router /messages/drafts [get]
func (h *ConversationHandler) ListDrafts(c echo.Context) error {
	agentID, ok := c.Get("agent_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing agent context"})
	}

	limit, offset := pagination(c)
	drafts, err := h.messages.ListDrafts(agentID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list drafts"})
	}

	return c.JSON(http.StatusOK, drafts)
}

// ApproveDraft godoc
// @Summary Approve a draft
// @Description Transmit a drafted message after human review
// @Tags conversations
// @Produce json
// @Param id path string true "Message ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /messages/{id}/approve [post]
func (h *ConversationHandler) ApproveDraft(c echo.Context) error {
	return h.transition(c, func(msg *models.Message, conv *models.Conversation, agent *models.Agent, agency *models.Agency) (services.SendOutcome, error) {
		return h.gate.ApproveDraft(c.Request().Context(), msg, conv, agent, agency)
	})
}

// RetryFailed godoc
// @Summary Retry a failed message
// @Description Re-transmit a message that failed at the provider
// @Tags conversations
// @Produce json
// @Param id path string true "Message ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /messages/{id}/retry [post]
func (h *ConversationHandler) RetryFailed(c echo.Context) error {
	return h.transition(c, func(msg *models.Message, conv *models.Conversation, agent *models.Agent, agency *models.Agency) (services.SendOutcome, error) {
		return h.gate.RetryFailed(c.Request().Context(), msg, conv, agent, agency)
	})
}

func (h *ConversationHandler) transition(c echo.Context, apply func(*models.Message, *models.Conversation, *models.Agent, *models.Agency) (services.SendOutcome, error)) error {
	agent, agency, err := h.sendContext(c)
	if err != nil {
		return err
	}

	msgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid message ID"})
	}

	msg, err := h.messages.GetByID(msgID, agency.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Message not found"})
	}

	conv, err := h.conversations.GetByID(msg.ConversationID, agency.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	}

	outcome, err := apply(msg, conv, agent, agency)
	if err != nil {
		var rejection *services.PolicyRejectionError
		if errors.As(err, &rejection) {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error":  rejection.Message,
				"reason": rejection.Reason,
			})
		}
		if errors.Is(err, repo.ErrMessageNotClaimable) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"outcome": string(outcome)})
}
