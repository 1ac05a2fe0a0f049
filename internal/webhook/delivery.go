package webhook

import (
	"net/http"

	"covertext/internal/repo"
	"covertext/internal/services"
	"covertext/internal/telnyx"
	"covertext/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DeliveryHandler processes the provider's delivery receipts, advancing
// message status without ever downgrading it.
type DeliveryHandler struct {
	messages      *repo.MessageRepository
	conversations *repo.ConversationRepository
	consent       *services.ConsentService
	notifier      EventNotifier
}

// NewDeliveryHandler creates a new delivery receipt handler
func NewDeliveryHandler(
	messages *repo.MessageRepository,
	conversations *repo.ConversationRepository,
	consent *services.ConsentService,
) *DeliveryHandler {
	return &DeliveryHandler{
		messages:      messages,
		conversations: conversations,
		consent:       consent,
	}
}

// SetEventNotifier attaches the websocket notifier for real-time events.
func (h *DeliveryHandler) SetEventNotifier(notifier EventNotifier) {
	h.notifier = notifier
}

// HandleDeliveryStatus processes a delivery-status webhook
// @Summary Process a delivery-status webhook
// @Description Receives the provider's message.sent/message.finalized events
// @Tags webhook
// @Accept json
// @Produce json
// @Param event body TelnyxEvent true "Webhook event"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /webhook/sms/status [post]
func (h *DeliveryHandler) HandleDeliveryStatus(c echo.Context) error {
	var event TelnyxEvent
	if err := c.Bind(&event); err != nil {
		log.Warn().Err(err).Msg("failed to parse delivery webhook")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
	}

	eventType := event.Data.EventType
	if eventType != "message.sent" && eventType != "message.finalized" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	payload := event.Data.Payload

	msg, err := h.messages.GetByExternalID(payload.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// Receipt for a message this system never logged.
			log.Debug().Str("external_id", payload.ID).Msg("delivery receipt for unknown message")
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "message lookup failed"})
	}

	status := deliveryStatus(payload)
	if status == "" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	applied, err := h.messages.ApplyDeliveryStatus(msg, status)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("failed to apply delivery status")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "status update failed"})
	}

	if status == models.MessageStatusFailed {
		h.reconcileBlock(msg, payload)
	}

	if applied && h.notifier != nil {
		h.notifier.BroadcastAgencyEvent(msg.AgencyID.String(), "message_status", map[string]interface{}{
			"message_id": msg.ID.String(),
			"status":     string(status),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

// deliveryStatus maps the provider's per-recipient status onto the message
// lifecycle. Unknown statuses are ignored rather than guessed at.
func deliveryStatus(payload TelnyxPayload) models.MessageStatus {
	if len(payload.To) == 0 {
		return ""
	}
	switch payload.To[0].Status {
	case "delivered":
		return models.MessageStatusDelivered
	case "sending_failed", "delivery_failed", "failed":
		return models.MessageStatusFailed
	case "sent":
		return models.MessageStatusSent
	default:
		return ""
	}
}

// reconcileBlock opts the conversation out when the failure carries the
// carrier-block error code.
func (h *DeliveryHandler) reconcileBlock(msg *models.Message, payload TelnyxPayload) {
	blocked := false
	for _, e := range payload.Errors {
		if e.Code == telnyx.ErrCodeRecipientBlocked {
			blocked = true
			break
		}
	}
	if !blocked {
		return
	}

	conv, err := h.conversations.GetByID(msg.ConversationID, msg.AgencyID)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", msg.ConversationID.String()).
			Msg("failed to load conversation for carrier-block reconciliation")
		return
	}
	if err := h.consent.OptOut(conv, services.OptOutSourceCarrierBlock); err != nil {
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Msg("failed to reconcile carrier-block opt-out")
	}
}
