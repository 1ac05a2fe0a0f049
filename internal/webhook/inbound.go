// Package webhook handles the provider's inbound-message and delivery-status
// callbacks. Each delivery is a stateless request-scoped execution: resolve,
// log, then decide between replying, escalating and ignoring.
package webhook

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"covertext/internal/classify"
	"covertext/internal/phone"
	"covertext/internal/repo"
	"covertext/internal/services"
	"covertext/internal/telemetry"
	"covertext/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ReplyGenerator is the LLM collaborator producing automated answers.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, question string, facts map[string]string) (string, error)
}

// stopKeywords and helpKeywords are matched against the whole trimmed message,
// case-insensitively, before anything reaches the classifier. CANCEL as a
// whole message is a STOP command, never a policy question.
var stopKeywords = map[string]bool{
	"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true,
	"CANCEL": true, "END": true, "QUIT": true,
}

var helpKeywords = map[string]bool{
	"HELP": true, "INFO": true,
}

const helpReply = "This number sends policy updates from your insurance agency. " +
	"Reply STOP to unsubscribe. For assistance, contact your agent directly."

// TelnyxEvent is the provider's webhook envelope.
type TelnyxEvent struct {
	Data struct {
		EventType string        `json:"event_type"`
		Payload   TelnyxPayload `json:"payload"`
	} `json:"data"`
}

// TelnyxPayload carries the message details of one webhook event.
type TelnyxPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"from"`
	To []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	} `json:"to"`
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// InboundHandler orchestrates inbound SMS processing.
type InboundHandler struct {
	agencies      *repo.AgencyRepository
	agents        *repo.AgentRepository
	deals         *repo.DealRepository
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
	consent       *services.ConsentService
	gate          *services.SendGateService
	replies       ReplyGenerator
	provider      services.SMSProvider
	notifier      EventNotifier
}

// NewInboundHandler creates a new inbound webhook handler
func NewInboundHandler(
	agencies *repo.AgencyRepository,
	agents *repo.AgentRepository,
	deals *repo.DealRepository,
	conversations *repo.ConversationRepository,
	messages *repo.MessageRepository,
	consent *services.ConsentService,
	gate *services.SendGateService,
	replies ReplyGenerator,
	provider services.SMSProvider,
) *InboundHandler {
	return &InboundHandler{
		agencies:      agencies,
		agents:        agents,
		deals:         deals,
		conversations: conversations,
		messages:      messages,
		consent:       consent,
		gate:          gate,
		replies:       replies,
		provider:      provider,
	}
}

// SetEventNotifier attaches the websocket notifier for real-time events.
func (h *InboundHandler) SetEventNotifier(notifier EventNotifier) {
	h.notifier = notifier
}

// HandleInbound processes an inbound SMS webhook
// @Summary Process an inbound SMS webhook
// @Description Receives the provider's message.received events
// @Tags webhook
// @Accept json
// @Produce json
// @Param event body TelnyxEvent true "Webhook event"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /webhook/sms [post]
func (h *InboundHandler) HandleInbound(c echo.Context) error {
	var event TelnyxEvent
	if err := c.Bind(&event); err != nil {
		log.Warn().Err(err).Msg("failed to parse inbound webhook")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
	}

	if event.Data.EventType != "message.received" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	payload := event.Data.Payload
	if len(payload.To) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing receiving number"})
	}

	agency, err := h.agencies.GetBySMSNumber(payload.To[0].PhoneNumber)
	if err != nil {
		log.Warn().
			Str("to", payload.To[0].PhoneNumber).
			Msg("inbound message for unknown agency number")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	from := phone.Normalize(payload.From.PhoneNumber)
	deal, err := h.deals.FindByPhone(agency.ID, from)
	if err != nil {
		// No deal context: nothing can be safely answered.
		telemetry.MessagesInbound.WithLabelValues("no_deal").Inc()
		log.Info().
			Str("agency_id", agency.ID.String()).
			Str("from", from).
			Msg("inbound message with no matching deal, ignoring")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	conv, err := h.conversations.GetOrCreate(deal.AgentID, deal.ID, agency.ID, from)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve conversation")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "conversation handling failed"})
	}

	now := time.Now()
	inbound := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &deal.ID,
		ReceiverID:      &conv.AgentID,
		Body:            payload.Text,
		Direction:       models.DirectionInbound,
		Status:          models.MessageStatusReceived,
		Category:        models.CategoryManual,
		ExternalID:      payload.ID,
	}
	if err := h.messages.Create(inbound); err != nil {
		log.Error().Err(err).Msg("failed to log inbound message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "message logging failed"})
	}
	if err := h.conversations.TouchLastMessage(conv.ID, now); err != nil {
		log.Error().Err(err).Msg("failed to update conversation recency")
	}
	h.broadcast(agency.ID.String(), "inbound_message", map[string]interface{}{
		"message_id":      inbound.ID.String(),
		"conversation_id": conv.ID.String(),
		"deal_id":         deal.ID.String(),
		"body":            payload.Text,
	})

	keyword := strings.ToUpper(strings.TrimSpace(payload.Text))
	if stopKeywords[keyword] {
		telemetry.MessagesInbound.WithLabelValues("stop_keyword").Inc()
		if err := h.consent.OptOut(conv, services.OptOutSourceKeyword); err != nil {
			log.Error().Err(err).Msg("failed to process STOP keyword")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "opt-out failed"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "opted_out"})
	}
	if helpKeywords[keyword] {
		telemetry.MessagesInbound.WithLabelValues("help_keyword").Inc()
		h.sendComplianceHelp(c.Request().Context(), agency, conv, deal)
		return c.JSON(http.StatusOK, map[string]string{"status": "help_sent"})
	}

	// Eligibility before classification: if no reply could legally be sent,
	// there is no point invoking the classifier or the LLM.
	agent, err := h.agents.GetByID(deal.AgentID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load agent for inbound message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "agent lookup failed"})
	}
	if h.consent.CanSend(conv) != nil || !agent.SubscriptionTier.AllowsAutomation() {
		telemetry.MessagesInbound.WithLabelValues("ineligible").Inc()
		return c.JSON(http.StatusOK, map[string]string{"status": "received"})
	}

	// Classification and reply generation run off the webhook request so the
	// provider gets its ack promptly.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("panic in inbound processing goroutine")
			}
		}()
		h.processQuestion(context.Background(), agency, agent, deal, conv, payload.Text)
	}()

	return c.JSON(http.StatusOK, map[string]string{
		"status":     "processed",
		"message_id": inbound.ID.String(),
	})
}

// processQuestion classifies an eligible inbound text and routes it: ignore,
// escalate to a human, or generate and send an automated reply.
func (h *InboundHandler) processQuestion(ctx context.Context, agency *models.Agency, agent *models.Agent, deal *models.Deal, conv *models.Conversation, text string) {
	facts := DealFacts(deal, agent)
	result := classify.Classify(text, facts)
	telemetry.MessagesInbound.WithLabelValues(string(result)).Inc()

	switch result {
	case classify.ResultNotQuestion:
		return

	case classify.ResultNonDeal:
		h.escalate(deal, agency, conv, "client message needs human review")
		return
	}

	reply, err := h.replies.GenerateReply(ctx, text, facts)
	if err != nil {
		// Never fabricate a reply from an error state.
		log.Error().Err(err).
			Str("deal_id", deal.ID.String()).
			Msg("reply generation failed, escalating")
		h.escalate(deal, agency, conv, "automated reply generation failed")
		return
	}

	msg, outcome, err := h.gate.Dispatch(ctx, services.SendRequest{
		Conversation: conv,
		Agent:        agent,
		Agency:       agency,
		Body:         reply,
		Category:     models.CategoryAutomated,
		Type:         models.TypeAutoReply,
	})
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Str("outcome", string(outcome)).
			Msg("automated reply not sent")
		if outcome == services.OutcomeFailed && msg != nil {
			h.broadcast(agency.ID.String(), "send_failure", map[string]interface{}{
				"message_id":      msg.ID.String(),
				"conversation_id": conv.ID.String(),
			})
		}
		return
	}
	if msg != nil {
		h.broadcast(agency.ID.String(), "auto_reply", map[string]interface{}{
			"message_id":      msg.ID.String(),
			"conversation_id": conv.ID.String(),
			"outcome":         string(outcome),
		})
	}
}

// escalate flags the deal for human attention instead of messaging the client.
func (h *InboundHandler) escalate(deal *models.Deal, agency *models.Agency, conv *models.Conversation, reason string) {
	if err := h.deals.FlagAttention(deal.ID, reason); err != nil {
		log.Error().Err(err).
			Str("deal_id", deal.ID.String()).
			Msg("failed to flag deal for attention")
		return
	}
	h.broadcast(agency.ID.String(), "escalation", map[string]interface{}{
		"deal_id":         deal.ID.String(),
		"conversation_id": conv.ID.String(),
		"reason":          reason,
	})
}

// sendComplianceHelp texts the canned HELP response straight through the
// provider: compliance replies are exempt from tier gating and metering.
func (h *InboundHandler) sendComplianceHelp(ctx context.Context, agency *models.Agency, conv *models.Conversation, deal *models.Deal) {
	externalID, err := h.provider.Send(ctx, phone.ToE164(agency.SMSNumber), phone.ToE164(conv.ClientPhone), helpReply)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Msg("failed to send compliance help reply")
		return
	}

	now := time.Now()
	msg := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &conv.AgentID,
		ReceiverID:      &deal.ID,
		Body:            helpReply,
		Direction:       models.DirectionOutbound,
		Status:          models.MessageStatusSent,
		Category:        models.CategoryAutomated,
		ExternalID:      externalID,
		SentAt:          &now,
		Metadata: models.MessageMetadata{
			Automated:         true,
			Type:              models.TypeComplianceHelp,
			ProviderMessageID: externalID,
		},
	}
	if err := h.messages.Create(msg); err != nil {
		log.Error().Err(err).Msg("failed to log compliance help reply")
	}
}

func (h *InboundHandler) broadcast(agencyID, eventType string, data interface{}) {
	if h.notifier == nil {
		return
	}
	h.notifier.BroadcastAgencyEvent(agencyID, eventType, data)
}

// DealFacts flattens a deal's populated policy data into the fact map the
// classifier and the reply prompt consume. Empty values stay absent so the
// entity layer treats them as unknown.
func DealFacts(deal *models.Deal, agent *models.Agent) classify.Facts {
	facts := classify.Facts{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			facts[key] = value
		}
	}

	set(classify.FactClientName, deal.ClientName())
	set(classify.FactPolicyNumber, deal.PolicyNumber)
	set(classify.FactCarrierName, deal.CarrierName)
	set(classify.FactPlanType, deal.PlanType)
	set(classify.FactPolicyStatus, deal.PolicyStatus)
	set(classify.FactPremium, deal.Premium)
	set(classify.FactCoverageAmount, deal.CoverageAmount)
	set(classify.FactBeneficiary, deal.Beneficiary)
	if deal.EffectiveDate != nil {
		set(classify.FactEffectiveDate, deal.EffectiveDate.Format("January 2, 2006"))
	}
	if deal.RenewalDate != nil {
		set(classify.FactRenewalDate, deal.RenewalDate.Format("January 2, 2006"))
	}
	if deal.NextPaymentAt != nil {
		set(classify.FactNextPayment, deal.NextPaymentAt.Format("January 2, 2006"))
	}
	if agent != nil {
		set(classify.FactAgentName, agent.Name)
		set(classify.FactAgentEmail, agent.Email)
		set(classify.FactAgentPhone, agent.Phone)
	}
	return facts
}
