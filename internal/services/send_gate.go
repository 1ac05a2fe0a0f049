package services

import (
	"context"
	"errors"
	"time"

	"covertext/internal/phone"
	"covertext/internal/repo"
	"covertext/internal/telemetry"
	"covertext/internal/telnyx"
	"covertext/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SMSProvider is the outbound transmission collaborator.
type SMSProvider interface {
	Send(ctx context.Context, from, to, text string) (string, error)
}

// SendOutcome is what the gate decided for one composed message.
type SendOutcome string

const (
	OutcomeSent     SendOutcome = "sent"
	OutcomeDrafted  SendOutcome = "drafted"
	OutcomeSkipped  SendOutcome = "skipped"
	OutcomeFailed   SendOutcome = "failed"
	OutcomeRejected SendOutcome = "rejected"
)

// SendRequest is one composed outbound message awaiting the gate's decision.
// Agent must carry its preloaded Agency.
type SendRequest struct {
	Conversation *models.Conversation
	Agent        *models.Agent
	Agency       *models.Agency
	Body         string
	Category     models.MessageCategory
	Type         models.MessageType
}

// SendGateService decides, for every composed outbound message, between
// sending now, logging a draft, skipping entirely, or rejecting. The checks
// run in a fixed order: consent, tier-allows-messaging, tier-allows-automation
// (automated messages only), then the two-level auto-send resolution. Manual
// agent messages bypass the automation tier gate but never the consent gate.
type SendGateService struct {
	provider      SMSProvider
	consent       *ConsentService
	meter         *UsageMeterService
	messages      *repo.MessageRepository
	conversations *repo.ConversationRepository
}

// NewSendGateService creates a new send gate
func NewSendGateService(
	provider SMSProvider,
	consent *ConsentService,
	meter *UsageMeterService,
	messages *repo.MessageRepository,
	conversations *repo.ConversationRepository,
) *SendGateService {
	return &SendGateService{
		provider:      provider,
		consent:       consent,
		meter:         meter,
		messages:      messages,
		conversations: conversations,
	}
}

// Dispatch runs the gate for one composed message.
//
// Skipped automated messages leave no row at all: a tier-gated cron message
// must not surface as a stuck draft. Rejections return a PolicyRejectionError
// with a distinct reason. Provider failures are recorded on the message row
// and surfaced; they are only retried through an explicit RetryFailed call.
func (s *SendGateService) Dispatch(ctx context.Context, req SendRequest) (*models.Message, SendOutcome, error) {
	if err := s.consent.CanSend(req.Conversation); err != nil {
		telemetry.MessagesOutbound.WithLabelValues(string(OutcomeRejected), string(req.Category)).Inc()
		return nil, OutcomeRejected, err
	}

	tier := req.Agent.SubscriptionTier
	if !tier.AllowsMessaging() {
		telemetry.MessagesOutbound.WithLabelValues(string(OutcomeRejected), string(req.Category)).Inc()
		return nil, OutcomeRejected, &PolicyRejectionError{
			Reason:  ReasonUpgradeNeeded,
			Message: "subscription tier does not include messaging",
		}
	}

	if req.Category == models.CategoryAutomated && !tier.AllowsAutomation() {
		telemetry.MessagesOutbound.WithLabelValues(string(OutcomeSkipped), string(req.Category)).Inc()
		log.Debug().
			Str("agent_id", req.Agent.ID.String()).
			Str("tier", string(tier)).
			Msg("automated message skipped for tier")
		return nil, OutcomeSkipped, nil
	}

	if !s.effectiveAutoSend(req.Agent, req.Agency) {
		msg := s.newOutbound(req, models.MessageStatusDraft)
		if err := s.messages.Create(msg); err != nil {
			return nil, OutcomeFailed, err
		}
		telemetry.MessagesOutbound.WithLabelValues(string(OutcomeDrafted), string(req.Category)).Inc()
		return msg, OutcomeDrafted, nil
	}

	externalID, sendErr := s.transmit(ctx, req.Agency, req.Conversation, req.Body)
	if sendErr != nil {
		msg := s.newOutbound(req, models.MessageStatusFailed)
		applySendError(msg, sendErr)
		if err := s.messages.Create(msg); err != nil {
			return nil, OutcomeFailed, err
		}
		s.reconcileCarrierBlock(req.Conversation, sendErr)
		telemetry.MessagesOutbound.WithLabelValues(string(OutcomeFailed), string(req.Category)).Inc()
		return msg, OutcomeFailed, sendErr
	}

	now := time.Now()
	msg := s.newOutbound(req, models.MessageStatusSent)
	msg.ExternalID = externalID
	msg.SentAt = &now
	msg.Metadata.ProviderMessageID = externalID
	if err := s.messages.Create(msg); err != nil {
		return nil, OutcomeFailed, err
	}

	s.afterTransmit(ctx, req.Conversation, req.Agent, now)
	telemetry.MessagesOutbound.WithLabelValues(string(OutcomeSent), string(req.Category)).Inc()
	return msg, OutcomeSent, nil
}

// ApproveDraft transmits a previously drafted message. Tier gates do not
// apply (a human already approved the content), consent still does. The
// draft is claimed before the provider call: a repeated or concurrent
// approval must find the row already out of draft, not text the client twice.
func (s *SendGateService) ApproveDraft(ctx context.Context, msg *models.Message, conv *models.Conversation, agent *models.Agent, agency *models.Agency) (SendOutcome, error) {
	return s.claimAndTransmit(ctx, msg, conv, agent, agency, s.messages.ClaimDraft)
}

// RetryFailed re-attempts transmission of a failed message. Consent is
// re-checked: the failure may have opted the conversation out in the
// meantime.
func (s *SendGateService) RetryFailed(ctx context.Context, msg *models.Message, conv *models.Conversation, agent *models.Agent, agency *models.Agency) (SendOutcome, error) {
	return s.claimAndTransmit(ctx, msg, conv, agent, agency, s.messages.ClaimFailedRetry)
}

func (s *SendGateService) claimAndTransmit(ctx context.Context, msg *models.Message, conv *models.Conversation, agent *models.Agent, agency *models.Agency, claim func(uuid.UUID, time.Time) error) (SendOutcome, error) {
	if err := s.consent.CanSend(conv); err != nil {
		return OutcomeRejected, err
	}

	now := time.Now()
	if err := claim(msg.ID, now); err != nil {
		return OutcomeRejected, err
	}
	msg.Status = models.MessageStatusSent
	msg.SentAt = &now

	externalID, sendErr := s.transmit(ctx, agency, conv, msg.Body)
	if sendErr != nil {
		if err := s.failMessage(msg, sendErr); err != nil {
			return OutcomeFailed, err
		}
		s.reconcileCarrierBlock(conv, sendErr)
		return OutcomeFailed, sendErr
	}

	if err := s.messages.StampTransmission(msg, externalID); err != nil {
		return OutcomeFailed, err
	}

	s.afterTransmit(ctx, conv, agent, now)
	telemetry.MessagesOutbound.WithLabelValues(string(OutcomeSent), string(msg.Category)).Inc()
	return OutcomeSent, nil
}

// effectiveAutoSend resolves the two-level setting: the agent override wins
// when set, otherwise the agency default applies.
func (s *SendGateService) effectiveAutoSend(agent *models.Agent, agency *models.Agency) bool {
	if agent.AutoSendOverride != nil {
		return *agent.AutoSendOverride
	}
	return agency.AutoSendEnabled
}

func (s *SendGateService) transmit(ctx context.Context, agency *models.Agency, conv *models.Conversation, body string) (string, error) {
	return s.provider.Send(ctx, phone.ToE164(agency.SMSNumber), phone.ToE164(conv.ClientPhone), body)
}

// afterTransmit runs the post-send bookkeeping: conversation recency and the
// usage meter. Metering happens only here, after an actual transmission.
func (s *SendGateService) afterTransmit(ctx context.Context, conv *models.Conversation, agent *models.Agent, sentAt time.Time) {
	if err := s.conversations.TouchLastMessage(conv.ID, sentAt); err != nil {
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Msg("failed to update conversation recency")
	}
	s.meter.RecordSend(ctx, agent)
}

func (s *SendGateService) failMessage(msg *models.Message, sendErr error) error {
	code, detail := sendErrorParts(sendErr)
	return s.messages.MarkFailed(msg, code, detail)
}

// reconcileCarrierBlock opts the conversation out when the provider reported
// a carrier-level block: the client revoked consent upstream and local state
// must follow.
func (s *SendGateService) reconcileCarrierBlock(conv *models.Conversation, sendErr error) {
	if !telnyx.IsRecipientBlocked(sendErr) {
		return
	}
	if err := s.consent.OptOut(conv, OptOutSourceCarrierBlock); err != nil {
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Msg("failed to reconcile carrier block opt-out")
	}
}

func (s *SendGateService) newOutbound(req SendRequest, status models.MessageStatus) *models.Message {
	return &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: req.Conversation.AgencyID},
		ConversationID:  req.Conversation.ID,
		SenderID:        &req.Agent.ID,
		ReceiverID:      &req.Conversation.DealID,
		Body:            req.Body,
		Direction:       models.DirectionOutbound,
		Status:          status,
		Category:        req.Category,
		Metadata: models.MessageMetadata{
			Automated: req.Category == models.CategoryAutomated,
			Type:      req.Type,
		},
	}
}

func applySendError(msg *models.Message, sendErr error) {
	code, detail := sendErrorParts(sendErr)
	msg.Metadata.ErrorCode = code
	msg.Metadata.ErrorDetail = detail
}

func sendErrorParts(sendErr error) (string, string) {
	var provErr *telnyx.SendError
	if errors.As(sendErr, &provErr) {
		return provErr.Code, provErr.Detail
	}
	return "", sendErr.Error()
}
