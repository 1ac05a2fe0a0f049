package services

import (
	"covertext/internal/repo"
	"covertext/internal/telemetry"
	"covertext/pkg/models"

	"github.com/rs/zerolog/log"
)

// Rejection reasons surfaced to callers. Each one is rendered distinctly by
// the UI, so they never collapse into a generic failure.
const (
	ReasonOptedOut      = "opted_out"
	ReasonOptInPending  = "opt_in_pending"
	ReasonUpgradeNeeded = "tier_upgrade_required"
)

// PolicyRejectionError is an expected, user-facing rejection. It is never
// retried.
type PolicyRejectionError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *PolicyRejectionError) Error() string {
	return e.Message
}

// OptOutSource tags what triggered a consent revocation.
type OptOutSource string

const (
	OptOutSourceKeyword      OptOutSource = "keyword"
	OptOutSourceCarrierBlock OptOutSource = "carrier_block"
)

// ConsentService enforces the opt-in state machine. Conversations are created
// opted-in; STOP keywords and carrier-reported blocks revoke consent, and
// nothing re-grants it automatically.
type ConsentService struct {
	conversations *repo.ConversationRepository
}

// NewConsentService creates a new consent service
func NewConsentService(conversations *repo.ConversationRepository) *ConsentService {
	return &ConsentService{conversations: conversations}
}

// CanSend returns nil only when the conversation is opted in. pending blocks
// sends just like opted_out, with its own reason so the caller can tell the
// two apart.
func (s *ConsentService) CanSend(conv *models.Conversation) error {
	switch conv.OptInStatus {
	case models.OptInOptedIn:
		return nil
	case models.OptInOptedOut:
		return &PolicyRejectionError{
			Reason:  ReasonOptedOut,
			Message: "client has opted out of messaging",
		}
	default:
		return &PolicyRejectionError{
			Reason:  ReasonOptInPending,
			Message: "client opt-in is still pending",
		}
	}
}

// OptOut transitions the conversation to opted_out. Already-opted-out
// conversations keep their original timestamp.
func (s *ConsentService) OptOut(conv *models.Conversation, source OptOutSource) error {
	if err := s.conversations.MarkOptedOut(conv.ID); err != nil {
		return err
	}
	conv.OptInStatus = models.OptInOptedOut

	telemetry.OptOuts.WithLabelValues(string(source)).Inc()
	log.Info().
		Str("conversation_id", conv.ID.String()).
		Str("source", string(source)).
		Msg("conversation opted out")
	return nil
}
