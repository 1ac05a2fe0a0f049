package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"covertext/internal/ai"
	"covertext/internal/repo"
	"covertext/internal/telemetry"
	"covertext/pkg/models"

	"github.com/rs/zerolog/log"
)

// DocumentLinker renders a stored document key as a client-facing URL.
type DocumentLinker interface {
	PublicURL(key string) string
}

// DispatchService runs the scheduled message producers: birthday greetings,
// lapse reminders, billing notices and policy packets. Every run claims its
// (kind, day) slot first, messages only into conversations that already exist
// and feeds everything through the send gate as automated traffic.
type DispatchService struct {
	deals         *repo.DealRepository
	agents        *repo.AgentRepository
	conversations *repo.ConversationRepository
	runs          *repo.AutomationRunRepository
	gate          *SendGateService
	documents     DocumentLinker
}

// LapseWindow is how far ahead the lapse dispatcher looks for expiring policies.
const LapseWindow = 30 * 24 * time.Hour

// NewDispatchService creates a new dispatch service
func NewDispatchService(
	deals *repo.DealRepository,
	agents *repo.AgentRepository,
	conversations *repo.ConversationRepository,
	runs *repo.AutomationRunRepository,
	gate *SendGateService,
	documents DocumentLinker,
) *DispatchService {
	return &DispatchService{
		deals:         deals,
		agents:        agents,
		conversations: conversations,
		runs:          runs,
		gate:          gate,
		documents:     documents,
	}
}

// RunBirthday texts a greeting to every client whose birthday is today.
// Returns nil without error when another dispatcher already claimed today.
func (s *DispatchService) RunBirthday(ctx context.Context) (*models.AutomationRun, error) {
	return s.run(ctx, models.AutomationBirthday, func(run *models.AutomationRun) error {
		now := time.Now().UTC()
		deals, err := s.deals.BirthdaysOn(now.Month(), now.Day())
		if err != nil {
			return err
		}
		for i := range deals {
			deal := &deals[i]
			body := fmt.Sprintf("Happy birthday, %s! Wishing you a wonderful year ahead.", deal.ClientFirstName)
			s.dispatchToDeal(ctx, run, deal, body, models.TypeBirthday)
		}
		return nil
	})
}

// RunLapse reminds clients whose active policy expires within the next 30 days.
func (s *DispatchService) RunLapse(ctx context.Context) (*models.AutomationRun, error) {
	return s.run(ctx, models.AutomationLapse, func(run *models.AutomationRun) error {
		deals, err := s.deals.ExpiringWithin(time.Now().UTC(), LapseWindow)
		if err != nil {
			return err
		}
		for i := range deals {
			deal := &deals[i]
			if deal.ExpirationDate == nil {
				continue
			}
			body := fmt.Sprintf("Hi %s, your policy%s expires on %s. Reply here or call your agent to review renewal options.",
				deal.ClientFirstName, policyRef(deal), deal.ExpirationDate.Format("January 2, 2006"))
			s.dispatchToDeal(ctx, run, deal, body, models.TypeLapseReminder)
		}
		return nil
	})
}

// RunBillingNotice reminds clients with a payment due today.
func (s *DispatchService) RunBillingNotice(ctx context.Context) (*models.AutomationRun, error) {
	return s.run(ctx, models.AutomationBillingNotice, func(run *models.AutomationRun) error {
		deals, err := s.deals.PaymentsDueOn(time.Now().UTC())
		if err != nil {
			return err
		}
		for i := range deals {
			deal := &deals[i]
			body := fmt.Sprintf("Hi %s, a payment%s on your policy%s is due today.",
				deal.ClientFirstName, premiumRef(deal), policyRef(deal))
			s.dispatchToDeal(ctx, run, deal, body, models.TypeBillingNotice)
		}
		return nil
	})
}

// RunPolicyPacket texts document links for deals with uploaded packets that
// were never delivered. The deal is stamped once the links went out (or were
// drafted for approval), so a packet is offered at most once.
func (s *DispatchService) RunPolicyPacket(ctx context.Context) (*models.AutomationRun, error) {
	return s.run(ctx, models.AutomationPolicyPacket, func(run *models.AutomationRun) error {
		if s.documents == nil {
			log.Warn().Msg("document storage not configured, packet dispatch has nothing to link")
			return nil
		}
		deals, err := s.deals.PacketPending()
		if err != nil {
			return err
		}
		for i := range deals {
			deal := &deals[i]
			links := make([]string, 0, len(deal.PacketDocumentKeys))
			for _, key := range deal.PacketDocumentKeys {
				links = append(links, s.documents.PublicURL(key))
			}
			body := fmt.Sprintf("Hi %s, your policy documents are ready: %s",
				deal.ClientFirstName, strings.Join(links, " "))

			outcome := s.dispatchToDeal(ctx, run, deal, body, models.TypePolicyPacket)
			if outcome == OutcomeSent || outcome == OutcomeDrafted {
				if err := s.deals.MarkPacketSent(deal.ID); err != nil {
					log.Error().Err(err).
						Str("deal_id", deal.ID.String()).
						Msg("failed to stamp packet delivery")
				}
			}
		}
		return nil
	})
}

// run claims the day's slot for a kind, executes the producer and records the
// outcome. A lost claim is not an error: the other dispatcher owns the day.
func (s *DispatchService) run(ctx context.Context, kind models.AutomationKind, producer func(*models.AutomationRun) error) (*models.AutomationRun, error) {
	run, claimed, err := s.runs.Claim(kind, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !claimed {
		telemetry.AutomationRuns.WithLabelValues(string(kind), "already_claimed").Inc()
		log.Info().Str("kind", string(kind)).Msg("dispatch already claimed for today")
		return nil, nil
	}

	if err := producer(run); err != nil {
		telemetry.AutomationRuns.WithLabelValues(string(kind), "failed").Inc()
		if finishErr := s.runs.Finish(run, models.RunStatusFailed); finishErr != nil {
			log.Error().Err(finishErr).Str("kind", string(kind)).Msg("failed to record dispatch failure")
		}
		return run, err
	}

	telemetry.AutomationRuns.WithLabelValues(string(kind), "completed").Inc()
	if err := s.runs.Finish(run, models.RunStatusCompleted); err != nil {
		return run, err
	}
	log.Info().
		Str("kind", string(kind)).
		Int("sent", run.SentCount).
		Int("drafted", run.DraftedCount).
		Int("skipped", run.SkippedCount).
		Int("failed", run.FailedCount).
		Msg("dispatch completed")
	return run, nil
}

// dispatchToDeal routes one automated message through the send gate, counting
// the outcome on the run. Deals without an existing conversation are skipped:
// dispatchers never create conversations.
func (s *DispatchService) dispatchToDeal(ctx context.Context, run *models.AutomationRun, deal *models.Deal, body string, msgType models.MessageType) SendOutcome {
	conv, err := s.conversations.GetIfExists(deal.AgentID, deal.ID)
	if err != nil {
		log.Error().Err(err).Str("deal_id", deal.ID.String()).Msg("conversation lookup failed")
		run.FailedCount++
		return OutcomeFailed
	}
	if conv == nil {
		run.SkippedCount++
		return OutcomeSkipped
	}

	agent, err := s.agents.GetByID(deal.AgentID)
	if err != nil {
		log.Error().Err(err).Str("deal_id", deal.ID.String()).Msg("agent lookup failed")
		run.FailedCount++
		return OutcomeFailed
	}

	_, outcome, err := s.gate.Dispatch(ctx, SendRequest{
		Conversation: conv,
		Agent:        agent,
		Agency:       agent.Agency,
		Body:         ai.BoundSMS(body),
		Category:     models.CategoryAutomated,
		Type:         msgType,
	})
	switch outcome {
	case OutcomeSent:
		run.SentCount++
	case OutcomeDrafted:
		run.DraftedCount++
	case OutcomeFailed:
		run.FailedCount++
		log.Error().Err(err).
			Str("deal_id", deal.ID.String()).
			Str("type", string(msgType)).
			Msg("automated send failed")
	default:
		run.SkippedCount++
	}
	return outcome
}

func policyRef(deal *models.Deal) string {
	if deal.PolicyNumber == "" {
		return ""
	}
	return " " + deal.PolicyNumber
}

func premiumRef(deal *models.Deal) string {
	if deal.Premium == "" {
		return ""
	}
	return " of " + deal.Premium
}
