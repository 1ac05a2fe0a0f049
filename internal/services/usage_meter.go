package services

import (
	"context"
	"time"

	"covertext/internal/repo"
	"covertext/internal/telemetry"
	"covertext/pkg/models"

	"github.com/rs/zerolog/log"
)

// BillingReporter is the external usage-metering collaborator.
type BillingReporter interface {
	ReportUsage(ctx context.Context, accountID, meterID string, quantity int) error
}

// UsageMeterService counts transmitted messages against the agent's per-cycle
// allotment and reports overage. It runs only after a message actually left
// through the provider; drafts and skips are never metered.
type UsageMeterService struct {
	agents  *repo.AgentRepository
	billing BillingReporter
	meterID string
}

// NewUsageMeterService creates a new usage meter. billing may be nil when no
// metering collaborator is configured; overage is then only logged.
func NewUsageMeterService(agents *repo.AgentRepository, billing BillingReporter, meterID string) *UsageMeterService {
	return &UsageMeterService{agents: agents, billing: billing, meterID: meterID}
}

// RecordSend increments the agent's counter, applying the lazy billing-cycle
// reset, and reports one unit of overage for every send past the tier's
// included allotment (the send that crosses the limit is the first billed
// unit). The billing report is best-effort: its failure is logged and
// swallowed, never surfaced against a message that already went out.
func (s *UsageMeterService) RecordSend(ctx context.Context, agent *models.Agent) {
	now := time.Now().UTC()
	newCount, err := s.agents.IncrementUsage(agent.ID, now, endOfMonth(now))
	if err != nil {
		log.Error().Err(err).
			Str("agent_id", agent.ID.String()).
			Msg("failed to increment usage counter")
		return
	}
	agent.MessagesSentCount = newCount

	limit := agent.SubscriptionTier.IncludedMessages()
	if newCount <= limit {
		return
	}

	if s.billing == nil || agent.BillingAccountID == "" {
		log.Warn().
			Str("agent_id", agent.ID.String()).
			Int("count", newCount).
			Int("limit", limit).
			Msg("overage without billing collaborator configured")
		return
	}

	if err := s.billing.ReportUsage(ctx, agent.BillingAccountID, s.meterID, 1); err != nil {
		telemetry.OverageReports.WithLabelValues("failed").Inc()
		log.Error().Err(err).
			Str("agent_id", agent.ID.String()).
			Int("count", newCount).
			Msg("failed to report overage usage")
		return
	}
	telemetry.OverageReports.WithLabelValues("reported").Inc()
}

// endOfMonth returns the first instant of the next calendar month, which is
// the exclusive end of the current billing cycle.
func endOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
