package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"covertext/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSendWithinAllotmentReportsNothing(t *testing.T) {
	env := newTestEnv(t, models.TierBasic)

	env.meter.RecordSend(context.Background(), env.agent)
	assert.Equal(t, 1, env.agent.MessagesSentCount)
	assert.Empty(t, env.billing.quantities)
}

func TestRecordSendReportsOneUnitPerOverageSend(t *testing.T) {
	env := newTestEnv(t, models.TierBasic)

	// Park the counter at the allotment boundary inside an open cycle.
	cycleEnd := time.Now().UTC().AddDate(0, 1, 0)
	require.NoError(t, env.db.Model(&models.Agent{}).Where("id = ?", env.agent.ID).
		Updates(map[string]interface{}{
			"messages_sent_count": 499,
			"billing_cycle_end":   cycleEnd,
		}).Error)

	// Send 500: reaches the limit exactly, still included.
	env.meter.RecordSend(context.Background(), env.agent)
	assert.Equal(t, 500, env.agent.MessagesSentCount)
	assert.Empty(t, env.billing.quantities)

	// Send 501 crosses the limit and is itself the first billed unit.
	env.meter.RecordSend(context.Background(), env.agent)
	assert.Equal(t, 501, env.agent.MessagesSentCount)
	require.Equal(t, []int{1}, env.billing.quantities)
	assert.Equal(t, []string{"acct_test"}, env.billing.accounts)

	// Every further overage send bills one more unit.
	env.meter.RecordSend(context.Background(), env.agent)
	assert.Equal(t, []int{1, 1}, env.billing.quantities)
}

func TestRecordSendSwallowsBillingFailure(t *testing.T) {
	env := newTestEnv(t, models.TierBasic)
	env.billing.err = errors.New("billing api down")

	cycleEnd := time.Now().UTC().AddDate(0, 1, 0)
	require.NoError(t, env.db.Model(&models.Agent{}).Where("id = ?", env.agent.ID).
		Updates(map[string]interface{}{
			"messages_sent_count": 500,
			"billing_cycle_end":   cycleEnd,
		}).Error)

	// Must not panic or surface: the message already went out.
	env.meter.RecordSend(context.Background(), env.agent)
	assert.Equal(t, 501, env.agent.MessagesSentCount)
}

func TestRecordSendResetsAcrossCycleBoundary(t *testing.T) {
	env := newTestEnv(t, models.TierBasic)

	expired := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.db.Model(&models.Agent{}).Where("id = ?", env.agent.ID).
		Updates(map[string]interface{}{
			"messages_sent_count": 600,
			"billing_cycle_end":   expired,
		}).Error)

	// First send of the new cycle restarts at 1; no overage carried over.
	env.meter.RecordSend(context.Background(), env.agent)
	assert.Equal(t, 1, env.agent.MessagesSentCount)
	assert.Empty(t, env.billing.quantities)

	reloaded, err := env.agents.GetByID(env.agent.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.BillingCycleEnd)
	assert.True(t, reloaded.BillingCycleEnd.After(time.Now()))
}

func TestEndOfMonth(t *testing.T) {
	got := endOfMonth(time.Date(2026, 8, 26, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), got)

	// December rolls into the next year.
	got = endOfMonth(time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), got)
}
