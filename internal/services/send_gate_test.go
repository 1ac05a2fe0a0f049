package services

import (
	"context"
	"errors"
	"testing"

	"covertext/internal/repo"
	"covertext/internal/telnyx"
	"covertext/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRejectsOptedOut(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	require.NoError(t, env.consent.OptOut(conv, OptOutSourceKeyword))

	_, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	assert.Equal(t, OutcomeRejected, outcome)

	var rejection *PolicyRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonOptedOut, rejection.Reason)
	assert.Zero(t, env.provider.calls)
}

func TestDispatchRejectsPendingDistinctly(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	require.NoError(t, env.db.Model(conv).Update("opt_in_status", models.OptInPending).Error)
	conv.OptInStatus = models.OptInPending

	_, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	assert.Equal(t, OutcomeRejected, outcome)

	var rejection *PolicyRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonOptInPending, rejection.Reason)
}

func TestDispatchRejectsFreeTier(t *testing.T) {
	env := newTestEnv(t, models.TierFree)
	conv := env.conversation(t)

	_, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	assert.Equal(t, OutcomeRejected, outcome)

	var rejection *PolicyRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonUpgradeNeeded, rejection.Reason)
}

func TestDispatchSkipsAutomatedOnBasicTierWithoutDraft(t *testing.T) {
	env := newTestEnv(t, models.TierBasic)
	conv := env.conversation(t)

	msg, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryAutomated))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Nil(t, msg)
	assert.Zero(t, env.provider.calls)

	// A skipped message must not surface as a stuck draft.
	var count int64
	env.db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestDispatchManualBypassesAutomationGate(t *testing.T) {
	env := newTestEnv(t, models.TierBasic)
	conv := env.conversation(t)

	msg, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Equal(t, 1, env.provider.calls)
}

func TestDispatchDraftsWhenAutoSendDisabled(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	require.NoError(t, env.agencies.SetAutoSend(env.agency.ID, false))
	env.agency.AutoSendEnabled = false

	msg, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDrafted, outcome)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusDraft, msg.Status)
	assert.Nil(t, msg.SentAt)
	assert.Zero(t, env.provider.calls)

	// Drafts never touch conversation recency or the usage meter.
	reloaded, err := env.conversations.GetByID(conv.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.LastMessageAt)
	agent, err := env.agents.GetByID(env.agent.ID)
	require.NoError(t, err)
	assert.Zero(t, agent.MessagesSentCount)
}

func TestDispatchAgentOverrideBeatsAgencySetting(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)

	// Agency says send, agent says draft: the override wins.
	off := false
	env.agent.AutoSendOverride = &off
	msg, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDrafted, outcome)
	assert.Equal(t, models.MessageStatusDraft, msg.Status)

	// Agency says draft, agent says send: still the override.
	env.agency.AutoSendEnabled = false
	on := true
	env.agent.AutoSendOverride = &on
	_, outcome, err = env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
}

func TestDispatchRecordsProviderFailure(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	env.provider.err = &telnyx.SendError{Code: "40001", Detail: "invalid destination"}

	msg, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Error(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	assert.Equal(t, "40001", msg.Metadata.ErrorCode)

	// A plain failure does not revoke consent.
	reloaded, err := env.conversations.GetByID(conv.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptInOptedIn, reloaded.OptInStatus)
}

func TestDispatchCarrierBlockOptsOut(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	env.provider.err = &telnyx.SendError{Code: telnyx.ErrCodeRecipientBlocked, Detail: "recipient blocked"}

	_, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, telnyx.IsRecipientBlocked(err))

	reloaded, err := env.conversations.GetByID(conv.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptInOptedOut, reloaded.OptInStatus)
	assert.NotNil(t, reloaded.OptedOutAt)
}

func TestDispatchSentMetersAndTouchesConversation(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)

	msg, outcome, err := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, "ext-1", msg.ExternalID)
	assert.NotNil(t, msg.SentAt)
	assert.Equal(t, "+15550001111", env.provider.lastFrom)
	assert.Equal(t, "+15551234567", env.provider.lastTo)

	reloaded, err := env.conversations.GetByID(conv.ID, env.agency.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastMessageAt)

	agent, err := env.agents.GetByID(env.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, agent.MessagesSentCount)
}

func TestApproveDraftTransmitsWithoutTierGate(t *testing.T) {
	// A basic-tier agent's automated draft (created before a downgrade, say)
	// can still be approved: approval is not tier-gated.
	env := newTestEnv(t, models.TierBasic)
	conv := env.conversation(t)

	draft := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &env.agent.ID,
		ReceiverID:      &conv.DealID,
		Body:            "draft body",
		Direction:       models.DirectionOutbound,
		Status:          models.MessageStatusDraft,
		Category:        models.CategoryAutomated,
	}
	require.NoError(t, env.messages.Create(draft))

	outcome, err := env.gate.ApproveDraft(context.Background(), draft, conv, env.agent, env.agency)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, models.MessageStatusSent, draft.Status)
	assert.NotNil(t, draft.SentAt)
	assert.Equal(t, 1, env.provider.calls)
}

func TestApproveDraftTwiceSendsOnce(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)

	draft := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &env.agent.ID,
		ReceiverID:      &conv.DealID,
		Body:            "draft body",
		Direction:       models.DirectionOutbound,
		Status:          models.MessageStatusDraft,
		Category:        models.CategoryManual,
	}
	require.NoError(t, env.messages.Create(draft))

	outcome, err := env.gate.ApproveDraft(context.Background(), draft, conv, env.agent, env.agency)
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, outcome)

	// The second approval must lose the claim before the provider is
	// called: the client is never texted twice.
	stale, err := env.messages.GetByID(draft.ID, env.agency.ID)
	require.NoError(t, err)
	stale.Status = models.MessageStatusDraft // simulate a stale read from a racing request
	outcome, err = env.gate.ApproveDraft(context.Background(), stale, conv, env.agent, env.agency)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.ErrorIs(t, err, repo.ErrMessageNotClaimable)
	assert.Equal(t, 1, env.provider.calls)
}

func TestRetryFailedTwiceSendsOnce(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	env.provider.err = errors.New("connection reset")

	msg, outcome, _ := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, 1, env.provider.calls)

	env.provider.err = nil
	outcome, err := env.gate.RetryFailed(context.Background(), msg, conv, env.agent, env.agency)
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, outcome)
	require.Equal(t, 2, env.provider.calls)

	outcome, err = env.gate.RetryFailed(context.Background(), msg, conv, env.agent, env.agency)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.ErrorIs(t, err, repo.ErrMessageNotClaimable)
	assert.Equal(t, 2, env.provider.calls)
}

func TestApproveDraftStillChecksConsent(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)

	draft := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &env.agent.ID,
		ReceiverID:      &conv.DealID,
		Body:            "draft body",
		Direction:       models.DirectionOutbound,
		Status:          models.MessageStatusDraft,
		Category:        models.CategoryManual,
	}
	require.NoError(t, env.messages.Create(draft))
	require.NoError(t, env.consent.OptOut(conv, OptOutSourceKeyword))

	outcome, err := env.gate.ApproveDraft(context.Background(), draft, conv, env.agent, env.agency)
	assert.Equal(t, OutcomeRejected, outcome)

	var rejection *PolicyRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Zero(t, env.provider.calls)
}

func TestRetryFailedClearsErrorAndSends(t *testing.T) {
	env := newTestEnv(t, models.TierPro)
	conv := env.conversation(t)
	env.provider.err = errors.New("connection reset")

	msg, outcome, _ := env.gate.Dispatch(context.Background(), env.request(conv, models.CategoryManual))
	require.Equal(t, OutcomeFailed, outcome)

	env.provider.err = nil
	outcome, err := env.gate.RetryFailed(context.Background(), msg, conv, env.agent, env.agency)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	reloaded, err := env.messages.GetByID(msg.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, reloaded.Status)
	assert.Empty(t, reloaded.Metadata.ErrorCode)
	assert.Empty(t, reloaded.Metadata.ErrorDetail)
	assert.NotNil(t, reloaded.SentAt)
}
