package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"covertext/internal/repo"
	"covertext/internal/services"
	"covertext/pkg/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubProvider struct {
	err      error
	calls    int
	lastTo   string
	lastText string
}

func (p *stubProvider) Send(_ context.Context, _, to, text string) (string, error) {
	p.calls++
	p.lastTo, p.lastText = to, text
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("ext-%d", p.calls), nil
}

type stubReplies struct {
	reply        string
	err          error
	calls        int
	lastQuestion string
}

func (r *stubReplies) GenerateReply(_ context.Context, question string, _ map[string]string) (string, error) {
	r.calls++
	r.lastQuestion = question
	if r.err != nil {
		return "", r.err
	}
	return r.reply, nil
}

type capturedEvent struct {
	agencyID  string
	eventType string
}

type stubNotifier struct {
	events []capturedEvent
}

func (n *stubNotifier) BroadcastAgencyEvent(agencyID, eventType string, _ interface{}) {
	n.events = append(n.events, capturedEvent{agencyID: agencyID, eventType: eventType})
}

type webhookEnv struct {
	db            *gorm.DB
	provider      *stubProvider
	replies       *stubReplies
	notifier      *stubNotifier
	agents        *repo.AgentRepository
	deals         *repo.DealRepository
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
	consent       *services.ConsentService
	handler       *InboundHandler
	delivery      *DeliveryHandler

	agency *models.Agency
	agent  *models.Agent
	deal   *models.Deal
}

func newWebhookEnv(t *testing.T, tier models.SubscriptionTier) *webhookEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)",
		filepath.Join(t.TempDir(), "covertext_test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, db.AutoMigrate(models.GetAllModels()...))

	env := &webhookEnv{
		db:            db,
		provider:      &stubProvider{},
		replies:       &stubReplies{reply: "Your premium is $120.50."},
		notifier:      &stubNotifier{},
		agents:        repo.NewAgentRepository(db),
		deals:         repo.NewDealRepository(db),
		conversations: repo.NewConversationRepository(db),
		messages:      repo.NewMessageRepository(db),
	}
	agencies := repo.NewAgencyRepository(db)
	env.consent = services.NewConsentService(env.conversations)
	meter := services.NewUsageMeterService(env.agents, nil, "sms_overage")
	gate := services.NewSendGateService(env.provider, env.consent, meter, env.messages, env.conversations)

	env.handler = NewInboundHandler(agencies, env.agents, env.deals, env.conversations,
		env.messages, env.consent, gate, env.replies, env.provider)
	env.handler.SetEventNotifier(env.notifier)
	env.delivery = NewDeliveryHandler(env.messages, env.conversations, env.consent)
	env.delivery.SetEventNotifier(env.notifier)

	env.agency = &models.Agency{Name: "Test Agency", SMSNumber: "5550001111", AutoSendEnabled: true}
	require.NoError(t, agencies.Create(env.agency))

	env.agent = &models.Agent{
		AgencyID:         env.agency.ID,
		Email:            fmt.Sprintf("agent-%s@test.local", uuid.NewString()[:8]),
		Password:         "x",
		Name:             "Taylor Agent",
		Phone:            "5559998888",
		SubscriptionTier: tier,
		IsActive:         true,
	}
	require.NoError(t, env.agents.Create(env.agent))

	env.deal = &models.Deal{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		AgentID:         env.agent.ID,
		ClientFirstName: "Pat",
		ClientPhone:     "5551234567",
		PolicyStatus:    "active",
		PolicyNumber:    "POL-100",
		Premium:         "$120.50",
	}
	require.NoError(t, env.deals.Create(env.deal))

	return env
}

func (env *webhookEnv) post(t *testing.T, handler echo.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	return rec
}

func inboundBody(from, text string) string {
	return fmt.Sprintf(`{"data":{"event_type":"message.received","payload":{"id":"in-1","text":%q,"from":{"phone_number":%q},"to":[{"phone_number":"+15550001111"}]}}}`, text, from)
}

func (env *webhookEnv) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := env.conversations.GetOrCreate(env.agent.ID, env.deal.ID, env.agency.ID, env.deal.ClientPhone)
	require.NoError(t, err)
	return conv
}

func TestHandleInboundLogsMessageAndTouchesConversation(t *testing.T) {
	env := newWebhookEnv(t, models.TierBasic)

	rec := env.post(t, env.handler.HandleInbound, inboundBody("+15551234567", "thanks!"))
	assert.Equal(t, http.StatusOK, rec.Code)

	conv, err := env.conversations.GetIfExists(env.agent.ID, env.deal.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.NotNil(t, conv.LastMessageAt)

	msgs, err := env.messages.ListByConversation(conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, models.MessageStatusReceived, msgs[0].Status)
	assert.Equal(t, "in-1", msgs[0].ExternalID)
}

func TestHandleInboundIgnoresUnknownSender(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)

	rec := env.post(t, env.handler.HandleInbound, inboundBody("+15557770000", "What is my premium?"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")

	var count int64
	env.db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
	assert.Zero(t, env.replies.calls)
}

func TestHandleInboundStopKeywordOptsOut(t *testing.T) {
	for _, keyword := range []string{"STOP", "stopall", " Unsubscribe ", "CANCEL", "end", "QUIT"} {
		t.Run(strings.TrimSpace(keyword), func(t *testing.T) {
			env := newWebhookEnv(t, models.TierPro)
			rec := env.post(t, env.handler.HandleInbound, inboundBody("+15551234567", keyword))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "opted_out")

			conv, err := env.conversations.GetIfExists(env.agent.ID, env.deal.ID)
			require.NoError(t, err)
			require.NotNil(t, conv)
			assert.Equal(t, models.OptInOptedOut, conv.OptInStatus)
			assert.Zero(t, env.replies.calls, "STOP never reaches the classifier")
		})
	}
}

func TestHandleInboundCancelSentenceIsNotStop(t *testing.T) {
	env := newWebhookEnv(t, models.TierBasic)

	rec := env.post(t, env.handler.HandleInbound, inboundBody("+15551234567", "I want to cancel my policy"))
	assert.Equal(t, http.StatusOK, rec.Code)

	conv, err := env.conversations.GetIfExists(env.agent.ID, env.deal.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, models.OptInOptedIn, conv.OptInStatus, "only a whole-message CANCEL is a STOP command")
}

func TestHandleInboundHelpSendsCannedReplyUnmetered(t *testing.T) {
	env := newWebhookEnv(t, models.TierFree)

	rec := env.post(t, env.handler.HandleInbound, inboundBody("+15551234567", "HELP"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "help_sent")

	// Compliance replies go out even on the free tier and are never metered.
	assert.Equal(t, 1, env.provider.calls)
	assert.Contains(t, env.provider.lastText, "Reply STOP")

	agent, err := env.agents.GetByID(env.agent.ID)
	require.NoError(t, err)
	assert.Zero(t, agent.MessagesSentCount)

	conv, err := env.conversations.GetIfExists(env.agent.ID, env.deal.ID)
	require.NoError(t, err)
	msgs, err := env.messages.ListByConversation(conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestHandleInboundIneligibleTierSkipsClassifier(t *testing.T) {
	env := newWebhookEnv(t, models.TierBasic)

	rec := env.post(t, env.handler.HandleInbound, inboundBody("+15551234567", "What is my premium?"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "received")
	assert.Zero(t, env.replies.calls)
}

func TestHandleInboundOptedOutSkipsClassifier(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)
	require.NoError(t, env.consent.OptOut(conv, services.OptOutSourceKeyword))

	rec := env.post(t, env.handler.HandleInbound, inboundBody("+15551234567", "What is my premium?"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "received")
	assert.Zero(t, env.replies.calls)
}

func TestProcessQuestionDealRelatedSendsAutoReply(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)

	env.handler.processQuestion(context.Background(), env.agency, env.agent, env.deal, conv, "What is my premium?")

	assert.Equal(t, 1, env.replies.calls)
	assert.Equal(t, "What is my premium?", env.replies.lastQuestion)
	assert.Equal(t, 1, env.provider.calls)
	assert.Equal(t, "Your premium is $120.50.", env.provider.lastText)

	msgs, err := env.messages.ListByConversation(conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageStatusSent, msgs[0].Status)
	assert.Equal(t, models.TypeAutoReply, msgs[0].Metadata.Type)
	assert.True(t, msgs[0].Metadata.Automated)
}

func TestProcessQuestionNotQuestionIgnored(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)

	env.handler.processQuestion(context.Background(), env.agency, env.agent, env.deal, conv, "ok sounds good")

	assert.Zero(t, env.replies.calls)
	assert.Zero(t, env.provider.calls)

	reloaded, err := env.deals.GetByID(env.deal.ID, env.agency.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.NeedsAttention, "non-questions are ignored, not escalated")
}

func TestProcessQuestionNonDealEscalates(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)

	env.handler.processQuestion(context.Background(), env.agency, env.agent, env.deal, conv, "How do I file a claim?")

	assert.Zero(t, env.replies.calls)
	assert.Zero(t, env.provider.calls)

	reloaded, err := env.deals.GetByID(env.deal.ID, env.agency.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.NeedsAttention)

	var sawEscalation bool
	for _, ev := range env.notifier.events {
		if ev.eventType == "escalation" {
			sawEscalation = true
		}
	}
	assert.True(t, sawEscalation)
}

func TestProcessQuestionLLMFailureEscalatesInsteadOfSending(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)
	env.replies.err = context.DeadlineExceeded

	env.handler.processQuestion(context.Background(), env.agency, env.agent, env.deal, conv, "What is my premium?")

	assert.Zero(t, env.provider.calls, "no degraded reply is ever sent")
	reloaded, err := env.deals.GetByID(env.deal.ID, env.agency.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.NeedsAttention)
}

func TestDealFactsSkipsEmptyAndFormatsDates(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	renewal := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	env.deal.RenewalDate = &renewal
	env.deal.CarrierName = ""

	facts := DealFacts(env.deal, env.agent)
	assert.Equal(t, "POL-100", facts["policy_number"])
	assert.Equal(t, "September 1, 2026", facts["renewal_date"])
	assert.Equal(t, "Taylor Agent", facts["agent_name"])
	_, ok := facts["carrier_name"]
	assert.False(t, ok, "empty values stay absent")
}

func deliveryBody(externalID, status, errCode string) string {
	errs := "[]"
	if errCode != "" {
		errs = fmt.Sprintf(`[{"code":%q,"title":"blocked"}]`, errCode)
	}
	return fmt.Sprintf(`{"data":{"event_type":"message.finalized","payload":{"id":%q,"to":[{"phone_number":"+15551234567","status":%q}],"errors":%s}}}`, externalID, status, errs)
}

func TestHandleDeliveryStatusAdvancesToDelivered(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)

	now := time.Now()
	msg := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &env.agent.ID,
		ReceiverID:      &conv.DealID,
		Body:            "hello",
		Direction:       models.DirectionOutbound,
		Status:          models.MessageStatusSent,
		ExternalID:      "ext-42",
		SentAt:          &now,
	}
	require.NoError(t, env.messages.Create(msg))

	rec := env.post(t, env.delivery.HandleDeliveryStatus, deliveryBody("ext-42", "delivered", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	reloaded, err := env.messages.GetByID(msg.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, reloaded.Status)
	assert.NotNil(t, reloaded.DeliveredAt)
}

func TestHandleDeliveryStatusCarrierBlockOptsOut(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)
	conv := env.conversation(t)

	now := time.Now()
	msg := &models.Message{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		ConversationID:  conv.ID,
		SenderID:        &env.agent.ID,
		ReceiverID:      &conv.DealID,
		Body:            "hello",
		Direction:       models.DirectionOutbound,
		Status:          models.MessageStatusSent,
		ExternalID:      "ext-43",
		SentAt:          &now,
	}
	require.NoError(t, env.messages.Create(msg))

	rec := env.post(t, env.delivery.HandleDeliveryStatus, deliveryBody("ext-43", "sending_failed", "40300"))
	assert.Equal(t, http.StatusOK, rec.Code)

	reloaded, err := env.messages.GetByID(msg.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, reloaded.Status)

	convReloaded, err := env.conversations.GetByID(conv.ID, env.agency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptInOptedOut, convReloaded.OptInStatus)
}

func TestHandleDeliveryStatusUnknownMessageIgnored(t *testing.T) {
	env := newWebhookEnv(t, models.TierPro)

	rec := env.post(t, env.delivery.HandleDeliveryStatus, deliveryBody("never-seen", "delivered", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}
