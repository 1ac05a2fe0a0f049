package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"covertext/internal/repo"
	"covertext/pkg/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)",
		filepath.Join(t.TempDir(), "covertext_test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// stubProvider is an SMSProvider that records calls.
type stubProvider struct {
	err      error
	calls    int
	lastFrom string
	lastTo   string
	lastText string
}

func (p *stubProvider) Send(_ context.Context, from, to, text string) (string, error) {
	p.calls++
	p.lastFrom, p.lastTo, p.lastText = from, to, text
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("ext-%d", p.calls), nil
}

// stubBilling is a BillingReporter that records reported quantities.
type stubBilling struct {
	err        error
	quantities []int
	accounts   []string
}

func (b *stubBilling) ReportUsage(_ context.Context, accountID, _ string, quantity int) error {
	if b.err != nil {
		return b.err
	}
	b.accounts = append(b.accounts, accountID)
	b.quantities = append(b.quantities, quantity)
	return nil
}

// testEnv wires the full service stack over a sqlite database with one
// agency, one agent and one deal.
type testEnv struct {
	db            *gorm.DB
	provider      *stubProvider
	billing       *stubBilling
	agencies      *repo.AgencyRepository
	agents        *repo.AgentRepository
	deals         *repo.DealRepository
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
	runs          *repo.AutomationRunRepository
	consent       *ConsentService
	meter         *UsageMeterService
	gate          *SendGateService

	agency *models.Agency
	agent  *models.Agent
	deal   *models.Deal
}

func newTestEnv(t *testing.T, tier models.SubscriptionTier) *testEnv {
	t.Helper()
	db := newTestDB(t)

	env := &testEnv{
		db:            db,
		provider:      &stubProvider{},
		billing:       &stubBilling{},
		agencies:      repo.NewAgencyRepository(db),
		agents:        repo.NewAgentRepository(db),
		deals:         repo.NewDealRepository(db),
		conversations: repo.NewConversationRepository(db),
		messages:      repo.NewMessageRepository(db),
		runs:          repo.NewAutomationRunRepository(db),
	}
	env.consent = NewConsentService(env.conversations)
	env.meter = NewUsageMeterService(env.agents, env.billing, "sms_overage")
	env.gate = NewSendGateService(env.provider, env.consent, env.meter, env.messages, env.conversations)

	env.agency = &models.Agency{Name: "Test Agency", SMSNumber: "5550001111", AutoSendEnabled: true}
	if err := env.agencies.Create(env.agency); err != nil {
		t.Fatalf("seed agency: %v", err)
	}

	env.agent = &models.Agent{
		AgencyID:         env.agency.ID,
		Email:            fmt.Sprintf("agent-%s@test.local", uuid.NewString()[:8]),
		Password:         "x",
		Name:             "Test Agent",
		SubscriptionTier: tier,
		IsActive:         true,
		BillingAccountID: "acct_test",
		Agency:           env.agency,
	}
	if err := env.agents.Create(env.agent); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	env.deal = &models.Deal{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: env.agency.ID},
		AgentID:         env.agent.ID,
		ClientFirstName: "Pat",
		ClientPhone:     "5551234567",
		PolicyStatus:    "active",
		PolicyNumber:    "POL-100",
	}
	if err := env.deals.Create(env.deal); err != nil {
		t.Fatalf("seed deal: %v", err)
	}

	return env
}

// conversation creates (or fetches) the conversation for the seeded pair.
func (env *testEnv) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := env.conversations.GetOrCreate(env.agent.ID, env.deal.ID, env.agency.ID, env.deal.ClientPhone)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func (env *testEnv) request(conv *models.Conversation, category models.MessageCategory) SendRequest {
	return SendRequest{
		Conversation: conv,
		Agent:        env.agent,
		Agency:       env.agency,
		Body:         "test message",
		Category:     category,
		Type:         models.TypeManual,
	}
}
