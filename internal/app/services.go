// Package app wires the application's repositories, services and external
// clients into one container that main and the route setup consume.
package app

import (
	"covertext/internal/ai"
	"covertext/internal/auth"
	"covertext/internal/billing"
	"covertext/internal/config"
	"covertext/internal/repo"
	"covertext/internal/services"
	"covertext/internal/telnyx"
	"covertext/internal/webhook"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Services holds all application services
type Services struct {
	DB     *gorm.DB
	Config *config.Config

	AgencyRepo       *repo.AgencyRepository
	AgentRepo        *repo.AgentRepository
	DealRepo         *repo.DealRepository
	ConversationRepo *repo.ConversationRepository
	MessageRepo      *repo.MessageRepository
	AutomationRepo   *repo.AutomationRunRepository

	AuthService    *auth.Service
	ConsentService *services.ConsentService
	UsageMeter     *services.UsageMeterService
	SendGate       *services.SendGateService
	Dispatch       *services.DispatchService
	PacketStorage  *services.PacketStorageService

	InboundHandler  *webhook.InboundHandler
	DeliveryHandler *webhook.DeliveryHandler
}

// NewServices creates a new services container
func NewServices(db *gorm.DB, cfg *config.Config) *Services {
	agencyRepo := repo.NewAgencyRepository(db)
	agentRepo := repo.NewAgentRepository(db)
	dealRepo := repo.NewDealRepository(db)
	conversationRepo := repo.NewConversationRepository(db)
	messageRepo := repo.NewMessageRepository(db)
	automationRepo := repo.NewAutomationRunRepository(db)

	authService := auth.NewService(agentRepo, cfg.JWTSecret, cfg.JWTAccessDuration, cfg.JWTRefreshDuration)

	smsProvider := telnyx.NewClient(cfg.TelnyxBaseURL, cfg.TelnyxAPIKey, cfg.TelnyxSendTimeout)
	replyService := ai.NewReplyService(cfg.OpenAIAPIKey, cfg.LLMTimeout)

	// Billing is optional: without it overages are logged and never reported.
	var billingReporter services.BillingReporter
	if cfg.BillingBaseURL != "" && cfg.BillingAPIKey != "" {
		billingReporter = billing.NewClient(cfg.BillingBaseURL, cfg.BillingAPIKey)
	} else {
		log.Warn().Msg("billing not configured, overage reporting disabled")
	}

	consentService := services.NewConsentService(conversationRepo)
	usageMeter := services.NewUsageMeterService(agentRepo, billingReporter, cfg.BillingMeterID)
	sendGate := services.NewSendGateService(smsProvider, consentService, usageMeter, messageRepo, conversationRepo)

	packetStorage, err := services.NewPacketStorageService(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("packet document storage not configured, uploads disabled")
		packetStorage = nil
	}

	// The dispatch service links packet documents through storage; a nil
	// storage leaves the packet dispatcher running but with nothing to link.
	var documents services.DocumentLinker
	if packetStorage != nil {
		documents = packetStorage
	}
	dispatch := services.NewDispatchService(dealRepo, agentRepo, conversationRepo, automationRepo, sendGate, documents)

	inboundHandler := webhook.NewInboundHandler(
		agencyRepo, agentRepo, dealRepo, conversationRepo, messageRepo,
		consentService, sendGate, replyService, smsProvider,
	)
	deliveryHandler := webhook.NewDeliveryHandler(messageRepo, conversationRepo, consentService)

	return &Services{
		DB:     db,
		Config: cfg,

		AgencyRepo:       agencyRepo,
		AgentRepo:        agentRepo,
		DealRepo:         dealRepo,
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		AutomationRepo:   automationRepo,

		AuthService:    authService,
		ConsentService: consentService,
		UsageMeter:     usageMeter,
		SendGate:       sendGate,
		Dispatch:       dispatch,
		PacketStorage:  packetStorage,

		InboundHandler:  inboundHandler,
		DeliveryHandler: deliveryHandler,
	}
}
