package repo

import (
	"time"

	"covertext/internal/phone"
	"covertext/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationRepository handles conversation data access
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetOrCreate resolves the conversation for an (agent, deal) pair, creating it
// on first contact. The pair is the authoritative identity: a supplied phone
// that differs from the stored one is corrected in place without changing
// identity, and conversations are never matched across deals by phone. New
// conversations are auto-opted-in. A concurrent insert losing the unique-index
// race is converted into a re-read, never surfaced.
func (r *ConversationRepository) GetOrCreate(agentID, dealID, agencyID uuid.UUID, clientPhone string) (*models.Conversation, error) {
	normalized := phone.Normalize(clientPhone)

	conv, err := r.getByAgentDeal(agentID, dealID)
	if err == nil {
		if normalized != "" && !phone.Equal(conv.ClientPhone, normalized) {
			if err := r.db.Model(conv).Update("client_phone", normalized).Error; err != nil {
				return nil, err
			}
			conv.ClientPhone = normalized
		}
		return conv, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	now := time.Now()
	conv = &models.Conversation{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: agencyID},
		AgentID:         agentID,
		DealID:          dealID,
		ClientPhone:     normalized,
		OptInStatus:     models.OptInOptedIn,
		OptedInAt:       &now,
		IsActive:        true,
	}
	if err := r.db.Create(conv).Error; err != nil {
		if isDuplicateKey(err) {
			return r.getByAgentDeal(agentID, dealID)
		}
		return nil, err
	}
	return conv, nil
}

// GetIfExists is the read-only lookup used by cron dispatchers, which must
// never create a conversation on their own.
func (r *ConversationRepository) GetIfExists(agentID, dealID uuid.UUID) (*models.Conversation, error) {
	conv, err := r.getByAgentDeal(agentID, dealID)
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepository) getByAgentDeal(agentID, dealID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.Where("agent_id = ? AND deal_id = ?", agentID, dealID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetByID gets a conversation by ID scoped to an agency
func (r *ConversationRepository) GetByID(id, agencyID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.Preload("Deal").Where("id = ? AND agency_id = ?", id, agencyID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByAgent lists an agent's conversations, most recent traffic first.
func (r *ConversationRepository) ListByAgent(agentID uuid.UUID, limit, offset int) (models.PaginationResult[models.Conversation], error) {
	var conversations []models.Conversation
	var total int64

	if err := r.db.Model(&models.Conversation{}).Where("agent_id = ?", agentID).Count(&total).Error; err != nil {
		return models.PaginationResult[models.Conversation]{}, err
	}

	// COALESCE keeps never-messaged conversations ordered by creation time
	// without dialect-specific NULLS LAST syntax.
	err := r.db.Preload("Deal").Where("agent_id = ?", agentID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Limit(limit).Offset(offset).
		Find(&conversations).Error
	if err != nil {
		return models.PaginationResult[models.Conversation]{}, err
	}

	page := 1
	totalPages := 1
	if limit > 0 {
		page = (offset / limit) + 1
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return models.PaginationResult[models.Conversation]{
		Data:       conversations,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
	}, nil
}

// MarkOptedOut transitions a conversation to opted_out. The transition is
// one-way: a conversation already opted out keeps its original opted_out_at,
// so repeated STOPs and carrier blocks are idempotent.
func (r *ConversationRepository) MarkOptedOut(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&models.Conversation{}).
		Where("id = ? AND opt_in_status != ?", id, models.OptInOptedOut).
		Updates(map[string]interface{}{
			"opt_in_status": models.OptInOptedOut,
			"opted_out_at":  now,
		}).Error
}

// TouchLastMessage advances last_message_at. Drafts never move it; callers
// invoke this only for transmitted or received messages.
func (r *ConversationRepository) TouchLastMessage(id uuid.UUID, at time.Time) error {
	return r.db.Model(&models.Conversation{}).Where("id = ?", id).
		Update("last_message_at", at).Error
}
