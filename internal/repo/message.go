package repo

import (
	"errors"
	"fmt"
	"time"

	"covertext/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// statusRank orders the outbound lifecycle so delivery receipts, which can
// arrive out of order or duplicated, never downgrade a message. delivered and
// failed share a rank: both are terminal and neither replaces the other.
var statusRank = map[models.MessageStatus]int{
	models.MessageStatusDraft:     0,
	models.MessageStatusSent:      1,
	models.MessageStatusDelivered: 2,
	models.MessageStatusFailed:    2,
}

// MessageRepository handles message data access
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message
func (r *MessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

// GetByID gets a message by ID scoped to an agency
func (r *MessageRepository) GetByID(id, agencyID uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("id = ? AND agency_id = ?", id, agencyID).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// GetByExternalID correlates a delivery receipt with the message it acks.
func (r *MessageRepository) GetByExternalID(externalID string) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("external_id = ?", externalID).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByConversation lists a conversation's messages, newest first.
func (r *MessageRepository) ListByConversation(conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	return messages, err
}

// ListDrafts lists an agent's pending draft messages, oldest first so the
// approval queue drains in composition order.
func (r *MessageRepository) ListDrafts(agentID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Where("sender_id = ? AND status = ?", agentID, models.MessageStatusDraft).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	return messages, err
}

// ErrMessageNotClaimable is returned when a message is no longer in the state
// a transition expects: a concurrent or repeated call already claimed it.
var ErrMessageNotClaimable = errors.New("message not in expected state")

// ClaimDraft atomically moves a draft to sent ahead of the provider call, so
// a repeated or concurrent approval finds nothing left to claim instead of
// texting the client twice. The provider message id is stamped after
// transmission; a failed transmission rolls the row on to failed.
func (r *MessageRepository) ClaimDraft(id uuid.UUID, sentAt time.Time) error {
	return r.claimTransition(id, models.MessageStatusDraft, sentAt)
}

// ClaimFailedRetry atomically claims a failed message for an explicit retry.
func (r *MessageRepository) ClaimFailedRetry(id uuid.UUID, sentAt time.Time) error {
	return r.claimTransition(id, models.MessageStatusFailed, sentAt)
}

func (r *MessageRepository) claimTransition(id uuid.UUID, from models.MessageStatus, sentAt time.Time) error {
	result := r.db.Model(&models.Message{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":  models.MessageStatusSent,
			"sent_at": sentAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %s is not in %s state: %w", id, from, ErrMessageNotClaimable)
	}
	return nil
}

// StampTransmission records the provider message id on a claimed row and
// clears error metadata left by an earlier failed attempt.
func (r *MessageRepository) StampTransmission(message *models.Message, externalID string) error {
	message.ExternalID = externalID
	message.Metadata.ErrorCode = ""
	message.Metadata.ErrorDetail = ""
	message.Metadata.ProviderMessageID = externalID
	return r.db.Model(message).Updates(map[string]interface{}{
		"external_id": externalID,
		"metadata":    message.Metadata,
	}).Error
}

// MarkFailed records a provider transmission failure with its error metadata.
// The row reaches a terminal, inspectable state; retries are explicit.
func (r *MessageRepository) MarkFailed(message *models.Message, errorCode, errorDetail string) error {
	message.Status = models.MessageStatusFailed
	message.Metadata.ErrorCode = errorCode
	message.Metadata.ErrorDetail = errorDetail
	return r.db.Model(message).Updates(map[string]interface{}{
		"status":   models.MessageStatusFailed,
		"metadata": message.Metadata,
	}).Error
}

// ApplyDeliveryStatus advances a message per a delivery receipt, refusing
// rank downgrades (a late "sent" ack never regresses a delivered message).
// Returns whether the update was applied.
func (r *MessageRepository) ApplyDeliveryStatus(message *models.Message, status models.MessageStatus) (bool, error) {
	newRank, ok := statusRank[status]
	if !ok {
		return false, fmt.Errorf("unknown delivery status %q", status)
	}
	if newRank <= statusRank[message.Status] {
		return false, nil
	}

	updates := map[string]interface{}{"status": status}
	if status == models.MessageStatusDelivered {
		now := time.Now()
		updates["delivered_at"] = now
	}
	if err := r.db.Model(message).Updates(updates).Error; err != nil {
		return false, err
	}
	message.Status = status
	return true, nil
}
