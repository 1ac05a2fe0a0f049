package repo

import (
	"time"

	"covertext/internal/phone"
	"covertext/pkg/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// DealRepository handles deal data access
type DealRepository struct {
	db *gorm.DB
}

// NewDealRepository creates a new deal repository
func NewDealRepository(db *gorm.DB) *DealRepository {
	return &DealRepository{db: db}
}

// GetByID gets a deal by ID scoped to an agency
func (r *DealRepository) GetByID(id, agencyID uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := r.db.Where("id = ? AND agency_id = ?", id, agencyID).First(&deal).Error
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// Create creates a new deal
func (r *DealRepository) Create(deal *models.Deal) error {
	return r.db.Create(deal).Error
}

// Update updates a deal
func (r *DealRepository) Update(deal *models.Deal) error {
	return r.db.Save(deal).Error
}

// ListByAgent lists an agent's deals, newest first.
func (r *DealRepository) ListByAgent(agentID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&deals).Error
	return deals, err
}

// FindByPhone resolves a deal by client phone within one agency. Stored phones
// and inbound payloads rarely share a format, so the lookup matches every
// plausible variant of the number. Deals are never matched across agencies.
func (r *DealRepository) FindByPhone(agencyID uuid.UUID, rawPhone string) (*models.Deal, error) {
	variants := phone.Variants(rawPhone)
	if len(variants) == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var deal models.Deal
	err := r.db.Where("agency_id = ? AND client_phone IN ?", agencyID, variants).
		Order("created_at DESC").
		First(&deal).Error
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// FlagAttention marks a deal as needing human follow-up.
func (r *DealRepository) FlagAttention(id uuid.UUID, reason string) error {
	now := time.Now()
	result := r.db.Model(&models.Deal{}).Where("id = ?", id).Updates(map[string]interface{}{
		"needs_attention":  true,
		"attention_reason": reason,
		"attention_at":     now,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearAttention resets the attention flag after an agent followed up.
func (r *DealRepository) ClearAttention(id, agencyID uuid.UUID) error {
	result := r.db.Model(&models.Deal{}).
		Where("id = ? AND agency_id = ?", id, agencyID).
		Updates(map[string]interface{}{
			"needs_attention":  false,
			"attention_reason": "",
			"attention_at":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListNeedingAttention lists flagged deals for an agency, newest flag first.
func (r *DealRepository) ListNeedingAttention(agencyID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.Where("agency_id = ? AND needs_attention = ?", agencyID, true).
		Order("attention_at DESC").
		Limit(limit).Offset(offset).
		Find(&deals).Error
	return deals, err
}

// BirthdaysOn lists deals whose client birthday falls on the given month/day.
// Month/day extraction syntax differs between postgres and the sqlite test
// harness, so the predicate is picked per dialect.
func (r *DealRepository) BirthdaysOn(month time.Month, day int) ([]models.Deal, error) {
	var where string
	if r.db.Dialector.Name() == "postgres" {
		where = "EXTRACT(MONTH FROM client_birthday) = ? AND EXTRACT(DAY FROM client_birthday) = ?"
	} else {
		where = "CAST(strftime('%m', client_birthday) AS INTEGER) = ? AND CAST(strftime('%d', client_birthday) AS INTEGER) = ?"
	}

	var deals []models.Deal
	err := r.db.Where("client_birthday IS NOT NULL").
		Where(where, int(month), day).
		Find(&deals).Error
	return deals, err
}

// ExpiringWithin lists active-policy deals whose expiration date falls inside
// [from, from+window).
func (r *DealRepository) ExpiringWithin(from time.Time, window time.Duration) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.Where("policy_status = ?", "active").
		Where("expiration_date >= ? AND expiration_date < ?", from, from.Add(window)).
		Find(&deals).Error
	return deals, err
}

// PaymentsDueOn lists deals with a payment due on the given UTC day.
func (r *DealRepository) PaymentsDueOn(day time.Time) ([]models.Deal, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var deals []models.Deal
	err := r.db.Where("next_payment_at >= ? AND next_payment_at < ?", dayStart, dayEnd).
		Find(&deals).Error
	return deals, err
}

// PacketPending lists deals that have uploaded packet documents that were
// never texted to the client.
func (r *DealRepository) PacketPending() ([]models.Deal, error) {
	hasDocs := "packet_document_keys IS NOT NULL AND packet_document_keys != '{}'"
	if r.db.Dialector.Name() == "postgres" {
		hasDocs = "cardinality(packet_document_keys) > 0"
	}

	var deals []models.Deal
	err := r.db.Where("packet_sent_at IS NULL").
		Where(hasDocs).
		Find(&deals).Error
	return deals, err
}

// AppendPacketDocument stores an uploaded document key on the deal.
func (r *DealRepository) AppendPacketDocument(id, agencyID uuid.UUID, key string) error {
	deal, err := r.GetByID(id, agencyID)
	if err != nil {
		return err
	}
	deal.PacketDocumentKeys = append(deal.PacketDocumentKeys, key)
	return r.db.Model(deal).Update("packet_document_keys", pq.StringArray(deal.PacketDocumentKeys)).Error
}

// MarkPacketSent stamps the deal once its packet links were texted.
func (r *DealRepository) MarkPacketSent(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&models.Deal{}).Where("id = ?", id).
		Update("packet_sent_at", now).Error
}
