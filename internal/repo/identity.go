package repo

import (
	"time"

	"covertext/internal/phone"
	"covertext/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AgencyRepository handles agency data access
type AgencyRepository struct {
	db *gorm.DB
}

// NewAgencyRepository creates a new agency repository
func NewAgencyRepository(db *gorm.DB) *AgencyRepository {
	return &AgencyRepository{db: db}
}

// GetByID gets an agency by ID
func (r *AgencyRepository) GetByID(id uuid.UUID) (*models.Agency, error) {
	var agency models.Agency
	err := r.db.Where("id = ?", id).First(&agency).Error
	if err != nil {
		return nil, err
	}
	return &agency, nil
}

// GetBySMSNumber resolves the agency that owns a provisioned sending number.
// The number is normalized before lookup, so any inbound format matches.
func (r *AgencyRepository) GetBySMSNumber(raw string) (*models.Agency, error) {
	var agency models.Agency
	err := r.db.Where("sms_number = ?", phone.Normalize(raw)).First(&agency).Error
	if err != nil {
		return nil, err
	}
	return &agency, nil
}

// Create creates a new agency
func (r *AgencyRepository) Create(agency *models.Agency) error {
	agency.SMSNumber = phone.Normalize(agency.SMSNumber)
	return r.db.Create(agency).Error
}

// SetAutoSend updates the agency-wide auto-send default.
func (r *AgencyRepository) SetAutoSend(id uuid.UUID, enabled bool) error {
	result := r.db.Model(&models.Agency{}).Where("id = ?", id).
		Update("auto_send_enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AgentRepository handles agent data access
type AgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// GetByID gets an agent by ID with the agency preloaded
func (r *AgentRepository) GetByID(id uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.Preload("Agency").Where("id = ?", id).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetByEmail gets an agent by email
func (r *AgentRepository) GetByEmail(email string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.Where("email = ?", email).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Create creates a new agent
func (r *AgentRepository) Create(agent *models.Agent) error {
	return r.db.Create(agent).Error
}

// Update updates an agent
func (r *AgentRepository) Update(agent *models.Agent) error {
	return r.db.Save(agent).Error
}

// UpdateLastLogin stamps the latest successful login time.
func (r *AgentRepository) UpdateLastLogin(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&models.Agent{}).Where("id = ?", id).
		Update("last_login_at", now).Error
}

// UpdatePassword replaces the stored password hash.
func (r *AgentRepository) UpdatePassword(id uuid.UUID, hash string) error {
	return r.db.Model(&models.Agent{}).Where("id = ?", id).
		Update("password", hash).Error
}

// SetAutoSendOverride sets the agent's auto-send override. A nil value clears
// the override so the agent defers to the agency default again.
func (r *AgentRepository) SetAutoSendOverride(id uuid.UUID, override *bool) error {
	result := r.db.Model(&models.Agent{}).Where("id = ?", id).
		Update("auto_send_override", override)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementUsage bumps the agent's sent-message counter and returns the new
// count. The billing-cycle reset is folded into the same statement: if the
// stored cycle end has passed (or was never set), the counter restarts at 1
// and the cycle end moves to newCycleEnd. A single conditional UPDATE keeps
// concurrent sends from losing increments or double-resetting across the
// cycle boundary.
func (r *AgentRepository) IncrementUsage(id uuid.UUID, now, newCycleEnd time.Time) (int, error) {
	var newCount int
	err := r.db.Raw(`
		UPDATE agents
		SET messages_sent_count = CASE
				WHEN billing_cycle_end IS NULL OR billing_cycle_end <= ? THEN 1
				ELSE messages_sent_count + 1
			END,
			billing_cycle_end = CASE
				WHEN billing_cycle_end IS NULL OR billing_cycle_end <= ? THEN ?
				ELSE billing_cycle_end
			END,
			updated_at = ?
		WHERE id = ?
		RETURNING messages_sent_count
	`, now, now, newCycleEnd, now, id).Scan(&newCount).Error
	if err != nil {
		return 0, err
	}
	return newCount, nil
}
