package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier is the closed set of subscription levels an agent can hold.
type SubscriptionTier string

const (
	TierFree   SubscriptionTier = "free"
	TierBasic  SubscriptionTier = "basic"
	TierPro    SubscriptionTier = "pro"
	TierExpert SubscriptionTier = "expert"
)

// AllowsMessaging reports whether the tier includes any SMS sending at all.
func (t SubscriptionTier) AllowsMessaging() bool {
	switch t {
	case TierFree:
		return false
	case TierBasic, TierPro, TierExpert:
		return true
	default:
		return false
	}
}

// AllowsAutomation reports whether the tier includes automated/scheduled sends.
// Basic agents can message manually but automation is a paid upgrade.
func (t SubscriptionTier) AllowsAutomation() bool {
	switch t {
	case TierFree, TierBasic:
		return false
	case TierPro, TierExpert:
		return true
	default:
		return false
	}
}

// IncludedMessages returns the per-cycle message allotment before overage billing.
func (t SubscriptionTier) IncludedMessages() int {
	switch t {
	case TierFree:
		return 0
	case TierBasic:
		return 500
	case TierPro:
		return 1000
	case TierExpert:
		return 2500
	default:
		return 0
	}
}

// IsValid reports whether the value is one of the known tiers.
func (t SubscriptionTier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierExpert:
		return true
	}
	return false
}

// Agency represents an insurance agency (the tenant of the platform)
type Agency struct {
	BaseModel
	Name   string `gorm:"not null" json:"name" validate:"required"`
	Status string `gorm:"default:'active'" json:"status"`

	// SMSNumber is the agency's provisioned sending number, stored normalized
	// (10 digits, no country prefix). Inbound webhooks resolve the agency by it.
	SMSNumber string `gorm:"column:sms_number;uniqueIndex" json:"sms_number"`

	// AutoSendEnabled is the agency-wide default for the send gate; individual
	// agents can override it with Agent.AutoSendOverride.
	AutoSendEnabled bool `gorm:"default:true" json:"auto_send_enabled"`
}

// Agent represents a licensed agent belonging to an agency
type Agent struct {
	BaseModel
	AgencyID    uuid.UUID  `gorm:"type:uuid;index;not null;constraint:OnDelete:RESTRICT" json:"agency_id"`
	Email       string     `gorm:"unique;not null" json:"email" validate:"required,email"`
	Password    string     `gorm:"not null" json:"-"`
	Name        string     `gorm:"not null" json:"name" validate:"required"`
	Phone       string     `json:"phone"`
	Role        string     `gorm:"not null;default:'agent'" json:"role"` // agent, agency_admin
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`

	SubscriptionTier SubscriptionTier `gorm:"type:varchar(20);not null;default:'free'" json:"subscription_tier"`

	// AutoSendOverride is nil when the agent defers to the agency default.
	AutoSendOverride *bool `json:"auto_send_override"`

	// Usage counter. MessagesSentCount is reset lazily on the first send after
	// BillingCycleEnd has passed; the reset and the increment happen in one
	// atomic update (see repo.AgentRepository.IncrementUsage).
	MessagesSentCount int        `gorm:"default:0" json:"messages_sent_count"`
	BillingCycleEnd   *time.Time `json:"billing_cycle_end"`

	// BillingAccountID identifies the agent at the external metering provider.
	BillingAccountID string `json:"billing_account_id"`

	// Relations
	Agency *Agency `gorm:"foreignKey:AgencyID" json:"agency,omitempty"`
}

// UpdateProfileRequest represents a request to update agent profile
type UpdateProfileRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

// ChangePasswordRequest represents a request to change agent password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}
