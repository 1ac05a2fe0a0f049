package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Deal represents the insurance policy/client record a conversation is scoped to
type Deal struct {
	BaseAgencyModel
	AgentID uuid.UUID `gorm:"type:uuid;index;not null;constraint:OnDelete:RESTRICT" json:"agent_id"`

	// Client identity
	ClientFirstName string     `gorm:"not null" json:"client_first_name" validate:"required"`
	ClientLastName  string     `json:"client_last_name"`
	ClientPhone     string     `gorm:"index" json:"client_phone"`
	ClientEmail     string     `json:"client_email"`
	ClientBirthday  *time.Time `json:"client_birthday"`

	// Policy facts. These feed the classifier's entity-availability layer and
	// the reply prompt; empty means the platform does not know the value yet.
	PolicyNumber   string     `json:"policy_number"`
	CarrierName    string     `json:"carrier_name"`
	PlanType       string     `json:"plan_type"`
	PolicyStatus   string     `gorm:"default:'active'" json:"policy_status"`
	Premium        string     `json:"premium"`
	CoverageAmount string     `json:"coverage_amount"`
	Beneficiary    string     `json:"beneficiary"`
	EffectiveDate  *time.Time `json:"effective_date"`
	RenewalDate    *time.Time `json:"renewal_date"`
	ExpirationDate *time.Time `json:"expiration_date"`
	NextPaymentAt  *time.Time `json:"next_payment_at"`

	// NeedsAttention is raised when an inbound message escalates to a human
	// (hard-blocked topics, missing data, LLM failure).
	NeedsAttention  bool       `gorm:"default:false;index" json:"needs_attention"`
	AttentionReason string     `json:"attention_reason"`
	AttentionAt     *time.Time `json:"attention_at"`

	// Policy packet documents uploaded for this deal (S3 object keys). The
	// packet dispatcher texts public links once and stamps PacketSentAt.
	PacketDocumentKeys pq.StringArray `gorm:"type:text[]" json:"packet_document_keys" swaggerignore:"true"`
	PacketSentAt       *time.Time     `json:"packet_sent_at"`

	// Relations
	Agent *Agent `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
}

// ClientName returns the client's display name.
func (d *Deal) ClientName() string {
	if d.ClientLastName == "" {
		return d.ClientFirstName
	}
	return d.ClientFirstName + " " + d.ClientLastName
}
