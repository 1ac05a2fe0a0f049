package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OptInStatus is the closed set of consent states a conversation can be in.
// Transitions are one-way: pending or opted_in can reach opted_out, and
// nothing transitions back to opted_in automatically.
type OptInStatus string

const (
	OptInPending  OptInStatus = "pending"
	OptInOptedIn  OptInStatus = "opted_in"
	OptInOptedOut OptInStatus = "opted_out"
)

// IsValid reports whether the value is one of the known consent states.
func (s OptInStatus) IsValid() bool {
	switch s {
	case OptInPending, OptInOptedIn, OptInOptedOut:
		return true
	}
	return false
}

// MessageStatus is the closed set of message lifecycle states.
type MessageStatus string

const (
	MessageStatusDraft     MessageStatus = "draft"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

// IsValid reports whether the value is one of the known statuses.
func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusDraft, MessageStatusSent, MessageStatusDelivered,
		MessageStatusFailed, MessageStatusReceived:
		return true
	}
	return false
}

// MessageDirection distinguishes inbound client texts from outbound sends.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageCategory distinguishes agent-authored messages from scheduled or
// auto-reply traffic; the send gate applies the automation tier rule only to
// the automated category.
type MessageCategory string

const (
	CategoryManual    MessageCategory = "manual"
	CategoryAutomated MessageCategory = "automated"
)

// MessageType tags what produced an outbound message.
type MessageType string

const (
	TypeManual         MessageType = "manual"
	TypeAutoReply      MessageType = "auto_reply"
	TypeBirthday       MessageType = "birthday"
	TypeLapseReminder  MessageType = "lapse_reminder"
	TypeBillingNotice  MessageType = "billing_notice"
	TypePolicyPacket   MessageType = "policy_packet"
	TypeComplianceHelp MessageType = "compliance_help"
)

// MessageMetadata is free-form context persisted with each message.
type MessageMetadata struct {
	Automated         bool        `json:"automated,omitempty"`
	Type              MessageType `json:"type,omitempty"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	ErrorCode         string      `json:"error_code,omitempty"`
	ErrorDetail       string      `json:"error_detail,omitempty"`
	Classification    string      `json:"classification,omitempty"`
}

// Implement driver.Valuer interface for JSONB
func (m MessageMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *MessageMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = MessageMetadata{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return nil
}

// Conversation represents the SMS thread between one agent and one deal's client.
// There is at most one conversation per (agent, deal); the client phone can be
// corrected in place if the deal's number changes, but the identity never does.
type Conversation struct {
	BaseAgencyModel
	AgentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_agent_deal;constraint:OnDelete:RESTRICT" json:"agent_id"`
	DealID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_agent_deal;constraint:OnDelete:RESTRICT" json:"deal_id"`

	// ClientPhone is stored normalized (10 digits, no country prefix).
	ClientPhone string `gorm:"not null;index" json:"client_phone"`

	OptInStatus OptInStatus `gorm:"type:varchar(20);not null;default:'opted_in'" json:"opt_in_status"`
	OptedInAt   *time.Time  `json:"opted_in_at"`
	OptedOutAt  *time.Time  `json:"opted_out_at"`

	// LastMessageAt tracks the latest non-draft traffic in either direction.
	LastMessageAt *time.Time `json:"last_message_at"`
	IsActive      bool       `gorm:"default:true" json:"is_active"`

	// Relations
	Agent *Agent `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
	Deal  *Deal  `gorm:"foreignKey:DealID" json:"deal,omitempty"`
}

// Message represents one SMS in a conversation
type Message struct {
	BaseAgencyModel
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"conversation_id"`

	// SenderID/ReceiverID hold the agent id and deal id, oriented by direction:
	// outbound messages are agent -> deal, inbound are deal -> agent.
	SenderID   *uuid.UUID `gorm:"type:uuid" json:"sender_id"`
	ReceiverID *uuid.UUID `gorm:"type:uuid" json:"receiver_id"`

	Body      string           `gorm:"type:text" json:"body"`
	Direction MessageDirection `gorm:"type:varchar(10);not null" json:"direction"`
	Status    MessageStatus    `gorm:"type:varchar(10);not null" json:"status"`
	Category  MessageCategory  `gorm:"type:varchar(10);not null;default:'manual'" json:"category"`

	// ExternalID is the provider's message id, set once the provider accepts
	// the send; delivery receipts correlate on it.
	ExternalID string `gorm:"index" json:"external_id"`

	Metadata MessageMetadata `gorm:"type:jsonb" json:"metadata"`

	// SentAt stays null while the message is a draft.
	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`

	// Relations
	Conversation *Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}
