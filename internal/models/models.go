package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConversationStatusOpen     = "open"
	ConversationStatusPending  = "pending"
	ConversationStatusResolved = "resolved"
	ConversationStatusClosed   = "closed"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	ViolationFirstResponse = "first_response"
	ViolationResolution    = "resolution"
)

// Contact is a WhatsApp contact the workspace talks to.
type Contact struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID     string         `gorm:"index;not null" json:"owner_id"`
	Name        string         `json:"name"`
	PhoneNumber string         `gorm:"index" json:"phone_number"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Conversation groups the messages exchanged with one contact.
type Conversation struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID           string     `gorm:"index;not null" json:"owner_id"`
	ContactID         string     `gorm:"index" json:"contact_id"`
	Status            string     `gorm:"default:'open';index" json:"status"` // open, pending, resolved, closed
	Priority          string     `gorm:"default:'normal'" json:"priority"`   // low, normal, high, urgent
	LastReadAt        *time.Time `json:"last_read_at"`
	FirstAgentReplyAt *time.Time `json:"first_agent_reply_at"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Contact      Contact                   `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message is one inbound or outbound message in a conversation.
type Message struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	SenderID       string    `gorm:"index" json:"sender_id"`
	Content        string    `gorm:"type:text" json:"content"`
	Type           string    `gorm:"default:'text'" json:"type"`         // text, image, video, document, template, system
	Direction      string    `gorm:"default:'inbound'" json:"direction"` // inbound, outbound
	Status         string    `gorm:"default:'sent'" json:"status"`       // sent, delivered, read, failed
	ExternalID     string    `gorm:"index" json:"external_id"`           // provider message id
	MediaURL       string    `json:"media_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ConversationParticipant links a user (usually an agent) to a conversation.
type ConversationParticipant struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Role           string    `gorm:"default:'agent'" json:"role"` // agent, observer
	CreatedAt      time.Time `json:"created_at"`
}

// Tag is a workspace-scoped label.
type Tag struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID   string    `gorm:"index;not null" json:"owner_id"`
	Name      string    `gorm:"not null" json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// ConversationTag associates a tag with a conversation.
type ConversationTag struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	TagID          string    `gorm:"index;not null" json:"tag_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageTemplate is a reusable message body with {{variable}} placeholders.
type MessageTemplate struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID   string    `gorm:"index;not null" json:"owner_id"`
	Name      string    `gorm:"not null" json:"name"`
	Language  string    `gorm:"default:'en'" json:"language"`
	Content   string    `gorm:"type:text" json:"content"`
	Variables string    `gorm:"type:text" json:"variables"` // JSON: ["name", ...]
	Category  string    `gorm:"index" json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *MessageTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// SLAPolicy defines response/resolution deadlines per priority.
type SLAPolicy struct {
	ID                string    `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID           string    `gorm:"index;not null" json:"owner_id"`
	Name              string    `gorm:"not null" json:"name"`
	Priority          string    `gorm:"not null" json:"priority"`            // low, normal, high, urgent
	FirstResponseTime int       `gorm:"not null" json:"first_response_time"` // minutes
	ResolutionTime    int       `gorm:"not null" json:"resolution_time"`     // minutes
	Active            bool      `gorm:"default:true" json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (p *SLAPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// SLAViolation records one missed SLA deadline for a conversation.
// Inserting a row is what feeds the sla_violated automation trigger.
type SLAViolation struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	PolicyID       string    `gorm:"index" json:"policy_id"`
	ViolationType  string    `gorm:"not null" json:"violation_type"` // first_response, resolution
	ExpectedAt     time.Time `json:"expected_at"`
	DetectedAt     time.Time `json:"detected_at"`
	Resolved       bool      `gorm:"default:false" json:"resolved"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
	Policy       SLAPolicy    `gorm:"foreignKey:PolicyID" json:"policy,omitempty"`
}

func (v *SLAViolation) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}
