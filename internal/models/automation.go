package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trigger types an automation rule can react to.
const (
	TriggerMessageReceived      = "message_received"
	TriggerConversationCreated  = "conversation_created"
	TriggerConversationResolved = "conversation_resolved"
	TriggerSLAViolated          = "sla_violated"
)

// Action types an automation rule can execute.
const (
	ActionSendMessage  = "send_message"
	ActionAssignAgent  = "assign_agent"
	ActionAddTag       = "add_tag"
	ActionUpdateStatus = "update_status"
	ActionSendTemplate = "send_template"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIn          = "in"
)

// RuleCondition compares one event field against a value. A bare scalar in
// the wire format means an equality check.
type RuleCondition struct {
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// UnmarshalJSON accepts either a scalar ("equals" shorthand) or the full
// {operator, value} object.
func (c *RuleCondition) UnmarshalJSON(data []byte) error {
	var obj struct {
		Operator *string `json:"operator"`
		Value    any     `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Operator != nil {
		c.Operator = *obj.Operator
		c.Value = obj.Value
		return nil
	}
	var scalar any
	if err := json.Unmarshal(data, &scalar); err != nil {
		return err
	}
	c.Operator = OpEquals
	c.Value = scalar
	return nil
}

// RuleConditions maps event field names to conditions. All entries must
// match (logical AND); there is no OR support.
type RuleConditions map[string]RuleCondition

// RuleAction is one side-effecting step executed when a rule matches.
type RuleAction struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// AutomationRule is a persisted trigger+conditions+actions tuple scoped to
// an owner. Conditions and Actions are stored as JSON text; the typed
// wrappers above are the in-process representation.
type AutomationRule struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID     string    `gorm:"index;not null" json:"owner_id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	TriggerType string    `gorm:"index;not null" json:"trigger_type"`
	Conditions  string    `gorm:"type:text" json:"conditions"` // JSON: {field: scalar | {operator,value}}
	Actions     string    `gorm:"type:text" json:"actions"`    // JSON: [{type,params}]
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *AutomationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// DecodeConditions parses the stored condition JSON. An empty column means
// the rule matches every event of its trigger type.
func (r *AutomationRule) DecodeConditions() (RuleConditions, error) {
	if r.Conditions == "" {
		return RuleConditions{}, nil
	}
	var conds RuleConditions
	if err := json.Unmarshal([]byte(r.Conditions), &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

// DecodeActions parses the stored action JSON in declared order.
func (r *AutomationRule) DecodeActions() ([]RuleAction, error) {
	if r.Actions == "" {
		return nil, nil
	}
	var actions []RuleAction
	if err := json.Unmarshal([]byte(r.Actions), &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// AutomationRun is an audit record of one rule execution.
type AutomationRun struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RuleID         string    `gorm:"index" json:"rule_id"`
	ConversationID string    `gorm:"index" json:"conversation_id"`
	Status         string    `gorm:"index" json:"status"` // success, partial, failed
	Message        string    `gorm:"type:text" json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsSupportedTrigger reports whether the trigger type is one the engine
// dispatches.
func IsSupportedTrigger(trigger string) bool {
	switch trigger {
	case TriggerMessageReceived, TriggerConversationCreated, TriggerConversationResolved, TriggerSLAViolated:
		return true
	default:
		return false
	}
}
