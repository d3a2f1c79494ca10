package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"convodesk/internal/middleware"
	appmetrics "convodesk/internal/metrics"
	"convodesk/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Messenger is the outbound messaging provider collaborator.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID, content, templateID string) (*models.Message, error)
	SendTemplate(ctx context.Context, conversationID, templateName, language string, variables map[string]string) (*models.Message, error)
}

// ChangeFeed delivers row-level change notifications for a table. The
// returned function cancels the subscription. Reconnection semantics belong
// to the feed implementation, not to its subscribers.
type ChangeFeed interface {
	Subscribe(table, event string, handler func(row map[string]any)) (func(), error)
}

// Identity resolves the owner (tenant) everything is scoped by.
type Identity interface {
	CurrentOwner(ctx context.Context) (string, error)
}

// ContextIdentity reads the owner injected by the auth middleware.
type ContextIdentity struct{}

func (ContextIdentity) CurrentOwner(ctx context.Context) (string, error) {
	owner, ok := middleware.OwnerFromContext(ctx)
	if !ok {
		return "", errors.New("no authenticated owner")
	}
	return owner, nil
}

// AutomationEvent is one domain event handed to the rule engine. Payload is
// the raw row from the change feed; ConversationID is resolved by the
// listener that constructed the event.
type AutomationEvent struct {
	Type           string
	ConversationID string
	Payload        map[string]any
}

// AutomationService is the rule engine facade: rule CRUD, the in-memory
// active-rule cache, the change-feed listeners and the dispatch path from
// event to side effects. CRUD operations never return raw errors to the
// caller; failures are reported to the monitoring collaborator and
// surfaced as nil/false sentinels.
type AutomationService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	store      *RuleStore
	monitoring ErrorReporter
	messenger  Messenger
	feed       ChangeFeed
	identity   Identity
	tracer     trace.Tracer

	owner        string
	unsubscribes []func()
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, monitoring ErrorReporter, messenger Messenger, feed ChangeFeed, identity Identity) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if monitoring == nil {
		monitoring = NewMonitoringService(logger)
	}
	if identity == nil {
		identity = ContextIdentity{}
	}
	return &AutomationService{
		db:         db,
		logger:     logger,
		store:      NewRuleStore(),
		monitoring: monitoring,
		messenger:  messenger,
		feed:       feed,
		identity:   identity,
		tracer:     otel.Tracer("convodesk.automation"),
	}
}

// Initialize loads the owner's active rules and subscribes to the event
// streams. The owner resolved here scopes the cache for the lifetime of the
// service instance.
func (s *AutomationService) Initialize(ctx context.Context) error {
	owner, err := s.identity.CurrentOwner(ctx)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "automation_init"})
		return fmt.Errorf("resolve owner: %w", err)
	}
	s.owner = owner

	if err := s.Refresh(ctx); err != nil {
		return err
	}
	if err := s.setupEventListeners(); err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "automation_listeners"})
		return err
	}
	s.logger.Infof("automation: initialized with %d active rules", s.store.Len())
	return nil
}

// Refresh replaces the cached rule set with a full reload from the store.
func (s *AutomationService) Refresh(ctx context.Context) error {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND is_active = ?", s.owner, true).
		Find(&rules).Error
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "automation_init"})
		return fmt.Errorf("load rules: %w", err)
	}
	s.store.ReplaceAll(rules)
	return nil
}

// ActiveRuleCount reports how many rules sit in the evaluation cache.
func (s *AutomationService) ActiveRuleCount() int {
	return s.store.Len()
}

// Close cancels the change-feed subscriptions.
func (s *AutomationService) Close() {
	for _, unsubscribe := range s.unsubscribes {
		unsubscribe()
	}
	s.unsubscribes = nil
}

// RuleTriggerRequest is the authored trigger of a rule.
type RuleTriggerRequest struct {
	Type       string                `json:"type" binding:"required"`
	Conditions models.RuleConditions `json:"conditions"`
}

// AutomationRuleRequest is the create/update payload for a rule.
type AutomationRuleRequest struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	Trigger     RuleTriggerRequest  `json:"trigger" binding:"required"`
	Actions     []models.RuleAction `json:"actions"`
	IsActive    *bool               `json:"is_active"`
}

// CreateRule persists a new rule for the current owner and, when active,
// inserts it into the evaluation cache. Returns nil on any failure.
func (s *AutomationService) CreateRule(ctx context.Context, req *AutomationRuleRequest) *models.AutomationRule {
	owner, err := s.identity.CurrentOwner(ctx)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "create_rule"})
		return nil
	}
	if req == nil {
		s.monitoring.CaptureError(errors.New("request required"), map[string]any{"context": "create_rule"})
		return nil
	}
	if !models.IsSupportedTrigger(req.Trigger.Type) {
		s.monitoring.CaptureError(fmt.Errorf("unsupported trigger: %s", req.Trigger.Type), map[string]any{"context": "create_rule"})
		return nil
	}

	condJSON, actJSON, err := encodeRulePayload(req)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "create_rule"})
		return nil
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := time.Now()
	rule := &models.AutomationRule{
		OwnerID:     owner,
		Name:        req.Name,
		Description: req.Description,
		TriggerType: req.Trigger.Type,
		Conditions:  condJSON,
		Actions:     actJSON,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "create_rule"})
		return nil
	}

	s.patchCache(*rule)
	return rule
}

// UpdateRule rewrites an existing rule owned by the caller and patches the
// cache. Returns nil when the rule does not exist or the write fails.
func (s *AutomationService) UpdateRule(ctx context.Context, id string, req *AutomationRuleRequest) *models.AutomationRule {
	owner, err := s.identity.CurrentOwner(ctx)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "update_rule"})
		return nil
	}
	if req == nil {
		s.monitoring.CaptureError(errors.New("request required"), map[string]any{"context": "update_rule", "rule_id": id})
		return nil
	}
	if !models.IsSupportedTrigger(req.Trigger.Type) {
		s.monitoring.CaptureError(fmt.Errorf("unsupported trigger: %s", req.Trigger.Type), map[string]any{"context": "update_rule", "rule_id": id})
		return nil
	}

	var rule models.AutomationRule
	err = s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&rule).Error
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "update_rule", "rule_id": id})
		return nil
	}

	condJSON, actJSON, err := encodeRulePayload(req)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "update_rule", "rule_id": id})
		return nil
	}

	rule.Name = req.Name
	rule.Description = req.Description
	rule.TriggerType = req.Trigger.Type
	rule.Conditions = condJSON
	rule.Actions = actJSON
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "update_rule", "rule_id": id})
		return nil
	}

	s.patchCacheUpdate(rule)
	return &rule
}

// DeleteRule removes a rule owned by the caller. Returns false when the
// rule does not exist or the write fails.
func (s *AutomationService) DeleteRule(ctx context.Context, id string) bool {
	owner, err := s.identity.CurrentOwner(ctx)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "delete_rule"})
		return false
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		Delete(&models.AutomationRule{})
	if result.Error != nil {
		s.monitoring.CaptureError(result.Error, map[string]any{"context": "delete_rule", "rule_id": id})
		return false
	}
	if result.RowsAffected == 0 {
		s.monitoring.CaptureError(errors.New("rule not found"), map[string]any{"context": "delete_rule", "rule_id": id})
		return false
	}

	if owner == s.owner {
		s.store.Remove(id)
	}
	return true
}

// GetRules returns every rule (active and inactive) owned by the caller and
// refreshes the cache from the active subset. Returns an empty slice on
// failure.
func (s *AutomationService) GetRules(ctx context.Context) []models.AutomationRule {
	owner, err := s.identity.CurrentOwner(ctx)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "get_rules"})
		return []models.AutomationRule{}
	}

	var rules []models.AutomationRule
	err = s.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("created_at DESC").
		Find(&rules).Error
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "get_rules"})
		return []models.AutomationRule{}
	}

	if owner == s.owner {
		s.store.ReplaceAll(rules)
	}
	return rules
}

// ToggleRule flips a rule's is_active flag, moving it in or out of the
// evaluation cache. Returns false when the rule does not exist or the write
// fails.
func (s *AutomationService) ToggleRule(ctx context.Context, id string) bool {
	owner, err := s.identity.CurrentOwner(ctx)
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "toggle_rule"})
		return false
	}

	var rule models.AutomationRule
	err = s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&rule).Error
	if err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "toggle_rule", "rule_id": id})
		return false
	}

	rule.IsActive = !rule.IsActive
	rule.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		s.monitoring.CaptureError(err, map[string]any{"context": "toggle_rule", "rule_id": id})
		return false
	}

	s.patchCacheUpdate(rule)
	return true
}

// Dispatch runs every matching active rule against one event. Matched rules
// execute sequentially, each action list to completion, regardless of
// earlier failures; nothing escapes to the caller.
func (s *AutomationService) Dispatch(ctx context.Context, evt AutomationEvent) {
	ctx, span := s.tracer.Start(ctx, "automation.dispatch",
		trace.WithAttributes(
			attribute.String("automation.trigger", evt.Type),
			attribute.String("automation.conversation_id", evt.ConversationID),
		))
	defer span.End()

	appmetrics.IncAutomationEvent()

	candidates := s.store.ByTrigger(evt.Type)
	for _, rule := range candidates {
		conds, err := rule.DecodeConditions()
		if err != nil {
			s.monitoring.CaptureError(err, map[string]any{"context": "evaluate_conditions", "rule_id": rule.ID})
			continue
		}
		if !MatchConditions(conds, evt.Payload) {
			continue
		}
		appmetrics.IncAutomationMatch()
		s.logger.Infof("automation: rule %s matched event %s", rule.Name, evt.Type)

		actions, err := rule.DecodeActions()
		if err != nil {
			s.monitoring.CaptureError(err, map[string]any{"context": "decode_actions", "rule_id": rule.ID})
			continue
		}
		s.executeActions(ctx, rule, actions, evt.ConversationID)
	}
}

func (s *AutomationService) patchCache(rule models.AutomationRule) {
	if rule.OwnerID != s.owner {
		return
	}
	s.store.Add(rule)
}

func (s *AutomationService) patchCacheUpdate(rule models.AutomationRule) {
	if rule.OwnerID != s.owner {
		return
	}
	s.store.Update(rule)
}

func encodeRulePayload(req *AutomationRuleRequest) (conditions, actions string, err error) {
	conds := req.Trigger.Conditions
	if conds == nil {
		conds = models.RuleConditions{}
	}
	condBytes, err := json.Marshal(conds)
	if err != nil {
		return "", "", fmt.Errorf("invalid conditions: %w", err)
	}
	acts := req.Actions
	if acts == nil {
		acts = []models.RuleAction{}
	}
	actBytes, err := json.Marshal(acts)
	if err != nil {
		return "", "", fmt.Errorf("invalid actions: %w", err)
	}
	return string(condBytes), string(actBytes), nil
}
