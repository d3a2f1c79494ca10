package services

import (
	"context"
	"fmt"
	"time"

	appmetrics "convodesk/internal/metrics"
	"convodesk/internal/models"
)

// executeActions runs one matched rule's actions in declared order against
// the target conversation. Each action's failure is reported and counted
// but never stops the remaining actions (no rollback, no transaction).
func (s *AutomationService) executeActions(ctx context.Context, rule models.AutomationRule, actions []models.RuleAction, conversationID string) {
	failures := 0
	attempted := 0
	for _, action := range actions {
		if !isKnownAction(action.Type) {
			// fail-open: unknown action types are skipped, not rejected
			s.logger.Debugf("automation: rule %s skipping unknown action type %q", rule.ID, action.Type)
			continue
		}
		attempted++
		err := s.executeAction(ctx, action, conversationID)
		appmetrics.IncAutomationAction(action.Type, err != nil)
		if err != nil {
			failures++
			s.monitoring.CaptureError(err, map[string]any{
				"context":         "execute_" + action.Type,
				"rule_id":         rule.ID,
				"conversation_id": conversationID,
			})
		}
	}

	status := "success"
	switch {
	case attempted > 0 && failures == attempted:
		status = "failed"
	case failures > 0:
		status = "partial"
	}
	s.recordRun(ctx, rule.ID, conversationID, status, fmt.Sprintf("%d/%d actions ok", attempted-failures, attempted))
}

func (s *AutomationService) executeAction(ctx context.Context, action models.RuleAction, conversationID string) error {
	switch action.Type {
	case models.ActionSendMessage:
		if s.messenger == nil {
			return fmt.Errorf("messenger not configured")
		}
		content := stringParam(action.Params, "content")
		templateID := stringParam(action.Params, "template_id")
		if content == "" && templateID == "" {
			return fmt.Errorf("content or template_id param required")
		}
		_, err := s.messenger.SendMessage(ctx, conversationID, content, templateID)
		return err

	case models.ActionAssignAgent:
		agentID := stringParam(action.Params, "agent_id")
		if agentID == "" {
			return fmt.Errorf("agent_id param required")
		}
		participant := &models.ConversationParticipant{
			ConversationID: conversationID,
			UserID:         agentID,
			Role:           "agent",
			CreatedAt:      time.Now(),
		}
		return s.db.WithContext(ctx).Create(participant).Error

	case models.ActionAddTag:
		tagID := stringParam(action.Params, "tag_id")
		if tagID == "" {
			return fmt.Errorf("tag_id param required")
		}
		tag := &models.ConversationTag{
			ConversationID: conversationID,
			TagID:          tagID,
			CreatedAt:      time.Now(),
		}
		return s.db.WithContext(ctx).Create(tag).Error

	case models.ActionUpdateStatus:
		status := stringParam(action.Params, "status")
		if status == "" {
			return fmt.Errorf("status param required")
		}
		updates := map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		}
		if status == "resolved" {
			updates["resolved_at"] = time.Now()
		}
		return s.db.WithContext(ctx).Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Updates(updates).Error

	case models.ActionSendTemplate:
		if s.messenger == nil {
			return fmt.Errorf("messenger not configured")
		}
		name := stringParam(action.Params, "template_name")
		if name == "" {
			return fmt.Errorf("template_name param required")
		}
		language := stringParam(action.Params, "language")
		if language == "" {
			language = "en"
		}
		_, err := s.messenger.SendTemplate(ctx, conversationID, name, language, stringMapParam(action.Params, "variables"))
		return err

	default:
		return fmt.Errorf("unsupported action type: %s", action.Type)
	}
}

func (s *AutomationService) recordRun(ctx context.Context, ruleID, conversationID, status, message string) {
	run := &models.AutomationRun{
		RuleID:         ruleID,
		ConversationID: conversationID,
		Status:         status,
		Message:        message,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		s.logger.Warnf("automation: record run failed: %v", err)
	}
}

func isKnownAction(actionType string) bool {
	switch actionType {
	case models.ActionSendMessage, models.ActionAssignAgent, models.ActionAddTag,
		models.ActionUpdateStatus, models.ActionSendTemplate:
		return true
	default:
		return false
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	v, _ := params[key].(string)
	return v
}

func stringMapParam(params map[string]any, key string) map[string]string {
	out := map[string]string{}
	if params == nil {
		return out
	}
	raw, ok := params[key].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
