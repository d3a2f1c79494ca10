package services

import (
	"context"
	"fmt"

	"convodesk/internal/models"
)

// setupEventListeners subscribes to the change-feed streams that drive the
// rule engine: message inserts, conversation inserts, conversation updates
// (for resolution) and SLA violation inserts. Subscriptions are set up once
// at initialization; reconnects are the feed's problem.
func (s *AutomationService) setupEventListeners() error {
	if s.feed == nil {
		s.logger.Warn("automation: no change feed configured, event listeners disabled")
		return nil
	}

	listeners := []struct {
		table   string
		event   string
		handler func(row map[string]any)
	}{
		{"messages", "INSERT", s.handleNewMessage},
		{"conversations", "INSERT", s.handleNewConversation},
		{"conversations", "UPDATE", s.handleConversationUpdate},
		{"sla_violations", "INSERT", s.handleSLAViolation},
	}

	for _, l := range listeners {
		unsubscribe, err := s.feed.Subscribe(l.table, l.event, l.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s %s: %w", l.table, l.event, err)
		}
		s.unsubscribes = append(s.unsubscribes, unsubscribe)
	}
	return nil
}

func (s *AutomationService) handleNewMessage(row map[string]any) {
	s.Dispatch(context.Background(), AutomationEvent{
		Type:           models.TriggerMessageReceived,
		ConversationID: rowString(row, "conversation_id"),
		Payload:        row,
	})
}

func (s *AutomationService) handleNewConversation(row map[string]any) {
	s.Dispatch(context.Background(), AutomationEvent{
		Type:           models.TriggerConversationCreated,
		ConversationID: rowString(row, "id"),
		Payload:        row,
	})
}

// handleConversationUpdate only dispatches when a conversation reached the
// resolved status; other updates are not automation triggers.
func (s *AutomationService) handleConversationUpdate(row map[string]any) {
	if rowString(row, "status") != "resolved" {
		return
	}
	s.Dispatch(context.Background(), AutomationEvent{
		Type:           models.TriggerConversationResolved,
		ConversationID: rowString(row, "id"),
		Payload:        row,
	})
}

func (s *AutomationService) handleSLAViolation(row map[string]any) {
	s.Dispatch(context.Background(), AutomationEvent{
		Type:           models.TriggerSLAViolated,
		ConversationID: rowString(row, "conversation_id"),
		Payload:        row,
	})
}

func rowString(row map[string]any, key string) string {
	if row == nil {
		return ""
	}
	v, _ := row[key].(string)
	return v
}
