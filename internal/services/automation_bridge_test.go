package services

import (
	"context"
	"testing"

	"convodesk/internal/models"
)

func TestEventListeners_SubscribeAllStreams(t *testing.T) {
	_, _, feed := newTestAutomation(t, "ws1")

	for _, key := range []string{
		"messages:INSERT",
		"conversations:INSERT",
		"conversations:UPDATE",
		"sla_violations:INSERT",
	} {
		if _, ok := feed.handlers[key]; !ok {
			t.Fatalf("missing subscription %s", key)
		}
	}
}

func TestEventListeners_MessageInsertTriggersRule(t *testing.T) {
	svc, messenger, feed := newTestAutomation(t, "ws1")

	rule := svc.CreateRule(context.Background(), &AutomationRuleRequest{
		Name: "refund escalation",
		Trigger: RuleTriggerRequest{
			Type: models.TriggerMessageReceived,
			Conditions: models.RuleConditions{
				"content": {Operator: models.OpContains, Value: "refund"},
			},
		},
		Actions: []models.RuleAction{
			{Type: models.ActionSendMessage, Params: map[string]any{"content": "We are on it."}},
		},
	})
	if rule == nil {
		t.Fatal("create failed")
	}

	feed.emit("messages", "INSERT", map[string]any{
		"conversation_id": "conv1",
		"content":         "I would like a refund please",
	})

	if len(messenger.sent) != 1 {
		t.Fatalf("expected auto-reply, got %d sends", len(messenger.sent))
	}
	if messenger.sent[0].conversationID != "conv1" {
		t.Fatalf("reply targeted %s, want conv1", messenger.sent[0].conversationID)
	}

	// an unrelated message must not fire the rule
	feed.emit("messages", "INSERT", map[string]any{
		"conversation_id": "conv2",
		"content":         "just saying hi",
	})
	if len(messenger.sent) != 1 {
		t.Fatal("non-matching message should not trigger the rule")
	}
}

func TestEventListeners_ConversationUpdateOnlyFiresOnResolved(t *testing.T) {
	svc, messenger, feed := newTestAutomation(t, "ws1")

	rule := svc.CreateRule(context.Background(), &AutomationRuleRequest{
		Name:    "closing note",
		Trigger: RuleTriggerRequest{Type: models.TriggerConversationResolved},
		Actions: []models.RuleAction{
			{Type: models.ActionSendMessage, Params: map[string]any{"content": "Glad we could help!"}},
		},
	})
	if rule == nil {
		t.Fatal("create failed")
	}

	feed.emit("conversations", "UPDATE", map[string]any{"id": "conv1", "status": "pending"})
	if len(messenger.sent) != 0 {
		t.Fatal("non-resolved update must not dispatch")
	}

	feed.emit("conversations", "UPDATE", map[string]any{"id": "conv1", "status": "resolved"})
	if len(messenger.sent) != 1 {
		t.Fatalf("resolved update should dispatch, got %d sends", len(messenger.sent))
	}
}

func TestEventListeners_SLAViolationTriggersRule(t *testing.T) {
	svc, _, feed := newTestAutomation(t, "ws1")

	rule := svc.CreateRule(context.Background(), &AutomationRuleRequest{
		Name:    "sla escalation",
		Trigger: RuleTriggerRequest{Type: models.TriggerSLAViolated},
		Actions: []models.RuleAction{
			{Type: models.ActionAssignAgent, Params: map[string]any{"agent_id": "supervisor"}},
		},
	})
	if rule == nil {
		t.Fatal("create failed")
	}

	feed.emit("sla_violations", "INSERT", map[string]any{
		"conversation_id": "conv1",
		"violation_type":  "first_response",
	})

	var participant models.ConversationParticipant
	if err := svc.db.Where("conversation_id = ?", "conv1").First(&participant).Error; err != nil {
		t.Fatalf("expected escalation participant: %v", err)
	}
	if participant.UserID != "supervisor" {
		t.Fatalf("assigned %s, want supervisor", participant.UserID)
	}
}

func TestClose_CancelsSubscriptions(t *testing.T) {
	svc, _, feed := newTestAutomation(t, "ws1")

	svc.Close()
	if feed.cancels != 4 {
		t.Fatalf("expected 4 cancelled subscriptions, got %d", feed.cancels)
	}

	// Close is idempotent
	svc.Close()
	if feed.cancels != 4 {
		t.Fatal("double close should not cancel again")
	}
}

func TestDispatch_MalformedConditionsSkipsRule(t *testing.T) {
	svc, messenger, feed := newTestAutomation(t, "ws1")

	// write a corrupt rule straight to the table, then reload the cache
	bad := models.AutomationRule{
		OwnerID:     "ws1",
		Name:        "corrupt",
		TriggerType: models.TriggerMessageReceived,
		Conditions:  `{"content": {`,
		Actions:     `[{"type":"send_message","params":{"content":"x"}}]`,
		IsActive:    true,
	}
	if err := svc.db.Create(&bad).Error; err != nil {
		t.Fatalf("seed corrupt rule: %v", err)
	}
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	feed.emit("messages", "INSERT", map[string]any{"conversation_id": "conv1", "content": "hi"})

	if len(messenger.sent) != 0 {
		t.Fatal("rule with undecodable conditions must not execute")
	}
}
