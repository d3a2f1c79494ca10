package services

import (
	"sync"
	"testing"

	"convodesk/internal/models"
)

func activeRule(id, trigger string) models.AutomationRule {
	return models.AutomationRule{ID: id, TriggerType: trigger, IsActive: true}
}

func TestRuleStore_ReplaceAllFiltersInactive(t *testing.T) {
	store := NewRuleStore()
	store.ReplaceAll([]models.AutomationRule{
		activeRule("a", models.TriggerMessageReceived),
		{ID: "b", TriggerType: models.TriggerMessageReceived, IsActive: false},
	})

	if store.Len() != 1 {
		t.Fatalf("expected 1 cached rule, got %d", store.Len())
	}
	if _, ok := store.Get("b"); ok {
		t.Fatal("inactive rule should not be cached")
	}
}

func TestRuleStore_AddUpsertsById(t *testing.T) {
	store := NewRuleStore()
	store.Add(activeRule("a", models.TriggerMessageReceived))

	updated := activeRule("a", models.TriggerMessageReceived)
	updated.Name = "renamed"
	store.Add(updated)

	if store.Len() != 1 {
		t.Fatalf("expected upsert, got %d rules", store.Len())
	}
	got, _ := store.Get("a")
	if got.Name != "renamed" {
		t.Fatalf("expected updated copy, got name %q", got.Name)
	}
}

func TestRuleStore_AddIgnoresInactive(t *testing.T) {
	store := NewRuleStore()
	store.Add(models.AutomationRule{ID: "a", IsActive: false})
	if store.Len() != 0 {
		t.Fatal("inactive rule should not be added")
	}
}

func TestRuleStore_UpdateDeactivationRemoves(t *testing.T) {
	store := NewRuleStore()
	store.Add(activeRule("a", models.TriggerMessageReceived))

	store.Update(models.AutomationRule{ID: "a", TriggerType: models.TriggerMessageReceived, IsActive: false})
	if store.Len() != 0 {
		t.Fatal("deactivated rule should leave the cache")
	}

	store.Update(activeRule("a", models.TriggerMessageReceived))
	if store.Len() != 1 {
		t.Fatal("reactivated rule should re-enter the cache")
	}
}

func TestRuleStore_ByTriggerSnapshot(t *testing.T) {
	store := NewRuleStore()
	store.Add(activeRule("a", models.TriggerMessageReceived))
	store.Add(activeRule("b", models.TriggerConversationCreated))

	snapshot := store.ByTrigger(models.TriggerMessageReceived)
	if len(snapshot) != 1 || snapshot[0].ID != "a" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	// mutating the store must not change an already-taken snapshot
	store.Remove("a")
	if len(snapshot) != 1 || snapshot[0].ID != "a" {
		t.Fatal("snapshot changed after store mutation")
	}
}

func TestRuleStore_ConcurrentAccess(t *testing.T) {
	store := NewRuleStore()
	store.ReplaceAll([]models.AutomationRule{activeRule("seed", models.TriggerMessageReceived)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				store.Add(activeRule("seed", models.TriggerMessageReceived))
				store.Remove("transient")
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = store.ByTrigger(models.TriggerMessageReceived)
				_ = store.Len()
			}
		}()
	}
	wg.Wait()

	if _, ok := store.Get("seed"); !ok {
		t.Fatal("seed rule lost during concurrent access")
	}
}
