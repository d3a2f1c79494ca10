package services

import (
	"sync"

	"convodesk/internal/models"
)

// RuleStore caches the active automation rules for one owner. It is a
// read-mostly mirror of the automation_rules table: mutations are applied
// only after the corresponding database write succeeded, so a failed write
// leaves the cache untouched. Out-of-band writes are invisible until the
// next ReplaceAll.
type RuleStore struct {
	mu    sync.RWMutex
	rules []models.AutomationRule
}

func NewRuleStore() *RuleStore {
	return &RuleStore{}
}

// ReplaceAll swaps the whole cache for a freshly loaded set. The new slice
// is installed atomically under the write lock; concurrent readers see
// either the old set or the new one, never a partial load.
func (s *RuleStore) ReplaceAll(rules []models.AutomationRule) {
	replacement := make([]models.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			replacement = append(replacement, r)
		}
	}
	s.mu.Lock()
	s.rules = replacement
	s.mu.Unlock()
}

// Add inserts a rule into the active set. Inactive rules are ignored.
func (s *RuleStore) Add(rule models.AutomationRule) {
	if !rule.IsActive {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i] = rule
			return
		}
	}
	s.rules = append(s.rules, rule)
}

// Update replaces the cached copy of a rule. A rule that became inactive is
// removed from the active set; one that became active is (re)inserted.
func (s *RuleStore) Update(rule models.AutomationRule) {
	if !rule.IsActive {
		s.Remove(rule.ID)
		return
	}
	s.Add(rule)
}

// Remove drops a rule from the active set by id.
func (s *RuleStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// Get returns the cached rule with the given id, if present.
func (s *RuleStore) Get(id string) (models.AutomationRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.ID == id {
			return r, true
		}
	}
	return models.AutomationRule{}, false
}

// ByTrigger returns a snapshot of the active rules for one trigger type.
// The copy is taken at call time; later cache mutations do not affect a
// dispatch already iterating the returned slice.
func (s *RuleStore) ByTrigger(triggerType string) []models.AutomationRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AutomationRule
	for _, r := range s.rules {
		if r.TriggerType == triggerType {
			out = append(out, r)
		}
	}
	return out
}

// Len reports the number of cached active rules.
func (s *RuleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
