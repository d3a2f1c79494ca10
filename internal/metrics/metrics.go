package metrics

import (
	"sync"
	"sync/atomic"
)

// rateLimitStats holds counters for rate limit drops (HTTP 429).
// Kept simple/thread-safe for use from middlewares and exposition.
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}

// automationStats counts dispatch activity of the rule engine.
type automationStats struct {
	eventsDispatched uint64
	rulesMatched     uint64
	actionsExecuted  uint64
	actionFailures   uint64
	mu               sync.Mutex
	failuresByAction map[string]uint64
}

var auto automationStats

// IncAutomationEvent counts one inbound event handed to the dispatcher.
func IncAutomationEvent() {
	atomic.AddUint64(&auto.eventsDispatched, 1)
}

// IncAutomationMatch counts one rule whose conditions matched an event.
func IncAutomationMatch() {
	atomic.AddUint64(&auto.rulesMatched, 1)
}

// IncAutomationAction counts one executed action; failed marks it as a
// failure and attributes it to the action type.
func IncAutomationAction(actionType string, failed bool) {
	atomic.AddUint64(&auto.actionsExecuted, 1)
	if !failed {
		return
	}
	atomic.AddUint64(&auto.actionFailures, 1)
	auto.mu.Lock()
	if auto.failuresByAction == nil {
		auto.failuresByAction = make(map[string]uint64)
	}
	auto.failuresByAction[actionType]++
	auto.mu.Unlock()
}

// AutomationSnapshot returns a copy of the automation counters.
func AutomationSnapshot() (events, matched, actions, failures uint64, byAction map[string]uint64) {
	events = atomic.LoadUint64(&auto.eventsDispatched)
	matched = atomic.LoadUint64(&auto.rulesMatched)
	actions = atomic.LoadUint64(&auto.actionsExecuted)
	failures = atomic.LoadUint64(&auto.actionFailures)
	auto.mu.Lock()
	defer auto.mu.Unlock()
	byAction = make(map[string]uint64, len(auto.failuresByAction))
	for k, v := range auto.failuresByAction {
		byAction[k] = v
	}
	return
}

// capturedErrors counts telemetry error reports by context tag.
type errorStats struct {
	total     uint64
	mu        sync.Mutex
	byContext map[string]uint64
}

var errs errorStats

// IncCapturedError counts one reported error for the given context tag.
func IncCapturedError(contextTag string) {
	atomic.AddUint64(&errs.total, 1)
	errs.mu.Lock()
	if errs.byContext == nil {
		errs.byContext = make(map[string]uint64)
	}
	errs.byContext[contextTag]++
	errs.mu.Unlock()
}

// CapturedErrorSnapshot returns a copy of the error counters.
func CapturedErrorSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&errs.total)
	errs.mu.Lock()
	defer errs.mu.Unlock()
	by = make(map[string]uint64, len(errs.byContext))
	for k, v := range errs.byContext {
		by[k] = v
	}
	return total, by
}
