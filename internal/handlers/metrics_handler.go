package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	appmetrics "convodesk/internal/metrics"
	"convodesk/internal/services"

	"github.com/gin-gonic/gin"
)

// MetricsHandler renders counters in Prometheus exposition format.
type MetricsHandler struct {
	automation *services.AutomationService
	startedAt  time.Time
}

func NewMetricsHandler(automation *services.AutomationService) *MetricsHandler {
	return &MetricsHandler{automation: automation, startedAt: time.Now()}
}

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain")

	uptime := time.Since(h.startedAt).Seconds()
	events, matched, actions, actionFailures, byAction := appmetrics.AutomationSnapshot()
	errTotal, errBy := appmetrics.CapturedErrorSnapshot()
	rlTotal, _ := appmetrics.RateLimitSnapshot()

	activeRules := 0
	if h.automation != nil {
		activeRules = h.automation.ActiveRuleCount()
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "# HELP convodesk_info Information about the Convodesk instance\n")
	fmt.Fprintf(b, "# TYPE convodesk_info gauge\n")
	fmt.Fprintf(b, "convodesk_info{version=%q} 1\n\n", appVersion)

	fmt.Fprintf(b, "# HELP convodesk_uptime_seconds Total uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE convodesk_uptime_seconds counter\n")
	fmt.Fprintf(b, "convodesk_uptime_seconds %.0f\n\n", uptime)

	fmt.Fprintf(b, "# HELP convodesk_automation_active_rules Rules currently in the evaluation cache\n")
	fmt.Fprintf(b, "# TYPE convodesk_automation_active_rules gauge\n")
	fmt.Fprintf(b, "convodesk_automation_active_rules %d\n\n", activeRules)

	fmt.Fprintf(b, "# HELP convodesk_automation_events_total Trigger events dispatched to the engine\n")
	fmt.Fprintf(b, "# TYPE convodesk_automation_events_total counter\n")
	fmt.Fprintf(b, "convodesk_automation_events_total %d\n\n", events)

	fmt.Fprintf(b, "# HELP convodesk_automation_matches_total Rules whose conditions matched an event\n")
	fmt.Fprintf(b, "# TYPE convodesk_automation_matches_total counter\n")
	fmt.Fprintf(b, "convodesk_automation_matches_total %d\n\n", matched)

	fmt.Fprintf(b, "# HELP convodesk_automation_actions_total Actions attempted by matched rules\n")
	fmt.Fprintf(b, "# TYPE convodesk_automation_actions_total counter\n")
	fmt.Fprintf(b, "convodesk_automation_actions_total %d\n\n", actions)

	fmt.Fprintf(b, "# HELP convodesk_automation_action_failures_total Actions that returned an error\n")
	fmt.Fprintf(b, "# TYPE convodesk_automation_action_failures_total counter\n")
	fmt.Fprintf(b, "convodesk_automation_action_failures_total %d\n", actionFailures)
	for _, key := range sortedKeys(byAction) {
		fmt.Fprintf(b, "convodesk_automation_action_failures_total{type=%q} %d\n", key, byAction[key])
	}
	fmt.Fprintf(b, "\n")

	fmt.Fprintf(b, "# HELP convodesk_captured_errors_total Errors reported to monitoring\n")
	fmt.Fprintf(b, "# TYPE convodesk_captured_errors_total counter\n")
	fmt.Fprintf(b, "convodesk_captured_errors_total %d\n", errTotal)
	for _, key := range sortedKeys(errBy) {
		fmt.Fprintf(b, "convodesk_captured_errors_total{context=%q} %d\n", key, errBy[key])
	}
	fmt.Fprintf(b, "\n")

	fmt.Fprintf(b, "# HELP convodesk_rate_limited_requests_total Requests rejected by rate limiting\n")
	fmt.Fprintf(b, "# TYPE convodesk_rate_limited_requests_total counter\n")
	fmt.Fprintf(b, "convodesk_rate_limited_requests_total %d\n", rlTotal)

	c.String(http.StatusOK, b.String())
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
