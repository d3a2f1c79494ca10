package services

import (
	"github.com/sirupsen/logrus"

	appmetrics "convodesk/internal/metrics"
)

// ErrorReporter is the telemetry collaborator used across services.
// Implementations must be fire-and-forget: never return, never panic.
type ErrorReporter interface {
	CaptureError(err error, context map[string]any)
}

// MonitoringService reports errors and notable events to the log and the
// process-local counters. It stands in front of whatever external sink a
// deployment forwards logs to.
type MonitoringService struct {
	logger *logrus.Logger
}

func NewMonitoringService(logger *logrus.Logger) *MonitoringService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MonitoringService{logger: logger}
}

// CaptureError records an error with its context tags. The "context" tag
// identifies the operation that failed and drives the error counters.
func (m *MonitoringService) CaptureError(err error, context map[string]any) {
	if err == nil {
		return
	}
	tag := ""
	if context != nil {
		tag, _ = context["context"].(string)
	}
	appmetrics.IncCapturedError(tag)

	fields := logrus.Fields{}
	for k, v := range context {
		fields[k] = v
	}
	m.logger.WithFields(fields).WithError(err).Error("captured error")
}

// CaptureMessage records an informational event.
func (m *MonitoringService) CaptureMessage(msg string, context map[string]any) {
	fields := logrus.Fields{}
	for k, v := range context {
		fields[k] = v
	}
	m.logger.WithFields(fields).Info(msg)
}
