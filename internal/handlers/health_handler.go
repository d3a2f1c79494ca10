package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"convodesk/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Pinger is anything with a connectivity check, such as the WhatsApp
// client.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports overall service health plus per-dependency
// detail.
type HealthHandler struct {
	config   *config.Config
	db       *gorm.DB
	upstream Pinger
	logger   *logrus.Logger
}

func NewHealthHandler(cfg *config.Config, db *gorm.DB, upstream Pinger) *HealthHandler {
	return &HealthHandler{
		config:   cfg,
		db:       db,
		upstream: upstream,
		logger:   logrus.StandardLogger(),
	}
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type SystemInfo struct {
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
	GoVersion string        `json:"go_version"`
}

var startTime = time.Now()

const appVersion = "1.0.0"

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   appVersion,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime),
			Version:   appVersion,
			GoVersion: runtime.Version(),
		},
	}

	allHealthy := true
	h.checkDatabase(ctx, &response, &allHealthy)
	if h.config.WhatsApp.BaseURL != "" {
		h.checkUpstream(ctx, &response)
	}

	if !allHealthy {
		response.Status = "degraded"
	}

	c.JSON(http.StatusOK, response)
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	serviceStates := make(map[string]string)

	if err := h.pingDatabase(ctx); err != nil {
		serviceStates["database"] = "not_ready"
		ready = false
	} else {
		serviceStates["database"] = "ready"
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  serviceStates,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context, response *HealthResponse, allHealthy *bool) {
	start := time.Now()

	serviceInfo := ServiceInfo{
		Latency: time.Since(start).String(),
		Details: map[string]interface{}{
			"driver": "postgresql",
			"host":   h.config.Database.Host,
			"port":   h.config.Database.Port,
		},
	}

	if err := h.pingDatabase(ctx); err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		*allHealthy = false
	} else {
		serviceInfo.Status = "healthy"
		serviceInfo.Latency = time.Since(start).String()
	}

	response.Services["database"] = serviceInfo
}

// checkUpstream probes the messaging provider. A failure degrades the
// report but does not mark the service unhealthy, since queued work
// retries.
func (h *HealthHandler) checkUpstream(ctx context.Context, response *HealthResponse) {
	start := time.Now()

	if h.upstream == nil {
		response.Services["whatsapp"] = ServiceInfo{Status: "disabled"}
		return
	}

	if err := h.upstream.HealthCheck(ctx); err != nil {
		h.logger.WithError(err).Warn("messaging provider health check failed")
		response.Services["whatsapp"] = ServiceInfo{
			Status:  "unhealthy",
			Latency: time.Since(start).String(),
			Error:   err.Error(),
		}
		return
	}

	response.Services["whatsapp"] = ServiceInfo{
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	if h.db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
