package handlers

import (
	"errors"
	"net/http"

	"convodesk/internal/middleware"
	"convodesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SLAHandler exposes SLA policy management and violation listing.
type SLAHandler struct {
	slaService *services.SLAService
	logger     *logrus.Logger
}

func NewSLAHandler(slaService *services.SLAService, logger *logrus.Logger) *SLAHandler {
	return &SLAHandler{
		slaService: slaService,
		logger:     logger,
	}
}

func (h *SLAHandler) ListPolicies(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)

	policies, err := h.slaService.ListPolicies(c.Request.Context(), owner)
	if err != nil {
		h.logger.Errorf("Failed to list SLA policies: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list policies",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, policies)
}

func (h *SLAHandler) CreatePolicy(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)

	var req services.SLAPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	policy, err := h.slaService.CreatePolicy(c.Request.Context(), owner, &req)
	if err != nil {
		h.logger.Errorf("Failed to create SLA policy: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create policy",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, policy)
}

func (h *SLAHandler) UpdatePolicy(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	id := c.Param("id")

	var req services.SLAPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	policy, err := h.slaService.UpdatePolicy(c.Request.Context(), owner, id, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Policy not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to update SLA policy %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to update policy",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, policy)
}

func (h *SLAHandler) DeletePolicy(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	id := c.Param("id")

	if err := h.slaService.DeletePolicy(c.Request.Context(), owner, id); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Failed to delete policy",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "policy deleted"})
}

func (h *SLAHandler) ListViolations(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	unresolvedOnly := c.Query("unresolved") == "true"

	violations, err := h.slaService.ListViolations(c.Request.Context(), owner, unresolvedOnly)
	if err != nil {
		h.logger.Errorf("Failed to list SLA violations: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list violations",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, violations)
}

func RegisterSLARoutes(r *gin.RouterGroup, handler *SLAHandler) {
	sla := r.Group("/sla")
	{
		sla.GET("/policies", handler.ListPolicies)
		sla.POST("/policies", handler.CreatePolicy)
		sla.PUT("/policies/:id", handler.UpdatePolicy)
		sla.DELETE("/policies/:id", handler.DeletePolicy)
		sla.GET("/violations", handler.ListViolations)
	}
}
