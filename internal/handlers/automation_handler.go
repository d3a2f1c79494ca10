package handlers

import (
	"net/http"

	"convodesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler exposes the automation rule CRUD surface.
type AutomationHandler struct {
	automationService *services.AutomationService
	logger            *logrus.Logger
}

func NewAutomationHandler(automationService *services.AutomationService, logger *logrus.Logger) *AutomationHandler {
	return &AutomationHandler{
		automationService: automationService,
		logger:            logger,
	}
}

// CreateRule creates an automation rule
// @Summary Create automation rule
// @Description Create a new automation rule for the current workspace
// @Tags Automation
// @Accept json
// @Produce json
// @Param rule body services.AutomationRuleRequest true "Rule definition"
// @Success 201 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/automation/rules [post]
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	rule := h.automationService.CreateRule(c.Request.Context(), &req)
	if rule == nil {
		h.logger.Errorf("Failed to create automation rule %q", req.Name)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to create rule",
			Message: "rule was not created",
		})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// ListRules lists the workspace's automation rules
// @Summary List automation rules
// @Tags Automation
// @Produce json
// @Success 200 {array} models.AutomationRule
// @Router /api/automation/rules [get]
func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules := h.automationService.GetRules(c.Request.Context())
	c.JSON(http.StatusOK, rules)
}

// UpdateRule updates an automation rule
// @Summary Update automation rule
// @Tags Automation
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param rule body services.AutomationRuleRequest true "Rule definition"
// @Success 200 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/automation/rules/{id} [put]
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id := c.Param("id")

	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	rule := h.automationService.UpdateRule(c.Request.Context(), id, &req)
	if rule == nil {
		h.logger.Errorf("Failed to update automation rule %s", id)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to update rule",
			Message: "rule was not updated",
		})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule deletes an automation rule
// @Summary Delete automation rule
// @Tags Automation
// @Param id path string true "Rule ID"
// @Success 200 {object} SuccessResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/automation/rules/{id} [delete]
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id := c.Param("id")

	if !h.automationService.DeleteRule(c.Request.Context(), id) {
		h.logger.Errorf("Failed to delete automation rule %s", id)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to delete rule",
			Message: "rule was not deleted",
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "rule deleted"})
}

// ToggleRule flips a rule between active and inactive
// @Summary Toggle automation rule
// @Tags Automation
// @Param id path string true "Rule ID"
// @Success 200 {object} SuccessResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/automation/rules/{id}/toggle [post]
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	id := c.Param("id")

	if !h.automationService.ToggleRule(c.Request.Context(), id) {
		h.logger.Errorf("Failed to toggle automation rule %s", id)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to toggle rule",
			Message: "rule was not toggled",
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "rule toggled"})
}

func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	rules := r.Group("/automation/rules")
	{
		rules.POST("", handler.CreateRule)
		rules.GET("", handler.ListRules)
		rules.PUT("/:id", handler.UpdateRule)
		rules.DELETE("/:id", handler.DeleteRule)
		rules.POST("/:id/toggle", handler.ToggleRule)
	}
}
