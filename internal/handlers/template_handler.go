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

// TemplateHandler exposes message template management and rendering.
type TemplateHandler struct {
	templateService *services.TemplateService
	logger          *logrus.Logger
}

func NewTemplateHandler(templateService *services.TemplateService, logger *logrus.Logger) *TemplateHandler {
	return &TemplateHandler{
		templateService: templateService,
		logger:          logger,
	}
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	category := c.Query("category")

	templates, err := h.templateService.List(c.Request.Context(), owner, category)
	if err != nil {
		h.logger.Errorf("Failed to list templates: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list templates",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, templates)
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	id := c.Param("id")

	tpl, err := h.templateService.Get(c.Request.Context(), owner, id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Template not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, tpl)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)

	var req services.TemplateCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	tpl, err := h.templateService.Create(c.Request.Context(), owner, &req)
	if err != nil {
		h.logger.Errorf("Failed to create template: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create template",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, tpl)
}

func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	id := c.Param("id")

	var req services.TemplateUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	tpl, err := h.templateService.Update(c.Request.Context(), owner, id, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Template not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to update template %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to update template",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, tpl)
}

func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	id := c.Param("id")

	if err := h.templateService.Delete(c.Request.Context(), owner, id); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Failed to delete template",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "template deleted"})
}

type renderRequest struct {
	Variables map[string]string `json:"variables"`
}

func (h *TemplateHandler) RenderTemplate(c *gin.Context) {
	owner := c.GetString(middleware.OwnerKey)
	id := c.Param("id")

	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	content, err := h.templateService.Render(c.Request.Context(), owner, id, req.Variables)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Failed to render template",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": content})
}

func RegisterTemplateRoutes(r *gin.RouterGroup, handler *TemplateHandler) {
	templates := r.Group("/templates")
	{
		templates.POST("", handler.CreateTemplate)
		templates.GET("", handler.ListTemplates)
		templates.GET("/:id", handler.GetTemplate)
		templates.PUT("/:id", handler.UpdateTemplate)
		templates.DELETE("/:id", handler.DeleteTemplate)
		templates.POST("/:id/render", handler.RenderTemplate)
	}
}
