package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"convodesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TemplateService manages reusable message templates with {{variable}}
// placeholders. Reads go through a per-category cache that every write
// invalidates.
type TemplateService struct {
	db     *gorm.DB
	logger *logrus.Logger

	mu    sync.Mutex
	cache map[string][]models.MessageTemplate // key: owner + "\x00" + category
}

func NewTemplateService(db *gorm.DB, logger *logrus.Logger) *TemplateService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TemplateService{
		db:     db,
		logger: logger,
		cache:  make(map[string][]models.MessageTemplate),
	}
}

type TemplateCreateRequest struct {
	Name     string   `json:"name" binding:"required"`
	Language string   `json:"language"`
	Content  string   `json:"content" binding:"required"`
	Category string   `json:"category"`
	Variables []string `json:"variables"`
}

type TemplateUpdateRequest struct {
	Name     *string   `json:"name"`
	Language *string   `json:"language"`
	Content  *string   `json:"content"`
	Category *string   `json:"category"`
	Variables []string `json:"variables"`
}

var templateVarRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// List returns the owner's templates, optionally filtered by category.
func (s *TemplateService) List(ctx context.Context, owner, category string) ([]models.MessageTemplate, error) {
	if owner == "" {
		return nil, errors.New("owner required")
	}
	key := owner + "\x00" + category
	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	q := s.db.WithContext(ctx).Where("owner_id = ?", owner).Order("created_at DESC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var templates []models.MessageTemplate
	if err := q.Find(&templates).Error; err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = templates
	s.mu.Unlock()
	return templates, nil
}

func (s *TemplateService) Get(ctx context.Context, owner, id string) (*models.MessageTemplate, error) {
	var tpl models.MessageTemplate
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&tpl).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *TemplateService) Create(ctx context.Context, owner string, req *TemplateCreateRequest) (*models.MessageTemplate, error) {
	if owner == "" {
		return nil, errors.New("owner required")
	}
	if req == nil {
		return nil, errors.New("request required")
	}

	variables := req.Variables
	if len(variables) == 0 {
		variables = ExtractVariables(req.Content)
	}
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("invalid variables: %w", err)
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	now := time.Now()
	tpl := &models.MessageTemplate{
		OwnerID:   owner,
		Name:      strings.TrimSpace(req.Name),
		Language:  language,
		Content:   req.Content,
		Variables: string(varsJSON),
		Category:  req.Category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tpl.Name == "" {
		return nil, errors.New("name required")
	}
	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return nil, err
	}

	s.invalidate()
	return tpl, nil
}

func (s *TemplateService) Update(ctx context.Context, owner, id string, req *TemplateUpdateRequest) (*models.MessageTemplate, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	tpl, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		tpl.Name = strings.TrimSpace(*req.Name)
	}
	if req.Language != nil {
		tpl.Language = *req.Language
	}
	if req.Content != nil {
		tpl.Content = *req.Content
		vars := req.Variables
		if len(vars) == 0 {
			vars = ExtractVariables(tpl.Content)
		}
		varsJSON, err := json.Marshal(vars)
		if err != nil {
			return nil, fmt.Errorf("invalid variables: %w", err)
		}
		tpl.Variables = string(varsJSON)
	}
	if req.Category != nil {
		tpl.Category = *req.Category
	}
	tpl.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(tpl).Error; err != nil {
		return nil, err
	}

	s.invalidate()
	return tpl, nil
}

func (s *TemplateService) Delete(ctx context.Context, owner, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		Delete(&models.MessageTemplate{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("template not found")
	}
	s.invalidate()
	return nil
}

// Render substitutes {{variable}} placeholders in a template's content.
// Unprovided variables are left in place.
func (s *TemplateService) Render(ctx context.Context, owner, id string, variables map[string]string) (string, error) {
	tpl, err := s.Get(ctx, owner, id)
	if err != nil {
		return "", err
	}
	content := tpl.Content
	for key, value := range variables {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content, nil
}

func (s *TemplateService) invalidate() {
	s.mu.Lock()
	s.cache = make(map[string][]models.MessageTemplate)
	s.mu.Unlock()
}

// ExtractVariables lists the {{variable}} names appearing in a template
// body, in order of first appearance.
func ExtractVariables(content string) []string {
	matches := templateVarRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ValidateVariables reports whether every placeholder in content has a
// value in variables.
func ValidateVariables(content string, variables map[string]string) bool {
	for _, name := range ExtractVariables(content) {
		if _, ok := variables[name]; !ok {
			return false
		}
	}
	return true
}
