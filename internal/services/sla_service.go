package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"convodesk/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SLAService manages SLA policies and runs the background monitor that
// detects first-response and resolution breaches. Each detected breach
// inserts an SLAViolation row, which in turn feeds the sla_violated
// automation trigger through the change feed.
type SLAService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
}

func NewSLAService(db *gorm.DB, logger *logrus.Logger) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SLAService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("convodesk.sla"),
	}
}

type SLAPolicyRequest struct {
	Name              string `json:"name" binding:"required"`
	Priority          string `json:"priority" binding:"required"`
	FirstResponseTime int    `json:"first_response_time" binding:"required,min=1"`
	ResolutionTime    int    `json:"resolution_time" binding:"required,min=1"`
	Active            *bool  `json:"active"`
}

func (s *SLAService) ListPolicies(ctx context.Context, owner string) ([]models.SLAPolicy, error) {
	var policies []models.SLAPolicy
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("created_at DESC").
		Find(&policies).Error
	return policies, err
}

func (s *SLAService) GetPolicy(ctx context.Context, owner, id string) (*models.SLAPolicy, error) {
	var policy models.SLAPolicy
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&policy).Error
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *SLAService) CreatePolicy(ctx context.Context, owner string, req *SLAPolicyRequest) (*models.SLAPolicy, error) {
	if owner == "" {
		return nil, errors.New("owner required")
	}
	if req == nil {
		return nil, errors.New("request required")
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now()
	policy := &models.SLAPolicy{
		OwnerID:           owner,
		Name:              req.Name,
		Priority:          req.Priority,
		FirstResponseTime: req.FirstResponseTime,
		ResolutionTime:    req.ResolutionTime,
		Active:            active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *SLAService) UpdatePolicy(ctx context.Context, owner, id string, req *SLAPolicyRequest) (*models.SLAPolicy, error) {
	policy, err := s.GetPolicy(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	policy.Name = req.Name
	policy.Priority = req.Priority
	policy.FirstResponseTime = req.FirstResponseTime
	policy.ResolutionTime = req.ResolutionTime
	if req.Active != nil {
		policy.Active = *req.Active
	}
	policy.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(policy).Error; err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *SLAService) DeletePolicy(ctx context.Context, owner, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		Delete(&models.SLAPolicy{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("policy not found")
	}
	return nil
}

func (s *SLAService) ListViolations(ctx context.Context, owner string, unresolvedOnly bool) ([]models.SLAViolation, error) {
	q := s.db.WithContext(ctx).
		Joins("JOIN conversations ON conversations.id = sla_violations.conversation_id").
		Where("conversations.owner_id = ?", owner).
		Order("sla_violations.detected_at DESC")
	if unresolvedOnly {
		q = q.Where("sla_violations.resolved = ?", false)
	}
	var violations []models.SLAViolation
	err := q.Find(&violations).Error
	return violations, err
}

// StartMonitor runs the breach check loop until ctx is cancelled.
func (s *SLAService) StartMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.logger.WithField("interval", interval.String()).Info("SLA monitor started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA monitor stopped")
			return
		case <-ticker.C:
			if err := s.CheckBreaches(ctx); err != nil {
				s.logger.WithError(err).Error("SLA breach check failed")
			}
		}
	}
}

// CheckBreaches scans open conversations against active policies and
// inserts a violation row for each newly missed deadline. A deadline
// already recorded for a conversation is not recorded again.
func (s *SLAService) CheckBreaches(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "sla.check_breaches")
	defer span.End()

	var policies []models.SLAPolicy
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&policies).Error; err != nil {
		return err
	}

	now := time.Now()
	detected := 0
	for _, policy := range policies {
		n, err := s.checkPolicy(ctx, &policy, now)
		if err != nil {
			s.logger.WithError(err).WithField("policy_id", policy.ID).Warn("policy check failed")
			continue
		}
		detected += n
	}
	span.SetAttributes(attribute.Int("sla.violations_detected", detected))
	if detected > 0 {
		s.logger.WithField("count", detected).Info("SLA violations detected")
	}
	return nil
}

func (s *SLAService) checkPolicy(ctx context.Context, policy *models.SLAPolicy, now time.Time) (int, error) {
	firstResponseCutoff := now.Add(-time.Duration(policy.FirstResponseTime) * time.Minute)
	resolutionCutoff := now.Add(-time.Duration(policy.ResolutionTime) * time.Minute)

	var overdue []models.Conversation
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND priority = ?", policy.OwnerID, policy.Priority).
		Where("status NOT IN ?", []string{models.ConversationStatusResolved, models.ConversationStatusClosed}).
		Where("(first_agent_reply_at IS NULL AND created_at < ?) OR created_at < ?",
			firstResponseCutoff, resolutionCutoff).
		Find(&overdue).Error
	if err != nil {
		return 0, err
	}

	detected := 0
	for _, conv := range overdue {
		if conv.FirstAgentReplyAt == nil && conv.CreatedAt.Before(firstResponseCutoff) {
			expected := conv.CreatedAt.Add(time.Duration(policy.FirstResponseTime) * time.Minute)
			if ok, err := s.recordViolation(ctx, &conv, policy, models.ViolationFirstResponse, expected, now); err != nil {
				return detected, err
			} else if ok {
				detected++
			}
		}
		if conv.CreatedAt.Before(resolutionCutoff) {
			expected := conv.CreatedAt.Add(time.Duration(policy.ResolutionTime) * time.Minute)
			if ok, err := s.recordViolation(ctx, &conv, policy, models.ViolationResolution, expected, now); err != nil {
				return detected, err
			} else if ok {
				detected++
			}
		}
	}
	return detected, nil
}

func (s *SLAService) recordViolation(ctx context.Context, conv *models.Conversation, policy *models.SLAPolicy, violationType string, expectedAt, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SLAViolation{}).
		Where("conversation_id = ? AND violation_type = ?", conv.ID, violationType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	violation := &models.SLAViolation{
		ConversationID: conv.ID,
		PolicyID:       policy.ID,
		ViolationType:  violationType,
		ExpectedAt:     expectedAt,
		DetectedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(violation).Error; err != nil {
		return false, err
	}
	s.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"policy_id":       policy.ID,
		"violation_type":  violationType,
	}).Warn("SLA violation recorded")
	return true, nil
}
