package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/freshfold/freshfold/internal/audit/domain"
	"github.com/freshfold/freshfold/internal/clock"
	"github.com/freshfold/freshfold/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo repository.Repository[auditdomain.AuditLog]
}

func NewService(p ServiceParam) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[auditdomain.AuditLog](p.DB),
	}
}

// AuditLog appends one trail entry. Callers treat failures as
// non-fatal; the business write has already committed.
func (s *Service) AuditLog(ctx context.Context, action string, targetType string, targetID *string, metadata map[string]any) error {
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entry := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Error("failed to write audit log",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	query := s.db.WithContext(ctx).Model(&auditdomain.AuditLog{})
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.TargetType != "" {
		query = query.Where("target_type = ?", req.TargetType)
	}
	if req.TargetID != "" {
		query = query.Where("target_id = ?", req.TargetID)
	}
	if req.StartAt != nil {
		query = query.Where("created_at >= ?", req.StartAt)
	}
	if req.EndAt != nil {
		query = query.Where("created_at < ?", req.EndAt)
	}

	var rows []auditdomain.AuditLog
	if err := query.Order("created_at desc").Find(&rows).Error; err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	return auditdomain.ListAuditLogResponse{AuditLogs: rows}, nil
}
