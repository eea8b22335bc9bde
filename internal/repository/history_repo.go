package repository

import (
	"context"
	"time"

	"expensehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryRepository is the append-only store of approval actions
type HistoryRepository interface {
	Append(ctx context.Context, row *model.ApprovalHistory) error
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]model.ApprovalHistory, error)
	// HasActorActed reports whether the actor has any prior row for the report,
	// regardless of action. Drives the temporal-separation guard check.
	HasActorActed(ctx context.Context, reportID, actorID uuid.UUID) (bool, error)
	// CountCrossApprovals counts approve rows where actorID approved a report
	// submitted by submitterID since the given time. Drives the circular check.
	CountCrossApprovals(ctx context.Context, actorID, submitterID uuid.UUID, since time.Time) (int64, error)
}

type historyRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Append(ctx context.Context, row *model.ApprovalHistory) error {
	return GetDB(ctx, r.db).Create(row).Error
}

func (r *historyRepository) ListByReport(ctx context.Context, reportID uuid.UUID) ([]model.ApprovalHistory, error) {
	var rows []model.ApprovalHistory
	if err := GetDB(ctx, r.db).
		Where("report_id = ?", reportID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *historyRepository) HasActorActed(ctx context.Context, reportID, actorID uuid.UUID) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ApprovalHistory{}).
		Where("report_id = ? AND actor_id = ?", reportID, actorID).
		Count(&count).Error
	return count > 0, err
}

func (r *historyRepository) CountCrossApprovals(ctx context.Context, actorID, submitterID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ApprovalHistory{}).
		Joins("JOIN expense_reports ON expense_reports.id = approval_histories.report_id").
		Where("approval_histories.actor_id = ?", actorID).
		Where("approval_histories.action = ?", model.ActionApprove).
		Where("expense_reports.user_id = ?", submitterID).
		Where("approval_histories.created_at >= ?", since).
		Count(&count).Error
	return count, err
}
