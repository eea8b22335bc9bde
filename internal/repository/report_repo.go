package repository

import (
	"context"

	"expensehub/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportRepository defines data access for expense reports and their lines
type ReportRepository interface {
	Create(ctx context.Context, report *model.ExpenseReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExpenseReport, error)
	// GetForUpdate acquires a row-level exclusive lock on the report, serializing
	// concurrent workflow transitions. Must be called inside a transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExpenseReport, error)
	Save(ctx context.Context, report *model.ExpenseReport) error
	ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]model.ExpenseReport, int64, error)
	SumLines(ctx context.Context, reportID uuid.UUID) (decimal.Decimal, error)
	AddLine(ctx context.Context, line *model.ExpenseLine) error
}

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, report *model.ExpenseReport) error {
	return GetDB(ctx, r.db).Create(report).Error
}

func (r *reportRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExpenseReport, error) {
	var report model.ExpenseReport
	if err := GetDB(ctx, r.db).Preload("Lines").First(&report, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExpenseReport, error) {
	var report model.ExpenseReport
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&report, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) Save(ctx context.Context, report *model.ExpenseReport) error {
	return GetDB(ctx, r.db).Save(report).Error
}

func (r *reportRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]model.ExpenseReport, int64, error) {
	db := GetDB(ctx, r.db)

	var total int64
	if err := db.Model(&model.ExpenseReport{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reports []model.ExpenseReport
	offset := (page - 1) * limit
	if err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&reports).Error; err != nil {
		return nil, 0, err
	}

	return reports, total, nil
}

func (r *reportRepository) SumLines(ctx context.Context, reportID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := GetDB(ctx, r.db).Model(&model.ExpenseLine{}).
		Where("report_id = ?", reportID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *reportRepository) AddLine(ctx context.Context, line *model.ExpenseLine) error {
	return GetDB(ctx, r.db).Create(line).Error
}
