package repository

import (
	"context"

	"expensehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SodRepository defines data access for separation-of-duties rules
type SodRepository interface {
	Create(ctx context.Context, rule *model.SodRule) error
	Update(ctx context.Context, rule *model.SodRule) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.SodRule, error)
	ListActive(ctx context.Context) ([]model.SodRule, error)
	ListAll(ctx context.Context) ([]model.SodRule, error)
}

type sodRepository struct {
	db *gorm.DB
}

func NewSodRepository(db *gorm.DB) SodRepository {
	return &sodRepository{db: db}
}

func (r *sodRepository) Create(ctx context.Context, rule *model.SodRule) error {
	return GetDB(ctx, r.db).Create(rule).Error
}

func (r *sodRepository) Update(ctx context.Context, rule *model.SodRule) error {
	return GetDB(ctx, r.db).Save(rule).Error
}

func (r *sodRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.SodRule{}).Error
}

func (r *sodRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.SodRule, error) {
	var rule model.SodRule
	if err := GetDB(ctx, r.db).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *sodRepository) ListActive(ctx context.Context) ([]model.SodRule, error) {
	var rules []model.SodRule
	if err := GetDB(ctx, r.db).Where("is_active = ?", true).Order("name ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *sodRepository) ListAll(ctx context.Context) ([]model.SodRule, error) {
	var rules []model.SodRule
	if err := GetDB(ctx, r.db).Order("name ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}
