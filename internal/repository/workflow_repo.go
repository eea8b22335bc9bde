package repository

import (
	"context"

	"expensehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkflowRepository defines data access for workflow definitions and routing rules
type WorkflowRepository interface {
	Create(ctx context.Context, def *model.WorkflowDefinition) error
	Update(ctx context.Context, def *model.WorkflowDefinition) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.WorkflowDefinition, error)
	FindByName(ctx context.Context, name string) (*model.WorkflowDefinition, error)
	FindDefault(ctx context.Context) (*model.WorkflowDefinition, error)
	ListAll(ctx context.Context) ([]model.WorkflowDefinition, error)

	CreateAssignment(ctx context.Context, a *model.WorkflowAssignment) error
	DeleteAssignment(ctx context.Context, id uuid.UUID) error
	ListActiveAssignments(ctx context.Context) ([]model.WorkflowAssignment, error)
	ListAssignments(ctx context.Context) ([]model.WorkflowAssignment, error)
}

type workflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) Create(ctx context.Context, def *model.WorkflowDefinition) error {
	return GetDB(ctx, r.db).Create(def).Error
}

func (r *workflowRepository) Update(ctx context.Context, def *model.WorkflowDefinition) error {
	return GetDB(ctx, r.db).Save(def).Error
}

func (r *workflowRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	if err := GetDB(ctx, r.db).First(&def, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *workflowRepository) FindByName(ctx context.Context, name string) (*model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	if err := GetDB(ctx, r.db).Where("name = ?", name).First(&def).Error; err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *workflowRepository) FindDefault(ctx context.Context) (*model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	if err := GetDB(ctx, r.db).
		Where("is_default = ? AND is_active = ?", true, true).
		First(&def).Error; err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *workflowRepository) ListAll(ctx context.Context) ([]model.WorkflowDefinition, error) {
	var defs []model.WorkflowDefinition
	if err := GetDB(ctx, r.db).Order("name ASC").Find(&defs).Error; err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *workflowRepository) CreateAssignment(ctx context.Context, a *model.WorkflowAssignment) error {
	return GetDB(ctx, r.db).Create(a).Error
}

func (r *workflowRepository) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.WorkflowAssignment{}).Error
}

func (r *workflowRepository) ListActiveAssignments(ctx context.Context) ([]model.WorkflowAssignment, error) {
	var rules []model.WorkflowAssignment
	if err := GetDB(ctx, r.db).
		Where("is_active = ?", true).
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *workflowRepository) ListAssignments(ctx context.Context) ([]model.WorkflowAssignment, error) {
	var rules []model.WorkflowAssignment
	if err := GetDB(ctx, r.db).Preload("Workflow").Order("priority DESC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}
