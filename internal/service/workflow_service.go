package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"expensehub/internal/apperr"
	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type WorkflowRequest struct {
	Name           string                   `json:"name" binding:"required"`
	Steps          []model.WorkflowStep     `json:"steps" binding:"required,min=1"`
	Conditions     model.WorkflowConditions `json:"conditions"`
	OnReturnPolicy string                   `json:"on_return_policy"`
	IsDefault      bool                     `json:"is_default"`
}

type AssignmentRequest struct {
	WorkflowID      string  `json:"workflow_id" binding:"required"`
	DepartmentID    *string `json:"department_id"`
	ExpenseCategory *string `json:"expense_category"`
	AmountMin       *string `json:"amount_min"` // decimal strings
	AmountMax       *string `json:"amount_max"`
	Priority        int     `json:"priority"`
}

// ResolveInput carries the report attributes workflow routing keys on
type ResolveInput struct {
	DepartmentID    *uuid.UUID
	ExpenseCategory string
	TotalAmount     decimal.Decimal
}

// --- Interface ---

// WorkflowService stores versioned definitions and resolves which one applies
// to a given report.
type WorkflowService interface {
	CreateWorkflow(ctx context.Context, req WorkflowRequest) (*model.WorkflowDefinition, error)
	// UpdateWorkflow bumps the version. Reports already in flight keep the
	// snapshot they took at submission and are unaffected.
	UpdateWorkflow(ctx context.Context, id uuid.UUID, req WorkflowRequest) (*model.WorkflowDefinition, error)
	SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*model.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]model.WorkflowDefinition, error)

	CreateAssignment(ctx context.Context, req AssignmentRequest) (*model.WorkflowAssignment, error)
	DeleteAssignment(ctx context.Context, id uuid.UUID) error
	ListAssignments(ctx context.Context) ([]model.WorkflowAssignment, error)

	Resolve(ctx context.Context, input ResolveInput) (*model.WorkflowDefinition, error)

	SeedDefaultWorkflow(ctx context.Context) error
}

type workflowService struct {
	workflowRepo repository.WorkflowRepository
}

func NewWorkflowService(workflowRepo repository.WorkflowRepository) WorkflowService {
	return &workflowService{workflowRepo: workflowRepo}
}

// --- Implementation ---

func (s *workflowService) CreateWorkflow(ctx context.Context, req WorkflowRequest) (*model.WorkflowDefinition, error) {
	if err := validateSteps(req.Steps); err != nil {
		return nil, err
	}
	policy, err := normalizeReturnPolicy(req.OnReturnPolicy)
	if err != nil {
		return nil, err
	}

	steps, err := json.Marshal(req.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	conditions, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	def := &model.WorkflowDefinition{
		Name:           req.Name,
		Version:        1,
		IsActive:       true,
		IsDefault:      req.IsDefault,
		Conditions:     string(conditions),
		Steps:          string(steps),
		OnReturnPolicy: policy,
	}
	if err := s.workflowRepo.Create(ctx, def); err != nil {
		return nil, apperr.Conflict("workflow '%s' already exists", req.Name)
	}
	return def, nil
}

func (s *workflowService) UpdateWorkflow(ctx context.Context, id uuid.UUID, req WorkflowRequest) (*model.WorkflowDefinition, error) {
	def, err := s.workflowRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("workflow %s", id)
	}

	if err := validateSteps(req.Steps); err != nil {
		return nil, err
	}
	policy, err := normalizeReturnPolicy(req.OnReturnPolicy)
	if err != nil {
		return nil, err
	}

	steps, err := json.Marshal(req.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	conditions, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	def.Name = req.Name
	def.Steps = string(steps)
	def.Conditions = string(conditions)
	def.OnReturnPolicy = policy
	def.IsDefault = req.IsDefault
	def.Version++

	if err := s.workflowRepo.Update(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return def, nil
}

func (s *workflowService) SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error {
	def, err := s.workflowRepo.FindByID(ctx, id)
	if err != nil {
		return apperr.NotFound("workflow %s", id)
	}
	def.IsActive = active
	return s.workflowRepo.Update(ctx, def)
}

func (s *workflowService) GetWorkflow(ctx context.Context, id uuid.UUID) (*model.WorkflowDefinition, error) {
	def, err := s.workflowRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("workflow %s", id)
	}
	return def, nil
}

func (s *workflowService) ListWorkflows(ctx context.Context) ([]model.WorkflowDefinition, error) {
	return s.workflowRepo.ListAll(ctx)
}

func (s *workflowService) CreateAssignment(ctx context.Context, req AssignmentRequest) (*model.WorkflowAssignment, error) {
	workflowID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		return nil, apperr.Validation("invalid workflow id")
	}
	if _, err := s.workflowRepo.FindByID(ctx, workflowID); err != nil {
		return nil, apperr.NotFound("workflow %s", workflowID)
	}

	a := &model.WorkflowAssignment{
		WorkflowID:      workflowID,
		ExpenseCategory: req.ExpenseCategory,
		Priority:        req.Priority,
		IsActive:        true,
	}

	if req.DepartmentID != nil {
		deptID, err := uuid.Parse(*req.DepartmentID)
		if err != nil {
			return nil, apperr.Validation("invalid department id")
		}
		a.DepartmentID = &deptID
	}
	if req.AmountMin != nil {
		min, err := decimal.NewFromString(*req.AmountMin)
		if err != nil {
			return nil, apperr.Validation("invalid amount_min")
		}
		a.AmountMin = &min
	}
	if req.AmountMax != nil {
		max, err := decimal.NewFromString(*req.AmountMax)
		if err != nil {
			return nil, apperr.Validation("invalid amount_max")
		}
		a.AmountMax = &max
	}

	if err := s.workflowRepo.CreateAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	return a, nil
}

func (s *workflowService) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	return s.workflowRepo.DeleteAssignment(ctx, id)
}

func (s *workflowService) ListAssignments(ctx context.Context) ([]model.WorkflowAssignment, error) {
	return s.workflowRepo.ListAssignments(ctx)
}

// Resolve selects the workflow definition for a report: the highest-priority
// matching assignment wins, then the default definition, else the submission
// fails with a validation error.
func (s *workflowService) Resolve(ctx context.Context, input ResolveInput) (*model.WorkflowDefinition, error) {
	assignments, err := s.workflowRepo.ListActiveAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow assignments: %w", err)
	}

	if best := pickAssignment(assignments, input); best != nil {
		def, err := s.workflowRepo.FindByID(ctx, best.WorkflowID)
		if err == nil && def.IsActive {
			return def, nil
		}
		// assigned workflow missing or inactive; fall through to default
	}

	def, err := s.workflowRepo.FindDefault(ctx)
	if err != nil {
		return nil, apperr.Validation("no workflow configured for this report")
	}
	return def, nil
}

// SeedDefaultWorkflow installs the fallback approval chain used when no
// assignment rule matches: manager approval, then finance review for reports
// above 2000.
func (s *workflowService) SeedDefaultWorkflow(ctx context.Context) error {
	if _, err := s.workflowRepo.FindDefault(ctx); err == nil {
		return nil
	}

	_, err := s.CreateWorkflow(ctx, WorkflowRequest{
		Name: "standard-approval",
		Steps: []model.WorkflowStep{
			{
				StepNumber:  1,
				Name:        "Manager Approval",
				TargetType:  model.TargetRelationship,
				TargetValue: "manager",
				SLAHours:    48,
			},
			{
				StepNumber:  2,
				Name:        "Finance Review",
				TargetType:  model.TargetRole,
				TargetValue: "finance",
				SLAHours:    72,
				RequiredIf: &model.Condition{
					Field:    "totalAmount",
					Operator: model.OpGreaterThan,
					Value:    2000,
				},
			},
		},
		OnReturnPolicy: model.ReturnSoftRestart,
		IsDefault:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to seed default workflow: %w", err)
	}
	return nil
}

// pickAssignment filters matching rules and orders them by priority DESC with
// amountMin DESC (nulls last) as the tie-break, returning the first match.
func pickAssignment(assignments []model.WorkflowAssignment, input ResolveInput) *model.WorkflowAssignment {
	matches := make([]model.WorkflowAssignment, 0, len(assignments))
	for _, a := range assignments {
		if assignmentMatches(a, input) {
			matches = append(matches, a)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		// amountMin DESC, nulls last
		switch {
		case matches[i].AmountMin == nil:
			return false
		case matches[j].AmountMin == nil:
			return true
		default:
			return matches[i].AmountMin.GreaterThan(*matches[j].AmountMin)
		}
	})

	return &matches[0]
}

func assignmentMatches(a model.WorkflowAssignment, input ResolveInput) bool {
	if a.DepartmentID != nil {
		if input.DepartmentID == nil || *a.DepartmentID != *input.DepartmentID {
			return false
		}
	}
	if a.ExpenseCategory != nil && *a.ExpenseCategory != input.ExpenseCategory {
		return false
	}
	if a.AmountMin != nil && input.TotalAmount.LessThan(*a.AmountMin) {
		return false
	}
	if a.AmountMax != nil && input.TotalAmount.GreaterThan(*a.AmountMax) {
		return false
	}
	return true
}

// validateSteps rejects malformed chains at save time: steps must be 1-based
// and contiguous, with known target types and valid conditions.
func validateSteps(steps []model.WorkflowStep) error {
	if len(steps) == 0 {
		return apperr.Validation("workflow requires at least one step")
	}
	for i, step := range steps {
		if step.StepNumber != i+1 {
			return apperr.Validation("step numbers must be contiguous starting at 1, got %d at position %d", step.StepNumber, i+1)
		}
		if step.Name == "" {
			return apperr.Validation("step %d requires a name", step.StepNumber)
		}
		switch step.TargetType {
		case model.TargetRole, model.TargetRelationship, model.TargetHybrid, model.TargetSystem:
		default:
			return apperr.Validation("step %d has unknown target type '%s'", step.StepNumber, step.TargetType)
		}
		if err := validateCondition(step.RequiredIf); err != nil {
			return fmt.Errorf("step %d required_if: %w", step.StepNumber, err)
		}
		if err := validateCondition(step.SkipIf); err != nil {
			return fmt.Errorf("step %d skip_if: %w", step.StepNumber, err)
		}
	}
	return nil
}

func normalizeReturnPolicy(policy string) (string, error) {
	switch policy {
	case "":
		return model.ReturnSoftRestart, nil
	case model.ReturnHardRestart, model.ReturnSoftRestart:
		return policy, nil
	default:
		return "", apperr.Validation("unknown return policy '%s'", policy)
	}
}
