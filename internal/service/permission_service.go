package service

import (
	"context"
	"fmt"
	"regexp"

	"expensehub/internal/apperr"
	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
)

type CreatePermissionRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Category    string  `json:"category" binding:"required"`
	RiskLevel   *string `json:"risk_level"`
	RequiresMFA bool    `json:"requires_mfa"`
}

type UpdatePermissionRequest struct {
	Description string  `json:"description"`
	RiskLevel   *string `json:"risk_level"`
	RequiresMFA *bool   `json:"requires_mfa"`
}

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// PermissionService maintains the permission catalog. Permissions referenced
// by any role are immutable until the roles release them.
type PermissionService interface {
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	GetUserPermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
	CreatePermission(ctx context.Context, req CreatePermissionRequest, actorID uuid.UUID) (*model.Permission, error)
	UpdatePermission(ctx context.Context, id uuid.UUID, req UpdatePermissionRequest, actorID uuid.UUID) (*model.Permission, error)
	DeletePermission(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error
}

type permissionService struct {
	roleRepo repository.RoleRepository
	ledger   AuditService
}

func NewPermissionService(roleRepo repository.RoleRepository, ledger AuditService) PermissionService {
	return &permissionService{roleRepo: roleRepo, ledger: ledger}
}

func (s *permissionService) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	return s.roleRepo.ListPermissions(ctx)
}

func (s *permissionService) GetUserPermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	perms, err := s.roleRepo.GetUserPermissionNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user permissions: %w", err)
	}
	return perms, nil
}

func (s *permissionService) CreatePermission(ctx context.Context, req CreatePermissionRequest, actorID uuid.UUID) (*model.Permission, error) {
	if !permissionNamePattern.MatchString(req.Name) {
		return nil, apperr.Validation("permission name must be dotted lowercase, e.g. 'expense.approve'")
	}
	if err := validateRiskLevel(req.RiskLevel); err != nil {
		return nil, err
	}
	if existing, err := s.roleRepo.FindPermissionsByNames(ctx, []string{req.Name}); err == nil && len(existing) > 0 {
		return nil, apperr.Conflict("permission '%s' already exists", req.Name)
	}

	perm := &model.Permission{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		RiskLevel:   req.RiskLevel,
		RequiresMFA: req.RequiresMFA,
	}
	if err := s.roleRepo.CreatePermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}

	s.auditPermissionEvent(ctx, actorID, model.ActionCreatePermission, perm)
	return perm, nil
}

func (s *permissionService) UpdatePermission(ctx context.Context, id uuid.UUID, req UpdatePermissionRequest, actorID uuid.UUID) (*model.Permission, error) {
	perm, err := s.roleRepo.FindPermissionByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("permission %s", id)
	}
	if err := validateRiskLevel(req.RiskLevel); err != nil {
		return nil, err
	}

	refs, err := s.roleRepo.CountRolesReferencingPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if refs > 0 {
		return nil, apperr.Conflict("permission '%s' is referenced by %d role(s) and cannot be modified", perm.Name, refs)
	}

	perm.Description = req.Description
	if req.RiskLevel != nil {
		perm.RiskLevel = req.RiskLevel
	}
	if req.RequiresMFA != nil {
		perm.RequiresMFA = *req.RequiresMFA
	}
	if err := s.roleRepo.UpdatePermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}

	s.auditPermissionEvent(ctx, actorID, model.ActionUpdatePermission, perm)
	return perm, nil
}

func (s *permissionService) DeletePermission(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	perm, err := s.roleRepo.FindPermissionByID(ctx, id)
	if err != nil {
		return apperr.NotFound("permission %s", id)
	}

	refs, err := s.roleRepo.CountRolesReferencingPermission(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperr.Conflict("permission '%s' is referenced by %d role(s) and cannot be deleted", perm.Name, refs)
	}

	if err := s.roleRepo.DeletePermission(ctx, id); err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	s.auditPermissionEvent(ctx, actorID, model.ActionDeletePermission, perm)
	return nil
}

func validateRiskLevel(level *string) error {
	if level == nil {
		return nil
	}
	switch *level {
	case model.RiskLow, model.RiskMedium, model.RiskHigh, model.RiskCritical:
		return nil
	}
	return apperr.Validation("risk level must be one of low, medium, high, critical")
}

func (s *permissionService) auditPermissionEvent(ctx context.Context, actorID uuid.UUID, action string, perm *model.Permission) {
	resource := perm.ID.String()
	_, _ = s.ledger.LogEvent(ctx, AuditEvent{
		ActorID:      &actorID,
		Action:       action,
		ResourceType: "permission",
		ResourceID:   &resource,
		Metadata: map[string]interface{}{
			"name":     perm.Name,
			"category": perm.Category,
		},
	})
}
