package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"expensehub/internal/apperr"
	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"` // permission names
}

type UpdateRoleRequest struct {
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

// Permission names for gating privileged operations
const (
	PermAssignPrivileged = "roles.assign_privileged"
)

// privilegedRoles require the assigning actor to hold PermAssignPrivileged
var privilegedRoles = map[string]bool{
	"admin":     true,
	"finance":   true,
	"treasurer": true,
}

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// --- Interface ---

// RoleService mutates roles and user↔role relations. Every mutation that
// changes a user's effective permission set bumps that user's rolesVersion in
// the same transaction, invalidating tokens issued before the change.
type RoleService interface {
	ListRoles(ctx context.Context) ([]model.Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error)
	CreateRole(ctx context.Context, req CreateRoleRequest, actorID uuid.UUID) (*model.Role, error)
	UpdateRole(ctx context.Context, id uuid.UUID, req UpdateRoleRequest, actorID uuid.UUID) (*model.Role, error)
	// UpdateRolePermissions refuses system roles and checks SoD for every
	// current holder before persisting. A non-valid SodResult means nothing was
	// changed.
	UpdateRolePermissions(ctx context.Context, roleID uuid.UUID, permissionNames []string, actorID uuid.UUID) (*model.Role, SodResult, error)
	DeleteRole(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error

	AssignRoleToUser(ctx context.Context, userID, roleID uuid.UUID, actorID uuid.UUID) (SodResult, error)
	RemoveRoleFromUser(ctx context.Context, userID, roleID uuid.UUID, actorID uuid.UUID) error
	SetUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID, actorID uuid.UUID) (SodResult, error)

	GetUserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error)
	SeedDefaults(ctx context.Context) error
}

type roleService struct {
	roleRepo  repository.RoleRepository
	userRepo  repository.UserRepository
	sodRepo   repository.SodRepository
	sod       SodService
	ledger    AuditService
	txManager repository.TransactionManager
}

func NewRoleService(
	roleRepo repository.RoleRepository,
	userRepo repository.UserRepository,
	sodRepo repository.SodRepository,
	sod SodService,
	ledger AuditService,
	txManager repository.TransactionManager,
) RoleService {
	return &roleService{
		roleRepo:  roleRepo,
		userRepo:  userRepo,
		sodRepo:   sodRepo,
		sod:       sod,
		ledger:    ledger,
		txManager: txManager,
	}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]model.Role, error) {
	return s.roleRepo.ListAll(ctx)
}

func (s *roleService) GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	role, err := s.roleRepo.FindByIDWithPermissions(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("role %s", id)
	}
	return role, nil
}

func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest, actorID uuid.UUID) (*model.Role, error) {
	if !roleNamePattern.MatchString(req.Name) {
		return nil, apperr.Validation("role name must be lowercase with underscores")
	}
	if _, err := s.roleRepo.FindByName(ctx, req.Name); err == nil {
		return nil, apperr.Conflict("role '%s' already exists", req.Name)
	}

	perms, err := s.roleRepo.FindPermissionsByNames(ctx, req.Permissions)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	if len(perms) != len(req.Permissions) {
		return nil, apperr.Validation("one or more permissions do not exist")
	}

	role := &model.Role{
		Name:        req.Name,
		Description: req.Description,
		IsSystem:    false,
		IsActive:    true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.Create(txCtx, role); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		if len(perms) > 0 {
			permIDs := make([]uuid.UUID, 0, len(perms))
			for _, p := range perms {
				permIDs = append(permIDs, p.ID)
			}
			if err := s.roleRepo.ReplacePermissions(txCtx, role.ID, permIDs); err != nil {
				return fmt.Errorf("failed to assign permissions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionCreateRole, role.ID, map[string]interface{}{
		"name":        role.Name,
		"permissions": req.Permissions,
	})
	return s.GetRole(ctx, role.ID)
}

func (s *roleService) UpdateRole(ctx context.Context, id uuid.UUID, req UpdateRoleRequest, actorID uuid.UUID) (*model.Role, error) {
	role, err := s.roleRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("role %s", id)
	}
	if role.IsSystem {
		return nil, apperr.Forbidden("system role '%s' cannot be modified", role.Name)
	}

	role.Description = req.Description
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.Update(txCtx, role); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		// toggling IsActive changes the effective permission set of holders
		holders, err := s.roleRepo.ListUserIDsWithRole(txCtx, role.ID)
		if err != nil {
			return err
		}
		return s.roleRepo.BumpRolesVersion(txCtx, holders)
	})
	if err != nil {
		return nil, err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionUpdateRole, role.ID, map[string]interface{}{
		"name": role.Name,
	})
	return s.GetRole(ctx, id)
}

func (s *roleService) UpdateRolePermissions(ctx context.Context, roleID uuid.UUID, permissionNames []string, actorID uuid.UUID) (*model.Role, SodResult, error) {
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return nil, SodResult{}, apperr.NotFound("role %s", roleID)
	}
	if role.IsSystem {
		return nil, SodResult{}, apperr.Forbidden("system role '%s' cannot be modified", role.Name)
	}

	perms, err := s.roleRepo.FindPermissionsByNames(ctx, permissionNames)
	if err != nil {
		return nil, SodResult{}, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	if len(perms) != len(permissionNames) {
		return nil, SodResult{}, apperr.Validation("one or more permissions do not exist")
	}

	// A role edit can indirectly create a conflict for every holder; check them
	// all before anything is written.
	sodResult, err := s.sod.ValidateRolePermissionChange(ctx, roleID, permissionNames)
	if err != nil {
		return nil, SodResult{}, err
	}
	if !sodResult.Valid {
		return nil, sodResult, nil
	}

	permIDs := make([]uuid.UUID, 0, len(perms))
	for _, p := range perms {
		permIDs = append(permIDs, p.ID)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.ReplacePermissions(txCtx, roleID, permIDs); err != nil {
			return fmt.Errorf("failed to replace permissions: %w", err)
		}
		holders, err := s.roleRepo.ListUserIDsWithRole(txCtx, roleID)
		if err != nil {
			return err
		}
		return s.roleRepo.BumpRolesVersion(txCtx, holders)
	})
	if err != nil {
		return nil, SodResult{}, err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionUpdateRolePerms, roleID, map[string]interface{}{
		"name":        role.Name,
		"permissions": permissionNames,
	})

	updated, err := s.GetRole(ctx, roleID)
	return updated, sodResult, err
}

func (s *roleService) DeleteRole(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	role, err := s.roleRepo.FindByID(ctx, id)
	if err != nil {
		return apperr.NotFound("role %s", id)
	}
	if role.IsSystem {
		return apperr.Forbidden("system role '%s' cannot be deleted", role.Name)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		holders, err := s.roleRepo.ListUserIDsWithRole(txCtx, id)
		if err != nil {
			return err
		}
		if err := s.roleRepo.Delete(txCtx, id); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return s.roleRepo.BumpRolesVersion(txCtx, holders)
	})
	if err != nil {
		return err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionDeleteRole, id, map[string]interface{}{
		"name": role.Name,
	})
	return nil
}

func (s *roleService) AssignRoleToUser(ctx context.Context, userID, roleID uuid.UUID, actorID uuid.UUID) (SodResult, error) {
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return SodResult{}, apperr.NotFound("role %s", roleID)
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return SodResult{}, apperr.NotFound("user %s", userID)
	}

	if err := s.requirePrivilegedGrant(ctx, actorID, role.Name); err != nil {
		return SodResult{}, err
	}

	// SoD must be evaluated before the assignment is persisted
	sodResult, err := s.sod.ValidateRoleAssignmentSod(ctx, userID, []uuid.UUID{roleID})
	if err != nil {
		return SodResult{}, err
	}
	if !sodResult.Valid {
		return sodResult, nil
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.AssignRole(txCtx, userID, roleID, &actorID); err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}
		return s.roleRepo.BumpRolesVersion(txCtx, []uuid.UUID{userID})
	})
	if err != nil {
		return SodResult{}, err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionAssignRole, roleID, map[string]interface{}{
		"user_id": userID.String(),
		"role":    role.Name,
	})
	return sodResult, nil
}

func (s *roleService) RemoveRoleFromUser(ctx context.Context, userID, roleID uuid.UUID, actorID uuid.UUID) error {
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return apperr.NotFound("role %s", roleID)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.RemoveRole(txCtx, userID, roleID); err != nil {
			return fmt.Errorf("failed to remove role: %w", err)
		}
		return s.roleRepo.BumpRolesVersion(txCtx, []uuid.UUID{userID})
	})
	if err != nil {
		return err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionRemoveRole, roleID, map[string]interface{}{
		"user_id": userID.String(),
		"role":    role.Name,
	})
	return nil
}

func (s *roleService) SetUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID, actorID uuid.UUID) (SodResult, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return SodResult{}, apperr.NotFound("user %s", userID)
	}

	roleNames := make([]string, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		role, err := s.roleRepo.FindByID(ctx, roleID)
		if err != nil {
			return SodResult{}, apperr.NotFound("role %s", roleID)
		}
		if err := s.requirePrivilegedGrant(ctx, actorID, role.Name); err != nil {
			return SodResult{}, err
		}
		roleNames = append(roleNames, role.Name)
	}

	// The proposed set replaces the current one, so validate the union of just
	// the proposed roles' permissions.
	union := map[string]bool{}
	for _, roleID := range roleIDs {
		role, err := s.roleRepo.FindByIDWithPermissions(ctx, roleID)
		if err != nil {
			return SodResult{}, apperr.NotFound("role %s", roleID)
		}
		for _, p := range role.Permissions {
			union[p.Name] = true
		}
	}
	names := make([]string, 0, len(union))
	for n := range union {
		names = append(names, n)
	}
	sodResult, err := s.sod.ValidateSod(ctx, names)
	if err != nil {
		return SodResult{}, err
	}
	if !sodResult.Valid {
		return sodResult, nil
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.ReplaceUserRoles(txCtx, userID, roleIDs, &actorID); err != nil {
			return fmt.Errorf("failed to set user roles: %w", err)
		}
		return s.roleRepo.BumpRolesVersion(txCtx, []uuid.UUID{userID})
	})
	if err != nil {
		return SodResult{}, err
	}

	s.auditRoleEvent(ctx, actorID, model.ActionSetUserRoles, userID, map[string]interface{}{
		"roles": roleNames,
	})
	return sodResult, nil
}

func (s *roleService) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	return s.roleRepo.GetUserRoles(ctx, userID)
}

func (s *roleService) requirePrivilegedGrant(ctx context.Context, actorID uuid.UUID, roleName string) error {
	if !privilegedRoles[roleName] {
		return nil
	}
	actorPerms, err := s.roleRepo.GetUserPermissionNames(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to load actor permissions: %w", err)
	}
	for _, p := range actorPerms {
		if p == PermAssignPrivileged {
			return nil
		}
	}
	return apperr.Forbidden("assigning role '%s' requires permission '%s'", roleName, PermAssignPrivileged)
}

func (s *roleService) auditRoleEvent(ctx context.Context, actorID uuid.UUID, action string, resourceID uuid.UUID, metadata map[string]interface{}) {
	resource := resourceID.String()
	// role mutations are on the sensitive allow-list; failures to record them
	// are logged by the ledger itself
	_, _ = s.ledger.LogEvent(ctx, AuditEvent{
		ActorID:      &actorID,
		Action:       action,
		ResourceType: "role",
		ResourceID:   &resource,
		Metadata:     metadata,
	})
}

// SeedDefaults creates the default permission catalog, system roles and SoD
// rules if not already present
func (s *roleService) SeedDefaults(ctx context.Context) error {
	high := model.RiskHigh
	critical := model.RiskCritical
	low := model.RiskLow

	defaultPermissions := []model.Permission{
		{Name: "expense.submit", Category: "expense", RiskLevel: &low},
		{Name: "expense.read", Category: "expense", RiskLevel: &low},
		{Name: "expense.approve", Category: "expense", RiskLevel: &high},
		{Name: "expense.pay", Category: "expense", RiskLevel: &critical, RequiresMFA: true},
		{Name: "reports.read_all", Category: "expense", RiskLevel: &low},
		{Name: "roles.read", Category: "roles", RiskLevel: &low},
		{Name: "roles.manage", Category: "roles", RiskLevel: &high},
		{Name: PermAssignPrivileged, Category: "roles", RiskLevel: &critical, RequiresMFA: true},
		{Name: "users.read", Category: "users", RiskLevel: &low},
		{Name: "users.manage", Category: "users", RiskLevel: &high},
		{Name: "workflows.manage", Category: "workflows", RiskLevel: &high},
		{Name: "sod.manage", Category: "roles", RiskLevel: &high},
		{Name: "audit.read", Category: "audit", RiskLevel: &low},
		{Name: "audit.export", Category: "audit", RiskLevel: &high},
	}

	permByName := make(map[string]uuid.UUID, len(defaultPermissions))
	for i := range defaultPermissions {
		p := &defaultPermissions[i]
		existing, err := s.roleRepo.FindPermissionsByNames(ctx, []string{p.Name})
		if err != nil {
			return fmt.Errorf("failed to look up permission '%s': %w", p.Name, err)
		}
		if len(existing) > 0 {
			permByName[p.Name] = existing[0].ID
			continue
		}
		if err := s.roleRepo.CreatePermission(ctx, p); err != nil {
			return fmt.Errorf("failed to seed permission '%s': %w", p.Name, err)
		}
		permByName[p.Name] = p.ID
	}

	roleDefinitions := []struct {
		Name        string
		Description string
		Permissions []string
	}{
		{
			Name:        "admin",
			Description: "Full administrative access",
			Permissions: []string{
				"expense.read", "reports.read_all",
				"roles.read", "roles.manage", PermAssignPrivileged,
				"users.read", "users.manage",
				"workflows.manage", "sod.manage",
				"audit.read", "audit.export",
			},
		},
		{
			Name:        "manager",
			Description: "Approves reports and reads team data",
			Permissions: []string{
				"expense.read", "expense.approve", "reports.read_all",
				"roles.read", "users.read", "audit.read",
			},
		},
		{
			Name:        "employee",
			Description: "Submits own expense reports",
			Permissions: []string{"expense.submit", "expense.read"},
		},
		{
			// finance reviews and approves; payment execution lives in the
			// treasurer role so no single seeded role trips Payment Conflict
			Name:        "finance",
			Description: "Finance review and approval",
			Permissions: []string{"expense.read", "expense.approve", "reports.read_all"},
		},
		{
			Name:        "treasurer",
			Description: "Executes payments for approved reports",
			Permissions: []string{"expense.read", "expense.pay", "reports.read_all"},
		},
	}

	for _, def := range roleDefinitions {
		role, err := s.roleRepo.FindByName(ctx, def.Name)
		if err != nil {
			role = &model.Role{
				Name:        def.Name,
				Description: def.Description,
				IsSystem:    true,
				IsActive:    true,
			}
			if err := s.roleRepo.Create(ctx, role); err != nil {
				return fmt.Errorf("failed to seed role '%s': %w", def.Name, err)
			}
		}

		permIDs := make([]uuid.UUID, 0, len(def.Permissions))
		for _, name := range def.Permissions {
			if id, ok := permByName[name]; ok {
				permIDs = append(permIDs, id)
			}
		}
		if err := s.roleRepo.ReplacePermissions(ctx, role.ID, permIDs); err != nil {
			return fmt.Errorf("failed to seed permissions for role '%s': %w", def.Name, err)
		}
	}

	defaultRules := []struct {
		Name        string
		Description string
		Set         []string
		RiskLevel   string
	}{
		{
			Name:        "Payment Conflict",
			Description: "Approving and paying the same expense enables self-dealing",
			Set:         []string{"expense.approve", "expense.pay"},
			RiskLevel:   model.RiskCritical,
		},
		{
			Name:        "Role Admin Approver",
			Description: "Administering roles while approving expenses lets an approver widen their own authority",
			Set:         []string{"roles.manage", "expense.approve"},
			RiskLevel:   model.RiskHigh,
		},
	}

	for _, rule := range defaultRules {
		encoded, err := json.Marshal(rule.Set)
		if err != nil {
			return err
		}
		row := &model.SodRule{
			Name:          rule.Name,
			Description:   rule.Description,
			PermissionSet: string(encoded),
			RiskLevel:     rule.RiskLevel,
			IsActive:      true,
		}
		existing, err := s.sodRepo.ListAll(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, e := range existing {
			if e.Name == rule.Name {
				found = true
				break
			}
		}
		if !found {
			if err := s.sodRepo.Create(ctx, row); err != nil {
				return fmt.Errorf("failed to seed SoD rule '%s': %w", rule.Name, err)
			}
		}
	}

	return nil
}
