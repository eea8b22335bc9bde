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
)

// --- DTOs ---

type SodViolation struct {
	RuleName               string   `json:"rule_name"`
	Description            string   `json:"description"`
	RiskLevel              string   `json:"risk_level"`
	ConflictingPermissions []string `json:"conflicting_permissions"`
}

// SodResult is returned as structured data rather than an error so callers can
// render every conflict at once.
type SodResult struct {
	Valid      bool           `json:"valid"`
	Violations []SodViolation `json:"violations"`
}

type CreateSodRuleRequest struct {
	Name          string   `json:"name" binding:"required"`
	Description   string   `json:"description"`
	PermissionSet []string `json:"permission_set" binding:"required,min=2"`
	RiskLevel     string   `json:"risk_level"`
}

// --- Interface ---

// SodService evaluates permission sets against toxic-combination rules
type SodService interface {
	ValidateSod(ctx context.Context, permissions []string) (SodResult, error)
	ValidateUserSod(ctx context.Context, userID uuid.UUID) (SodResult, error)
	// ValidateRoleAssignmentSod evaluates the union of the user's current
	// permissions and the proposed roles' permissions. Must run before the
	// assignment is persisted.
	ValidateRoleAssignmentSod(ctx context.Context, userID uuid.UUID, proposedRoleIDs []uuid.UUID) (SodResult, error)
	// ValidateRolePermissionChange checks every user currently holding the role:
	// the role's new permission set combined with each holder's permissions from
	// their other roles must stay clean. A single role edit can indirectly
	// create a conflict for many users.
	ValidateRolePermissionChange(ctx context.Context, roleID uuid.UUID, newPermissionNames []string) (SodResult, error)

	CreateRule(ctx context.Context, req CreateSodRuleRequest) (*model.SodRule, error)
	ListRules(ctx context.Context) ([]model.SodRule, error)
	SetRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error
}

type sodService struct {
	sodRepo  repository.SodRepository
	roleRepo repository.RoleRepository
}

func NewSodService(sodRepo repository.SodRepository, roleRepo repository.RoleRepository) SodService {
	return &sodService{sodRepo: sodRepo, roleRepo: roleRepo}
}

// --- Implementation ---

func (s *sodService) ValidateSod(ctx context.Context, permissions []string) (SodResult, error) {
	rules, err := s.sodRepo.ListActive(ctx)
	if err != nil {
		return SodResult{}, fmt.Errorf("failed to load SoD rules: %w", err)
	}
	return evaluateSodRules(rules, toPermSet(permissions)), nil
}

func (s *sodService) ValidateUserSod(ctx context.Context, userID uuid.UUID) (SodResult, error) {
	perms, err := s.roleRepo.GetUserPermissionNames(ctx, userID)
	if err != nil {
		return SodResult{}, fmt.Errorf("failed to load user permissions: %w", err)
	}
	return s.ValidateSod(ctx, perms)
}

func (s *sodService) ValidateRoleAssignmentSod(ctx context.Context, userID uuid.UUID, proposedRoleIDs []uuid.UUID) (SodResult, error) {
	current, err := s.roleRepo.GetUserPermissionNames(ctx, userID)
	if err != nil {
		return SodResult{}, fmt.Errorf("failed to load user permissions: %w", err)
	}

	union := toPermSet(current)
	for _, roleID := range proposedRoleIDs {
		role, err := s.roleRepo.FindByIDWithPermissions(ctx, roleID)
		if err != nil {
			return SodResult{}, apperr.NotFound("role %s", roleID)
		}
		for _, p := range role.Permissions {
			union[p.Name] = true
		}
	}

	rules, err := s.sodRepo.ListActive(ctx)
	if err != nil {
		return SodResult{}, fmt.Errorf("failed to load SoD rules: %w", err)
	}
	return evaluateSodRules(rules, union), nil
}

func (s *sodService) ValidateRolePermissionChange(ctx context.Context, roleID uuid.UUID, newPermissionNames []string) (SodResult, error) {
	rules, err := s.sodRepo.ListActive(ctx)
	if err != nil {
		return SodResult{}, fmt.Errorf("failed to load SoD rules: %w", err)
	}

	holderIDs, err := s.roleRepo.ListUserIDsWithRole(ctx, roleID)
	if err != nil {
		return SodResult{}, fmt.Errorf("failed to load role holders: %w", err)
	}

	result := SodResult{Valid: true, Violations: []SodViolation{}}
	seen := map[string]bool{}
	for _, userID := range holderIDs {
		otherPerms, err := s.permissionsFromOtherRoles(ctx, userID, roleID)
		if err != nil {
			return SodResult{}, err
		}
		combined := toPermSet(newPermissionNames)
		for p := range otherPerms {
			combined[p] = true
		}

		userResult := evaluateSodRules(rules, combined)
		for _, v := range userResult.Violations {
			if !seen[v.RuleName] {
				seen[v.RuleName] = true
				result.Violations = append(result.Violations, v)
			}
		}
	}

	if len(result.Violations) > 0 {
		result.Valid = false
	}
	return result, nil
}

func (s *sodService) permissionsFromOtherRoles(ctx context.Context, userID, excludedRoleID uuid.UUID) (map[string]bool, error) {
	roles, err := s.roleRepo.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for user %s: %w", userID, err)
	}
	perms := map[string]bool{}
	for _, role := range roles {
		if role.ID == excludedRoleID {
			continue
		}
		for _, p := range role.Permissions {
			perms[p.Name] = true
		}
	}
	return perms, nil
}

func (s *sodService) CreateRule(ctx context.Context, req CreateSodRuleRequest) (*model.SodRule, error) {
	if len(req.PermissionSet) < 2 {
		return nil, apperr.Validation("a toxic combination needs at least two permissions")
	}

	riskLevel := req.RiskLevel
	if riskLevel == "" {
		riskLevel = model.RiskHigh
	}

	encoded, err := json.Marshal(req.PermissionSet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode permission set: %w", err)
	}

	rule := &model.SodRule{
		Name:          req.Name,
		Description:   req.Description,
		PermissionSet: string(encoded),
		RiskLevel:     riskLevel,
		IsActive:      true,
	}
	if err := s.sodRepo.Create(ctx, rule); err != nil {
		return nil, apperr.Conflict("SoD rule '%s' already exists", req.Name)
	}
	return rule, nil
}

func (s *sodService) ListRules(ctx context.Context) ([]model.SodRule, error) {
	return s.sodRepo.ListAll(ctx)
}

func (s *sodService) SetRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error {
	rule, err := s.sodRepo.FindByID(ctx, ruleID)
	if err != nil {
		return apperr.NotFound("SoD rule %s", ruleID)
	}
	rule.IsActive = active
	return s.sodRepo.Update(ctx, rule)
}

// --- Pure evaluation ---

// evaluateSodRules fires a rule iff every permission in its set is present in
// the input. All violations are collected, not just the
// first.
func evaluateSodRules(rules []model.SodRule, perms map[string]bool) SodResult {
	result := SodResult{Valid: true, Violations: []SodViolation{}}

	for _, rule := range rules {
		var toxicSet []string
		if err := json.Unmarshal([]byte(rule.PermissionSet), &toxicSet); err != nil || len(toxicSet) == 0 {
			continue
		}

		violated := true
		for _, name := range toxicSet {
			if !perms[name] {
				violated = false
				break
			}
		}
		if !violated {
			continue
		}

		conflicting := append([]string(nil), toxicSet...)
		sort.Strings(conflicting)
		result.Violations = append(result.Violations, SodViolation{
			RuleName:               rule.Name,
			Description:            rule.Description,
			RiskLevel:              rule.RiskLevel,
			ConflictingPermissions: conflicting,
		})
	}

	if len(result.Violations) > 0 {
		result.Valid = false
	}
	return result
}

func toPermSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
