package service

import (
	"context"
	"errors"
	"testing"

	"expensehub/internal/apperr"
	"expensehub/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type roleFixture struct {
	svc      RoleService
	sod      SodService
	roleRepo *fakeRoleRepo
	sodRepo  *fakeSodRepo
	admin    *model.User
	target   *model.User
}

// newRoleFixture seeds the default catalog and grants the acting admin the
// seeded admin role directly at the repository level
func newRoleFixture(t *testing.T) *roleFixture {
	t.Helper()
	ctx := context.Background()

	roleRepo := newFakeRoleRepo()
	sodRepo := newFakeSodRepo()
	admin := &model.User{ID: uuid.New(), Email: "root@corp.test", IsActive: true}
	target := &model.User{ID: uuid.New(), Email: "sam@corp.test", IsActive: true}
	users := newFakeUserRepo(admin, target)

	sod := NewSodService(sodRepo, roleRepo)
	ledger := NewAuditService(&fakeAuditRepo{}, fakeTxManager{}, zerolog.Nop())
	svc := NewRoleService(roleRepo, users, sodRepo, sod, ledger, fakeTxManager{})

	if err := svc.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults() error: %v", err)
	}
	adminRole, err := roleRepo.FindByName(ctx, "admin")
	if err != nil {
		t.Fatalf("admin role not seeded: %v", err)
	}
	if err := roleRepo.AssignRole(ctx, admin.ID, adminRole.ID, nil); err != nil {
		t.Fatalf("failed to grant admin role: %v", err)
	}

	return &roleFixture{svc: svc, sod: sod, roleRepo: roleRepo, sodRepo: sodRepo, admin: admin, target: target}
}

func (f *roleFixture) roleID(t *testing.T, name string) uuid.UUID {
	t.Helper()
	role, err := f.roleRepo.FindByName(context.Background(), name)
	if err != nil {
		t.Fatalf("role %q not found: %v", name, err)
	}
	return role.ID
}

// Every seeded role must be assignable on its own: a default catalog whose
// roles trip the default rules would lock administration out entirely.
func TestSeededRolesPassSodIndividually(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	for _, name := range []string{"admin", "manager", "employee", "finance", "treasurer"} {
		role, err := f.roleRepo.FindByName(ctx, name)
		if err != nil {
			t.Fatalf("role %q not seeded: %v", name, err)
		}
		perms := make([]string, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			perms = append(perms, p.Name)
		}
		result, err := f.sod.ValidateSod(ctx, perms)
		if err != nil {
			t.Fatalf("ValidateSod(%q) error: %v", name, err)
		}
		if !result.Valid {
			t.Errorf("seeded role %q violates seeded rules: %+v", name, result.Violations)
		}
	}
}

func TestAssignSeededAdminRolePersists(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssignRoleToUser(ctx, f.target.ID, f.roleID(t, "admin"), f.admin.ID)
	if err != nil {
		t.Fatalf("AssignRoleToUser() error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("assigning the seeded admin role reported violations: %+v", result.Violations)
	}

	roles, _ := f.roleRepo.GetUserRoles(ctx, f.target.ID)
	if len(roles) != 1 || roles[0].Name != "admin" {
		t.Fatalf("assignment not persisted: %+v", roles)
	}
	if f.roleRepo.bumps[f.target.ID] != 1 {
		t.Fatalf("rolesVersion bump count = %d, want 1", f.roleRepo.bumps[f.target.ID])
	}
}

func TestAssignConflictingRolesBlocked(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	if result, err := f.svc.AssignRoleToUser(ctx, f.target.ID, f.roleID(t, "finance"), f.admin.ID); err != nil || !result.Valid {
		t.Fatalf("assigning finance alone should be clean: result=%+v err=%v", result, err)
	}

	// finance approves, treasurer pays: together they form the Payment
	// Conflict toxic set
	result, err := f.svc.AssignRoleToUser(ctx, f.target.ID, f.roleID(t, "treasurer"), f.admin.ID)
	if err != nil {
		t.Fatalf("AssignRoleToUser() error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected a Payment Conflict violation")
	}
	if len(result.Violations) != 1 || result.Violations[0].RuleName != "Payment Conflict" {
		t.Fatalf("unexpected violations: %+v", result.Violations)
	}

	roles, _ := f.roleRepo.GetUserRoles(ctx, f.target.ID)
	if len(roles) != 1 {
		t.Fatalf("violating assignment must not persist: %+v", roles)
	}
	if f.roleRepo.bumps[f.target.ID] != 1 {
		t.Fatalf("rolesVersion bump count = %d, want 1", f.roleRepo.bumps[f.target.ID])
	}
}

func TestAssignPrivilegedRoleRequiresGrantPermission(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	// the target holds no roles, so it lacks roles.assign_privileged
	_, err := f.svc.AssignRoleToUser(ctx, f.admin.ID, f.roleID(t, "finance"), f.target.ID)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSetUserRolesConflictingUnionBlocked(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	result, err := f.svc.SetUserRoles(ctx, f.target.ID, []uuid.UUID{f.roleID(t, "finance"), f.roleID(t, "treasurer")}, f.admin.ID)
	if err != nil {
		t.Fatalf("SetUserRoles() error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected the finance+treasurer union to violate Payment Conflict")
	}
	roles, _ := f.roleRepo.GetUserRoles(ctx, f.target.ID)
	if len(roles) != 0 {
		t.Fatalf("violating role set must not persist: %+v", roles)
	}
}

func TestSeedDefaultsIdempotent(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	if err := f.svc.SeedDefaults(ctx); err != nil {
		t.Fatalf("second SeedDefaults() error: %v", err)
	}

	roles, _ := f.roleRepo.ListAll(ctx)
	if len(roles) != 5 {
		t.Fatalf("role count after reseed = %d, want 5", len(roles))
	}
	rules, _ := f.sodRepo.ListAll(ctx)
	if len(rules) != 2 {
		t.Fatalf("rule count after reseed = %d, want 2", len(rules))
	}
}
