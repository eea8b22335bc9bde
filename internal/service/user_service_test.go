package service

import (
	"context"
	"testing"

	"expensehub/internal/model"
)

func registerFixture(t *testing.T) (UserService, *fakeUserRepo, *fakeRoleRepo) {
	t.Helper()
	users := newFakeUserRepo()
	roles := newFakeRoleRepo()

	adminRole := &model.Role{Name: "admin", IsSystem: true, IsActive: true}
	if err := roles.Create(context.Background(), adminRole); err != nil {
		t.Fatal(err)
	}
	return NewUserService(users, roles), users, roles
}

// The first registered account receives the admin role so a fresh system has
// someone able to manage roles at all.
func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	svc, _, roles := registerFixture(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterUserRequest{
		Email:    "founder@corp.test",
		FullName: "Founder",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if len(first.Roles) != 1 || first.Roles[0] != "admin" {
		t.Fatalf("first user roles = %v, want [admin]", first.Roles)
	}
	held, _ := roles.GetUserRoles(ctx, first.ID)
	if len(held) != 1 || held[0].Name != "admin" {
		t.Fatalf("bootstrap grant not persisted: %+v", held)
	}
}

func TestRegisterLaterUsersGetNoRoles(t *testing.T) {
	svc, _, roles := registerFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterUserRequest{
		Email:    "founder@corp.test",
		FullName: "Founder",
		Password: "correct-horse-battery",
	}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	second, err := svc.Register(ctx, RegisterUserRequest{
		Email:    "joiner@corp.test",
		FullName: "Joiner",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if len(second.Roles) != 0 {
		t.Fatalf("second user roles = %v, want none", second.Roles)
	}
	held, _ := roles.GetUserRoles(ctx, second.ID)
	if len(held) != 0 {
		t.Fatalf("second user unexpectedly holds roles: %+v", held)
	}
}
