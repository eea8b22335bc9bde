package service

import (
	"context"
	"errors"
	"testing"

	"expensehub/internal/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func permissionFixture(t *testing.T) (PermissionService, *fakeRoleRepo) {
	t.Helper()
	roleRepo := newFakeRoleRepo()
	ledger := NewAuditService(&fakeAuditRepo{}, fakeTxManager{}, zerolog.Nop())
	return NewPermissionService(roleRepo, ledger), roleRepo
}

func TestCreatePermissionStoresDescription(t *testing.T) {
	svc, roleRepo := permissionFixture(t)
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, CreatePermissionRequest{
		Name:        "budgets.read",
		Description: "Read department budget figures",
		Category:    "budgets",
	}, uuid.New())
	if err != nil {
		t.Fatalf("CreatePermission() error: %v", err)
	}
	if perm.Description != "Read department budget figures" {
		t.Fatalf("description = %q", perm.Description)
	}

	stored, err := roleRepo.FindPermissionByID(ctx, perm.ID)
	if err != nil {
		t.Fatalf("permission not stored: %v", err)
	}
	if stored.Description != perm.Description {
		t.Fatalf("stored description = %q", stored.Description)
	}
}

func TestUpdatePermissionReplacesDescription(t *testing.T) {
	svc, _ := permissionFixture(t)
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, CreatePermissionRequest{
		Name:        "budgets.manage",
		Description: "old wording",
		Category:    "budgets",
	}, uuid.New())
	if err != nil {
		t.Fatalf("CreatePermission() error: %v", err)
	}

	updated, err := svc.UpdatePermission(ctx, perm.ID, UpdatePermissionRequest{
		Description: "Edit department budget figures",
	}, uuid.New())
	if err != nil {
		t.Fatalf("UpdatePermission() error: %v", err)
	}
	if updated.Description != "Edit department budget figures" {
		t.Fatalf("description = %q", updated.Description)
	}
}

func TestUpdatePermissionRejectedWhileReferenced(t *testing.T) {
	svc, roleRepo := permissionFixture(t)
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, CreatePermissionRequest{
		Name:     "budgets.approve",
		Category: "budgets",
	}, uuid.New())
	if err != nil {
		t.Fatalf("CreatePermission() error: %v", err)
	}
	if err := roleRepo.ReplacePermissions(ctx, uuid.New(), []uuid.UUID{perm.ID}); err != nil {
		t.Fatal(err)
	}

	_, err = svc.UpdatePermission(ctx, perm.ID, UpdatePermissionRequest{Description: "x"}, uuid.New())
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict while referenced, got %v", err)
	}
}
