package database

import (
	"log"

	"expensehub/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Register the enriched join tables before AutoMigrate so the
	// many2many associations carry assigned_at/granted_at and the actor.
	if err := db.SetupJoinTable(&model.Role{}, "Permissions", &model.RolePermission{}); err != nil {
		return nil, err
	}
	if err := db.SetupJoinTable(&model.User{}, "Roles", &model.UserRole{}); err != nil {
		return nil, err
	}

	// Auto-migrate core models
	err = db.AutoMigrate(
		&model.Department{},
		&model.User{},
		&model.RefreshToken{},
		&model.Permission{},
		&model.Role{},
		&model.SodRule{},
		&model.WorkflowDefinition{},
		&model.WorkflowAssignment{},
		&model.ExpenseReport{},
		&model.ExpenseLine{},
		&model.ApprovalHistory{},
		&model.AuditLogEntry{},
	)
	if err != nil {
		log.Println("WARNING: Failed to auto-migrate models:", err)
	}

	return db, nil
}
