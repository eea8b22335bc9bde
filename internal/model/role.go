package model

import (
	"time"

	"github.com/google/uuid"
)

// Permission risk levels
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Role represents a user role with associated permissions
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"` // lowercase + underscore
	Description string       `gorm:"type:text" json:"description"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"` // Prevent mutation/deletion of built-in roles
	IsActive    bool         `gorm:"default:true" json:"is_active"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission represents a single permission that can be assigned to roles
type Permission struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"` // e.g. "expense.approve"
	Description string    `gorm:"type:text" json:"description"`
	Category    string    `gorm:"type:varchar(50);not null;index" json:"category"`    // "expense", "roles", "audit"...
	RiskLevel   *string   `gorm:"type:varchar(20)" json:"risk_level"`                 // low, medium, high, critical
	RequiresMFA bool      `gorm:"column:requires_mfa;default:false" json:"requires_mfa"`
}

// RolePermission is the role↔permission join row. GORM routes the Role.Permissions
// association through this table; the extra columns record who granted what, when.
type RolePermission struct {
	RoleID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"role_id"`
	PermissionID uuid.UUID  `gorm:"type:uuid;primaryKey" json:"permission_id"`
	AssignedBy   *uuid.UUID `gorm:"type:uuid" json:"assigned_by"`
	AssignedAt   time.Time  `gorm:"autoCreateTime" json:"assigned_at"`
}

// UserRole is the user↔role join row
type UserRole struct {
	UserID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	RoleID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"role_id"`
	GrantedBy *uuid.UUID `gorm:"type:uuid" json:"granted_by"`
	GrantedAt time.Time  `gorm:"autoCreateTime" json:"granted_at"`
}

// SodRule defines a toxic permission combination. A rule fires when a subject's
// effective permission set is a superset of PermissionSet.
type SodRule struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description   string    `gorm:"type:text" json:"description"`
	PermissionSet string    `gorm:"type:jsonb;not null" json:"permission_set"` // JSON array of permission names
	RiskLevel     string    `gorm:"type:varchar(20);not null;default:'high'" json:"risk_level"`
	IsActive      bool      `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
