package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions written by the core
const (
	ActionSubmitReport   = "SUBMIT_REPORT"
	ActionApproveReport  = "APPROVE_REPORT"
	ActionRejectReport   = "REJECT_REPORT"
	ActionReturnReport   = "RETURN_REPORT"
	ActionWithdrawReport = "WITHDRAW_REPORT"

	ActionCreateRole        = "CREATE_ROLE"
	ActionUpdateRole        = "UPDATE_ROLE"
	ActionDeleteRole        = "DELETE_ROLE"
	ActionAssignRole        = "ASSIGN_ROLE"
	ActionRemoveRole        = "REMOVE_ROLE"
	ActionSetUserRoles      = "SET_USER_ROLES"
	ActionUpdateRolePerms   = "UPDATE_ROLE_PERMISSIONS"
	ActionCreatePermission  = "CREATE_PERMISSION"
	ActionUpdatePermission  = "UPDATE_PERMISSION"
	ActionDeletePermission  = "DELETE_PERMISSION"
	ActionCreateWorkflow    = "CREATE_WORKFLOW"
	ActionUpdateWorkflow    = "UPDATE_WORKFLOW"
	ActionExportAuditLogs   = "EXPORT_AUDIT_LOGS"
	ActionImpersonateUser   = "IMPERSONATE_USER"
	ActionEmergencyOverride = "EMERGENCY_OVERRIDE"
	ActionForceApprove      = "FORCE_APPROVE"
)

// AuditLogEntry is one link of the hash chain. Append-only, totally ordered by
// Timestamp; ChainHash binds each entry to its predecessor.
type AuditLogEntry struct {
	EventID         uuid.UUID  `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	Timestamp       time.Time  `gorm:"not null;index" json:"timestamp"`
	ActorID         *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"` // nil for system-generated events
	Actor           *User      `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Action          string     `gorm:"type:varchar(50);not null;index" json:"action"`
	ResourceType    string     `gorm:"type:varchar(50);not null;index" json:"resource_type"`
	ResourceID      *string    `gorm:"type:varchar(64);index" json:"resource_id"`
	Changes         string     `gorm:"type:jsonb" json:"changes"`  // serialized before/after payload
	Metadata        string     `gorm:"type:jsonb" json:"metadata"` // serialized context payload
	DataHash        string     `gorm:"type:varchar(64);not null" json:"data_hash"`
	ChainHash       string     `gorm:"type:varchar(64);not null" json:"chain_hash"`
	PreviousEventID *uuid.UUID `gorm:"type:uuid" json:"previous_event_id"`
	IsSensitive     bool       `gorm:"default:false;index" json:"is_sensitive"`
}

// TableName keeps the ledger clearly separated from operational tables
func (AuditLogEntry) TableName() string { return "audit_log_entries" }
