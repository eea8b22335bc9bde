package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Report statuses
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusReturned  = "returned"
	StatusPosted    = "posted"
)

// Approval actions
const (
	ActionApprove     = "approve"
	ActionReject      = "reject"
	ActionReturn      = "return"
	ActionEscalate    = "escalate"
	ActionAutoApprove = "auto_approve"
)

// ExpenseReport is the unit the workflow engine acts on. Version is an
// optimistic-concurrency counter bumped on every transition.
type ExpenseReport struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"` // submitter
	User         *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	DepartmentID *uuid.UUID      `gorm:"type:uuid;index" json:"department_id"`
	Title        string          `gorm:"type:varchar(255);not null" json:"title"`
	Category     string          `gorm:"type:varchar(50);index" json:"category"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"total_amount"`
	Status       string          `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`

	WorkflowID       *uuid.UUID `gorm:"type:uuid" json:"workflow_id"`
	WorkflowSnapshot string     `gorm:"type:jsonb" json:"workflow_snapshot"` // serialized WorkflowSnapshot, immutable once written
	CurrentStep      *int       `json:"current_step"`
	Version          int        `gorm:"not null;default:1" json:"version"`

	SubmittedAt *time.Time    `json:"submitted_at"`
	Lines       []ExpenseLine `gorm:"foreignKey:ReportID" json:"lines,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DecodeSnapshot unmarshals the embedded workflow snapshot, nil when absent
func (r *ExpenseReport) DecodeSnapshot() (*WorkflowSnapshot, error) {
	if r.WorkflowSnapshot == "" {
		return nil, nil
	}
	var snap WorkflowSnapshot
	if err := json.Unmarshal([]byte(r.WorkflowSnapshot), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ExpenseLine is a single line item of a report
type ExpenseLine struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReportID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"report_id"`
	Description string          `gorm:"type:text" json:"description"`
	Category    string          `gorm:"type:varchar(50)" json:"category"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	ExpenseDate time.Time       `json:"expense_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ApprovalHistory is an append-only record of one action on one report.
// Rows are never updated or deleted.
type ApprovalHistory struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReportID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"report_id"`
	StepNumber        int        `gorm:"not null" json:"step_number"`
	StepName          string     `gorm:"type:varchar(100)" json:"step_name"`
	ActorID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"actor_id"`
	ActorEmail        string     `gorm:"type:varchar(255)" json:"actor_email"`
	Action            string     `gorm:"type:varchar(20);not null" json:"action"`
	Comment           string     `gorm:"type:text" json:"comment"`
	RejectionCategory *string    `gorm:"type:varchar(50)" json:"rejection_category"`
	ReportHash        string     `gorm:"type:varchar(64);not null" json:"report_hash"` // digest of report state at action time
	SLADeadline       *time.Time `gorm:"column:sla_deadline" json:"sla_deadline"`
	WasEscalated      bool       `gorm:"default:false" json:"was_escalated"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
}
