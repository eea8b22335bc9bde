package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Step target types
const (
	TargetRole         = "role"
	TargetRelationship = "relationship"
	TargetHybrid       = "hybrid"
	TargetSystem       = "system"
)

// Condition operators
const (
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpIn          = "in"
	OpNotIn       = "not_in"
)

// Return policies
const (
	ReturnHardRestart = "hard_restart" // drop the snapshot, re-resolve on resubmit
	ReturnSoftRestart = "soft_restart" // keep the snapshot, restart at step 1
)

// Condition is a single comparison evaluated against a named report field
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// StepEscalation configures SLA escalation for a step. Execution is owned by an
// external scheduler; the engine only persists the deadline data it needs.
type StepEscalation struct {
	Enabled               bool     `json:"enabled"`
	TargetType            string   `json:"target_type"`
	TargetValue           string   `json:"target_value"`
	NotifyAtHours         []int    `json:"notify_at_hours"`
	AutoApproveAfterHours *float64 `json:"auto_approve_after_hours,omitempty"`
}

// WorkflowStep is one step of an approval chain
type WorkflowStep struct {
	StepNumber  int             `json:"step_number"` // 1-based, contiguous
	Name        string          `json:"name"`
	TargetType  string          `json:"target_type"`
	TargetValue string          `json:"target_value"`
	SLAHours    float64         `json:"sla_hours"`
	Required    *bool           `json:"required,omitempty"`
	RequiredIf  *Condition      `json:"required_if,omitempty"`
	SkipIf      *Condition      `json:"skip_if,omitempty"`
	Escalation  *StepEscalation `json:"escalation,omitempty"`
}

// WorkflowConditions restricts which reports a definition applies to
type WorkflowConditions struct {
	AmountMin         *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax         *decimal.Decimal `json:"amount_max,omitempty"`
	ExpenseCategories []string         `json:"expense_categories,omitempty"`
	Departments       []string         `json:"departments,omitempty"`
}

// WorkflowDefinition is a versioned approval chain. Edits bump Version; reports
// in flight keep the snapshot they took at submission.
type WorkflowDefinition struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name           string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Version        int       `gorm:"not null;default:1" json:"version"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	IsDefault      bool      `gorm:"default:false" json:"is_default"` // fallback when no assignment matches
	Conditions     string    `gorm:"type:jsonb" json:"conditions"`    // serialized WorkflowConditions
	Steps          string    `gorm:"type:jsonb;not null" json:"steps"` // serialized []WorkflowStep
	OnReturnPolicy string    `gorm:"type:varchar(20);not null;default:'soft_restart'" json:"on_return_policy"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DecodeSteps unmarshals the step list
func (w *WorkflowDefinition) DecodeSteps() ([]WorkflowStep, error) {
	var steps []WorkflowStep
	if err := json.Unmarshal([]byte(w.Steps), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// DecodeConditions unmarshals the applicability conditions (may be empty)
func (w *WorkflowDefinition) DecodeConditions() (WorkflowConditions, error) {
	var c WorkflowConditions
	if w.Conditions == "" {
		return c, nil
	}
	err := json.Unmarshal([]byte(w.Conditions), &c)
	return c, err
}

// WorkflowAssignment is a routing rule used only to select a definition for a
// report; it carries no execution state.
type WorkflowAssignment struct {
	ID              uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WorkflowID      uuid.UUID           `gorm:"type:uuid;not null;index" json:"workflow_id"`
	Workflow        *WorkflowDefinition `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
	DepartmentID    *uuid.UUID          `gorm:"type:uuid;index" json:"department_id"`
	ExpenseCategory *string             `gorm:"type:varchar(50)" json:"expense_category"`
	AmountMin       *decimal.Decimal    `gorm:"type:decimal(18,4)" json:"amount_min"`
	AmountMax       *decimal.Decimal    `gorm:"type:decimal(18,4)" json:"amount_max"`
	Priority        int                 `gorm:"not null;default:0" json:"priority"`
	IsActive        bool                `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time           `json:"created_at"`
}

// WorkflowSnapshot is the frozen copy of a resolved definition embedded into a
// report at submission time. A value copy, never a live reference.
type WorkflowSnapshot struct {
	WorkflowID     uuid.UUID      `json:"workflow_id"`
	Name           string         `json:"name"`
	Version        int            `json:"version"`
	OnReturnPolicy string         `json:"on_return_policy"`
	Steps          []WorkflowStep `json:"steps"`
}
