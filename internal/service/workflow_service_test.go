package service

import (
	"testing"

	"expensehub/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestPickAssignmentPriorityWins(t *testing.T) {
	wfLow := uuid.New()
	wfHigh := uuid.New()
	travel := "travel"

	assignments := []model.WorkflowAssignment{
		{WorkflowID: wfLow, ExpenseCategory: &travel, Priority: 1},
		{WorkflowID: wfHigh, ExpenseCategory: &travel, Priority: 10},
	}

	best := pickAssignment(assignments, ResolveInput{
		ExpenseCategory: "travel",
		TotalAmount:     decimal.RequireFromString("100"),
	})
	if best == nil || best.WorkflowID != wfHigh {
		t.Fatalf("expected highest priority assignment, got %+v", best)
	}
}

func TestPickAssignmentAmountMinTieBreak(t *testing.T) {
	wfBroad := uuid.New()
	wfNarrow := uuid.New()
	wfOpen := uuid.New()

	// same priority: the rule with the highest amount floor is the most
	// specific and wins; rules without a floor sort last
	assignments := []model.WorkflowAssignment{
		{WorkflowID: wfOpen, Priority: 5},
		{WorkflowID: wfBroad, Priority: 5, AmountMin: dec("100")},
		{WorkflowID: wfNarrow, Priority: 5, AmountMin: dec("5000")},
	}

	best := pickAssignment(assignments, ResolveInput{TotalAmount: decimal.RequireFromString("10000")})
	if best == nil || best.WorkflowID != wfNarrow {
		t.Fatalf("expected tightest amount floor to win, got %+v", best)
	}
}

func TestPickAssignmentNoMatch(t *testing.T) {
	meals := "meals"
	assignments := []model.WorkflowAssignment{
		{WorkflowID: uuid.New(), ExpenseCategory: &meals, Priority: 1},
	}

	best := pickAssignment(assignments, ResolveInput{
		ExpenseCategory: "travel",
		TotalAmount:     decimal.RequireFromString("100"),
	})
	if best != nil {
		t.Fatalf("expected no match, got %+v", best)
	}
}

func TestAssignmentMatchesBounds(t *testing.T) {
	dept := uuid.New()
	otherDept := uuid.New()
	travel := "travel"

	a := model.WorkflowAssignment{
		DepartmentID:    &dept,
		ExpenseCategory: &travel,
		AmountMin:       dec("100"),
		AmountMax:       dec("1000"),
	}

	base := ResolveInput{
		DepartmentID:    &dept,
		ExpenseCategory: "travel",
		TotalAmount:     decimal.RequireFromString("500"),
	}
	if !assignmentMatches(a, base) {
		t.Fatal("expected match inside all bounds")
	}

	below := base
	below.TotalAmount = decimal.RequireFromString("50")
	if assignmentMatches(a, below) {
		t.Fatal("amount below floor should not match")
	}

	above := base
	above.TotalAmount = decimal.RequireFromString("1500")
	if assignmentMatches(a, above) {
		t.Fatal("amount above ceiling should not match")
	}

	wrongDept := base
	wrongDept.DepartmentID = &otherDept
	if assignmentMatches(a, wrongDept) {
		t.Fatal("different department should not match")
	}

	noDept := base
	noDept.DepartmentID = nil
	if assignmentMatches(a, noDept) {
		t.Fatal("missing department should not match a department-scoped rule")
	}

	// boundaries are inclusive
	atFloor := base
	atFloor.TotalAmount = decimal.RequireFromString("100")
	atCeiling := base
	atCeiling.TotalAmount = decimal.RequireFromString("1000")
	if !assignmentMatches(a, atFloor) || !assignmentMatches(a, atCeiling) {
		t.Fatal("amount bounds should be inclusive")
	}
}

func TestValidateSteps(t *testing.T) {
	valid := []model.WorkflowStep{
		{StepNumber: 1, Name: "Manager Approval", TargetType: model.TargetRelationship, TargetValue: "manager"},
		{StepNumber: 2, Name: "Finance Review", TargetType: model.TargetRole, TargetValue: "finance"},
	}
	if err := validateSteps(valid); err != nil {
		t.Fatalf("valid steps rejected: %v", err)
	}

	if err := validateSteps(nil); err == nil {
		t.Fatal("empty chain should be rejected")
	}

	gap := []model.WorkflowStep{
		{StepNumber: 1, Name: "A", TargetType: model.TargetRole},
		{StepNumber: 3, Name: "B", TargetType: model.TargetRole},
	}
	if err := validateSteps(gap); err == nil {
		t.Fatal("non-contiguous step numbers should be rejected")
	}

	badTarget := []model.WorkflowStep{
		{StepNumber: 1, Name: "A", TargetType: "committee"},
	}
	if err := validateSteps(badTarget); err == nil {
		t.Fatal("unknown target type should be rejected")
	}

	badCondition := []model.WorkflowStep{
		{StepNumber: 1, Name: "A", TargetType: model.TargetRole, SkipIf: &model.Condition{
			Field: "nope", Operator: model.OpEquals, Value: "x",
		}},
	}
	if err := validateSteps(badCondition); err == nil {
		t.Fatal("unknown condition field should be rejected at save time")
	}
}

func TestNormalizeReturnPolicy(t *testing.T) {
	if got, err := normalizeReturnPolicy(""); err != nil || got != model.ReturnSoftRestart {
		t.Fatalf("empty policy: got %q, %v", got, err)
	}
	if got, err := normalizeReturnPolicy(model.ReturnHardRestart); err != nil || got != model.ReturnHardRestart {
		t.Fatalf("hard_restart: got %q, %v", got, err)
	}
	if _, err := normalizeReturnPolicy("bounce"); err == nil {
		t.Fatal("unknown policy should be rejected")
	}
}
