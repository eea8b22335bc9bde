package service

import (
	"context"
	"testing"
	"time"

	"expensehub/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type guardFixture struct {
	guard     GuardService
	reports   *fakeReportRepo
	history   *fakeHistoryRepo
	users     *fakeUserRepo
	submitter *model.User
	approver  *model.User
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()

	deptA := uuid.New()
	deptB := uuid.New()
	approver := &model.User{ID: uuid.New(), Email: "approver@corp.test", DepartmentID: &deptB, IsActive: true}
	submitter := &model.User{ID: uuid.New(), Email: "submitter@corp.test", DepartmentID: &deptA, ManagerID: &approver.ID, IsActive: true}

	reports := newFakeReportRepo()
	history := &fakeHistoryRepo{reports: reports}
	users := newFakeUserRepo(submitter, approver)

	return &guardFixture{
		guard:     NewGuardService(reports, history, users, DefaultGuardConfig(), zerolog.Nop()),
		reports:   reports,
		history:   history,
		users:     users,
		submitter: submitter,
		approver:  approver,
	}
}

func (f *guardFixture) newReport(t *testing.T, owner *model.User, amount string) *model.ExpenseReport {
	t.Helper()
	r := &model.ExpenseReport{
		ID:           uuid.New(),
		UserID:       owner.ID,
		DepartmentID: owner.DepartmentID,
		TotalAmount:  decimal.RequireFromString(amount),
		Status:       model.StatusSubmitted,
	}
	if err := f.reports.Create(context.Background(), r); err != nil {
		t.Fatalf("create report: %v", err)
	}
	return r
}

func TestGuardBlocksSelfApproval(t *testing.T) {
	f := newGuardFixture(t)
	report := f.newReport(t, f.submitter, "100")

	decision, err := f.guard.CanApprove(context.Background(), f.submitter.ID, report)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("self-approval must be blocked")
	}
	if decision.CheckType != CheckDirectSelf {
		t.Fatalf("check type = %s, want %s", decision.CheckType, CheckDirectSelf)
	}
}

func TestGuardBlocksSecondActionOnSameReport(t *testing.T) {
	f := newGuardFixture(t)
	report := f.newReport(t, f.submitter, "100")

	// The approver already returned this report once; approving later on the
	// resubmission is still barred.
	_ = f.history.Append(context.Background(), &model.ApprovalHistory{
		ReportID: report.ID,
		ActorID:  f.approver.ID,
		Action:   model.ActionReturn,
	})

	decision, err := f.guard.CanApprove(context.Background(), f.approver.ID, report)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if decision.Allowed || decision.CheckType != CheckTemporal {
		t.Fatalf("expected temporal denial, got %+v", decision)
	}
}

func TestGuardSameDepartmentThreshold(t *testing.T) {
	f := newGuardFixture(t)

	// Put approver in the submitter's department
	f.approver.DepartmentID = f.submitter.DepartmentID

	cheap := f.newReport(t, f.submitter, "500")
	decision, err := f.guard.CanApprove(context.Background(), f.approver.ID, cheap)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("below-threshold report should pass, got %+v", decision)
	}

	expensive := f.newReport(t, f.submitter, "1500")
	decision, err = f.guard.CanApprove(context.Background(), f.approver.ID, expensive)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if decision.Allowed || decision.CheckType != CheckSameDepartment {
		t.Fatalf("expected same-department denial, got %+v", decision)
	}
}

func TestGuardCircularApproval(t *testing.T) {
	f := newGuardFixture(t)

	// The submitter approved one of the approver's reports last week
	approverReport := f.newReport(t, f.approver, "300")
	_ = f.history.Append(context.Background(), &model.ApprovalHistory{
		ReportID: approverReport.ID,
		ActorID:  f.submitter.ID,
		Action:   model.ActionApprove,
	})

	report := f.newReport(t, f.submitter, "100")
	decision, err := f.guard.CanApprove(context.Background(), f.approver.ID, report)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if decision.Allowed || decision.CheckType != CheckCircular {
		t.Fatalf("expected circular denial, got %+v", decision)
	}
}

func TestGuardCircularWindowExpires(t *testing.T) {
	f := newGuardFixture(t)

	approverReport := f.newReport(t, f.approver, "300")
	f.history.rows = append(f.history.rows, model.ApprovalHistory{
		ID:        uuid.New(),
		ReportID:  approverReport.ID,
		ActorID:   f.submitter.ID,
		Action:    model.ActionApprove,
		CreatedAt: time.Now().Add(-60 * 24 * time.Hour), // outside the 30d window
	})

	report := f.newReport(t, f.submitter, "100")
	decision, err := f.guard.CanApprove(context.Background(), f.approver.ID, report)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("stale cross-approval should not block, got %+v", decision)
	}
}

func TestGuardAllowsCleanApprover(t *testing.T) {
	f := newGuardFixture(t)
	report := f.newReport(t, f.submitter, "5000")

	// Cross-department, no history: high value is fine
	decision, err := f.guard.CanApprove(context.Background(), f.approver.ID, report)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("clean approver should pass, got %+v", decision)
	}
}

func TestGuardOutsideReportingChainIsAdvisory(t *testing.T) {
	f := newGuardFixture(t)

	outsider := &model.User{ID: uuid.New(), Email: "outsider@corp.test", IsActive: true}
	f.users.users[outsider.ID] = outsider

	report := f.newReport(t, f.submitter, "100")
	decision, err := f.guard.CanApprove(context.Background(), outsider.ID, report)
	if err != nil {
		t.Fatalf("CanApprove() error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("reporting-chain check must not block, got %+v", decision)
	}
}
