package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"expensehub/internal/apperr"
	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type CreateReportRequest struct {
	Title    string `json:"title" binding:"required"`
	Category string `json:"category"`
}

type AddLineRequest struct {
	Description string `json:"description" binding:"required"`
	Category    string `json:"category"`
	Amount      string `json:"amount" binding:"required"` // decimal string
	ExpenseDate string `json:"expense_date"`              // RFC3339, defaults to now
}

// Actor identifies who performs a workflow action
type Actor struct {
	ID    uuid.UUID
	Email string
}

type RejectRequest struct {
	Comment           string  `json:"comment" binding:"required"`
	RejectionCategory *string `json:"rejection_category"`
}

type HistoryItem struct {
	StepNumber        int        `json:"step_number"`
	StepName          string     `json:"step_name"`
	ActorID           string     `json:"actor_id"`
	ActorEmail        string     `json:"actor_email"`
	Action            string     `json:"action"`
	Comment           string     `json:"comment,omitempty"`
	RejectionCategory *string    `json:"rejection_category,omitempty"`
	SLADeadline       *time.Time `json:"sla_deadline,omitempty"`
	WasEscalated      bool       `json:"was_escalated"`
	CreatedAt         time.Time  `json:"created_at"`
}

type WorkflowStatusResponse struct {
	ReportID    string        `json:"report_id"`
	Status      string        `json:"status"`
	CurrentStep *int          `json:"current_step"`
	TotalSteps  int           `json:"total_steps"`
	Workflow    *WorkflowInfo `json:"workflow,omitempty"`
	History     []HistoryItem `json:"history"`
}

type WorkflowInfo struct {
	WorkflowID     string `json:"workflow_id"`
	Name           string `json:"name"`
	Version        int    `json:"version"`
	OnReturnPolicy string `json:"on_return_policy"`
}

// TransitionEvent is broadcast to websocket clients after a committed transition
type TransitionEvent struct {
	ReportID    string `json:"report_id"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	CurrentStep *int   `json:"current_step"`
}

// Broadcaster pushes committed transition events to connected clients
type Broadcaster interface {
	GetBroadcast() chan []byte
}

// --- Interface ---

// ReportService is the workflow state machine plus the thin report CRUD
// boundary the engine needs real rows for.
type ReportService interface {
	CreateDraft(ctx context.Context, userID uuid.UUID, req CreateReportRequest) (*model.ExpenseReport, error)
	AddLine(ctx context.Context, reportID, userID uuid.UUID, req AddLineRequest) (*model.ExpenseLine, error)
	GetReport(ctx context.Context, reportID uuid.UUID) (*model.ExpenseReport, error)
	ListMyReports(ctx context.Context, userID uuid.UUID, page, limit int) ([]model.ExpenseReport, int64, error)

	Submit(ctx context.Context, reportID, userID uuid.UUID) (*model.ExpenseReport, error)
	Approve(ctx context.Context, reportID uuid.UUID, actor Actor, comment string) (*model.ExpenseReport, error)
	Reject(ctx context.Context, reportID uuid.UUID, actor Actor, req RejectRequest) (*model.ExpenseReport, error)
	Return(ctx context.Context, reportID uuid.UUID, actor Actor, comment string) (*model.ExpenseReport, error)
	Withdraw(ctx context.Context, reportID, userID uuid.UUID) (*model.ExpenseReport, error)

	GetWorkflowStatus(ctx context.Context, reportID uuid.UUID) (*WorkflowStatusResponse, error)
}

type reportService struct {
	reportRepo   repository.ReportRepository
	historyRepo  repository.HistoryRepository
	userRepo     repository.UserRepository
	workflows    WorkflowService
	guard        GuardService
	ledger       AuditService
	txManager    repository.TransactionManager
	hub          Broadcaster
	logger       zerolog.Logger
}

func NewReportService(
	reportRepo repository.ReportRepository,
	historyRepo repository.HistoryRepository,
	userRepo repository.UserRepository,
	workflows WorkflowService,
	guard GuardService,
	ledger AuditService,
	txManager repository.TransactionManager,
	hub Broadcaster,
	logger zerolog.Logger,
) ReportService {
	return &reportService{
		reportRepo:  reportRepo,
		historyRepo: historyRepo,
		userRepo:    userRepo,
		workflows:   workflows,
		guard:       guard,
		ledger:      ledger,
		txManager:   txManager,
		hub:         hub,
		logger:      logger,
	}
}

// --- CRUD boundary ---

func (s *reportService) CreateDraft(ctx context.Context, userID uuid.UUID, req CreateReportRequest) (*model.ExpenseReport, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.NotFound("user %s", userID)
	}

	report := &model.ExpenseReport{
		UserID:       userID,
		DepartmentID: user.DepartmentID,
		Title:        req.Title,
		Category:     req.Category,
		TotalAmount:  decimal.Zero,
		Status:       model.StatusDraft,
		Version:      1,
	}
	if err := s.reportRepo.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return report, nil
}

func (s *reportService) AddLine(ctx context.Context, reportID, userID uuid.UUID, req AddLineRequest) (*model.ExpenseLine, error) {
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		return nil, apperr.NotFound("report %s", reportID)
	}
	if report.UserID != userID {
		return nil, apperr.Forbidden("only the owner can edit a report")
	}
	if report.Status != model.StatusDraft && report.Status != model.StatusReturned {
		return nil, apperr.Validation("cannot add lines to a report in status '%s'", report.Status)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validation("line amount must be a positive decimal")
	}

	expenseDate := time.Now().UTC()
	if req.ExpenseDate != "" {
		parsed, parseErr := time.Parse(time.RFC3339, req.ExpenseDate)
		if parseErr != nil {
			return nil, apperr.Validation("invalid expense_date, expected RFC3339")
		}
		expenseDate = parsed
	}

	line := &model.ExpenseLine{
		ReportID:    reportID,
		Description: req.Description,
		Category:    req.Category,
		Amount:      amount,
		ExpenseDate: expenseDate,
	}
	if err := s.reportRepo.AddLine(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to add line: %w", err)
	}
	return line, nil
}

func (s *reportService) GetReport(ctx context.Context, reportID uuid.UUID) (*model.ExpenseReport, error) {
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		return nil, apperr.NotFound("report %s", reportID)
	}
	return report, nil
}

func (s *reportService) ListMyReports(ctx context.Context, userID uuid.UUID, page, limit int) ([]model.ExpenseReport, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return s.reportRepo.ListByUser(ctx, userID, page, limit)
}

// --- State machine ---

func (s *reportService) Submit(ctx context.Context, reportID, userID uuid.UUID) (*model.ExpenseReport, error) {
	var report *model.ExpenseReport
	var resolved *model.WorkflowDefinition

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.reportRepo.GetForUpdate(txCtx, reportID)
		if err != nil {
			return apperr.NotFound("report %s", reportID)
		}
		if r.UserID != userID {
			return apperr.Forbidden("only the owner can submit a report")
		}
		if r.Status != model.StatusDraft && r.Status != model.StatusReturned {
			return apperr.Validation("cannot submit a report in status '%s'", r.Status)
		}

		total, err := s.reportRepo.SumLines(txCtx, reportID)
		if err != nil {
			return fmt.Errorf("failed to total line items: %w", err)
		}
		if total.LessThanOrEqual(decimal.Zero) {
			return apperr.Validation("report has no expense lines")
		}
		r.TotalAmount = total

		snap, err := r.DecodeSnapshot()
		if err != nil {
			return fmt.Errorf("corrupt workflow snapshot: %w", err)
		}

		if r.Status == model.StatusReturned && snap != nil {
			// soft_restart kept the snapshot; resubmission restarts it at step 1
		} else {
			def, err := s.workflows.Resolve(txCtx, ResolveInput{
				DepartmentID:    r.DepartmentID,
				ExpenseCategory: r.Category,
				TotalAmount:     total,
			})
			if err != nil {
				return err
			}
			resolved = def

			frozen, err := snapshotDefinition(def)
			if err != nil {
				return err
			}
			r.WorkflowID = &def.ID
			r.WorkflowSnapshot = frozen
		}

		now := time.Now().UTC()
		step := 1
		r.CurrentStep = &step
		r.Status = model.StatusSubmitted
		r.SubmittedAt = &now
		r.Version++

		if err := s.reportRepo.Save(txCtx, r); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{
		"total_amount": report.TotalAmount.StringFixed(4),
		"current_step": 1,
	}
	if resolved != nil {
		metadata["workflow_id"] = resolved.ID.String()
		metadata["workflow_name"] = resolved.Name
		metadata["workflow_version"] = resolved.Version
	}
	s.emitAudit(ctx, userID, model.ActionSubmitReport, report, metadata)
	s.broadcast(report, "submit")

	return report, nil
}

func (s *reportService) Approve(ctx context.Context, reportID uuid.UUID, actor Actor, comment string) (*model.ExpenseReport, error) {
	var report *model.ExpenseReport
	var actedStep *model.WorkflowStep

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.reportRepo.GetForUpdate(txCtx, reportID)
		if err != nil {
			return apperr.NotFound("report %s", reportID)
		}
		if r.Status != model.StatusSubmitted && r.Status != model.StatusPending {
			return apperr.Validation("cannot approve a report in status '%s'", r.Status)
		}

		decision, err := s.guard.CanApprove(txCtx, actor.ID, r)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return apperr.Forbidden("%s", decision.Reason)
		}

		snap, step, err := currentSnapshotStep(r)
		if err != nil {
			return err
		}
		actedStep = step

		if err := s.appendHistory(txCtx, r, step, actor, model.ActionApprove, comment, nil); err != nil {
			return err
		}

		next, err := nextApplicableStep(snap.Steps, step.StepNumber, r)
		if err != nil {
			return fmt.Errorf("failed to evaluate step conditions: %w", err)
		}
		if next == 0 {
			r.Status = model.StatusApproved
			r.CurrentStep = nil
		} else {
			r.Status = model.StatusPending
			r.CurrentStep = &next
		}
		r.Version++

		if err := s.reportRepo.Save(txCtx, r); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor.ID, model.ActionApproveReport, report, map[string]interface{}{
		"step_number":  actedStep.StepNumber,
		"step_name":    actedStep.Name,
		"total_amount": report.TotalAmount.StringFixed(4),
		"final_status": report.Status,
	})
	s.broadcast(report, model.ActionApprove)

	return report, nil
}

func (s *reportService) Reject(ctx context.Context, reportID uuid.UUID, actor Actor, req RejectRequest) (*model.ExpenseReport, error) {
	var report *model.ExpenseReport
	var actedStep *model.WorkflowStep

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.reportRepo.GetForUpdate(txCtx, reportID)
		if err != nil {
			return apperr.NotFound("report %s", reportID)
		}
		if r.Status != model.StatusSubmitted && r.Status != model.StatusPending {
			return apperr.Validation("cannot reject a report in status '%s'", r.Status)
		}

		decision, err := s.guard.CanApprove(txCtx, actor.ID, r)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return apperr.Forbidden("%s", decision.Reason)
		}

		_, step, err := currentSnapshotStep(r)
		if err != nil {
			return err
		}
		actedStep = step

		if err := s.appendHistory(txCtx, r, step, actor, model.ActionReject, req.Comment, req.RejectionCategory); err != nil {
			return err
		}

		// Terminal: a rejected report is closed, a correction means a new report
		r.Status = model.StatusRejected
		r.CurrentStep = nil
		r.Version++

		if err := s.reportRepo.Save(txCtx, r); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor.ID, model.ActionRejectReport, report, map[string]interface{}{
		"step_number":  actedStep.StepNumber,
		"step_name":    actedStep.Name,
		"total_amount": report.TotalAmount.StringFixed(4),
	})
	s.broadcast(report, model.ActionReject)

	return report, nil
}

// Return sends a report back to its owner for correction. It does not consult
// the approval guard: a return is not a value-transfer decision.
func (s *reportService) Return(ctx context.Context, reportID uuid.UUID, actor Actor, comment string) (*model.ExpenseReport, error) {
	var report *model.ExpenseReport

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.reportRepo.GetForUpdate(txCtx, reportID)
		if err != nil {
			return apperr.NotFound("report %s", reportID)
		}
		if r.Status != model.StatusSubmitted && r.Status != model.StatusPending {
			return apperr.Validation("cannot return a report in status '%s'", r.Status)
		}

		snap, step, err := currentSnapshotStep(r)
		if err != nil {
			return err
		}

		if err := s.appendHistory(txCtx, r, step, actor, model.ActionReturn, comment, nil); err != nil {
			return err
		}

		switch snap.OnReturnPolicy {
		case model.ReturnHardRestart:
			// resubmission re-resolves from scratch
			r.CurrentStep = nil
			r.WorkflowSnapshot = ""
			r.WorkflowID = nil
		default: // soft_restart
			one := 1
			r.CurrentStep = &one
		}
		r.Status = model.StatusReturned
		r.Version++

		if err := s.reportRepo.Save(txCtx, r); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor.ID, model.ActionReturnReport, report, map[string]interface{}{
		"total_amount": report.TotalAmount.StringFixed(4),
	})
	s.broadcast(report, model.ActionReturn)

	return report, nil
}

func (s *reportService) Withdraw(ctx context.Context, reportID, userID uuid.UUID) (*model.ExpenseReport, error) {
	var report *model.ExpenseReport

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.reportRepo.GetForUpdate(txCtx, reportID)
		if err != nil {
			return apperr.NotFound("report %s", reportID)
		}
		if r.UserID != userID {
			return apperr.Forbidden("only the owner can withdraw a report")
		}
		if r.Status != model.StatusSubmitted && r.Status != model.StatusPending {
			return apperr.Validation("cannot withdraw a report in status '%s'", r.Status)
		}

		r.Status = model.StatusDraft
		r.CurrentStep = nil
		r.WorkflowID = nil
		r.WorkflowSnapshot = ""
		r.SubmittedAt = nil
		r.Version++

		if err := s.reportRepo.Save(txCtx, r); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, userID, model.ActionWithdrawReport, report, nil)
	s.broadcast(report, "withdraw")

	return report, nil
}

func (s *reportService) GetWorkflowStatus(ctx context.Context, reportID uuid.UUID) (*WorkflowStatusResponse, error) {
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		return nil, apperr.NotFound("report %s", reportID)
	}

	rows, err := s.historyRepo.ListByReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval history: %w", err)
	}

	resp := &WorkflowStatusResponse{
		ReportID:    report.ID.String(),
		Status:      report.Status,
		CurrentStep: report.CurrentStep,
		History:     make([]HistoryItem, 0, len(rows)),
	}

	snap, err := report.DecodeSnapshot()
	if err != nil {
		return nil, fmt.Errorf("corrupt workflow snapshot: %w", err)
	}
	if snap != nil {
		resp.TotalSteps = len(snap.Steps)
		resp.Workflow = &WorkflowInfo{
			WorkflowID:     snap.WorkflowID.String(),
			Name:           snap.Name,
			Version:        snap.Version,
			OnReturnPolicy: snap.OnReturnPolicy,
		}
	}

	for _, row := range rows {
		resp.History = append(resp.History, HistoryItem{
			StepNumber:        row.StepNumber,
			StepName:          row.StepName,
			ActorID:           row.ActorID.String(),
			ActorEmail:        row.ActorEmail,
			Action:            row.Action,
			Comment:           row.Comment,
			RejectionCategory: row.RejectionCategory,
			SLADeadline:       row.SLADeadline,
			WasEscalated:      row.WasEscalated,
			CreatedAt:         row.CreatedAt,
		})
	}

	return resp, nil
}

// --- Helpers ---

// snapshotDefinition freezes the definition's steps and policy into a value
// copy. Later edits to the definition must not reach in-flight reports.
func snapshotDefinition(def *model.WorkflowDefinition) (string, error) {
	steps, err := def.DecodeSteps()
	if err != nil {
		return "", fmt.Errorf("corrupt workflow steps: %w", err)
	}

	snap := model.WorkflowSnapshot{
		WorkflowID:     def.ID,
		Name:           def.Name,
		Version:        def.Version,
		OnReturnPolicy: def.OnReturnPolicy,
		Steps:          steps,
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(encoded), nil
}

func currentSnapshotStep(r *model.ExpenseReport) (*model.WorkflowSnapshot, *model.WorkflowStep, error) {
	snap, err := r.DecodeSnapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt workflow snapshot: %w", err)
	}
	if snap == nil || r.CurrentStep == nil {
		return nil, nil, apperr.Validation("report has no active workflow")
	}
	for i := range snap.Steps {
		if snap.Steps[i].StepNumber == *r.CurrentStep {
			return snap, &snap.Steps[i], nil
		}
	}
	return nil, nil, apperr.Validation("current step %d not present in workflow snapshot", *r.CurrentStep)
}

// nextApplicableStep returns the next step number after current that still
// applies to the report, or 0 when the chain is exhausted. A step is passed
// over when its skipIf condition holds, its requiredIf condition fails, or it
// is explicitly marked not required.
func nextApplicableStep(steps []model.WorkflowStep, current int, r *model.ExpenseReport) (int, error) {
	for _, step := range steps {
		if step.StepNumber <= current {
			continue
		}

		if step.SkipIf != nil {
			skip, err := evaluateCondition(step.SkipIf, r)
			if err != nil {
				return 0, err
			}
			if skip {
				continue
			}
		}

		if step.RequiredIf != nil {
			required, err := evaluateCondition(step.RequiredIf, r)
			if err != nil {
				return 0, err
			}
			if !required {
				continue
			}
		} else if step.Required != nil && !*step.Required {
			continue
		}

		return step.StepNumber, nil
	}
	return 0, nil
}

func (s *reportService) appendHistory(ctx context.Context, r *model.ExpenseReport, step *model.WorkflowStep, actor Actor, action, comment string, rejectionCategory *string) error {
	row := &model.ApprovalHistory{
		ReportID:          r.ID,
		StepNumber:        step.StepNumber,
		StepName:          step.Name,
		ActorID:           actor.ID,
		ActorEmail:        actor.Email,
		Action:            action,
		Comment:           comment,
		RejectionCategory: rejectionCategory,
		ReportHash:        reportStateHash(r),
	}
	if step.SLAHours > 0 {
		deadline := r.UpdatedAt.Add(time.Duration(step.SLAHours * float64(time.Hour)))
		row.SLADeadline = &deadline
	}
	if err := s.historyRepo.Append(ctx, row); err != nil {
		return fmt.Errorf("failed to append approval history: %w", err)
	}
	return nil
}

// reportStateHash digests the report state at action time so history rows can
// attest what the actor saw.
func reportStateHash(r *model.ExpenseReport) string {
	payload := map[string]interface{}{
		"id":           r.ID.String(),
		"user_id":      r.UserID.String(),
		"status":       r.Status,
		"total_amount": r.TotalAmount.StringFixed(4),
		"version":      r.Version,
		"current_step": r.CurrentStep,
	}
	canonical, _ := json.Marshal(payload)
	return sha256Hex(canonical)
}

func (s *reportService) emitAudit(ctx context.Context, actorID uuid.UUID, action string, report *model.ExpenseReport, metadata map[string]interface{}) {
	resourceID := report.ID.String()
	if _, err := s.ledger.LogEvent(ctx, AuditEvent{
		ActorID:      &actorID,
		Action:       action,
		ResourceType: "expense_report",
		ResourceID:   &resourceID,
		Metadata:     metadata,
	}); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("report_id", resourceID).
			Msg("failed to append audit entry for committed transition")
	}
}

func (s *reportService) broadcast(report *model.ExpenseReport, action string) {
	if s.hub == nil {
		return
	}
	event := TransitionEvent{
		ReportID:    report.ID.String(),
		Action:      action,
		Status:      report.Status,
		CurrentStep: report.CurrentStep,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case s.hub.GetBroadcast() <- payload:
	default:
		// no listeners, drop the event
	}
}
