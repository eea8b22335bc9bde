package service

import (
	"context"
	"fmt"
	"time"

	"expensehub/internal/apperr"
	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Guard check types, reported back to callers on denial
const (
	CheckDirectSelf     = "direct_self"
	CheckTemporal       = "temporal"
	CheckSameDepartment = "same_department"
	CheckCircular       = "circular"
	CheckReportingChain = "reporting_chain"
)

// GuardDecision is the outcome of an approval authorization check
type GuardDecision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	CheckType string `json:"check_type,omitempty"`
}

// GuardConfig tunes the guard's thresholds
type GuardConfig struct {
	// Reports above this amount require an approver from another department
	SameDepartmentThreshold decimal.Decimal
	// Trailing window for the circular-approval check
	CircularWindow time.Duration
	// Maximum hops when walking the submitter's manager chain
	MaxChainDepth int
}

// DefaultGuardConfig returns the production defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		SameDepartmentThreshold: decimal.NewFromInt(1000),
		CircularWindow:          30 * 24 * time.Hour,
		MaxChainDepth:           10,
	}
}

// GuardService decides whether an actor may approve or reject a report
type GuardService interface {
	CanApproveReport(ctx context.Context, approverID, reportID uuid.UUID) (GuardDecision, error)
	// CanApprove runs the checks against an already-loaded report, used by the
	// workflow engine inside its row-locked transaction.
	CanApprove(ctx context.Context, approverID uuid.UUID, report *model.ExpenseReport) (GuardDecision, error)
}

type guardService struct {
	reportRepo  repository.ReportRepository
	historyRepo repository.HistoryRepository
	userRepo    repository.UserRepository
	config      GuardConfig
	logger      zerolog.Logger
}

func NewGuardService(
	reportRepo repository.ReportRepository,
	historyRepo repository.HistoryRepository,
	userRepo repository.UserRepository,
	config GuardConfig,
	logger zerolog.Logger,
) GuardService {
	return &guardService{
		reportRepo:  reportRepo,
		historyRepo: historyRepo,
		userRepo:    userRepo,
		config:      config,
		logger:      logger,
	}
}

func (s *guardService) CanApproveReport(ctx context.Context, approverID, reportID uuid.UUID) (GuardDecision, error) {
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		return GuardDecision{}, apperr.NotFound("report %s", reportID)
	}
	return s.CanApprove(ctx, approverID, report)
}

// CanApprove runs the checks in order; the first failure wins.
func (s *guardService) CanApprove(ctx context.Context, approverID uuid.UUID, report *model.ExpenseReport) (GuardDecision, error) {
	// 1. Direct self-approval
	if report.UserID == approverID {
		return GuardDecision{
			Allowed:   false,
			Reason:    "Cannot approve your own expense report",
			CheckType: CheckDirectSelf,
		}, nil
	}

	// 2. Temporal separation: any prior action on this report, regardless of
	// kind, disqualifies the actor. A rejector cannot later approve.
	acted, err := s.historyRepo.HasActorActed(ctx, report.ID, approverID)
	if err != nil {
		return GuardDecision{}, fmt.Errorf("failed to check approval history: %w", err)
	}
	if acted {
		return GuardDecision{
			Allowed:   false,
			Reason:    "Approver has already acted on this report",
			CheckType: CheckTemporal,
		}, nil
	}

	approver, err := s.userRepo.GetByID(ctx, approverID)
	if err != nil {
		return GuardDecision{}, apperr.NotFound("approver %s", approverID)
	}

	// 3. Same-entity high-value: expensive reports need a cross-department eye
	if report.TotalAmount.GreaterThan(s.config.SameDepartmentThreshold) &&
		report.DepartmentID != nil && approver.DepartmentID != nil &&
		*report.DepartmentID == *approver.DepartmentID {
		return GuardDecision{
			Allowed:   false,
			Reason:    "High-value reports require cross-department approval",
			CheckType: CheckSameDepartment,
		}, nil
	}

	// 4. Circular approval: the submitter recently approved one of the
	// approver's own reports
	since := time.Now().Add(-s.config.CircularWindow)
	crossCount, err := s.historyRepo.CountCrossApprovals(ctx, report.UserID, approverID, since)
	if err != nil {
		return GuardDecision{}, fmt.Errorf("failed to check circular approvals: %w", err)
	}
	if crossCount > 0 {
		return GuardDecision{
			Allowed:   false,
			Reason:    "Circular approval detected",
			CheckType: CheckCircular,
		}, nil
	}

	// 5. Reporting chain (advisory only): log when the approver is not in the
	// submitter's management chain, but do not block.
	inChain, err := s.isInManagerChain(ctx, report.UserID, approverID)
	if err != nil {
		return GuardDecision{}, err
	}
	if !inChain {
		s.logger.Warn().
			Str("check", CheckReportingChain).
			Str("report_id", report.ID.String()).
			Str("approver_id", approverID.String()).
			Str("submitter_id", report.UserID.String()).
			Msg("approver is outside the submitter's reporting chain")
	}

	return GuardDecision{Allowed: true}, nil
}

// isInManagerChain walks the submitter's manager pointers with a bounded depth
// and a visited set, so cyclic org data cannot hang the check.
func (s *guardService) isInManagerChain(ctx context.Context, submitterID, approverID uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{submitterID: true}
	currentID := submitterID

	for depth := 0; depth < s.config.MaxChainDepth; depth++ {
		current, err := s.userRepo.GetByID(ctx, currentID)
		if err != nil {
			return false, fmt.Errorf("failed to walk manager chain: %w", err)
		}
		if current.ManagerID == nil {
			return false, nil
		}
		if *current.ManagerID == approverID {
			return true, nil
		}
		if visited[*current.ManagerID] {
			return false, nil
		}
		visited[*current.ManagerID] = true
		currentID = *current.ManagerID
	}

	return false, nil
}
