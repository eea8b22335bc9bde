package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- DTOs ---

type AuditEvent struct {
	ActorID      *uuid.UUID             `json:"actor_id"`
	Action       string                 `json:"action" binding:"required"`
	ResourceType string                 `json:"resource_type" binding:"required"`
	ResourceID   *string                `json:"resource_id"`
	Changes      map[string]interface{} `json:"changes"`
	Metadata     map[string]interface{} `json:"metadata"`
}

type ChainViolation struct {
	EventID      string `json:"event_id"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
}

type ChainVerification struct {
	TotalEvents int              `json:"total_events"`
	Verified    int              `json:"verified"`
	Skipped     int              `json:"skipped"` // predecessor outside the queried range
	Violations  []ChainViolation `json:"violations"`
}

type AuditExport struct {
	ExportedAt time.Time             `json:"exported_at"`
	StartDate  *time.Time            `json:"start_date"`
	EndDate    *time.Time            `json:"end_date"`
	Integrity  ChainVerification     `json:"integrity"`
	Entries    []model.AuditLogEntry `json:"entries"`
}

// sensitiveActions is the fixed allow-list of high-risk actions marked on write
var sensitiveActions = map[string]bool{
	model.ActionAssignRole:        true,
	model.ActionRemoveRole:        true,
	model.ActionSetUserRoles:      true,
	model.ActionUpdateRolePerms:   true,
	model.ActionDeleteRole:        true,
	model.ActionExportAuditLogs:   true,
	model.ActionImpersonateUser:   true,
	model.ActionEmergencyOverride: true,
	model.ActionForceApprove:      true,
}

// --- Interface ---

// AuditService appends hash-chained, tamper-evident records of sensitive
// actions and verifies the chain.
type AuditService interface {
	LogEvent(ctx context.Context, event AuditEvent) (uuid.UUID, error)
	GetAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]model.AuditLogEntry, int64, error)
	GetResourceHistory(ctx context.Context, resourceType, resourceID string) ([]model.AuditLogEntry, error)
	VerifyChainIntegrity(ctx context.Context, start, end *time.Time) (ChainVerification, error)
	ExportAuditLogs(ctx context.Context, actorID *uuid.UUID, start, end *time.Time) (*AuditExport, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	logger    zerolog.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, txManager repository.TransactionManager, logger zerolog.Logger) AuditService {
	return &auditService{auditRepo: auditRepo, txManager: txManager, logger: logger}
}

// --- Implementation ---

// LogEvent reads the chain tail and appends the new entry inside one
// transaction under an advisory lock. Two unserialized writers could otherwise
// both link to the same predecessor and fork the chain.
func (s *auditService) LogEvent(ctx context.Context, event AuditEvent) (uuid.UUID, error) {
	if event.Action == "" || event.ResourceType == "" {
		return uuid.Nil, fmt.Errorf("audit event requires action and resource type")
	}

	eventID := uuid.New()
	timestamp := time.Now().UTC()

	changes, err := encodeJSONField(event.Changes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode changes: %w", err)
	}
	metadata, err := encodeJSONField(event.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	dataHash, err := computeDataHash(eventID, timestamp, event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to compute data hash: %w", err)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if lockErr := s.auditRepo.AcquireAppendLock(txCtx); lockErr != nil {
			return fmt.Errorf("failed to acquire ledger append lock: %w", lockErr)
		}

		last, lastErr := s.auditRepo.Last(txCtx)
		if lastErr != nil {
			return fmt.Errorf("failed to read ledger tail: %w", lastErr)
		}

		entry := model.AuditLogEntry{
			EventID:      eventID,
			Timestamp:    timestamp,
			ActorID:      event.ActorID,
			Action:       event.Action,
			ResourceType: event.ResourceType,
			ResourceID:   event.ResourceID,
			Changes:      changes,
			Metadata:     metadata,
			DataHash:     dataHash,
			IsSensitive:  sensitiveActions[event.Action],
		}

		if last == nil {
			// Genesis entry
			entry.ChainHash = dataHash
		} else {
			entry.ChainHash = computeChainHash(last.ChainHash, dataHash)
			prevID := last.EventID
			entry.PreviousEventID = &prevID
		}

		return s.auditRepo.Append(txCtx, &entry)
	})
	if err != nil {
		return uuid.Nil, err
	}

	return eventID, nil
}

func (s *auditService) GetAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]model.AuditLogEntry, int64, error) {
	return s.auditRepo.List(ctx, filter)
}

func (s *auditService) GetResourceHistory(ctx context.Context, resourceType, resourceID string) ([]model.AuditLogEntry, error) {
	return s.auditRepo.ListByResource(ctx, resourceType, resourceID)
}

func (s *auditService) VerifyChainIntegrity(ctx context.Context, start, end *time.Time) (ChainVerification, error) {
	entries, err := s.auditRepo.ListRange(ctx, start, end)
	if err != nil {
		return ChainVerification{}, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	result := verifyEntries(entries)
	if len(result.Violations) > 0 {
		s.logger.Warn().
			Int("violations", len(result.Violations)).
			Int("total", result.TotalEvents).
			Msg("audit chain integrity check failed")
	}
	return result, nil
}

// ExportAuditLogs bundles matching rows with an embedded integrity summary.
// The export itself is a sensitive audited action.
func (s *auditService) ExportAuditLogs(ctx context.Context, actorID *uuid.UUID, start, end *time.Time) (*AuditExport, error) {
	entries, err := s.auditRepo.ListRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	integrity := verifyEntries(entries)

	export := &AuditExport{
		ExportedAt: time.Now().UTC(),
		StartDate:  start,
		EndDate:    end,
		Integrity:  integrity,
		Entries:    entries,
	}

	if _, err := s.LogEvent(ctx, AuditEvent{
		ActorID:      actorID,
		Action:       model.ActionExportAuditLogs,
		ResourceType: "audit_log",
		Metadata: map[string]interface{}{
			"entry_count": len(entries),
			"verified":    integrity.Verified,
			"violations":  len(integrity.Violations),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to record export event: %w", err)
	}

	return export, nil
}

// --- Chain arithmetic ---

// computeDataHash digests the canonical JSON of the entry payload. Map keys are
// marshaled in sorted order, making the serialization deterministic.
func computeDataHash(eventID uuid.UUID, timestamp time.Time, event AuditEvent) (string, error) {
	payload := map[string]interface{}{
		"event_id":      eventID.String(),
		"timestamp":     timestamp.Format(time.RFC3339Nano),
		"actor_id":      nil,
		"action":        event.Action,
		"resource_type": event.ResourceType,
		"resource_id":   nil,
		"changes":       event.Changes,
		"metadata":      event.Metadata,
	}
	if event.ActorID != nil {
		payload["actor_id"] = event.ActorID.String()
	}
	if event.ResourceID != nil {
		payload["resource_id"] = *event.ResourceID
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

func computeChainHash(previousChainHash, dataHash string) string {
	return sha256Hex([]byte(previousChainHash + "|" + dataHash))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// verifyEntries recomputes each entry's chain hash from its recorded
// predecessor, carrying recomputed hashes forward so that tampering with any
// earlier dataHash or chainHash cascades into a mismatch on every later entry.
// Entries whose predecessor falls outside the verified set are skipped rather
// than flagged; their stored chain hash seeds the recomputation.
func verifyEntries(entries []model.AuditLogEntry) ChainVerification {
	result := ChainVerification{
		TotalEvents: len(entries),
		Violations:  []ChainViolation{},
	}

	// entries arrive ordered by timestamp, predecessors first
	recomputed := make(map[uuid.UUID]string, len(entries))

	for _, e := range entries {
		var expected string
		if e.PreviousEventID == nil {
			expected = e.DataHash
		} else {
			prevChain, ok := recomputed[*e.PreviousEventID]
			if !ok {
				result.Skipped++
				recomputed[e.EventID] = e.ChainHash
				continue
			}
			expected = computeChainHash(prevChain, e.DataHash)
		}
		recomputed[e.EventID] = expected

		if expected == e.ChainHash {
			result.Verified++
		} else {
			result.Violations = append(result.Violations, ChainViolation{
				EventID:      e.EventID.String(),
				ExpectedHash: expected,
				ActualHash:   e.ChainHash,
			})
		}
	}

	return result
}

func encodeJSONField(payload map[string]interface{}) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
