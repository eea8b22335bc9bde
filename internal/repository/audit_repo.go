package repository

import (
	"context"
	"time"

	"expensehub/internal/model"

	"gorm.io/gorm"
)

// AuditFilter narrows audit queries
type AuditFilter struct {
	ActorID       string
	Action        string
	ResourceType  string
	ResourceID    string
	SensitiveOnly bool
	StartDate     *time.Time
	EndDate       *time.Time
	Page          int
	Limit         int
}

// AuditRepository stores hash-chained ledger entries. Entries are append-only;
// the table has no update or delete methods.
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	// Last returns the most recent entry by timestamp, or nil when the ledger is
	// empty. Callers must hold the append lock to rely on the result.
	Last(ctx context.Context) (*model.AuditLogEntry, error)
	// AcquireAppendLock serializes the read-tail-then-append sequence for the
	// current transaction. Without it two writers could link to the same
	// predecessor and fork the chain.
	AcquireAppendLock(ctx context.Context) error
	List(ctx context.Context, filter AuditFilter) ([]model.AuditLogEntry, int64, error)
	ListRange(ctx context.Context, start, end *time.Time) ([]model.AuditLogEntry, error)
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]model.AuditLogEntry, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) Last(ctx context.Context) (*model.AuditLogEntry, error) {
	var entry model.AuditLogEntry
	err := GetDB(ctx, r.db).Order("timestamp DESC").First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditRepository) AcquireAppendLock(ctx context.Context) error {
	return GetDB(ctx, r.db).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "audit_ledger_tail").Error
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]model.AuditLogEntry, int64, error) {
	db := GetDB(ctx, r.db).Model(&model.AuditLogEntry{})

	if filter.ActorID != "" {
		db = db.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		db = db.Where("action = ?", filter.Action)
	}
	if filter.ResourceType != "" {
		db = db.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		db = db.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.SensitiveOnly {
		db = db.Where("is_sensitive = ?", true)
	}
	if filter.StartDate != nil {
		db = db.Where("timestamp >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		db = db.Where("timestamp <= ?", *filter.EndDate)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	limit := filter.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}

	var entries []model.AuditLogEntry
	if err := db.Preload("Actor").
		Order("timestamp DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func (r *auditRepository) ListRange(ctx context.Context, start, end *time.Time) ([]model.AuditLogEntry, error) {
	db := GetDB(ctx, r.db).Model(&model.AuditLogEntry{})
	if start != nil {
		db = db.Where("timestamp >= ?", *start)
	}
	if end != nil {
		db = db.Where("timestamp <= ?", *end)
	}

	var entries []model.AuditLogEntry
	if err := db.Order("timestamp ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditRepository) ListByResource(ctx context.Context, resourceType, resourceID string) ([]model.AuditLogEntry, error) {
	var entries []model.AuditLogEntry
	if err := GetDB(ctx, r.db).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("timestamp ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
