package service

import (
	"context"
	"sort"
	"time"

	"expensehub/internal/model"
	"expensehub/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// fakeTxManager runs the function directly; transactional semantics are the
// real manager's concern, not the services'.
type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// --- reports ---

type fakeReportRepo struct {
	reports map[uuid.UUID]*model.ExpenseReport
	lines   []model.ExpenseLine
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: make(map[uuid.UUID]*model.ExpenseReport)}
}

func (f *fakeReportRepo) Create(_ context.Context, report *model.ExpenseReport) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	cp := *report
	f.reports[report.ID] = &cp
	return nil
}

func (f *fakeReportRepo) GetByID(_ context.Context, id uuid.UUID) (*model.ExpenseReport, error) {
	r, ok := f.reports[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReportRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExpenseReport, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeReportRepo) Save(_ context.Context, report *model.ExpenseReport) error {
	report.UpdatedAt = time.Now().UTC()
	cp := *report
	f.reports[report.ID] = &cp
	return nil
}

func (f *fakeReportRepo) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]model.ExpenseReport, int64, error) {
	var out []model.ExpenseReport
	for _, r := range f.reports {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeReportRepo) SumLines(_ context.Context, reportID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range f.lines {
		if l.ReportID == reportID {
			total = total.Add(l.Amount)
		}
	}
	return total, nil
}

func (f *fakeReportRepo) AddLine(_ context.Context, line *model.ExpenseLine) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	f.lines = append(f.lines, *line)
	return nil
}

// --- approval history ---

type fakeHistoryRepo struct {
	rows    []model.ApprovalHistory
	reports *fakeReportRepo
}

func (f *fakeHistoryRepo) Append(_ context.Context, row *model.ApprovalHistory) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = time.Now().UTC()
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeHistoryRepo) ListByReport(_ context.Context, reportID uuid.UUID) ([]model.ApprovalHistory, error) {
	var out []model.ApprovalHistory
	for _, r := range f.rows {
		if r.ReportID == reportID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistoryRepo) HasActorActed(_ context.Context, reportID, actorID uuid.UUID) (bool, error) {
	for _, r := range f.rows {
		if r.ReportID == reportID && r.ActorID == actorID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeHistoryRepo) CountCrossApprovals(_ context.Context, actorID, submitterID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	for _, row := range f.rows {
		if row.ActorID != actorID || row.Action != model.ActionApprove || row.CreatedAt.Before(since) {
			continue
		}
		if f.reports == nil {
			continue
		}
		if rep, ok := f.reports.reports[row.ReportID]; ok && rep.UserID == submitterID {
			count++
		}
	}
	return count, nil
}

// --- users ---

type fakeUserRepo struct {
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
	for _, u := range users {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) Count(_ context.Context) (int64, error) {
	return int64(len(f.users)), nil
}

func (f *fakeUserRepo) List(_ context.Context, _, _ int) ([]model.User, int64, error) {
	var out []model.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) SaveRefreshToken(_ context.Context, _ *model.RefreshToken) error { return nil }
func (f *fakeUserRepo) FindRefreshToken(_ context.Context, _ string) (*model.RefreshToken, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeUserRepo) DeleteRefreshToken(_ context.Context, _ string) error          { return nil }
func (f *fakeUserRepo) DeleteRefreshTokensForUser(_ context.Context, _ uuid.UUID) error { return nil }
func (f *fakeUserRepo) FindOrCreateDepartment(_ context.Context, name string) (*model.Department, error) {
	return &model.Department{ID: uuid.New(), Name: name}, nil
}
func (f *fakeUserRepo) ListDepartments(_ context.Context) ([]model.Department, error) {
	return nil, nil
}

// --- audit ledger ---

type fakeAuditRepo struct {
	entries []model.AuditLogEntry
}

func (f *fakeAuditRepo) Append(_ context.Context, entry *model.AuditLogEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) Last(_ context.Context) (*model.AuditLogEntry, error) {
	if len(f.entries) == 0 {
		return nil, nil
	}
	cp := f.entries[len(f.entries)-1]
	return &cp, nil
}

func (f *fakeAuditRepo) AcquireAppendLock(_ context.Context) error { return nil }

func (f *fakeAuditRepo) List(_ context.Context, _ repository.AuditFilter) ([]model.AuditLogEntry, int64, error) {
	return f.entries, int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) ListRange(_ context.Context, start, end *time.Time) ([]model.AuditLogEntry, error) {
	var out []model.AuditLogEntry
	for _, e := range f.entries {
		if start != nil && e.Timestamp.Before(*start) {
			continue
		}
		if end != nil && e.Timestamp.After(*end) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeAuditRepo) ListByResource(_ context.Context, resourceType, resourceID string) ([]model.AuditLogEntry, error) {
	var out []model.AuditLogEntry
	for _, e := range f.entries {
		if e.ResourceType == resourceType && e.ResourceID != nil && *e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- workflow resolution stub ---

type fakeWorkflows struct {
	WorkflowService
	definition *model.WorkflowDefinition
	resolveErr error
}

func (f *fakeWorkflows) Resolve(_ context.Context, _ ResolveInput) (*model.WorkflowDefinition, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.definition, nil
}

// --- guard stub ---

type fakeGuard struct {
	decision GuardDecision
}

func (f *fakeGuard) CanApproveReport(_ context.Context, _, _ uuid.UUID) (GuardDecision, error) {
	return f.decision, nil
}

func (f *fakeGuard) CanApprove(_ context.Context, _ uuid.UUID, _ *model.ExpenseReport) (GuardDecision, error) {
	return f.decision, nil
}

// --- roles and permissions ---

type fakeRoleRepo struct {
	roles     map[uuid.UUID]*model.Role
	perms     map[uuid.UUID]*model.Permission
	rolePerms map[uuid.UUID][]uuid.UUID
	userRoles map[uuid.UUID][]uuid.UUID
	bumps     map[uuid.UUID]int
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{
		roles:     map[uuid.UUID]*model.Role{},
		perms:     map[uuid.UUID]*model.Permission{},
		rolePerms: map[uuid.UUID][]uuid.UUID{},
		userRoles: map[uuid.UUID][]uuid.UUID{},
		bumps:     map[uuid.UUID]int{},
	}
}

func (f *fakeRoleRepo) Create(_ context.Context, role *model.Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	stored := *role
	f.roles[role.ID] = &stored
	return nil
}

func (f *fakeRoleRepo) Update(_ context.Context, role *model.Role) error {
	if _, ok := f.roles[role.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *role
	f.roles[role.ID] = &stored
	return nil
}

func (f *fakeRoleRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.roles, id)
	delete(f.rolePerms, id)
	return nil
}

func (f *fakeRoleRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *role
	return &cp, nil
}

func (f *fakeRoleRepo) FindByIDWithPermissions(_ context.Context, id uuid.UUID) (*model.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *role
	cp.Permissions = f.permissionsOf(id)
	return &cp, nil
}

func (f *fakeRoleRepo) FindByName(_ context.Context, name string) (*model.Role, error) {
	for _, role := range f.roles {
		if role.Name == name {
			cp := *role
			cp.Permissions = f.permissionsOf(role.ID)
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRoleRepo) ListAll(_ context.Context) ([]model.Role, error) {
	out := make([]model.Role, 0, len(f.roles))
	for _, role := range f.roles {
		cp := *role
		cp.Permissions = f.permissionsOf(role.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRoleRepo) ReplacePermissions(_ context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	f.rolePerms[roleID] = append([]uuid.UUID(nil), permissionIDs...)
	return nil
}

func (f *fakeRoleRepo) CreatePermission(_ context.Context, perm *model.Permission) error {
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	stored := *perm
	f.perms[perm.ID] = &stored
	return nil
}

func (f *fakeRoleRepo) UpdatePermission(_ context.Context, perm *model.Permission) error {
	if _, ok := f.perms[perm.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *perm
	f.perms[perm.ID] = &stored
	return nil
}

func (f *fakeRoleRepo) DeletePermission(_ context.Context, id uuid.UUID) error {
	delete(f.perms, id)
	return nil
}

func (f *fakeRoleRepo) FindPermissionByID(_ context.Context, id uuid.UUID) (*model.Permission, error) {
	perm, ok := f.perms[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *perm
	return &cp, nil
}

func (f *fakeRoleRepo) FindPermissionsByNames(_ context.Context, names []string) ([]model.Permission, error) {
	var out []model.Permission
	for _, name := range names {
		for _, perm := range f.perms {
			if perm.Name == name {
				out = append(out, *perm)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) ListPermissions(_ context.Context) ([]model.Permission, error) {
	out := make([]model.Permission, 0, len(f.perms))
	for _, perm := range f.perms {
		out = append(out, *perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRoleRepo) CountRolesReferencingPermission(_ context.Context, permID uuid.UUID) (int64, error) {
	var count int64
	for _, ids := range f.rolePerms {
		for _, id := range ids {
			if id == permID {
				count++
			}
		}
	}
	return count, nil
}

func (f *fakeRoleRepo) GetUserRoles(_ context.Context, userID uuid.UUID) ([]model.Role, error) {
	var out []model.Role
	for _, roleID := range f.userRoles[userID] {
		if role, ok := f.roles[roleID]; ok {
			cp := *role
			cp.Permissions = f.permissionsOf(roleID)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) GetUserPermissionNames(_ context.Context, userID uuid.UUID) ([]string, error) {
	seen := map[string]bool{}
	for _, roleID := range f.userRoles[userID] {
		role, ok := f.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		for _, perm := range f.permissionsOf(roleID) {
			seen[perm.Name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeRoleRepo) AssignRole(_ context.Context, userID, roleID uuid.UUID, _ *uuid.UUID) error {
	for _, id := range f.userRoles[userID] {
		if id == roleID {
			return nil
		}
	}
	f.userRoles[userID] = append(f.userRoles[userID], roleID)
	return nil
}

func (f *fakeRoleRepo) RemoveRole(_ context.Context, userID, roleID uuid.UUID) error {
	ids := f.userRoles[userID]
	for i, id := range ids {
		if id == roleID {
			f.userRoles[userID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRoleRepo) ReplaceUserRoles(_ context.Context, userID uuid.UUID, roleIDs []uuid.UUID, _ *uuid.UUID) error {
	f.userRoles[userID] = append([]uuid.UUID(nil), roleIDs...)
	return nil
}

func (f *fakeRoleRepo) ListUserIDsWithRole(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for userID, ids := range f.userRoles {
		for _, id := range ids {
			if id == roleID {
				out = append(out, userID)
			}
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) BumpRolesVersion(_ context.Context, userIDs []uuid.UUID) error {
	for _, id := range userIDs {
		f.bumps[id]++
	}
	return nil
}

func (f *fakeRoleRepo) permissionsOf(roleID uuid.UUID) []model.Permission {
	var out []model.Permission
	for _, permID := range f.rolePerms[roleID] {
		if perm, ok := f.perms[permID]; ok {
			out = append(out, *perm)
		}
	}
	return out
}

// --- SoD rules ---

type fakeSodRepo struct {
	rules map[uuid.UUID]*model.SodRule
}

func newFakeSodRepo() *fakeSodRepo {
	return &fakeSodRepo{rules: map[uuid.UUID]*model.SodRule{}}
}

func (f *fakeSodRepo) Create(_ context.Context, rule *model.SodRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	stored := *rule
	f.rules[rule.ID] = &stored
	return nil
}

func (f *fakeSodRepo) Update(_ context.Context, rule *model.SodRule) error {
	if _, ok := f.rules[rule.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *rule
	f.rules[rule.ID] = &stored
	return nil
}

func (f *fakeSodRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.rules, id)
	return nil
}

func (f *fakeSodRepo) FindByID(_ context.Context, id uuid.UUID) (*model.SodRule, error) {
	rule, ok := f.rules[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rule
	return &cp, nil
}

func (f *fakeSodRepo) ListActive(_ context.Context) ([]model.SodRule, error) {
	var out []model.SodRule
	for _, rule := range f.rules {
		if rule.IsActive {
			out = append(out, *rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeSodRepo) ListAll(_ context.Context) ([]model.SodRule, error) {
	out := make([]model.SodRule, 0, len(f.rules))
	for _, rule := range f.rules {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
