package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
	"github.com/noah-isme/dref-api/internal/repository"
)

// chainStore is an in-memory stand-in for the three stage tables and their sharing lists.
type chainStore struct {
	mu      sync.Mutex
	clock   time.Time
	nextID  int64
	drefs   map[int64]*models.Dref
	updates map[int64]*models.OperationalUpdate
	reports map[int64]*models.FinalReport
	users   map[models.RecordKind]map[int64][]string
	regions map[int64]int64
	admins  map[string][]int64
	// txUserReads counts sharing list reads made inside a transaction.
	txUserReads int
}

func newChainStore() *chainStore {
	return &chainStore{
		clock:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		drefs:   map[int64]*models.Dref{},
		updates: map[int64]*models.OperationalUpdate{},
		reports: map[int64]*models.FinalReport{},
		users: map[models.RecordKind]map[int64][]string{
			models.RecordKindDref:              {},
			models.RecordKindOperationalUpdate: {},
			models.RecordKindFinalReport:       {},
		},
		regions: map[int64]int64{},
		admins:  map[string][]int64{},
	}
}

func (s *chainStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *chainStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *chainStore) dref(id int64) models.Dref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.drefs[id]
}

func (s *chainStore) update(id int64) models.OperationalUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.updates[id]
}

func (s *chainStore) usersOf(kind models.RecordKind, id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users[kind][id]...)
}

func statusIn(status models.DrefStatus, from []models.DrefStatus) bool {
	for _, candidate := range from {
		if candidate == status {
			return true
		}
	}
	return false
}

func transitionMatches(status models.DrefStatus, modifiedAt time.Time, params repository.TransitionParams) bool {
	if !statusIn(status, params.From) {
		return false
	}
	return params.ExpectedModifiedAt == nil || !modifiedAt.After(*params.ExpectedModifiedAt)
}

type drefRepoStub struct{ *chainStore }

func (r drefRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, dref *models.Dref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code := normalizeAppealCode(dref.AppealCode); code != "" {
		for _, existing := range r.drefs {
			if normalizeAppealCode(existing.AppealCode) == code {
				return repository.ErrAppealCodeTaken
			}
		}
	}
	dref.ID = r.id()
	dref.CreatedAt = r.tick()
	dref.ModifiedAt = dref.CreatedAt
	stored := *dref
	r.drefs[dref.ID] = &stored
	return nil
}

func (r drefRepoStub) GetByID(ctx context.Context, id int64) (*models.Dref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dref, ok := r.drefs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *dref
	return &copied, nil
}

func (r drefRepoStub) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Dref, error) {
	return r.GetByID(ctx, id)
}

func (r drefRepoStub) Update(ctx context.Context, exec sqlx.ExtContext, dref *models.Dref, expected time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.drefs[dref.ID]
	if !ok || stored.ModifiedAt.After(expected) {
		return sql.ErrNoRows
	}
	dref.ModifiedAt = r.tick()
	copied := *dref
	r.drefs[dref.ID] = &copied
	return nil
}

func (r drefRepoStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.drefs[params.ID]
	if !ok || !transitionMatches(stored.Status, stored.ModifiedAt, params) {
		return sql.ErrNoRows
	}
	stored.Status = params.To
	stored.IsPublished = params.IsPublished
	stored.ModifiedAt = r.tick()
	if params.OriginalLanguage != "" {
		stored.OriginalLanguage = params.OriginalLanguage
	}
	if params.DateOfApproval != nil {
		stored.DateOfApproval = params.DateOfApproval
	}
	return nil
}

func (r drefRepoStub) MarkFinalReportCreated(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drefs[id].IsFinalReportCreated = true
	return nil
}

func (r drefRepoStub) Deactivate(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drefs[id].IsActive = false
	return nil
}

func (r drefRepoStub) Membership(ctx context.Context, drefID int64) (*models.ChainMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dref, ok := r.drefs[drefID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	membership := &models.ChainMembership{
		DrefID:    drefID,
		CreatedBy: dref.CreatedBy,
		DrefUsers: r.users[models.RecordKindDref][drefID],
	}
	if region, ok := r.regions[drefID]; ok {
		membership.RegionID = &region
	}
	latest := 0
	for _, update := range r.updates {
		if update.DrefID == drefID && update.OperationalUpdateNumber > latest {
			latest = update.OperationalUpdateNumber
			membership.LatestUpdateUsers = r.users[models.RecordKindOperationalUpdate][update.ID]
		}
	}
	for _, report := range r.reports {
		if report.DrefID == drefID {
			membership.FinalReportUsers = r.users[models.RecordKindFinalReport][report.ID]
		}
	}
	return membership, nil
}

type updateRepoStub struct{ *chainStore }

func (r updateRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, update *models.OperationalUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.updates {
		if existing.DrefID == update.DrefID && existing.OperationalUpdateNumber == update.OperationalUpdateNumber {
			return repository.ErrOperationalUpdateNumber
		}
	}
	update.ID = r.id()
	update.CreatedAt = r.tick()
	update.ModifiedAt = update.CreatedAt
	stored := *update
	r.updates[update.ID] = &stored
	return nil
}

func (r updateRepoStub) GetByID(ctx context.Context, id int64) (*models.OperationalUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update, ok := r.updates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *update
	return &copied, nil
}

func (r updateRepoStub) Latest(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.OperationalUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.OperationalUpdate
	for _, update := range r.updates {
		if update.DrefID == drefID && (latest == nil || update.OperationalUpdateNumber > latest.OperationalUpdateNumber) {
			latest = update
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (r updateRepoStub) Update(ctx context.Context, exec sqlx.ExtContext, update *models.OperationalUpdate, expected time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.updates[update.ID]
	if !ok || stored.ModifiedAt.After(expected) {
		return sql.ErrNoRows
	}
	update.ModifiedAt = r.tick()
	copied := *update
	r.updates[update.ID] = &copied
	return nil
}

func (r updateRepoStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.updates[params.ID]
	if !ok || !transitionMatches(stored.Status, stored.ModifiedAt, params) {
		return sql.ErrNoRows
	}
	stored.Status = params.To
	stored.IsPublished = params.IsPublished
	stored.ModifiedAt = r.tick()
	if params.OriginalLanguage != "" {
		stored.OriginalLanguage = params.OriginalLanguage
	}
	return nil
}

type reportRepoStub struct{ *chainStore }

func (r reportRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, report *models.FinalReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reports {
		if existing.DrefID == report.DrefID {
			return repository.ErrFinalReportAlreadyExists
		}
	}
	report.ID = r.id()
	report.CreatedAt = r.tick()
	report.ModifiedAt = report.CreatedAt
	stored := *report
	r.reports[report.ID] = &stored
	return nil
}

func (r reportRepoStub) GetByID(ctx context.Context, id int64) (*models.FinalReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *report
	return &copied, nil
}

func (r reportRepoStub) GetByDref(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.FinalReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, report := range r.reports {
		if report.DrefID == drefID {
			copied := *report
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r reportRepoStub) Update(ctx context.Context, exec sqlx.ExtContext, report *models.FinalReport, expected time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reports[report.ID]
	if !ok || stored.ModifiedAt.After(expected) {
		return sql.ErrNoRows
	}
	report.ModifiedAt = r.tick()
	copied := *report
	r.reports[report.ID] = &copied
	return nil
}

func (r reportRepoStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reports[params.ID]
	if !ok || !transitionMatches(stored.Status, stored.ModifiedAt, params) {
		return sql.ErrNoRows
	}
	stored.Status = params.To
	stored.IsPublished = params.IsPublished
	stored.ModifiedAt = r.tick()
	if params.DateOfApproval != nil {
		stored.DateOfApproval = params.DateOfApproval
	}
	return nil
}

type sharingRepoStub struct{ *chainStore }

func (r sharingRepoStub) UsersOf(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exec != nil {
		r.txUserReads++
	}
	return append([]string{}, r.users[kind][id]...), nil
}

func (r sharingRepoStub) Replace(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64, users []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replace(kind, id, users)
	return nil
}

func (r sharingRepoStub) replace(kind models.RecordKind, id int64, users []string) {
	sorted := append([]string(nil), users...)
	sort.Strings(sorted)
	r.users[kind][id] = sorted
}

func (r sharingRepoStub) ReplaceChain(ctx context.Context, drefID int64, users []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replace(models.RecordKindDref, drefID, users)
	for id, update := range r.updates {
		if update.DrefID == drefID {
			r.replace(models.RecordKindOperationalUpdate, id, users)
		}
	}
	for id, report := range r.reports {
		if report.DrefID == drefID {
			r.replace(models.RecordKindFinalReport, id, users)
		}
	}
	return nil
}

type privilegeStub struct{ *chainStore }

func (p privilegeStub) AdminRegionIDs(ctx context.Context, userID string) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admins[userID], nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, log := range a.logs {
		out[i] = log.Action
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (e *eventRecorder) Emit(ctx context.Context, event models.LifecycleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventRecorder) types() []models.LifecycleEventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.LifecycleEventType, len(e.events))
	for i, event := range e.events {
		out[i] = event.Type
	}
	return out
}

type metricsRecorder struct {
	mu          sync.Mutex
	transitions []models.DrefStatus
	stale       int
}

func (m *metricsRecorder) RecordTransition(kind models.RecordKind, to models.DrefStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *metricsRecorder) RecordStaleWrite(kind models.RecordKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

type drefTxProvider struct {
	db *sqlx.DB
}

func (p *drefTxProvider) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

// drefHarness wires the three record services over one chainStore.
type drefHarness struct {
	store   *chainStore
	mock    sqlmock.Sqlmock
	audit   *auditRecorder
	events  *eventRecorder
	metrics *metricsRecorder
	drefs   *DrefService
	updates *OperationalUpdateService
	reports *FinalReportService
}

const (
	testRegion   int64 = 7
	ownerID            = "owner-1"
	regionAdmin        = "region-admin"
	superAdminID       = "root"
)

func newDrefHarness(t *testing.T) *drefHarness {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tx := &drefTxProvider{db: sqlx.NewDb(db, "sqlmock")}

	store := newChainStore()
	store.admins[regionAdmin] = []int64{testRegion}
	h := &drefHarness{
		store:   store,
		mock:    mock,
		audit:   &auditRecorder{},
		events:  &eventRecorder{},
		metrics: &metricsRecorder{},
	}
	support := &StageSupport{
		Access:      NewAccessPolicy(privilegeStub{store}, nil),
		Memberships: drefRepoStub{store},
		Sharing:     sharingRepoStub{store},
		Lifecycle:   NewLifecycle("en", nil),
		Guard:       NewConcurrencyGuard(h.metrics),
		Audit:       h.audit,
		Events:      h.events,
		Metrics:     h.metrics,
	}
	carry := NewCarryForwardEngine()
	h.drefs = NewDrefService(drefRepoStub{store}, tx, support, nil)
	h.updates = NewOperationalUpdateService(updateRepoStub{store}, drefRepoStub{store}, tx, carry, support, nil)
	h.reports = NewFinalReportService(reportRepoStub{store}, drefRepoStub{store}, updateRepoStub{store}, tx, carry, support, nil)
	return h
}

// expectCommits queues n successful transactions on the mock.
func (h *drefHarness) expectCommits(n int) {
	for i := 0; i < n; i++ {
		h.mock.ExpectBegin()
		h.mock.ExpectCommit()
	}
}

func (h *drefHarness) expectRollback() {
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
}

func owner() *models.JWTClaims {
	return &models.JWTClaims{UserID: ownerID, Role: models.RoleStaff}
}

func admin() *models.JWTClaims {
	return &models.JWTClaims{UserID: regionAdmin, Role: models.RoleStaff}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
