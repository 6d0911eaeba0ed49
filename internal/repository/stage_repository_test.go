package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
)

func TestOperationalUpdateRepositoryCreateNumberTaken(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewOperationalUpdateRepository(db)

	mock.ExpectQuery("INSERT INTO dref_operational_updates").
		WillReturnError(&pq.Error{Code: "23505", Constraint: operationalUpdateNumberConstraint})

	err := repo.Create(context.Background(), nil, &models.OperationalUpdate{DrefID: 1, OperationalUpdateNumber: 2})
	assert.ErrorIs(t, err, ErrOperationalUpdateNumber)
}

func TestOperationalUpdateRepositoryCreateRequiresNumber(t *testing.T) {
	db, _, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewOperationalUpdateRepository(db)

	err := repo.Create(context.Background(), nil, &models.OperationalUpdate{DrefID: 1})
	assert.Error(t, err)
}

func TestOperationalUpdateRepositoryLatest(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewOperationalUpdateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ou.operational_update_number DESC LIMIT 1")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "dref_id", "operational_update_number", "total_dref_allocation"}).
			AddRow(int64(20), int64(4), 3, "150000.50"))

	update, err := repo.Latest(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, update.OperationalUpdateNumber)
	require.True(t, update.TotalDrefAllocation.Valid)
	assert.Equal(t, "150000.5", update.TotalDrefAllocation.Decimal.String())
}

func TestOperationalUpdateRepositoryLatestNone(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewOperationalUpdateRepository(db)

	mock.ExpectQuery("FROM dref_operational_updates ou").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Latest(context.Background(), nil, 4)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestOperationalUpdateRepositoryListByAppealCodeScoped(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewOperationalUpdateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE ou.dref_id IN (SELECT cd.id FROM drefs cd WHERE cd.appeal_code = $1)")).
		WithArgs("MDR1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "operational_update_number"}).AddRow(int64(1), 1).AddRow(int64(2), 2))

	updates, err := repo.ListByAppealCode(context.Background(), "MDR1", models.AccessScope{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, 2, updates[1].OperationalUpdateNumber)
}

func TestFinalReportRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewFinalReportRepository(db)

	mock.ExpectQuery("INSERT INTO dref_final_reports").
		WillReturnError(&pq.Error{Code: "23505", Constraint: finalReportDrefConstraint})

	err := repo.Create(context.Background(), nil, &models.FinalReport{DrefID: 3})
	assert.ErrorIs(t, err, ErrFinalReportAlreadyExists)
}

func TestFinalReportRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewFinalReportRepository(db)

	mock.ExpectQuery("INSERT INTO dref_final_reports").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

	report := &models.FinalReport{DrefID: 3}
	require.NoError(t, repo.Create(context.Background(), nil, report))
	assert.Equal(t, int64(8), report.ID)
}

func TestFinalReportRepositoryGetByDref(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewFinalReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dref_final_reports fr WHERE fr.dref_id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "dref_id", "financial_report_description"}).AddRow(int64(8), int64(3), "spent"))

	report, err := repo.GetByDref(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, "spent", report.FinancialReportText)
}

func TestSharingRepositoryListUsersGroupsByRecord(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewSharingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dref_operational_update_users WHERE operational_update_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "user_id"}).
			AddRow(int64(1), "a").AddRow(int64(1), "b").AddRow(int64(2), "c"))

	users, err := repo.ListUsers(context.Background(), models.RecordKindOperationalUpdate, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, users[1])
	assert.Equal(t, []string{"c"}, users[2])
	assert.Empty(t, users[3])
}

func TestSharingRepositoryListUsersNoIDs(t *testing.T) {
	db, _, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewSharingRepository(db)

	users, err := repo.ListUsers(context.Background(), models.RecordKindDref, nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSharingRepositoryReplaceChain(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewSharingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM drefs WHERE id = $1 FOR UPDATE")).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dref_users WHERE dref_id = $1")).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dref_users (dref_id, user_id)")).WithArgs(int64(5), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dref_operational_updates WHERE dref_id = $1")).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dref_operational_update_users WHERE operational_update_id = $1")).WithArgs(int64(11)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dref_operational_update_users")).WithArgs(int64(11), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dref_final_reports WHERE dref_id = $1")).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceChain(context.Background(), 5, []string{"alice", "bob"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSharingRepositoryReplaceChainRollsBack(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewSharingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec("DELETE FROM dref_users").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ReplaceChain(context.Background(), 5, []string{"alice"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSharingRepositoryReplaceChainMissingDref(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewSharingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.ReplaceChain(context.Background(), 5, []string{"alice"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSharingRepositoryUsersOfReadsThroughTransaction(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewSharingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM dref_operational_update_users WHERE operational_update_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "user_id"}).AddRow(int64(11), "alice"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM dref_users WHERE dref_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "user_id"}))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	users, err := repo.UsersOf(context.Background(), tx, models.RecordKindOperationalUpdate, 11)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	users, err = repo.UsersOf(context.Background(), tx, models.RecordKindDref, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{}, users)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrivilegeRepositoryAdminRegionIDs(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewPrivilegeRepository(db)

	mock.ExpectQuery("FROM user_region_privileges").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"region_id"}).AddRow(int64(1)).AddRow(int64(3)))

	regions, err := repo.AdminRegionIDs(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, regions)
}

func TestAuditRepositoryCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newDrefRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AuditLog{Action: models.AuditActionDrefCreate, Resource: "dref"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
}
