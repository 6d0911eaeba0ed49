package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/dref-api/internal/models"
)

type usersTable struct {
	table string
	fk    string
}

var sharingTables = map[models.RecordKind]usersTable{
	models.RecordKindDref:              {table: "dref_users", fk: "dref_id"},
	models.RecordKindOperationalUpdate: {table: "dref_operational_update_users", fk: "operational_update_id"},
	models.RecordKindFinalReport:       {table: "dref_final_report_users", fk: "final_report_id"},
}

// SharingRepository stores the per-stage user sharing lists.
type SharingRepository struct {
	db *sqlx.DB
}

// NewSharingRepository constructs the repository.
func NewSharingRepository(db *sqlx.DB) *SharingRepository {
	return &SharingRepository{db: db}
}

func (r *SharingRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

func tableFor(kind models.RecordKind) (usersTable, error) {
	t, ok := sharingTables[kind]
	if !ok {
		return usersTable{}, fmt.Errorf("unknown record kind %q", kind)
	}
	return t, nil
}

// ListUsers returns the sharing list of each record id of the given kind.
func (r *SharingRepository) ListUsers(ctx context.Context, kind models.RecordKind, ids []int64) (map[int64][]string, error) {
	return r.listUsers(ctx, r.db, kind, ids)
}

// UsersOf returns the sharing list of one record, read through exec so a transaction that
// holds the chain lock sees the list a concurrent share left behind.
func (r *SharingRepository) UsersOf(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64) ([]string, error) {
	lists, err := r.listUsers(ctx, r.exec(exec), kind, []int64{id})
	if err != nil {
		return nil, err
	}
	if users := lists[id]; users != nil {
		return users, nil
	}
	return []string{}, nil
}

func (r *SharingRepository) listUsers(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %[2]s AS record_id, user_id FROM %[1]s WHERE %[2]s = ANY($1) ORDER BY %[2]s, user_id", t.table, t.fk)
	var rows []struct {
		RecordID int64  `db:"record_id"`
		UserID   string `db:"user_id"`
	}
	if err := sqlx.SelectContext(ctx, exec, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list %s: %w", t.table, err)
	}
	for _, row := range rows {
		out[row.RecordID] = append(out[row.RecordID], row.UserID)
	}
	return out, nil
}

// Replace overwrites the sharing list of one record.
func (r *SharingRepository) Replace(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64, users []string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	target := r.exec(exec)
	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t.table, t.fk)
	if _, err := target.ExecContext(ctx, deleteQuery, id); err != nil {
		return fmt.Errorf("clear %s: %w", t.table, err)
	}
	if len(users) == 0 {
		return nil
	}
	insertQuery := fmt.Sprintf(`INSERT INTO %s (%s, user_id) SELECT $1, u FROM UNNEST($2::text[]) AS u
	ON CONFLICT DO NOTHING`, t.table, t.fk)
	if _, err := target.ExecContext(ctx, insertQuery, id, pq.Array(users)); err != nil {
		return fmt.Errorf("insert %s: %w", t.table, err)
	}
	return nil
}

// ReplaceChain writes the same sharing list onto the application, every operational
// update and the final report of a chain inside one transaction. The application row is
// locked first, the same lock stage creation takes, so a new stage either sees the new
// list or is covered by it.
func (r *SharingRepository) ReplaceChain(ctx context.Context, drefID int64, users []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin share tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int64
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM drefs WHERE id = $1 FOR UPDATE`, drefID); err != nil {
		return fmt.Errorf("lock dref %d: %w", drefID, err)
	}
	if err = r.Replace(ctx, tx, models.RecordKindDref, drefID, users); err != nil {
		return err
	}

	var updateIDs []int64
	if err = tx.SelectContext(ctx, &updateIDs, `SELECT id FROM dref_operational_updates WHERE dref_id = $1 ORDER BY operational_update_number`, drefID); err != nil {
		return fmt.Errorf("list chain operational updates: %w", err)
	}
	for _, id := range updateIDs {
		if err = r.Replace(ctx, tx, models.RecordKindOperationalUpdate, id, users); err != nil {
			return err
		}
	}

	var reportIDs []int64
	if err = tx.SelectContext(ctx, &reportIDs, `SELECT id FROM dref_final_reports WHERE dref_id = $1`, drefID); err != nil {
		return fmt.Errorf("list chain final reports: %w", err)
	}
	for _, id := range reportIDs {
		if err = r.Replace(ctx, tx, models.RecordKindFinalReport, id, users); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit share tx: %w", err)
	}
	return nil
}
