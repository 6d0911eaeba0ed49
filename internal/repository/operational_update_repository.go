package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/dref-api/internal/models"
)

const operationalUpdateNumberConstraint = "dref_operational_updates_dref_id_number_key"

var (
	operationalUpdateOwnColumns = []string{
		"dref_id", "operational_update_number", "status", "is_published",
		"additional_allocation", "dref_allocated_so_far", "total_dref_allocation",
		"new_operational_start_date", "new_operational_end_date", "reporting_timeframe",
		"changing_timeframe_operation", "summary_of_change",
	}
	operationalUpdateEditableColumns = joinColumns(carryForwardColumns, sharedCollectionColumns, []string{
		"translation_module_original_language",
		"additional_allocation", "total_dref_allocation",
		"new_operational_start_date", "new_operational_end_date", "reporting_timeframe",
		"changing_timeframe_operation", "summary_of_change",
	})
	operationalUpdateInsertColumns = joinColumns(carryForwardColumns, sharedCollectionColumns, translationColumns, auditColumns, operationalUpdateOwnColumns)
	operationalUpdateSelectColumns = joinColumns([]string{"id"}, operationalUpdateInsertColumns)
)

// OperationalUpdateRepository persists numbered operational updates.
type OperationalUpdateRepository struct {
	db *sqlx.DB
}

// NewOperationalUpdateRepository constructs the repository.
func NewOperationalUpdateRepository(db *sqlx.DB) *OperationalUpdateRepository {
	return &OperationalUpdateRepository{db: db}
}

func (r *OperationalUpdateRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts an update. The (dref_id, operational_update_number) unique constraint
// turns a lost numbering race into ErrOperationalUpdateNumber.
func (r *OperationalUpdateRepository) Create(ctx context.Context, exec sqlx.ExtContext, update *models.OperationalUpdate) error {
	if update.DrefID == 0 || update.OperationalUpdateNumber <= 0 {
		return fmt.Errorf("dref_id and operational_update_number are required")
	}
	if update.CreatedAt.IsZero() {
		update.CreatedAt = clock()
	}
	update.CreatedAt = stamp(update.CreatedAt)
	update.ModifiedAt = update.CreatedAt
	rows, err := sqlx.NamedQueryContext(ctx, r.exec(exec), namedInsert("dref_operational_updates", operationalUpdateInsertColumns), update)
	if err != nil {
		if isUniqueViolation(err, operationalUpdateNumberConstraint) {
			return ErrOperationalUpdateNumber
		}
		return fmt.Errorf("insert operational update: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	if !rows.Next() {
		return fmt.Errorf("insert operational update: no id returned")
	}
	if err := rows.Scan(&update.ID); err != nil {
		return fmt.Errorf("scan operational update id: %w", err)
	}
	return rows.Err()
}

// GetByID loads an update.
func (r *OperationalUpdateRepository) GetByID(ctx context.Context, id int64) (*models.OperationalUpdate, error) {
	query := fmt.Sprintf("SELECT %s FROM dref_operational_updates ou WHERE ou.id = $1", selectList("ou", operationalUpdateSelectColumns))
	var update models.OperationalUpdate
	if err := r.db.GetContext(ctx, &update, query, id); err != nil {
		return nil, err
	}
	return &update, nil
}

// Latest returns the highest-numbered update of a dref; sql.ErrNoRows when none exists.
func (r *OperationalUpdateRepository) Latest(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.OperationalUpdate, error) {
	query := fmt.Sprintf(`SELECT %s FROM dref_operational_updates ou WHERE ou.dref_id = $1
	ORDER BY ou.operational_update_number DESC LIMIT 1`, selectList("ou", operationalUpdateSelectColumns))
	var update models.OperationalUpdate
	if err := sqlx.GetContext(ctx, r.exec(exec), &update, query, drefID); err != nil {
		return nil, err
	}
	return &update, nil
}

// ListByAppealCode returns the visible updates of every dref carrying code, in chain order.
func (r *OperationalUpdateRepository) ListByAppealCode(ctx context.Context, code string, scope models.AccessScope) ([]models.OperationalUpdate, error) {
	args := &queryArgs{}
	codeParam := args.add(code)
	preds := newScopePredicates(scope, args)
	query := fmt.Sprintf(`SELECT %s FROM dref_operational_updates ou
	WHERE ou.dref_id IN (SELECT cd.id FROM drefs cd WHERE cd.appeal_code = %s)`,
		selectList("ou", operationalUpdateSelectColumns), codeParam)
	if clause := preds.operationalUpdate("ou"); clause != "" {
		query += " AND " + clause
	}
	query += " ORDER BY ou.dref_id, ou.operational_update_number"
	var updates []models.OperationalUpdate
	if err := r.db.SelectContext(ctx, &updates, query, args.values...); err != nil {
		return nil, fmt.Errorf("list operational updates by appeal code: %w", err)
	}
	return updates, nil
}

// Update persists editable fields guarded by the caller's last-read modification time.
func (r *OperationalUpdateRepository) Update(ctx context.Context, exec sqlx.ExtContext, update *models.OperationalUpdate, expected time.Time) error {
	update.ModifiedAt = stamp(clock())
	query := fmt.Sprintf(`UPDATE dref_operational_updates SET %s, status = :status, modified_by = :modified_by, modified_at = :modified_at
	WHERE id = :id AND modified_at <= :expected_modified_at`, namedSet(operationalUpdateEditableColumns))
	args, err := namedArgs(update, map[string]interface{}{"expected_modified_at": expected})
	if err != nil {
		return err
	}
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, args)
	if err != nil {
		return fmt.Errorf("update operational update: %w", err)
	}
	return expectOneRow(result, "update operational update")
}

// UpdateStatus applies a guarded lifecycle transition.
func (r *OperationalUpdateRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params TransitionParams) error {
	return updateStageStatus(ctx, r.exec(exec), "dref_operational_updates", params)
}
