package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/dref-api/internal/models"
)

const finalReportDrefConstraint = "dref_final_reports_dref_id_key"

var (
	finalReportOwnColumns = []string{
		"dref_id", "status", "is_published", "date_of_approval", "total_dref_allocation",
		"operation_start_date", "operation_end_date", "financial_report_description",
	}
	finalReportEditableColumns = joinColumns(carryForwardColumns, sharedCollectionColumns, []string{
		"translation_module_original_language",
		"operation_start_date", "operation_end_date", "financial_report_description",
	})
	finalReportInsertColumns = joinColumns(carryForwardColumns, sharedCollectionColumns, translationColumns, auditColumns, finalReportOwnColumns)
	finalReportSelectColumns = joinColumns([]string{"id"}, finalReportInsertColumns)
)

// FinalReportRepository persists final reports, at most one per application.
type FinalReportRepository struct {
	db *sqlx.DB
}

// NewFinalReportRepository constructs the repository.
func NewFinalReportRepository(db *sqlx.DB) *FinalReportRepository {
	return &FinalReportRepository{db: db}
}

func (r *FinalReportRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a final report; a second report for the same dref yields ErrFinalReportAlreadyExists.
func (r *FinalReportRepository) Create(ctx context.Context, exec sqlx.ExtContext, report *models.FinalReport) error {
	if report.DrefID == 0 {
		return fmt.Errorf("dref_id is required")
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = clock()
	}
	report.CreatedAt = stamp(report.CreatedAt)
	report.ModifiedAt = report.CreatedAt
	rows, err := sqlx.NamedQueryContext(ctx, r.exec(exec), namedInsert("dref_final_reports", finalReportInsertColumns), report)
	if err != nil {
		if isUniqueViolation(err, finalReportDrefConstraint) {
			return ErrFinalReportAlreadyExists
		}
		return fmt.Errorf("insert final report: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	if !rows.Next() {
		return fmt.Errorf("insert final report: no id returned")
	}
	if err := rows.Scan(&report.ID); err != nil {
		return fmt.Errorf("scan final report id: %w", err)
	}
	return rows.Err()
}

// GetByID loads a final report.
func (r *FinalReportRepository) GetByID(ctx context.Context, id int64) (*models.FinalReport, error) {
	query := fmt.Sprintf("SELECT %s FROM dref_final_reports fr WHERE fr.id = $1", selectList("fr", finalReportSelectColumns))
	var report models.FinalReport
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetByDref loads the final report of an application; sql.ErrNoRows when none exists.
func (r *FinalReportRepository) GetByDref(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.FinalReport, error) {
	query := fmt.Sprintf("SELECT %s FROM dref_final_reports fr WHERE fr.dref_id = $1", selectList("fr", finalReportSelectColumns))
	var report models.FinalReport
	if err := sqlx.GetContext(ctx, r.exec(exec), &report, query, drefID); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListByAppealCode returns the visible final reports of every dref carrying code.
func (r *FinalReportRepository) ListByAppealCode(ctx context.Context, code string, scope models.AccessScope) ([]models.FinalReport, error) {
	args := &queryArgs{}
	codeParam := args.add(code)
	preds := newScopePredicates(scope, args)
	query := fmt.Sprintf(`SELECT %s FROM dref_final_reports fr
	WHERE fr.dref_id IN (SELECT cd.id FROM drefs cd WHERE cd.appeal_code = %s)`,
		selectList("fr", finalReportSelectColumns), codeParam)
	if clause := preds.finalReport("fr"); clause != "" {
		query += " AND " + clause
	}
	query += " ORDER BY fr.created_at, fr.id"
	var reports []models.FinalReport
	if err := r.db.SelectContext(ctx, &reports, query, args.values...); err != nil {
		return nil, fmt.Errorf("list final reports by appeal code: %w", err)
	}
	return reports, nil
}

// Update persists editable fields guarded by the caller's last-read modification time.
func (r *FinalReportRepository) Update(ctx context.Context, exec sqlx.ExtContext, report *models.FinalReport, expected time.Time) error {
	report.ModifiedAt = stamp(clock())
	query := fmt.Sprintf(`UPDATE dref_final_reports SET %s, status = :status, modified_by = :modified_by, modified_at = :modified_at
	WHERE id = :id AND modified_at <= :expected_modified_at`, namedSet(finalReportEditableColumns))
	args, err := namedArgs(report, map[string]interface{}{"expected_modified_at": expected})
	if err != nil {
		return err
	}
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, args)
	if err != nil {
		return fmt.Errorf("update final report: %w", err)
	}
	return expectOneRow(result, "update final report")
}

// UpdateStatus applies a guarded lifecycle transition.
func (r *FinalReportRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params TransitionParams) error {
	return updateStageStatus(ctx, r.exec(exec), "dref_final_reports", params)
}
