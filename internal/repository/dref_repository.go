package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/dref-api/internal/models"
)

// Sentinel errors surfaced by the stage repositories.
var (
	ErrAppealCodeTaken          = errors.New("appeal code already used by another dref")
	ErrOperationalUpdateNumber  = errors.New("operational update number already assigned")
	ErrFinalReportAlreadyExists = errors.New("final report already exists for dref")
)

var (
	drefOwnColumns = []string{
		"type_of_dref", "status", "is_published", "is_active", "is_final_report_created",
		"amount_requested", "operation_timeframe",
		"event_date", "ns_respond_date", "government_requested_assistance_date", "ns_request_date",
		"submission_to_geneva", "date_of_approval", "publishing_date", "hazard_date", "end_date",
	}
	drefEditableColumns = joinColumns(carryForwardColumns, sharedCollectionColumns, []string{
		"translation_module_original_language",
		"type_of_dref", "amount_requested", "operation_timeframe",
		"event_date", "ns_respond_date", "government_requested_assistance_date", "ns_request_date",
		"submission_to_geneva", "publishing_date", "hazard_date", "end_date",
	})
	drefInsertColumns = joinColumns(carryForwardColumns, sharedCollectionColumns, translationColumns, auditColumns, drefOwnColumns)
	drefSelectColumns = joinColumns([]string{"id"}, drefInsertColumns)
)

// TransitionParams describes a guarded status change.
type TransitionParams struct {
	ID               int64
	From             []models.DrefStatus
	To               models.DrefStatus
	IsPublished      bool
	OriginalLanguage string
	DateOfApproval   *time.Time
	ModifiedBy       string
	ModifiedAt       time.Time
	// ExpectedModifiedAt, when set, rejects the change if the row moved on.
	ExpectedModifiedAt *time.Time
}

// DrefRepository persists DREF applications.
type DrefRepository struct {
	db *sqlx.DB
}

// NewDrefRepository constructs the repository.
func NewDrefRepository(db *sqlx.DB) *DrefRepository {
	return &DrefRepository{db: db}
}

func (r *DrefRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts an application and assigns its id.
func (r *DrefRepository) Create(ctx context.Context, exec sqlx.ExtContext, dref *models.Dref) error {
	if dref.CreatedAt.IsZero() {
		dref.CreatedAt = clock()
	}
	dref.CreatedAt = stamp(dref.CreatedAt)
	dref.ModifiedAt = dref.CreatedAt
	rows, err := sqlx.NamedQueryContext(ctx, r.exec(exec), namedInsert("drefs", drefInsertColumns), dref)
	if err != nil {
		if isUniqueViolation(err, "drefs_appeal_code_key") {
			return ErrAppealCodeTaken
		}
		return fmt.Errorf("insert dref: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	if !rows.Next() {
		return fmt.Errorf("insert dref: no id returned")
	}
	if err := rows.Scan(&dref.ID); err != nil {
		return fmt.Errorf("scan dref id: %w", err)
	}
	return rows.Err()
}

// GetByID loads an application.
func (r *DrefRepository) GetByID(ctx context.Context, id int64) (*models.Dref, error) {
	query := fmt.Sprintf("SELECT %s FROM drefs d WHERE d.id = $1", selectList("d", drefSelectColumns))
	var dref models.Dref
	if err := r.db.GetContext(ctx, &dref, query, id); err != nil {
		return nil, err
	}
	return &dref, nil
}

// GetForUpdate loads an application and locks its row until the transaction ends.
func (r *DrefRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Dref, error) {
	query := fmt.Sprintf("SELECT %s FROM drefs d WHERE d.id = $1 FOR UPDATE", selectList("d", drefSelectColumns))
	var dref models.Dref
	if err := tx.GetContext(ctx, &dref, query, id); err != nil {
		return nil, err
	}
	return &dref, nil
}

// Update persists editable fields when the stored row is not newer than expected.
// sql.ErrNoRows means the row is missing or was modified after expected.
func (r *DrefRepository) Update(ctx context.Context, exec sqlx.ExtContext, dref *models.Dref, expected time.Time) error {
	dref.ModifiedAt = stamp(clock())
	query := fmt.Sprintf(`UPDATE drefs SET %s, status = :status, modified_by = :modified_by, modified_at = :modified_at
	WHERE id = :id AND modified_at <= :expected_modified_at`, namedSet(drefEditableColumns))
	args, err := namedArgs(dref, map[string]interface{}{"expected_modified_at": expected})
	if err != nil {
		return err
	}
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, args)
	if err != nil {
		if isUniqueViolation(err, "drefs_appeal_code_key") {
			return ErrAppealCodeTaken
		}
		return fmt.Errorf("update dref: %w", err)
	}
	return expectOneRow(result, "update dref")
}

// UpdateStatus applies a guarded lifecycle transition.
func (r *DrefRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params TransitionParams) error {
	return updateStageStatus(ctx, r.exec(exec), "drefs", params)
}

// MarkFinalReportCreated flags the chain as having a final report.
func (r *DrefRepository) MarkFinalReportCreated(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	const query = `UPDATE drefs SET is_final_report_created = TRUE WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark final report created: %w", err)
	}
	return expectOneRow(result, "mark final report created")
}

// Deactivate clears is_active once the chain is closed by an approved final report.
func (r *DrefRepository) Deactivate(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	const query = `UPDATE drefs SET is_active = FALSE WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate dref: %w", err)
	}
	return expectOneRow(result, "deactivate dref")
}

// ListByAppealCode returns the applications carrying code that are visible in scope.
func (r *DrefRepository) ListByAppealCode(ctx context.Context, code string, scope models.AccessScope) ([]models.Dref, error) {
	args := &queryArgs{}
	codeParam := args.add(code)
	preds := newScopePredicates(scope, args)
	query := fmt.Sprintf("SELECT %s FROM drefs d WHERE d.appeal_code = %s", selectList("d", drefSelectColumns), codeParam)
	if clause := preds.dref("d"); clause != "" {
		query += " AND " + clause
	}
	query += " ORDER BY d.created_at, d.id"
	var drefs []models.Dref
	if err := r.db.SelectContext(ctx, &drefs, query, args.values...); err != nil {
		return nil, fmt.Errorf("list drefs by appeal code: %w", err)
	}
	return drefs, nil
}

// ListAppealCodes returns one page of distinct, non-blank appeal codes matching filter and scope,
// newest chain first, together with the total number of matching codes.
func (r *DrefRepository) ListAppealCodes(ctx context.Context, filter models.AppealCodeFilter, scope models.AccessScope) ([]string, int, error) {
	args := &queryArgs{}
	conditions := []string{"d.appeal_code IS NOT NULL", "d.appeal_code <> ''"}

	if filter.AppealCodePrefix != "" {
		conditions = append(conditions, fmt.Sprintf("d.appeal_code ILIKE %s", args.add(escapeLike(filter.AppealCodePrefix)+"%")))
	}
	for _, field := range models.DrefDateFields {
		rng, ok := filter.DateRanges[field]
		if !ok {
			continue
		}
		if rng.From != nil {
			conditions = append(conditions, fmt.Sprintf("d.%s >= %s", field, args.add(*rng.From)))
		}
		if rng.To != nil {
			conditions = append(conditions, fmt.Sprintf("d.%s <= %s", field, args.add(*rng.To)))
		}
	}
	if filter.RegionID != nil {
		conditions = append(conditions, fmt.Sprintf("c.region_id = %s", args.add(*filter.RegionID)))
	}
	if filter.CountryISO3 != "" {
		conditions = append(conditions, fmt.Sprintf("UPPER(c.iso3) = %s", args.add(strings.ToUpper(filter.CountryISO3))))
	}
	if filter.AppealType != nil {
		conditions = append(conditions, fmt.Sprintf("d.type_of_dref = %s", args.add(*filter.AppealType)))
	}
	if filter.OperationStatus != nil {
		conditions = append(conditions, fmt.Sprintf("d.status = %s", args.add(*filter.OperationStatus)))
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("d.id = ANY(%s)", args.add(int64Array(filter.IDs))))
	}
	const hasUpdate = "EXISTS (SELECT 1 FROM dref_operational_updates sou WHERE sou.dref_id = d.id)"
	const hasReport = "EXISTS (SELECT 1 FROM dref_final_reports sfr WHERE sfr.dref_id = d.id)"
	switch filter.Stage {
	case models.ChainStageApplication:
		conditions = append(conditions, "NOT "+hasUpdate, "NOT "+hasReport)
	case models.ChainStageOperationalUpdate:
		conditions = append(conditions, hasUpdate, "NOT "+hasReport)
	case models.ChainStageFinalReport:
		conditions = append(conditions, hasReport)
	}
	if clause := newScopePredicates(scope, args).dref("d"); clause != "" {
		conditions = append(conditions, clause)
	}

	from := " FROM drefs d LEFT JOIN countries c ON c.id = d.country_id WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(DISTINCT d.appeal_code)"+from, args.values...); err != nil {
		return nil, 0, fmt.Errorf("count appeal codes: %w", err)
	}

	query := "SELECT d.appeal_code" + from + " GROUP BY d.appeal_code ORDER BY MAX(d.created_at) DESC, d.appeal_code" +
		fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	var codes []string
	if err := r.db.SelectContext(ctx, &codes, query, args.values...); err != nil {
		return nil, 0, fmt.Errorf("list appeal codes: %w", err)
	}
	return codes, total, nil
}

// Membership loads what the access policy needs to authorise a mutation on the chain.
func (r *DrefRepository) Membership(ctx context.Context, drefID int64) (*models.ChainMembership, error) {
	var head struct {
		ID        int64  `db:"id"`
		CreatedBy string `db:"created_by"`
		RegionID  *int64 `db:"region_id"`
	}
	const headQuery = `SELECT d.id, d.created_by, c.region_id FROM drefs d LEFT JOIN countries c ON c.id = d.country_id WHERE d.id = $1`
	if err := r.db.GetContext(ctx, &head, headQuery, drefID); err != nil {
		return nil, err
	}
	membership := &models.ChainMembership{DrefID: head.ID, CreatedBy: head.CreatedBy, RegionID: head.RegionID}

	const drefUsers = `SELECT user_id FROM dref_users WHERE dref_id = $1 ORDER BY user_id`
	if err := r.db.SelectContext(ctx, &membership.DrefUsers, drefUsers, drefID); err != nil {
		return nil, fmt.Errorf("load dref users: %w", err)
	}
	const latestUpdateUsers = `SELECT ouu.user_id FROM dref_operational_update_users ouu
	JOIN dref_operational_updates ou ON ou.id = ouu.operational_update_id
	WHERE ou.dref_id = $1
	AND ou.operational_update_number = (SELECT MAX(operational_update_number) FROM dref_operational_updates WHERE dref_id = $1)
	ORDER BY ouu.user_id`
	if err := r.db.SelectContext(ctx, &membership.LatestUpdateUsers, latestUpdateUsers, drefID); err != nil {
		return nil, fmt.Errorf("load operational update users: %w", err)
	}
	const finalReportUsers = `SELECT fru.user_id FROM dref_final_report_users fru
	JOIN dref_final_reports fr ON fr.id = fru.final_report_id
	WHERE fr.dref_id = $1 ORDER BY fru.user_id`
	if err := r.db.SelectContext(ctx, &membership.FinalReportUsers, finalReportUsers, drefID); err != nil {
		return nil, fmt.Errorf("load final report users: %w", err)
	}
	return membership, nil
}

func updateStageStatus(ctx context.Context, exec sqlx.ExtContext, table string, params TransitionParams) error {
	if params.ModifiedAt.IsZero() {
		params.ModifiedAt = clock()
	}
	params.ModifiedAt = stamp(params.ModifiedAt)
	args := &queryArgs{}
	sets := []string{
		fmt.Sprintf("status = %s", args.add(params.To)),
		fmt.Sprintf("is_published = %s", args.add(params.IsPublished)),
		fmt.Sprintf("modified_by = %s", args.add(params.ModifiedBy)),
		fmt.Sprintf("modified_at = %s", args.add(params.ModifiedAt)),
	}
	if params.OriginalLanguage != "" {
		sets = append(sets, fmt.Sprintf("translation_module_original_language = %s", args.add(params.OriginalLanguage)))
	}
	if params.DateOfApproval != nil {
		sets = append(sets, fmt.Sprintf("date_of_approval = %s", args.add(stamp(*params.DateOfApproval))))
	}
	from := make([]int64, len(params.From))
	for i, status := range params.From {
		from[i] = int64(status)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s AND status = ANY(%s)",
		table, strings.Join(sets, ", "), args.add(params.ID), args.add(int64Array(from)))
	if params.ExpectedModifiedAt != nil {
		query += fmt.Sprintf(" AND modified_at <= %s", args.add(*params.ExpectedModifiedAt))
	}
	result, err := exec.ExecContext(ctx, query, args.values...)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	return expectOneRow(result, "update "+table+" status")
}

func expectOneRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
