package repository

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/reflectx"
	"github.com/lib/pq"
)

// Column groups mirror the embedded structs in models so every stage table
// stays in step with models.CarryForward.
var (
	carryForwardColumns = []string{
		"title", "appeal_code", "glide_code", "country_id",
		"national_society_contact_name", "national_society_contact_email", "national_society_contact_title", "national_society_contact_phone_number",
		"ifrc_appeal_manager_name", "ifrc_appeal_manager_email", "ifrc_appeal_manager_title", "ifrc_appeal_manager_phone_number",
		"ifrc_project_manager_name", "ifrc_project_manager_email", "ifrc_project_manager_title", "ifrc_project_manager_phone_number",
		"ifrc_emergency_name", "ifrc_emergency_email", "ifrc_emergency_title", "ifrc_emergency_phone_number",
		"media_contact_name", "media_contact_email", "media_contact_title", "media_contact_phone_number",
		"num_affected", "people_in_need", "total_targeted_population", "women", "men", "girls", "boys",
		"disability_people_per", "people_per_urban", "people_per_local", "displaced_people", "people_targeted_with_early_actions",
		"event_description", "operation_objective", "response_strategy", "people_assisted", "selection_criteria",
		"ifrc", "icrc", "partner_national_society", "un_or_other_actor", "major_coordination_mechanism",
	}
	sharedCollectionColumns = []string{"planned_intervention_ids", "image_ids", "national_society_action_ids", "needs_identified_ids"}
	translationColumns      = []string{"translation_module_original_language", "translation_module_pending"}
	auditColumns            = []string{"created_by", "modified_by", "created_at", "modified_at"}
)

func joinColumns(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]string, 0, total)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// selectList renders "alias.col, alias.col" for SELECT clauses.
func selectList(alias string, columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = alias + "." + col
	}
	return strings.Join(parts, ", ")
}

// namedInsert renders an INSERT with named parameters returning the new id.
func namedInsert(table string, columns []string) string {
	params := make([]string, len(columns))
	for i, col := range columns {
		params[i] = ":" + col
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(columns, ", "), strings.Join(params, ", "))
}

// namedSet renders "col = :col" assignments for UPDATE statements.
func namedSet(columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s = :%s", col, col)
	}
	return strings.Join(parts, ", ")
}

// queryArgs accumulates positional arguments and hands out their placeholders.
type queryArgs struct {
	values []interface{}
}

func (a *queryArgs) add(v interface{}) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// clock is swapped in tests.
var clock = time.Now

// stamp returns t in UTC at the microsecond resolution TIMESTAMPTZ keeps, so the
// value handed back to callers equals the stored one.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

const uniqueViolation = "23505"

// isUniqueViolation reports a Postgres unique constraint failure, optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func int64Array(ids []int64) interface{} {
	return pq.Int64Array(ids)
}

// namedArgs flattens a db-tagged record into named parameters and adds extra ones.
func namedArgs(record interface{}, extra map[string]interface{}) (map[string]interface{}, error) {
	value := reflect.ValueOf(record)
	if reflect.Indirect(value).Kind() != reflect.Struct {
		return nil, fmt.Errorf("named args: %T is not a struct", record)
	}
	fields := namedMapper.FieldMap(value)
	out := make(map[string]interface{}, len(fields)+len(extra))
	for name, field := range fields {
		out[name] = field.Interface()
	}
	for name, v := range extra {
		out[name] = v
	}
	return out, nil
}

var namedMapper = reflectx.NewMapperFunc("db", strings.ToLower)
