package repository

import (
	"fmt"

	"github.com/lib/pq"

	"github.com/noah-isme/dref-api/internal/models"
)

// scopePredicates renders access-scope predicates for the three stage tables.
// Placeholders for the actor and regions are registered once and reused.
type scopePredicates struct {
	scope   models.AccessScope
	user    string
	regions string
}

func newScopePredicates(scope models.AccessScope, args *queryArgs) *scopePredicates {
	p := &scopePredicates{scope: scope}
	if scope.All {
		return p
	}
	p.user = args.add(scope.UserID)
	if len(scope.RegionIDs) > 0 {
		p.regions = args.add(pq.Array(scope.RegionIDs))
	}
	return p
}

// dref returns the visibility predicate for an application aliased as alias, or "" for full access.
// An application is visible to its creator, to anyone on its own sharing list, the latest
// operational update's list or the final report's list, and to admins of its region.
func (p *scopePredicates) dref(alias string) string {
	if p.scope.All {
		return ""
	}
	clause := fmt.Sprintf(`(%[1]s.created_by = %[2]s
	OR EXISTS (SELECT 1 FROM dref_users du WHERE du.dref_id = %[1]s.id AND du.user_id = %[2]s)
	OR EXISTS (SELECT 1 FROM dref_operational_update_users ouu
		JOIN dref_operational_updates lou ON lou.id = ouu.operational_update_id
		WHERE lou.dref_id = %[1]s.id AND ouu.user_id = %[2]s
		AND lou.operational_update_number = (SELECT MAX(mou.operational_update_number) FROM dref_operational_updates mou WHERE mou.dref_id = %[1]s.id))
	OR EXISTS (SELECT 1 FROM dref_final_report_users fru
		JOIN dref_final_reports lfr ON lfr.id = fru.final_report_id
		WHERE lfr.dref_id = %[1]s.id AND fru.user_id = %[2]s)`, alias, p.user)
	if p.regions != "" {
		clause += fmt.Sprintf(`
	OR EXISTS (SELECT 1 FROM countries rc WHERE rc.id = %s.country_id AND rc.region_id = ANY(%s))`, alias, p.regions)
	}
	return clause + ")"
}

// child returns the predicate for an operational update or final report: the stage is
// visible through its chain or through its own creator and sharing list.
func (p *scopePredicates) child(alias, usersTable, fkColumn string) string {
	if p.scope.All {
		return ""
	}
	return fmt.Sprintf(`(%[1]s.created_by = %[2]s
	OR EXISTS (SELECT 1 FROM %[3]s su WHERE su.%[4]s = %[1]s.id AND su.user_id = %[2]s)
	OR EXISTS (SELECT 1 FROM drefs pd WHERE pd.id = %[1]s.dref_id AND %[5]s))`,
		alias, p.user, usersTable, fkColumn, p.dref("pd"))
}

func (p *scopePredicates) operationalUpdate(alias string) string {
	return p.child(alias, "dref_operational_update_users", "operational_update_id")
}

func (p *scopePredicates) finalReport(alias string) string {
	return p.child(alias, "dref_final_report_users", "final_report_id")
}
