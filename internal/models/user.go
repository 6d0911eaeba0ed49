package models

// UserRole represents the identity classification supplied by the auth layer.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleStaff      UserRole = "STAFF"
	RoleGuest      UserRole = "GUEST"
)

// Actor is the resolved identity acting on DREF records.
type Actor struct {
	UserID       string
	Role         UserRole
	AdminRegions map[int64]struct{}
}

// IsSuperAdmin reports full read/write privileges.
func (a *Actor) IsSuperAdmin() bool {
	return a != nil && a.Role == RoleSuperAdmin
}

// IsGuest reports a read-only identity.
func (a *Actor) IsGuest() bool {
	return a == nil || a.Role == RoleGuest
}

// IsRegionAdmin reports whether the actor administers the region.
func (a *Actor) IsRegionAdmin(regionID *int64) bool {
	if a == nil || regionID == nil {
		return false
	}
	_, ok := a.AdminRegions[*regionID]
	return ok
}

// Scope renders the actor's read scope.
func (a *Actor) Scope() AccessScope {
	if a.IsSuperAdmin() {
		return AccessScope{All: true}
	}
	regions := make([]int64, 0, len(a.AdminRegions))
	for id := range a.AdminRegions {
		regions = append(regions, id)
	}
	return AccessScope{UserID: a.UserID, RegionIDs: regions}
}

// Pagination contains limit/offset metadata returned in list responses.
type Pagination struct {
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	TotalCount int `json:"total_count"`
}
