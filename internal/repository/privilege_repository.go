package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PrivilegeRepository reads regional admin grants.
type PrivilegeRepository struct {
	db *sqlx.DB
}

// NewPrivilegeRepository constructs the repository.
func NewPrivilegeRepository(db *sqlx.DB) *PrivilegeRepository {
	return &PrivilegeRepository{db: db}
}

// AdminRegionIDs lists the regions the user administers.
func (r *PrivilegeRepository) AdminRegionIDs(ctx context.Context, userID string) ([]int64, error) {
	const query = `SELECT region_id FROM user_region_privileges WHERE user_id = $1 ORDER BY region_id`
	var regions []int64
	if err := r.db.SelectContext(ctx, &regions, query, userID); err != nil {
		return nil, fmt.Errorf("list admin regions: %w", err)
	}
	return regions, nil
}
