package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type privilegeMap map[string][]int64

func (p privilegeMap) AdminRegionIDs(ctx context.Context, userID string) ([]int64, error) {
	if userID == "broken" {
		return nil, errors.New("db down")
	}
	return p[userID], nil
}

func TestAccessPolicyResolveActor(t *testing.T) {
	policy := NewAccessPolicy(privilegeMap{"ra": {3, 4}}, nil)
	ctx := context.Background()

	_, err := policy.ResolveActor(ctx, nil)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	actor, err := policy.ResolveActor(ctx, &models.JWTClaims{UserID: "ra", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.True(t, actor.IsRegionAdmin(int64Ptr(3)))
	assert.False(t, actor.IsRegionAdmin(int64Ptr(5)))
	assert.ElementsMatch(t, []int64{3, 4}, actor.Scope().RegionIDs)

	actor, err = policy.ResolveActor(ctx, &models.JWTClaims{UserID: "root", Role: models.RoleSuperAdmin})
	require.NoError(t, err)
	assert.True(t, actor.Scope().All)

	_, err = policy.ResolveActor(ctx, &models.JWTClaims{UserID: "broken", Role: models.RoleStaff})
	require.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestAccessPolicyTiers(t *testing.T) {
	policy := NewAccessPolicy(nil, nil)
	chain := &models.ChainMembership{
		DrefID:            1,
		RegionID:          int64Ptr(3),
		CreatedBy:         "creator",
		DrefUsers:         []string{"app-user"},
		LatestUpdateUsers: []string{"ou-user"},
		FinalReportUsers:  []string{"fr-user"},
	}
	staff := func(id string, regions ...int64) *models.Actor {
		actor := &models.Actor{UserID: id, Role: models.RoleStaff, AdminRegions: map[int64]struct{}{}}
		for _, r := range regions {
			actor.AdminRegions[r] = struct{}{}
		}
		return actor
	}

	cases := []struct {
		name    string
		actor   *models.Actor
		read    bool
		mutate  bool
		approve bool
	}{
		{"superadmin", &models.Actor{UserID: "root", Role: models.RoleSuperAdmin}, true, true, true},
		{"region admin", staff("ra", 3), true, true, true},
		{"other region admin", staff("ra2", 9), false, false, false},
		{"creator", staff("creator"), true, true, false},
		{"application share", staff("app-user"), true, true, false},
		{"latest update share", staff("ou-user"), true, true, false},
		{"final report share", staff("fr-user"), true, true, false},
		{"stranger", staff("nobody"), false, false, false},
		{"guest", &models.Actor{UserID: "app-user", Role: models.RoleGuest}, true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.read, policy.CanRead(tc.actor, chain) == nil)
			assert.Equal(t, tc.mutate, policy.CanMutate(tc.actor, chain) == nil)
			assert.Equal(t, tc.approve, policy.CanApprove(tc.actor, chain) == nil)
		})
	}
}

func TestAccessPolicyStageAndCreate(t *testing.T) {
	policy := NewAccessPolicy(nil, nil)
	chain := &models.ChainMembership{DrefID: 1, CreatedBy: "creator"}
	actor := &models.Actor{UserID: "stage-owner", Role: models.RoleStaff}

	require.ErrorIs(t, policy.CanRead(actor, chain), appErrors.ErrForbidden)
	require.NoError(t, policy.CanReadStage(actor, chain, "stage-owner", nil))
	require.NoError(t, policy.CanReadStage(actor, chain, "x", []string{"stage-owner"}))

	require.NoError(t, policy.CanCreate(actor))
	err := policy.CanCreate(&models.Actor{UserID: "g", Role: models.RoleGuest})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Contains(t, err.Error(), "guest")
}

func int64Ptr(v int64) *int64 {
	return &v
}
