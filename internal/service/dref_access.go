package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type privilegeReader interface {
	AdminRegionIDs(ctx context.Context, userID string) ([]int64, error)
}

// AccessPolicy decides what an actor may read, mutate and approve.
type AccessPolicy struct {
	privileges privilegeReader
	logger     *zap.Logger
}

// NewAccessPolicy constructs the policy.
func NewAccessPolicy(privileges privilegeReader, logger *zap.Logger) *AccessPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessPolicy{privileges: privileges, logger: logger}
}

// ResolveActor turns token claims into an actor carrying its region admin grants.
func (p *AccessPolicy) ResolveActor(ctx context.Context, claims *models.JWTClaims) (*models.Actor, error) {
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	actor := &models.Actor{UserID: claims.UserID, Role: claims.Role, AdminRegions: map[int64]struct{}{}}
	if actor.IsSuperAdmin() || actor.IsGuest() || p.privileges == nil {
		return actor, nil
	}
	regions, err := p.privileges.AdminRegionIDs(ctx, claims.UserID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load region privileges")
	}
	for _, id := range regions {
		actor.AdminRegions[id] = struct{}{}
	}
	return actor, nil
}

// CanCreate rejects guests; any other identity may open a new application.
func (p *AccessPolicy) CanCreate(actor *models.Actor) error {
	if actor.IsGuest() {
		return appErrors.Clone(appErrors.ErrForbidden, "guest users cannot modify DREF records")
	}
	return nil
}

// CanRead applies the three privilege tiers to a chain.
func (p *AccessPolicy) CanRead(actor *models.Actor, chain *models.ChainMembership) error {
	if p.member(actor, chain) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "you do not have access to this DREF")
}

// CanReadStage additionally lets the creator of a stage and its own sharing list read it.
func (p *AccessPolicy) CanReadStage(actor *models.Actor, chain *models.ChainMembership, createdBy string, users []string) error {
	if actor != nil && (createdBy == actor.UserID || contains(users, actor.UserID)) {
		return nil
	}
	return p.CanRead(actor, chain)
}

// CanMutate is CanRead with guests always refused.
func (p *AccessPolicy) CanMutate(actor *models.Actor, chain *models.ChainMembership) error {
	if actor.IsGuest() {
		return appErrors.Clone(appErrors.ErrForbidden, "guest users cannot modify DREF records")
	}
	if p.member(actor, chain) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "you do not have permission to modify this DREF")
}

// CanApprove requires region admin rights over the chain's region; ownership and sharing do not count.
func (p *AccessPolicy) CanApprove(actor *models.Actor, chain *models.ChainMembership) error {
	if actor.IsGuest() {
		return appErrors.Clone(appErrors.ErrForbidden, "guest users cannot modify DREF records")
	}
	if actor.IsSuperAdmin() || actor.IsRegionAdmin(chain.RegionID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "approval requires region admin privilege for this DREF's region")
}

func (p *AccessPolicy) member(actor *models.Actor, chain *models.ChainMembership) bool {
	if actor == nil || chain == nil {
		return false
	}
	if actor.IsSuperAdmin() || actor.IsRegionAdmin(chain.RegionID) {
		return true
	}
	return chain.CreatedBy == actor.UserID ||
		contains(chain.DrefUsers, actor.UserID) ||
		contains(chain.LatestUpdateUsers, actor.UserID) ||
		contains(chain.FinalReportUsers, actor.UserID)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
