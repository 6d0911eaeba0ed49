package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/dref-api/internal/dto"
	"github.com/noah-isme/dref-api/internal/models"
	"github.com/noah-isme/dref-api/internal/repository"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type drefLocker interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Dref, error)
}

type operationalUpdateStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, update *models.OperationalUpdate) error
	GetByID(ctx context.Context, id int64) (*models.OperationalUpdate, error)
	Latest(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.OperationalUpdate, error)
	Update(ctx context.Context, exec sqlx.ExtContext, update *models.OperationalUpdate, expected time.Time) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error
}

// OperationalUpdateService manages the numbered updates of a chain.
type OperationalUpdateService struct {
	repo      operationalUpdateStore
	drefs     drefLocker
	tx        txProvider
	carry     *CarryForwardEngine
	support   *StageSupport
	validator *validator.Validate
}

// NewOperationalUpdateService constructs the service.
func NewOperationalUpdateService(repo operationalUpdateStore, drefs drefLocker, tx txProvider, carry *CarryForwardEngine, support *StageSupport, validate *validator.Validate) *OperationalUpdateService {
	if validate == nil {
		validate = validator.New()
	}
	if carry == nil {
		carry = NewCarryForwardEngine()
	}
	return &OperationalUpdateService{repo: repo, drefs: drefs, tx: tx, carry: carry, support: support, validator: validate}
}

// Get returns one operational update with its sharing list.
func (s *OperationalUpdateService) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.OperationalUpdate, error) {
	update, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.support.authorize(ctx, claims, update.DrefID, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanReadStage(a, m, update.CreatedBy, update.Users)
	}); err != nil {
		return nil, err
	}
	return update, nil
}

// Create appends the next operational update to a chain, carrying fields forward from the
// latest finalized stage. The application row stays locked while the number is assigned.
func (s *OperationalUpdateService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateStageRequest) (update *models.OperationalUpdate, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid operational update payload")
	}
	actor, _, err := s.support.authorize(ctx, claims, req.Dref, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanMutate(a, m)
	})
	if err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	app, err := s.drefs.GetForUpdate(ctx, tx, req.Dref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = notFound(models.RecordKindDref, req.Dref)
			return nil, err
		}
		err = appErrors.Internal(err, "failed to lock DREF")
		return nil, err
	}
	latest, err := s.repo.Latest(ctx, tx, app.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		latest, err = nil, nil
	case err != nil:
		err = appErrors.Internal(err, "failed to load latest operational update")
		return nil, err
	}

	predUsers, err := s.predecessorUsers(ctx, tx, app, latest)
	if err != nil {
		return nil, err
	}
	update, err = s.carry.NextOperationalUpdate(app, latest, predUsers, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err = s.repo.Create(ctx, tx, update); err != nil {
		if errors.Is(err, repository.ErrOperationalUpdateNumber) {
			err = appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf(
				"operational update number %d for DREF %d was assigned concurrently; retry", update.OperationalUpdateNumber, app.ID))
			return nil, err
		}
		err = appErrors.Internal(err, "failed to create operational update")
		return nil, err
	}
	if err = s.support.Sharing.Replace(ctx, tx, models.RecordKindOperationalUpdate, update.ID, update.Users); err != nil {
		err = appErrors.Internal(err, "failed to store sharing list")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit operational update")
		return nil, err
	}

	s.support.emitAudit(ctx, actor, models.AuditActionDrefCreate, models.RecordKindOperationalUpdate, update.ID, nil, update)
	s.support.emitEvent(ctx, models.LifecycleEventCreated, models.RecordKindOperationalUpdate, update.ID, app.ID, update.AppealCode, actor, update.Users)
	return update, nil
}

// Update merges a partial body over the stored update. The appeal code always follows the chain.
func (s *OperationalUpdateService) Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.PatchRequest) (*models.OperationalUpdate, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	actor, _, err := s.support.authorize(ctx, claims, current.DrefID, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanMutate(a, m)
	})
	if err != nil {
		return nil, err
	}
	if err := s.support.Guard.CheckUpdate(models.RecordKindOperationalUpdate, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	status, err := s.support.Lifecycle.EditStatus(current.Status)
	if err != nil {
		return nil, err
	}

	before := *current
	payload := dto.NewOperationalUpdatePayload(current)
	if err := mergePatch(req.Body, &payload); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid operational update payload")
	}

	updated := *current
	payload.ApplyTo(&updated)
	updated.AppealCode = current.AppealCode
	updated.TotalDrefAllocation = totalAllocation(updated.DrefAllocatedSoFar, updated.AdditionalAllocation)
	updated.Status = status
	updated.ModifiedBy = actorIDPtr(actor)
	if err := s.repo.Update(ctx, nil, &updated, *req.ModifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.support.staleWrite(models.RecordKindOperationalUpdate, id)
		}
		return nil, appErrors.Internal(err, "failed to update operational update")
	}
	users, err := s.support.usersOf(ctx, nil, models.RecordKindOperationalUpdate, id)
	if err != nil {
		return nil, err
	}
	updated.Users = users

	s.support.emitAudit(ctx, actor, models.AuditActionDrefUpdate, models.RecordKindOperationalUpdate, id, before, updated)
	s.support.emitEvent(ctx, models.LifecycleEventUpdated, models.RecordKindOperationalUpdate, id, updated.DrefID, updated.AppealCode, actor, users)
	return &updated, nil
}

// Finalize moves the update to Finalized.
func (s *OperationalUpdateService) Finalize(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.OperationalUpdate, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	actor, _, err := s.support.authorize(ctx, claims, current.DrefID, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanMutate(a, m)
	})
	if err != nil {
		return nil, err
	}
	if err := s.support.Guard.CheckTransition(models.RecordKindOperationalUpdate, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	params, err := s.support.Lifecycle.Finalize(ctx, models.RecordKindOperationalUpdate, id, current.Status, current.Translation, actor.UserID, req.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, params, s.support.Lifecycle.CheckFinalize); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, actor, current, models.AuditActionDrefFinalize, models.LifecycleEventFinalized, params.To)
}

// Approve moves the update to Approved.
func (s *OperationalUpdateService) Approve(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.OperationalUpdate, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	actor, _, err := s.support.authorize(ctx, claims, current.DrefID, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanApprove(a, m)
	})
	if err != nil {
		return nil, err
	}
	if err := s.support.Guard.CheckTransition(models.RecordKindOperationalUpdate, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	params, err := s.support.Lifecycle.Approve(id, current.Status, actor.UserID, req.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, params, s.support.Lifecycle.CheckApprove); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, actor, current, models.AuditActionDrefApprove, models.LifecycleEventApproved, params.To)
}

func (s *OperationalUpdateService) predecessorUsers(ctx context.Context, exec sqlx.ExtContext, app *models.Dref, latest *models.OperationalUpdate) ([]string, error) {
	if latest != nil {
		return s.support.usersOf(ctx, exec, models.RecordKindOperationalUpdate, latest.ID)
	}
	return s.support.usersOf(ctx, exec, models.RecordKindDref, app.ID)
}

func (s *OperationalUpdateService) applyTransition(ctx context.Context, params repository.TransitionParams, recheck func(models.DrefStatus) error) error {
	err := s.repo.UpdateStatus(ctx, nil, params)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to update operational update status")
	}
	latest, getErr := s.get(ctx, params.ID)
	if getErr != nil {
		return getErr
	}
	return s.support.transitionLost(models.RecordKindOperationalUpdate, params.ID, latest.Status, recheck)
}

func (s *OperationalUpdateService) afterTransition(ctx context.Context, actor *models.Actor, before *models.OperationalUpdate, action string, eventType models.LifecycleEventType, to models.DrefStatus) (*models.OperationalUpdate, error) {
	s.support.recordTransition(models.RecordKindOperationalUpdate, to)
	update, err := s.load(ctx, before.ID)
	if err != nil {
		return nil, err
	}
	s.support.emitAudit(ctx, actor, action, models.RecordKindOperationalUpdate, update.ID,
		map[string]string{"status": before.Status.Label()}, map[string]string{"status": to.Label()})
	s.support.emitEvent(ctx, eventType, models.RecordKindOperationalUpdate, update.ID, update.DrefID, update.AppealCode, actor, update.Users)
	return update, nil
}

func (s *OperationalUpdateService) get(ctx context.Context, id int64) (*models.OperationalUpdate, error) {
	update, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(models.RecordKindOperationalUpdate, id)
		}
		return nil, appErrors.Internal(err, fmt.Sprintf("failed to load operational update %d", id))
	}
	return update, nil
}

func (s *OperationalUpdateService) load(ctx context.Context, id int64) (*models.OperationalUpdate, error) {
	update, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	users, err := s.support.usersOf(ctx, nil, models.RecordKindOperationalUpdate, id)
	if err != nil {
		return nil, err
	}
	update.Users = users
	return update, nil
}
