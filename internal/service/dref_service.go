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

type drefStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, dref *models.Dref) error
	GetByID(ctx context.Context, id int64) (*models.Dref, error)
	Update(ctx context.Context, exec sqlx.ExtContext, dref *models.Dref, expected time.Time) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error
}

// DrefService manages DREF applications.
type DrefService struct {
	repo      drefStore
	tx        txProvider
	support   *StageSupport
	validator *validator.Validate
}

// NewDrefService constructs the service.
func NewDrefService(repo drefStore, tx txProvider, support *StageSupport, validate *validator.Validate) *DrefService {
	if validate == nil {
		validate = validator.New()
	}
	return &DrefService{repo: repo, tx: tx, support: support, validator: validate}
}

// Get returns one application with its sharing list.
func (s *DrefService) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.Dref, error) {
	if _, _, err := s.support.authorize(ctx, claims, id, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanRead(a, m)
	}); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Create opens a new chain in Draft.
func (s *DrefService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateDrefRequest) (dref *models.Dref, err error) {
	actor, err := s.support.Access.ResolveActor(ctx, claims)
	if err != nil {
		return nil, err
	}
	if err := s.support.Access.CanCreate(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid DREF payload")
	}
	if !req.TypeOfDref.Valid() {
		return nil, validationf("unknown type_of_dref %d", req.TypeOfDref)
	}

	dref = &models.Dref{Status: models.DrefStatusDraft, IsActive: true}
	req.DrefPayload.ApplyTo(dref)
	dref.AppealCode = appealCodeOrNil(dref.AppealCode)
	if dref.OriginalLanguage == "" {
		dref.OriginalLanguage = s.support.Lifecycle.CanonicalLanguage()
	}
	dref.CreatedBy = actor.UserID
	dref.Users = uniqueUsers(req.Users)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Create(ctx, tx, dref); err != nil {
		if errors.Is(err, repository.ErrAppealCodeTaken) {
			err = validationf("appeal code %s is already used by another DREF", normalizeAppealCode(dref.AppealCode))
			return nil, err
		}
		err = appErrors.Internal(err, "failed to create DREF")
		return nil, err
	}
	if err = s.support.Sharing.Replace(ctx, tx, models.RecordKindDref, dref.ID, dref.Users); err != nil {
		err = appErrors.Internal(err, "failed to store sharing list")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit DREF")
		return nil, err
	}

	s.support.emitAudit(ctx, actor, models.AuditActionDrefCreate, models.RecordKindDref, dref.ID, nil, dref)
	s.support.emitEvent(ctx, models.LifecycleEventCreated, models.RecordKindDref, dref.ID, dref.ID, dref.AppealCode, actor, dref.Users)
	return dref, nil
}

// Update merges a partial body over the stored application.
func (s *DrefService) Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.PatchRequest) (*models.Dref, error) {
	actor, _, err := s.support.authorize(ctx, claims, id, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanMutate(a, m)
	})
	if err != nil {
		return nil, err
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.support.Guard.CheckUpdate(models.RecordKindDref, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	status, err := s.support.Lifecycle.EditStatus(current.Status)
	if err != nil {
		return nil, err
	}

	before := *current
	payload := dto.NewDrefPayload(current)
	if err := mergePatch(req.Body, &payload); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid DREF payload")
	}
	if !payload.TypeOfDref.Valid() {
		return nil, validationf("unknown type_of_dref %d", payload.TypeOfDref)
	}
	if normalizeAppealCode(current.AppealCode) != "" && !sameAppealCode(current.AppealCode, payload.AppealCode) {
		return nil, validationf("appeal code of DREF %d cannot be changed once assigned", id)
	}

	updated := *current
	payload.ApplyTo(&updated)
	updated.AppealCode = appealCodeOrNil(updated.AppealCode)
	updated.Status = status
	updated.ModifiedBy = actorIDPtr(actor)
	if err := s.repo.Update(ctx, nil, &updated, *req.ModifiedAt); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, s.support.staleWrite(models.RecordKindDref, id)
		case errors.Is(err, repository.ErrAppealCodeTaken):
			return nil, validationf("appeal code %s is already used by another DREF", normalizeAppealCode(updated.AppealCode))
		}
		return nil, appErrors.Internal(err, "failed to update DREF")
	}
	users, err := s.support.usersOf(ctx, nil, models.RecordKindDref, id)
	if err != nil {
		return nil, err
	}
	updated.Users = users

	s.support.emitAudit(ctx, actor, models.AuditActionDrefUpdate, models.RecordKindDref, id, before, updated)
	s.support.emitEvent(ctx, models.LifecycleEventUpdated, models.RecordKindDref, id, id, updated.AppealCode, actor, users)
	return &updated, nil
}

// Finalize moves the application to Finalized.
func (s *DrefService) Finalize(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.Dref, error) {
	actor, _, err := s.support.authorize(ctx, claims, id, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanMutate(a, m)
	})
	if err != nil {
		return nil, err
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.support.Guard.CheckTransition(models.RecordKindDref, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	params, err := s.support.Lifecycle.Finalize(ctx, models.RecordKindDref, id, current.Status, current.Translation, actor.UserID, req.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, params, s.support.Lifecycle.CheckFinalize); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, actor, id, models.AuditActionDrefFinalize, models.LifecycleEventFinalized, current.Status, params.To)
}

// Approve moves the application to Approved, stamping date_of_approval when unset.
func (s *DrefService) Approve(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.Dref, error) {
	actor, _, err := s.support.authorize(ctx, claims, id, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanApprove(a, m)
	})
	if err != nil {
		return nil, err
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.support.Guard.CheckTransition(models.RecordKindDref, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	params, err := s.support.Lifecycle.Approve(id, current.Status, actor.UserID, req.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if current.DateOfApproval == nil {
		approvedAt := params.ModifiedAt
		params.DateOfApproval = &approvedAt
	}
	if err := s.applyTransition(ctx, params, s.support.Lifecycle.CheckApprove); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, actor, id, models.AuditActionDrefApprove, models.LifecycleEventApproved, current.Status, params.To)
}

// Share replaces the sharing list of the application, every operational update and the
// final report in one transaction.
func (s *DrefService) Share(ctx context.Context, claims *models.JWTClaims, id int64, req dto.ShareRequest) (*models.Dref, error) {
	actor, membership, err := s.support.authorize(ctx, claims, id, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanMutate(a, m)
	})
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid share payload")
	}
	users := uniqueUsers(req.Users)
	if err := s.support.Sharing.ReplaceChain(ctx, id, users); err != nil {
		return nil, appErrors.Internal(err, "failed to share DREF chain")
	}
	dref, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.support.emitAudit(ctx, actor, models.AuditActionDrefShare, models.RecordKindDref, id,
		map[string]interface{}{"users": membership.DrefUsers}, map[string]interface{}{"users": users})
	s.support.emitEvent(ctx, models.LifecycleEventShared, models.RecordKindDref, id, id, dref.AppealCode, actor, users)
	return dref, nil
}

func (s *DrefService) applyTransition(ctx context.Context, params repository.TransitionParams, recheck func(models.DrefStatus) error) error {
	err := s.repo.UpdateStatus(ctx, nil, params)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to update DREF status")
	}
	latest, getErr := s.get(ctx, params.ID)
	if getErr != nil {
		return getErr
	}
	return s.support.transitionLost(models.RecordKindDref, params.ID, latest.Status, recheck)
}

func (s *DrefService) afterTransition(ctx context.Context, actor *models.Actor, id int64, action string, eventType models.LifecycleEventType, from, to models.DrefStatus) (*models.Dref, error) {
	s.support.recordTransition(models.RecordKindDref, to)
	dref, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.support.emitAudit(ctx, actor, action, models.RecordKindDref, id,
		map[string]string{"status": from.Label()}, map[string]string{"status": to.Label()})
	s.support.emitEvent(ctx, eventType, models.RecordKindDref, id, id, dref.AppealCode, actor, dref.Users)
	return dref, nil
}

func (s *DrefService) get(ctx context.Context, id int64) (*models.Dref, error) {
	dref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(models.RecordKindDref, id)
		}
		return nil, appErrors.Internal(err, fmt.Sprintf("failed to load DREF %d", id))
	}
	return dref, nil
}

func (s *DrefService) load(ctx context.Context, id int64) (*models.Dref, error) {
	dref, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	users, err := s.support.usersOf(ctx, nil, models.RecordKindDref, id)
	if err != nil {
		return nil, err
	}
	dref.Users = users
	return dref, nil
}
