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

type finalReportStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, report *models.FinalReport) error
	GetByID(ctx context.Context, id int64) (*models.FinalReport, error)
	GetByDref(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.FinalReport, error)
	Update(ctx context.Context, exec sqlx.ExtContext, report *models.FinalReport, expected time.Time) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error
}

type chainCloser interface {
	drefLocker
	MarkFinalReportCreated(ctx context.Context, exec sqlx.ExtContext, id int64) error
	Deactivate(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type latestUpdateReader interface {
	Latest(ctx context.Context, exec sqlx.ExtContext, drefID int64) (*models.OperationalUpdate, error)
}

// FinalReportService manages the closing stage of a chain.
type FinalReportService struct {
	repo      finalReportStore
	drefs     chainCloser
	updates   latestUpdateReader
	tx        txProvider
	carry     *CarryForwardEngine
	support   *StageSupport
	validator *validator.Validate
}

// NewFinalReportService constructs the service.
func NewFinalReportService(repo finalReportStore, drefs chainCloser, updates latestUpdateReader, tx txProvider, carry *CarryForwardEngine, support *StageSupport, validate *validator.Validate) *FinalReportService {
	if validate == nil {
		validate = validator.New()
	}
	if carry == nil {
		carry = NewCarryForwardEngine()
	}
	return &FinalReportService{repo: repo, drefs: drefs, updates: updates, tx: tx, carry: carry, support: support, validator: validate}
}

// Get returns the final report with its sharing list.
func (s *FinalReportService) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FinalReport, error) {
	report, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.support.authorize(ctx, claims, report.DrefID, func(a *models.Actor, m *models.ChainMembership) error {
		return s.support.Access.CanReadStage(a, m, report.CreatedBy, report.Users)
	}); err != nil {
		return nil, err
	}
	return report, nil
}

// Create closes a chain with its final report, carrying fields from the latest operational
// update or from the application when the chain has none.
func (s *FinalReportService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateStageRequest) (report *models.FinalReport, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid final report payload")
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
	existing, err := s.repo.GetByDref(ctx, tx, app.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err = nil, nil
	case err != nil:
		err = appErrors.Internal(err, "failed to check existing final report")
		return nil, err
	}
	latest, err := s.updates.Latest(ctx, tx, app.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		latest, err = nil, nil
	case err != nil:
		err = appErrors.Internal(err, "failed to load latest operational update")
		return nil, err
	}

	var predUsers []string
	if latest != nil {
		predUsers, err = s.support.usersOf(ctx, tx, models.RecordKindOperationalUpdate, latest.ID)
	} else {
		predUsers, err = s.support.usersOf(ctx, tx, models.RecordKindDref, app.ID)
	}
	if err != nil {
		return nil, err
	}

	report, err = s.carry.NewFinalReport(app, latest, existing, predUsers, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err = s.repo.Create(ctx, tx, report); err != nil {
		if errors.Is(err, repository.ErrFinalReportAlreadyExists) {
			err = validationf("Final report already exists for DREF %d", app.ID)
			return nil, err
		}
		err = appErrors.Internal(err, "failed to create final report")
		return nil, err
	}
	if err = s.support.Sharing.Replace(ctx, tx, models.RecordKindFinalReport, report.ID, report.Users); err != nil {
		err = appErrors.Internal(err, "failed to store sharing list")
		return nil, err
	}
	if err = s.drefs.MarkFinalReportCreated(ctx, tx, app.ID); err != nil {
		err = appErrors.Internal(err, "failed to flag DREF final report")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit final report")
		return nil, err
	}

	s.support.emitAudit(ctx, actor, models.AuditActionDrefCreate, models.RecordKindFinalReport, report.ID, nil, report)
	s.support.emitEvent(ctx, models.LifecycleEventCreated, models.RecordKindFinalReport, report.ID, app.ID, report.AppealCode, actor, report.Users)
	return report, nil
}

// Update merges a partial body over the stored final report.
func (s *FinalReportService) Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.PatchRequest) (*models.FinalReport, error) {
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
	if err := s.support.Guard.CheckUpdate(models.RecordKindFinalReport, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	status, err := s.support.Lifecycle.EditStatus(current.Status)
	if err != nil {
		return nil, err
	}

	before := *current
	payload := dto.NewFinalReportPayload(current)
	if err := mergePatch(req.Body, &payload); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid final report payload")
	}

	updated := *current
	payload.ApplyTo(&updated)
	updated.AppealCode = current.AppealCode
	updated.Status = status
	updated.ModifiedBy = actorIDPtr(actor)
	if err := s.repo.Update(ctx, nil, &updated, *req.ModifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.support.staleWrite(models.RecordKindFinalReport, id)
		}
		return nil, appErrors.Internal(err, "failed to update final report")
	}
	users, err := s.support.usersOf(ctx, nil, models.RecordKindFinalReport, id)
	if err != nil {
		return nil, err
	}
	updated.Users = users

	s.support.emitAudit(ctx, actor, models.AuditActionDrefUpdate, models.RecordKindFinalReport, id, before, updated)
	s.support.emitEvent(ctx, models.LifecycleEventUpdated, models.RecordKindFinalReport, id, updated.DrefID, updated.AppealCode, actor, users)
	return &updated, nil
}

// Finalize moves the final report to Finalized.
func (s *FinalReportService) Finalize(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.FinalReport, error) {
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
	if err := s.support.Guard.CheckTransition(models.RecordKindFinalReport, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	params, err := s.support.Lifecycle.Finalize(ctx, models.RecordKindFinalReport, id, current.Status, current.Translation, actor.UserID, req.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, nil, params, s.support.Lifecycle.CheckFinalize); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, actor, current, models.AuditActionDrefFinalize, models.LifecycleEventFinalized, params.To)
}

// Approve moves the final report to Approved, stamps its approval date and deactivates the
// application in the same transaction.
func (s *FinalReportService) Approve(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (report *models.FinalReport, err error) {
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
	if err := s.support.Guard.CheckTransition(models.RecordKindFinalReport, id, current.ModifiedAt, req.ModifiedAt); err != nil {
		return nil, err
	}
	params, err := s.support.Lifecycle.Approve(id, current.Status, actor.UserID, req.ModifiedAt)
	if err != nil {
		return nil, err
	}
	approvedAt := params.ModifiedAt
	params.DateOfApproval = &approvedAt

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.applyTransition(ctx, tx, params, s.support.Lifecycle.CheckApprove); err != nil {
		return nil, err
	}
	if err = s.drefs.Deactivate(ctx, tx, current.DrefID); err != nil {
		err = appErrors.Internal(err, "failed to deactivate DREF")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit final report approval")
		return nil, err
	}
	return s.afterTransition(ctx, actor, current, models.AuditActionDrefApprove, models.LifecycleEventApproved, params.To)
}

func (s *FinalReportService) applyTransition(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams, recheck func(models.DrefStatus) error) error {
	err := s.repo.UpdateStatus(ctx, exec, params)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to update final report status")
	}
	latest, getErr := s.get(ctx, params.ID)
	if getErr != nil {
		return getErr
	}
	return s.support.transitionLost(models.RecordKindFinalReport, params.ID, latest.Status, recheck)
}

func (s *FinalReportService) afterTransition(ctx context.Context, actor *models.Actor, before *models.FinalReport, action string, eventType models.LifecycleEventType, to models.DrefStatus) (*models.FinalReport, error) {
	s.support.recordTransition(models.RecordKindFinalReport, to)
	report, err := s.load(ctx, before.ID)
	if err != nil {
		return nil, err
	}
	s.support.emitAudit(ctx, actor, action, models.RecordKindFinalReport, report.ID,
		map[string]string{"status": before.Status.Label()}, map[string]string{"status": to.Label()})
	s.support.emitEvent(ctx, eventType, models.RecordKindFinalReport, report.ID, report.DrefID, report.AppealCode, actor, report.Users)
	return report, nil
}

func (s *FinalReportService) get(ctx context.Context, id int64) (*models.FinalReport, error) {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(models.RecordKindFinalReport, id)
		}
		return nil, appErrors.Internal(err, fmt.Sprintf("failed to load final report %d", id))
	}
	return report, nil
}

func (s *FinalReportService) load(ctx context.Context, id int64) (*models.FinalReport, error) {
	report, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	users, err := s.support.usersOf(ctx, nil, models.RecordKindFinalReport, id)
	if err != nil {
		return nil, err
	}
	report.Users = users
	return report, nil
}
