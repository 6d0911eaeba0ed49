package service

import (
	"context"
	"strings"
	"time"

	"github.com/noah-isme/dref-api/internal/models"
	"github.com/noah-isme/dref-api/internal/repository"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

// TranslationChecker reports whether every localized field of a record is populated.
type TranslationChecker interface {
	TranslationCompleted(ctx context.Context, kind models.RecordKind, id int64, translation models.Translation) (bool, error)
}

// PendingFlagChecker trusts the translation_module_pending flag maintained by the translation pipeline.
type PendingFlagChecker struct{}

// TranslationCompleted implements TranslationChecker.
func (PendingFlagChecker) TranslationCompleted(_ context.Context, _ models.RecordKind, _ int64, translation models.Translation) (bool, error) {
	return !translation.TranslationPending, nil
}

var (
	finalizeFrom = []models.DrefStatus{models.DrefStatusDraft, models.DrefStatusInProgress}
	approveFrom  = []models.DrefStatus{models.DrefStatusFinalized}
)

// Lifecycle governs the status field shared by applications, operational updates and final reports.
type Lifecycle struct {
	canonicalLanguage string
	translations      TranslationChecker
	now               func() time.Time
}

// NewLifecycle builds the state machine. Empty canonical language defaults to "en".
func NewLifecycle(canonicalLanguage string, translations TranslationChecker) *Lifecycle {
	canonicalLanguage = strings.ToLower(strings.TrimSpace(canonicalLanguage))
	if canonicalLanguage == "" {
		canonicalLanguage = "en"
	}
	if translations == nil {
		translations = PendingFlagChecker{}
	}
	return &Lifecycle{
		canonicalLanguage: canonicalLanguage,
		translations:      translations,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// CanonicalLanguage returns the language finalized records are normalised to.
func (l *Lifecycle) CanonicalLanguage() string {
	return l.canonicalLanguage
}

// EditStatus returns the status a record takes after a field edit. Draft records move to
// In Progress; Approved records reject edits.
func (l *Lifecycle) EditStatus(current models.DrefStatus) (models.DrefStatus, error) {
	switch {
	case current >= models.DrefStatusApproved:
		return current, appErrors.Clone(appErrors.ErrValidation, "Published/Approved record can't be changed")
	case current == models.DrefStatusDraft:
		return models.DrefStatusInProgress, nil
	default:
		return current, nil
	}
}

// CheckFinalize validates the source status of a finalize transition.
func (l *Lifecycle) CheckFinalize(current models.DrefStatus) error {
	if current >= models.DrefStatusFinalized {
		return validationf("Cannot be finalized because it is already %s", current.Label())
	}
	return nil
}

// CheckApprove validates the source status of an approve transition.
func (l *Lifecycle) CheckApprove(current models.DrefStatus) error {
	switch {
	case current >= models.DrefStatusApproved:
		return validationf("Cannot be approved because it is already %s", current.Label())
	case current < models.DrefStatusFinalized:
		return validationf("Must be finalized before it can be approved (current status: %s)", current.Label())
	}
	return nil
}

// Finalize plans a Draft/In Progress -> Finalized transition. The translation check must pass and a
// non-canonical original language is rewritten to the canonical one alongside the status change.
func (l *Lifecycle) Finalize(ctx context.Context, kind models.RecordKind, id int64, current models.DrefStatus, translation models.Translation, actorID string, expected *time.Time) (repository.TransitionParams, error) {
	if err := l.CheckFinalize(current); err != nil {
		return repository.TransitionParams{}, err
	}
	completed, err := l.translations.TranslationCompleted(ctx, kind, id, translation)
	if err != nil {
		return repository.TransitionParams{}, appErrors.Internal(err, "failed to check translation status")
	}
	if !completed {
		return repository.TransitionParams{}, appErrors.Clone(appErrors.ErrValidation, "translation not completed")
	}
	params := repository.TransitionParams{
		ID:                 id,
		From:               finalizeFrom,
		To:                 models.DrefStatusFinalized,
		IsPublished:        true,
		ModifiedBy:         actorID,
		ModifiedAt:         storedTime(l.now()),
		ExpectedModifiedAt: expected,
	}
	if !strings.EqualFold(translation.OriginalLanguage, l.canonicalLanguage) {
		params.OriginalLanguage = l.canonicalLanguage
	}
	return params, nil
}

// Approve plans a Finalized -> Approved transition. Callers decide whether to stamp DateOfApproval.
func (l *Lifecycle) Approve(id int64, current models.DrefStatus, actorID string, expected *time.Time) (repository.TransitionParams, error) {
	if err := l.CheckApprove(current); err != nil {
		return repository.TransitionParams{}, err
	}
	return repository.TransitionParams{
		ID:                 id,
		From:               approveFrom,
		To:                 models.DrefStatusApproved,
		IsPublished:        true,
		ModifiedBy:         actorID,
		ModifiedAt:         storedTime(l.now()),
		ExpectedModifiedAt: expected,
	}, nil
}
