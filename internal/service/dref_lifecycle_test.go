package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type translationCheckerFunc func(models.Translation) (bool, error)

func (f translationCheckerFunc) TranslationCompleted(_ context.Context, _ models.RecordKind, _ int64, t models.Translation) (bool, error) {
	return f(t)
}

var allStatuses = []models.DrefStatus{
	models.DrefStatusDraft, models.DrefStatusInProgress, models.DrefStatusFinalized, models.DrefStatusApproved,
}

func TestLifecycleTransitionsOnlyMoveForward(t *testing.T) {
	l := NewLifecycle("", nil)
	for _, current := range allStatuses {
		params, err := l.Finalize(context.Background(), models.RecordKindDref, 1, current, models.Translation{OriginalLanguage: "en"}, "u", nil)
		if current < models.DrefStatusFinalized {
			require.NoError(t, err, current.Label())
			assert.Equal(t, models.DrefStatusFinalized, params.To)
		} else {
			require.ErrorIs(t, err, appErrors.ErrValidation, current.Label())
			assert.Contains(t, err.Error(), current.Label())
		}

		params, err = l.Approve(1, current, "u", nil)
		if current == models.DrefStatusFinalized {
			require.NoError(t, err)
			assert.Equal(t, []models.DrefStatus{models.DrefStatusFinalized}, params.From)
		} else {
			require.ErrorIs(t, err, appErrors.ErrValidation, current.Label())
			assert.Contains(t, err.Error(), current.Label())
		}
	}
}

func TestLifecycleEditStatus(t *testing.T) {
	l := NewLifecycle("en", nil)

	status, err := l.EditStatus(models.DrefStatusDraft)
	require.NoError(t, err)
	assert.Equal(t, models.DrefStatusInProgress, status)

	status, err = l.EditStatus(models.DrefStatusFinalized)
	require.NoError(t, err)
	assert.Equal(t, models.DrefStatusFinalized, status)

	_, err = l.EditStatus(models.DrefStatusApproved)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.EqualError(t, err, "Published/Approved record can't be changed")
}

func TestLifecycleFinalizeTranslation(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	expected := fixed.Add(-time.Hour)

	l := NewLifecycle(" EN ", translationCheckerFunc(func(tr models.Translation) (bool, error) {
		return tr.OriginalLanguage != "xx", nil
	}))
	l.now = func() time.Time { return fixed }
	assert.Equal(t, "en", l.CanonicalLanguage())

	params, err := l.Finalize(context.Background(), models.RecordKindFinalReport, 9, models.DrefStatusInProgress, models.Translation{OriginalLanguage: "es"}, "u-1", &expected)
	require.NoError(t, err)
	assert.Equal(t, "en", params.OriginalLanguage)
	assert.True(t, params.IsPublished)
	assert.Equal(t, fixed, params.ModifiedAt)
	assert.Equal(t, &expected, params.ExpectedModifiedAt)
	assert.Equal(t, "u-1", params.ModifiedBy)

	params, err = l.Finalize(context.Background(), models.RecordKindFinalReport, 9, models.DrefStatusDraft, models.Translation{OriginalLanguage: "EN"}, "u-1", nil)
	require.NoError(t, err)
	assert.Empty(t, params.OriginalLanguage)

	_, err = l.Finalize(context.Background(), models.RecordKindFinalReport, 9, models.DrefStatusDraft, models.Translation{OriginalLanguage: "xx"}, "u-1", nil)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.EqualError(t, err, "translation not completed")
}

func TestLifecycleFinalizeCheckerFailure(t *testing.T) {
	l := NewLifecycle("en", translationCheckerFunc(func(models.Translation) (bool, error) {
		return false, errors.New("translation service down")
	}))
	_, err := l.Finalize(context.Background(), models.RecordKindDref, 1, models.DrefStatusDraft, models.Translation{}, "u", nil)
	require.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestPendingFlagChecker(t *testing.T) {
	ok, err := PendingFlagChecker{}.TranslationCompleted(context.Background(), models.RecordKindDref, 1, models.Translation{TranslationPending: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrencyGuard(t *testing.T) {
	metrics := &metricsRecorder{}
	guard := NewConcurrencyGuard(metrics)
	stored := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, guard.CheckUpdate(models.RecordKindDref, 1, stored, timePtr(stored)))
	require.NoError(t, guard.CheckUpdate(models.RecordKindDref, 1, stored, timePtr(stored.Add(time.Minute))))

	err := guard.CheckUpdate(models.RecordKindOperationalUpdate, 4, stored, timePtr(stored.Add(-time.Microsecond)))
	require.ErrorIs(t, err, appErrors.ErrStaleWrite)
	assert.Contains(t, err.Error(), "Operational update 4")
	assert.Equal(t, 1, metrics.stale)

	err = guard.CheckUpdate(models.RecordKindDref, 1, stored, nil)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.EqualError(t, err, "requires last-modified timestamp")

	require.NoError(t, guard.CheckTransition(models.RecordKindDref, 1, stored, nil))
	require.ErrorIs(t, guard.CheckTransition(models.RecordKindDref, 1, stored, timePtr(stored.Add(-time.Second))), appErrors.ErrStaleWrite)
}

func TestConcurrencyGuardComparesAtStoredPrecision(t *testing.T) {
	guard := NewConcurrencyGuard(nil)
	handedOut := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	// Postgres keeps the value rounded to the microsecond.
	rounded := handedOut.Round(time.Microsecond)
	require.NoError(t, guard.CheckUpdate(models.RecordKindDref, 1, rounded, timePtr(handedOut)))
	require.NoError(t, guard.CheckUpdate(models.RecordKindDref, 1, storedTime(handedOut), timePtr(handedOut)))

	err := guard.CheckUpdate(models.RecordKindDref, 1, rounded, timePtr(handedOut.Add(-2*time.Microsecond)))
	require.ErrorIs(t, err, appErrors.ErrStaleWrite)
}

func TestLifecycleStampsStoredPrecision(t *testing.T) {
	l := NewLifecycle("en", nil)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 987654321, time.UTC) }

	params, err := l.Finalize(context.Background(), models.RecordKindDref, 1, models.DrefStatusDraft, models.Translation{OriginalLanguage: "en"}, "u", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 987654000, time.UTC), params.ModifiedAt)

	params, err = l.Approve(1, models.DrefStatusFinalized, "u", nil)
	require.NoError(t, err)
	assert.Zero(t, params.ModifiedAt.Nanosecond()%int(time.Microsecond))
}
