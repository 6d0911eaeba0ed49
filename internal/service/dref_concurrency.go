package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

// storedPrecision is the resolution of TIMESTAMPTZ columns. Postgres rounds finer input to it.
const storedPrecision = time.Microsecond

// storedTime returns t as the database keeps it when written by this service.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(storedPrecision)
}

// ConcurrencyGuard rejects writes based on a stale read of modified_at.
type ConcurrencyGuard struct {
	metrics drefMetrics
}

// NewConcurrencyGuard builds a guard; metrics may be nil.
func NewConcurrencyGuard(metrics drefMetrics) *ConcurrencyGuard {
	return &ConcurrencyGuard{metrics: metrics}
}

// CheckUpdate requires supplied and rejects it when older than stored.
func (g *ConcurrencyGuard) CheckUpdate(kind models.RecordKind, id int64, stored time.Time, supplied *time.Time) error {
	if supplied == nil || supplied.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, "requires last-modified timestamp")
	}
	return g.compare(kind, id, stored, *supplied)
}

// CheckTransition applies the stale-read check only when the caller supplied a timestamp.
func (g *ConcurrencyGuard) CheckTransition(kind models.RecordKind, id int64, stored time.Time, supplied *time.Time) error {
	if supplied == nil || supplied.IsZero() {
		return nil
	}
	return g.compare(kind, id, stored, *supplied)
}

func (g *ConcurrencyGuard) compare(kind models.RecordKind, id int64, stored, supplied time.Time) error {
	if !supplied.Round(storedPrecision).Before(stored.Round(storedPrecision)) {
		return nil
	}
	if g != nil && g.metrics != nil {
		g.metrics.RecordStaleWrite(kind)
	}
	return appErrors.Clone(appErrors.ErrStaleWrite, fmt.Sprintf(
		"%s %d was modified at %s, after the supplied modified_at %s",
		kindLabel(kind), id, stored.UTC().Format(time.RFC3339Nano), supplied.UTC().Format(time.RFC3339Nano),
	))
}
