package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/dref-api/internal/models"
)

// predecessor is the stage a new operational update or final report inherits from.
type predecessor struct {
	kind        models.RecordKind
	id          int64
	number      int
	status      models.DrefStatus
	carry       models.CarryForward
	collections models.SharedCollections
	language    string
	allocated   decimal.NullDecimal
	startDate   *time.Time
	endDate     *time.Time
}

// CarryForwardEngine populates new stages from the latest eligible predecessor.
type CarryForwardEngine struct {
	now func() time.Time
}

// NewCarryForwardEngine constructs the engine.
func NewCarryForwardEngine() *CarryForwardEngine {
	return &CarryForwardEngine{now: func() time.Time { return time.Now().UTC() }}
}

// resolve picks the latest operational update, or the application when none exists.
func (e *CarryForwardEngine) resolve(app *models.Dref, latest *models.OperationalUpdate) predecessor {
	if latest == nil {
		return predecessor{
			kind:        models.RecordKindDref,
			id:          app.ID,
			status:      app.Status,
			carry:       app.CarryForward,
			collections: app.SharedCollections,
			language:    app.OriginalLanguage,
			allocated:   app.AmountRequested,
			startDate:   app.DateOfApproval,
			endDate:     app.EndDate,
		}
	}
	return predecessor{
		kind:        models.RecordKindOperationalUpdate,
		id:          latest.ID,
		number:      latest.OperationalUpdateNumber,
		status:      latest.Status,
		carry:       latest.CarryForward,
		collections: latest.SharedCollections,
		language:    latest.OriginalLanguage,
		allocated:   latest.TotalDrefAllocation,
		startDate:   latest.NewOperationalStartDate,
		endDate:     latest.NewOperationalEndDate,
	}
}

// eligible enforces that the application and the predecessor have both been finalized.
func (e *CarryForwardEngine) eligible(app *models.Dref, pred predecessor) error {
	if !app.Status.Published() {
		return validationf("DREF %d must be finalized before a new stage can be created (current status: %s)", app.ID, app.Status.Label())
	}
	if pred.kind == models.RecordKindOperationalUpdate && !pred.status.Published() {
		return validationf("Operational update %d (number %d) must be finalized before a new stage can be created (current status: %s)",
			pred.id, pred.number, pred.status.Label())
	}
	return nil
}

// NextOperationalUpdate builds the next numbered update of app. predecessorUsers is the sharing
// list of the resolved predecessor.
func (e *CarryForwardEngine) NextOperationalUpdate(app *models.Dref, latest *models.OperationalUpdate, predecessorUsers []string, actorID string) (*models.OperationalUpdate, error) {
	if app.IsFinalReportCreated {
		return nil, validationf("Operational update cannot be created for DREF %d because its final report already exists", app.ID)
	}
	pred := e.resolve(app, latest)
	if err := e.eligible(app, pred); err != nil {
		return nil, err
	}
	update := &models.OperationalUpdate{
		DrefID:                  app.ID,
		OperationalUpdateNumber: pred.number + 1,
		CarryForward:            pred.carry,
		SharedCollections:       pred.collections,
		Translation:             models.Translation{OriginalLanguage: pred.language},
		Audit:                   models.Audit{CreatedBy: actorID, CreatedAt: storedTime(e.now())},
		Status:                  models.DrefStatusDraft,
		DrefAllocatedSoFar:      pred.allocated,
		TotalDrefAllocation:     pred.allocated,
		NewOperationalStartDate: pred.startDate,
		NewOperationalEndDate:   pred.endDate,
		Users:                   copyUsers(predecessorUsers),
	}
	return update, nil
}

// NewFinalReport builds the final report of app. existing is the chain's current final report, if any.
func (e *CarryForwardEngine) NewFinalReport(app *models.Dref, latest *models.OperationalUpdate, existing *models.FinalReport, predecessorUsers []string, actorID string) (*models.FinalReport, error) {
	if app.TypeOfDref == models.DrefTypeLoan {
		return nil, validationf("Final report cannot be created for DREF %d of type %s", app.ID, app.TypeOfDref.Label())
	}
	if existing != nil || app.IsFinalReportCreated {
		return nil, validationf("Final report already exists for DREF %d", app.ID)
	}
	pred := e.resolve(app, latest)
	if err := e.eligible(app, pred); err != nil {
		return nil, err
	}
	report := &models.FinalReport{
		DrefID:              app.ID,
		CarryForward:        pred.carry,
		SharedCollections:   pred.collections,
		Translation:         models.Translation{OriginalLanguage: pred.language},
		Audit:               models.Audit{CreatedBy: actorID, CreatedAt: storedTime(e.now())},
		Status:              models.DrefStatusDraft,
		TotalDrefAllocation: pred.allocated,
		OperationStartDate:  pred.startDate,
		OperationEndDate:    pred.endDate,
		Users:               copyUsers(predecessorUsers),
	}
	return report, nil
}

// totalAllocation adds an additional allocation to what was allocated so far.
func totalAllocation(soFar, additional decimal.NullDecimal) decimal.NullDecimal {
	if !additional.Valid {
		return soFar
	}
	if !soFar.Valid {
		return additional
	}
	return decimal.NullDecimal{Decimal: soFar.Decimal.Add(additional.Decimal), Valid: true}
}

func copyUsers(users []string) []string {
	out := make([]string, len(users))
	copy(out, users)
	return out
}
