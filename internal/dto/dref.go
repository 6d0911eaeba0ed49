package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/dref-api/internal/models"
)

// DrefPayload holds the client-editable fields of an application.
type DrefPayload struct {
	models.CarryForward
	models.SharedCollections

	TypeOfDref         models.DrefType     `json:"type_of_dref" validate:"min=0,max=3"`
	AmountRequested    decimal.NullDecimal `json:"amount_requested"`
	OperationTimeframe *int                `json:"operation_timeframe" validate:"omitempty,min=0"`
	OriginalLanguage   string              `json:"translation_module_original_language" validate:"omitempty,len=2"`

	EventDate                         *time.Time `json:"event_date"`
	NSRespondDate                     *time.Time `json:"ns_respond_date"`
	GovernmentRequestedAssistanceDate *time.Time `json:"government_requested_assistance_date"`
	NSRequestDate                     *time.Time `json:"ns_request_date"`
	SubmissionToGeneva                *time.Time `json:"submission_to_geneva"`
	PublishingDate                    *time.Time `json:"publishing_date"`
	HazardDate                        *time.Time `json:"hazard_date"`
	EndDate                           *time.Time `json:"end_date"`
}

// CreateDrefRequest is the payload for a new application.
type CreateDrefRequest struct {
	DrefPayload
	Users []string `json:"users"`
}

// NewDrefPayload snapshots the editable fields of an existing application.
func NewDrefPayload(d *models.Dref) DrefPayload {
	return DrefPayload{
		CarryForward:                      d.CarryForward,
		SharedCollections:                 d.SharedCollections,
		TypeOfDref:                        d.TypeOfDref,
		AmountRequested:                   d.AmountRequested,
		OperationTimeframe:                d.OperationTimeframe,
		OriginalLanguage:                  d.OriginalLanguage,
		EventDate:                         d.EventDate,
		NSRespondDate:                     d.NSRespondDate,
		GovernmentRequestedAssistanceDate: d.GovernmentRequestedAssistanceDate,
		NSRequestDate:                     d.NSRequestDate,
		SubmissionToGeneva:                d.SubmissionToGeneva,
		PublishingDate:                    d.PublishingDate,
		HazardDate:                        d.HazardDate,
		EndDate:                           d.EndDate,
	}
}

// ApplyTo writes the payload onto the application.
func (p DrefPayload) ApplyTo(d *models.Dref) {
	d.CarryForward = p.CarryForward
	d.SharedCollections = p.SharedCollections
	d.TypeOfDref = p.TypeOfDref
	d.AmountRequested = p.AmountRequested
	d.OperationTimeframe = p.OperationTimeframe
	d.OriginalLanguage = p.OriginalLanguage
	d.EventDate = p.EventDate
	d.NSRespondDate = p.NSRespondDate
	d.GovernmentRequestedAssistanceDate = p.GovernmentRequestedAssistanceDate
	d.NSRequestDate = p.NSRequestDate
	d.SubmissionToGeneva = p.SubmissionToGeneva
	d.PublishingDate = p.PublishingDate
	d.HazardDate = p.HazardDate
	d.EndDate = p.EndDate
}

// OperationalUpdatePayload holds the client-editable fields of an operational update.
type OperationalUpdatePayload struct {
	models.CarryForward
	models.SharedCollections

	AdditionalAllocation       decimal.NullDecimal `json:"additional_allocation"`
	NewOperationalStartDate    *time.Time          `json:"new_operational_start_date"`
	NewOperationalEndDate      *time.Time          `json:"new_operational_end_date"`
	ReportingTimeframe         *time.Time          `json:"reporting_timeframe"`
	ChangingTimeframeOperation bool                `json:"changing_timeframe_operation"`
	Summary                    string              `json:"summary_of_change"`
	OriginalLanguage           string              `json:"translation_module_original_language" validate:"omitempty,len=2"`
}

// NewOperationalUpdatePayload snapshots the editable fields of an update.
func NewOperationalUpdatePayload(u *models.OperationalUpdate) OperationalUpdatePayload {
	return OperationalUpdatePayload{
		CarryForward:               u.CarryForward,
		SharedCollections:          u.SharedCollections,
		AdditionalAllocation:       u.AdditionalAllocation,
		NewOperationalStartDate:    u.NewOperationalStartDate,
		NewOperationalEndDate:      u.NewOperationalEndDate,
		ReportingTimeframe:         u.ReportingTimeframe,
		ChangingTimeframeOperation: u.ChangingTimeframeOperation,
		Summary:                    u.Summary,
		OriginalLanguage:           u.OriginalLanguage,
	}
}

// ApplyTo writes the payload onto the update.
func (p OperationalUpdatePayload) ApplyTo(u *models.OperationalUpdate) {
	u.CarryForward = p.CarryForward
	u.SharedCollections = p.SharedCollections
	u.AdditionalAllocation = p.AdditionalAllocation
	u.NewOperationalStartDate = p.NewOperationalStartDate
	u.NewOperationalEndDate = p.NewOperationalEndDate
	u.ReportingTimeframe = p.ReportingTimeframe
	u.ChangingTimeframeOperation = p.ChangingTimeframeOperation
	u.Summary = p.Summary
	u.OriginalLanguage = p.OriginalLanguage
}

// FinalReportPayload holds the client-editable fields of a final report.
type FinalReportPayload struct {
	models.CarryForward
	models.SharedCollections

	OperationStartDate  *time.Time `json:"operation_start_date"`
	OperationEndDate    *time.Time `json:"operation_end_date"`
	FinancialReportText string     `json:"financial_report_description"`
	OriginalLanguage    string     `json:"translation_module_original_language" validate:"omitempty,len=2"`
}

// NewFinalReportPayload snapshots the editable fields of a final report.
func NewFinalReportPayload(r *models.FinalReport) FinalReportPayload {
	return FinalReportPayload{
		CarryForward:        r.CarryForward,
		SharedCollections:   r.SharedCollections,
		OperationStartDate:  r.OperationStartDate,
		OperationEndDate:    r.OperationEndDate,
		FinancialReportText: r.FinancialReportText,
		OriginalLanguage:    r.OriginalLanguage,
	}
}

// ApplyTo writes the payload onto the final report.
func (p FinalReportPayload) ApplyTo(r *models.FinalReport) {
	r.CarryForward = p.CarryForward
	r.SharedCollections = p.SharedCollections
	r.OperationStartDate = p.OperationStartDate
	r.OperationEndDate = p.OperationEndDate
	r.FinancialReportText = p.FinancialReportText
	r.OriginalLanguage = p.OriginalLanguage
}

// CreateStageRequest starts an operational update or final report for an application.
type CreateStageRequest struct {
	Dref int64 `json:"dref" validate:"required,min=1"`
}

// PatchRequest is a partial update: Body is merged over the stored editable fields.
type PatchRequest struct {
	ModifiedAt *time.Time
	Body       json.RawMessage
}

// TransitionRequest optionally carries the caller's last-read modification time.
type TransitionRequest struct {
	ModifiedAt *time.Time `json:"modified_at"`
}

// ShareRequest replaces the sharing list of a whole chain.
type ShareRequest struct {
	Users []string `json:"users" validate:"dive,required"`
}
