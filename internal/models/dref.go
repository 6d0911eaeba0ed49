package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// DrefStatus is the lifecycle state shared by applications, operational updates and final reports.
type DrefStatus int

const (
	DrefStatusDraft      DrefStatus = 0
	DrefStatusInProgress DrefStatus = 1
	DrefStatusFinalized  DrefStatus = 2
	DrefStatusApproved   DrefStatus = 3
)

// Label returns the display name of the status.
func (s DrefStatus) Label() string {
	switch s {
	case DrefStatusDraft:
		return "Draft"
	case DrefStatusInProgress:
		return "In Progress"
	case DrefStatusFinalized:
		return "Finalized"
	case DrefStatusApproved:
		return "Approved"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a known status.
func (s DrefStatus) Valid() bool {
	return s >= DrefStatusDraft && s <= DrefStatusApproved
}

// Published reports whether the status counts as finalized for chain purposes.
func (s DrefStatus) Published() bool {
	return s >= DrefStatusFinalized
}

// DrefType enumerates the kinds of DREF requests.
type DrefType int

const (
	DrefTypeImminent   DrefType = 0
	DrefTypeAssessment DrefType = 1
	DrefTypeResponse   DrefType = 2
	DrefTypeLoan       DrefType = 3
)

// Label returns the display name of the type.
func (t DrefType) Label() string {
	switch t {
	case DrefTypeImminent:
		return "Imminent"
	case DrefTypeAssessment:
		return "Assessment"
	case DrefTypeResponse:
		return "Response"
	case DrefTypeLoan:
		return "Loan"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a known type.
func (t DrefType) Valid() bool {
	return t >= DrefTypeImminent && t <= DrefTypeLoan
}

// RecordKind names one of the three stored stage kinds.
type RecordKind string

const (
	RecordKindDref              RecordKind = "dref"
	RecordKindOperationalUpdate RecordKind = "operational_update"
	RecordKindFinalReport       RecordKind = "final_report"
)

// CarryForward lists every field copied from the predecessor stage when a new
// operational update or final report is created. Adding a field here is enough
// for it to be carried along the chain.
type CarryForward struct {
	Title      string  `db:"title" json:"title"`
	AppealCode *string `db:"appeal_code" json:"appeal_code"`
	GlideCode  *string `db:"glide_code" json:"glide_code"`
	CountryID  *int64  `db:"country_id" json:"country"`

	NationalSocietyContactName        string `db:"national_society_contact_name" json:"national_society_contact_name"`
	NationalSocietyContactEmail       string `db:"national_society_contact_email" json:"national_society_contact_email" validate:"omitempty,email"`
	NationalSocietyContactTitle       string `db:"national_society_contact_title" json:"national_society_contact_title"`
	NationalSocietyContactPhoneNumber string `db:"national_society_contact_phone_number" json:"national_society_contact_phone_number"`
	IFRCAppealManagerName             string `db:"ifrc_appeal_manager_name" json:"ifrc_appeal_manager_name"`
	IFRCAppealManagerEmail            string `db:"ifrc_appeal_manager_email" json:"ifrc_appeal_manager_email" validate:"omitempty,email"`
	IFRCAppealManagerTitle            string `db:"ifrc_appeal_manager_title" json:"ifrc_appeal_manager_title"`
	IFRCAppealManagerPhoneNumber      string `db:"ifrc_appeal_manager_phone_number" json:"ifrc_appeal_manager_phone_number"`
	IFRCProjectManagerName            string `db:"ifrc_project_manager_name" json:"ifrc_project_manager_name"`
	IFRCProjectManagerEmail           string `db:"ifrc_project_manager_email" json:"ifrc_project_manager_email" validate:"omitempty,email"`
	IFRCProjectManagerTitle           string `db:"ifrc_project_manager_title" json:"ifrc_project_manager_title"`
	IFRCProjectManagerPhoneNumber     string `db:"ifrc_project_manager_phone_number" json:"ifrc_project_manager_phone_number"`
	IFRCEmergencyName                 string `db:"ifrc_emergency_name" json:"ifrc_emergency_name"`
	IFRCEmergencyEmail                string `db:"ifrc_emergency_email" json:"ifrc_emergency_email" validate:"omitempty,email"`
	IFRCEmergencyTitle                string `db:"ifrc_emergency_title" json:"ifrc_emergency_title"`
	IFRCEmergencyPhoneNumber          string `db:"ifrc_emergency_phone_number" json:"ifrc_emergency_phone_number"`
	MediaContactName                  string `db:"media_contact_name" json:"media_contact_name"`
	MediaContactEmail                 string `db:"media_contact_email" json:"media_contact_email" validate:"omitempty,email"`
	MediaContactTitle                 string `db:"media_contact_title" json:"media_contact_title"`
	MediaContactPhoneNumber           string `db:"media_contact_phone_number" json:"media_contact_phone_number"`

	NumAffected                    *int64   `db:"num_affected" json:"num_affected"`
	PeopleInNeed                   *int64   `db:"people_in_need" json:"people_in_need"`
	TotalTargetedPopulation        *int64   `db:"total_targeted_population" json:"total_targeted_population"`
	Women                          *int64   `db:"women" json:"women"`
	Men                            *int64   `db:"men" json:"men"`
	Girls                          *int64   `db:"girls" json:"girls"`
	Boys                           *int64   `db:"boys" json:"boys"`
	DisabilityPeoplePer            *float64 `db:"disability_people_per" json:"disability_people_per"`
	PeoplePerUrban                 *float64 `db:"people_per_urban" json:"people_per_urban"`
	PeoplePerLocal                 *float64 `db:"people_per_local" json:"people_per_local"`
	DisplacedPeople                *int64   `db:"displaced_people" json:"displaced_people"`
	PeopleTargetedWithEarlyActions *int64   `db:"people_targeted_with_early_actions" json:"people_targeted_with_early_actions"`

	EventDescription           string `db:"event_description" json:"event_description"`
	OperationObjective         string `db:"operation_objective" json:"operation_objective"`
	ResponseStrategy           string `db:"response_strategy" json:"response_strategy"`
	PeopleAssisted             string `db:"people_assisted" json:"people_assisted"`
	SelectionCriteria          string `db:"selection_criteria" json:"selection_criteria"`
	IFRC                       string `db:"ifrc" json:"ifrc"`
	ICRC                       string `db:"icrc" json:"icrc"`
	PartnerNationalSociety     string `db:"partner_national_society" json:"partner_national_society"`
	UNOrOtherActor             string `db:"un_or_other_actor" json:"un_or_other_actor"`
	MajorCoordinationMechanism string `db:"major_coordination_mechanism" json:"major_coordination_mechanism"`
}

// SharedCollections references associated rows shared by reference between stages.
type SharedCollections struct {
	PlannedInterventionIDs   pq.Int64Array `db:"planned_intervention_ids" json:"planned_interventions"`
	ImageIDs                 pq.Int64Array `db:"image_ids" json:"images"`
	NationalSocietyActionIDs pq.Int64Array `db:"national_society_action_ids" json:"national_society_actions"`
	NeedsIdentifiedIDs       pq.Int64Array `db:"needs_identified_ids" json:"needs_identified"`
}

// Translation tracks the original-language marker and whether localized fields are still pending.
type Translation struct {
	OriginalLanguage   string `db:"translation_module_original_language" json:"translation_module_original_language"`
	TranslationPending bool   `db:"translation_module_pending" json:"-"`
}

// Audit carries ownership and the optimistic concurrency token.
type Audit struct {
	CreatedBy  string    `db:"created_by" json:"created_by"`
	ModifiedBy *string   `db:"modified_by" json:"modified_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}

// Dref is the application stage of a chain.
type Dref struct {
	ID int64 `db:"id" json:"id"`
	CarryForward
	SharedCollections
	Translation
	Audit

	TypeOfDref           DrefType            `db:"type_of_dref" json:"type_of_dref"`
	Status               DrefStatus          `db:"status" json:"status"`
	IsPublished          bool                `db:"is_published" json:"is_published"`
	IsActive             bool                `db:"is_active" json:"is_active"`
	IsFinalReportCreated bool                `db:"is_final_report_created" json:"is_final_report_created"`
	AmountRequested      decimal.NullDecimal `db:"amount_requested" json:"amount_requested"`
	OperationTimeframe   *int                `db:"operation_timeframe" json:"operation_timeframe"`

	EventDate                         *time.Time `db:"event_date" json:"event_date"`
	NSRespondDate                     *time.Time `db:"ns_respond_date" json:"ns_respond_date"`
	GovernmentRequestedAssistanceDate *time.Time `db:"government_requested_assistance_date" json:"government_requested_assistance_date"`
	NSRequestDate                     *time.Time `db:"ns_request_date" json:"ns_request_date"`
	SubmissionToGeneva                *time.Time `db:"submission_to_geneva" json:"submission_to_geneva"`
	DateOfApproval                    *time.Time `db:"date_of_approval" json:"date_of_approval"`
	PublishingDate                    *time.Time `db:"publishing_date" json:"publishing_date"`
	HazardDate                        *time.Time `db:"hazard_date" json:"hazard_date"`
	EndDate                           *time.Time `db:"end_date" json:"end_date"`

	Users []string `db:"-" json:"users"`
}

// OperationalUpdate extends a chain with a numbered update.
type OperationalUpdate struct {
	ID                      int64 `db:"id" json:"id"`
	DrefID                  int64 `db:"dref_id" json:"dref"`
	OperationalUpdateNumber int   `db:"operational_update_number" json:"operational_update_number"`
	CarryForward
	SharedCollections
	Translation
	Audit

	Status                     DrefStatus          `db:"status" json:"status"`
	IsPublished                bool                `db:"is_published" json:"is_published"`
	AdditionalAllocation       decimal.NullDecimal `db:"additional_allocation" json:"additional_allocation"`
	DrefAllocatedSoFar         decimal.NullDecimal `db:"dref_allocated_so_far" json:"dref_allocated_so_far"`
	TotalDrefAllocation        decimal.NullDecimal `db:"total_dref_allocation" json:"total_dref_allocation"`
	NewOperationalStartDate    *time.Time          `db:"new_operational_start_date" json:"new_operational_start_date"`
	NewOperationalEndDate      *time.Time          `db:"new_operational_end_date" json:"new_operational_end_date"`
	ReportingTimeframe         *time.Time          `db:"reporting_timeframe" json:"reporting_timeframe"`
	ChangingTimeframeOperation bool                `db:"changing_timeframe_operation" json:"changing_timeframe_operation"`
	Summary                    string              `db:"summary_of_change" json:"summary_of_change"`

	Users []string `db:"-" json:"users"`
}

// FinalReport closes a chain.
type FinalReport struct {
	ID     int64 `db:"id" json:"id"`
	DrefID int64 `db:"dref_id" json:"dref"`
	CarryForward
	SharedCollections
	Translation
	Audit

	Status              DrefStatus          `db:"status" json:"status"`
	IsPublished         bool                `db:"is_published" json:"is_published"`
	DateOfApproval      *time.Time          `db:"date_of_approval" json:"date_of_approval"`
	TotalDrefAllocation decimal.NullDecimal `db:"total_dref_allocation" json:"total_dref_allocation"`
	OperationStartDate  *time.Time          `db:"operation_start_date" json:"operation_start_date"`
	OperationEndDate    *time.Time          `db:"operation_end_date" json:"operation_end_date"`
	FinancialReportText string              `db:"financial_report_description" json:"financial_report_description"`

	Users []string `db:"-" json:"users"`
}

// ChainMembership is the minimum needed to decide whether an actor may touch a chain.
type ChainMembership struct {
	DrefID            int64
	RegionID          *int64
	CreatedBy         string
	DrefUsers         []string
	LatestUpdateUsers []string
	FinalReportUsers  []string
}
