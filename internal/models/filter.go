package models

import "time"

// ChainStageFilter selects chains by the furthest stage they reached.
type ChainStageFilter string

const (
	ChainStageApplication       ChainStageFilter = "application"
	ChainStageOperationalUpdate ChainStageFilter = "operational_update"
	ChainStageFinalReport       ChainStageFilter = "final_report"
)

// DateRange bounds a date column; nil sides are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// DrefDateFields lists the application date columns that accept _from/_to filters.
var DrefDateFields = []string{
	"event_date",
	"ns_respond_date",
	"government_requested_assistance_date",
	"ns_request_date",
	"submission_to_geneva",
	"date_of_approval",
	"publishing_date",
	"hazard_date",
	"end_date",
}

// AppealCodeFilter constrains the appeal codes listed by the aggregation endpoint.
type AppealCodeFilter struct {
	AppealCodePrefix string
	DateRanges       map[string]DateRange
	RegionID         *int64
	CountryISO3      string
	AppealType       *DrefType
	OperationStatus  *DrefStatus
	Stage            ChainStageFilter
	IDs              []int64
	Limit            int
	Offset           int
}

// AccessScope narrows which records an actor may read.
// All short-circuits every other predicate.
type AccessScope struct {
	All       bool
	UserID    string
	RegionIDs []int64
}
