package models

import (
	"encoding/json"
	"fmt"
)

// Stage display labels.
const (
	StageLabelApplication = "Application"
	StageLabelFinalReport = "Final Report"
	NoAllocation          = "No allocation"
)

// StageLabelOperationalUpdate renders the label of the n-th operational update.
func StageLabelOperationalUpdate(n int) string {
	return fmt.Sprintf("Operational Update %d", n)
}

// ChainStage is one entry of the read-time assembled chain for an appeal code.
type ChainStage struct {
	Kind          RecordKind
	Stage         string
	Allocation    string
	IsLatestStage bool

	Dref              *Dref
	OperationalUpdate *OperationalUpdate
	FinalReport       *FinalReport
}

// Record returns the stored record backing the stage.
func (s ChainStage) Record() interface{} {
	switch s.Kind {
	case RecordKindDref:
		return s.Dref
	case RecordKindOperationalUpdate:
		return s.OperationalUpdate
	case RecordKindFinalReport:
		return s.FinalReport
	}
	return nil
}

// Status returns the lifecycle status of the backing record.
func (s ChainStage) Status() DrefStatus {
	switch {
	case s.Dref != nil:
		return s.Dref.Status
	case s.OperationalUpdate != nil:
		return s.OperationalUpdate.Status
	case s.FinalReport != nil:
		return s.FinalReport.Status
	}
	return DrefStatusDraft
}

// MarshalJSON flattens the record fields and adds the derived stage fields.
func (s ChainStage) MarshalJSON() ([]byte, error) {
	record := s.Record()
	fields := map[string]json.RawMessage{}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	derived := map[string]interface{}{
		"stage":           s.Stage,
		"allocation":      s.Allocation,
		"is_latest_stage": s.IsLatestStage,
		"record_type":     s.Kind,
	}
	for key, value := range derived {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		fields[key] = raw
	}
	return json.Marshal(fields)
}

// Chain holds the raw records for one appeal code before stage labelling.
type Chain struct {
	AppealCode         string
	Drefs              []Dref
	OperationalUpdates []OperationalUpdate
	FinalReports       []FinalReport
}

// Empty reports whether no record was found.
func (c Chain) Empty() bool {
	return len(c.Drefs) == 0 && len(c.OperationalUpdates) == 0 && len(c.FinalReports) == 0
}
