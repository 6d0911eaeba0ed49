package service

import (
	"fmt"
	"sort"

	"github.com/noah-isme/dref-api/internal/models"
)

var allocationOrdinals = []string{
	"First", "Second", "Third", "Fourth", "Fifth",
	"Sixth", "Seventh", "Eighth", "Ninth", "Tenth",
}

// allocationOrdinal names the i-th (0-based) allocation, falling back to numeric ordinals past Tenth.
func allocationOrdinal(i int) string {
	if i < len(allocationOrdinals) {
		return allocationOrdinals[i]
	}
	n := i + 1
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

// ChainBuilder orders the records of one appeal code and derives the per-stage fields.
type ChainBuilder struct{}

// NewChainBuilder constructs a builder.
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// Build returns the stages in Application -> Operational Updates -> Final Report order.
// Operational updates are labelled with their stored number.
func (b *ChainBuilder) Build(chain models.Chain) []models.ChainStage {
	updates := make([]models.OperationalUpdate, len(chain.OperationalUpdates))
	copy(updates, chain.OperationalUpdates)
	sort.SliceStable(updates, func(i, j int) bool {
		if updates[i].DrefID != updates[j].DrefID {
			return updates[i].DrefID < updates[j].DrefID
		}
		return updates[i].OperationalUpdateNumber < updates[j].OperationalUpdateNumber
	})

	stages := make([]models.ChainStage, 0, len(chain.Drefs)+len(updates)+len(chain.FinalReports))
	for i := range chain.Drefs {
		stages = append(stages, models.ChainStage{
			Kind:       models.RecordKindDref,
			Stage:      models.StageLabelApplication,
			Allocation: allocationOrdinal(0),
			Dref:       &chain.Drefs[i],
		})
	}

	next := 1
	for i := range updates {
		update := &updates[i]
		allocation := models.NoAllocation
		if update.AdditionalAllocation.Valid {
			allocation = allocationOrdinal(next)
			next++
		}
		stages = append(stages, models.ChainStage{
			Kind:              models.RecordKindOperationalUpdate,
			Stage:             models.StageLabelOperationalUpdate(update.OperationalUpdateNumber),
			Allocation:        allocation,
			OperationalUpdate: update,
		})
	}

	for i := range chain.FinalReports {
		stages = append(stages, models.ChainStage{
			Kind:        models.RecordKindFinalReport,
			Stage:       models.StageLabelFinalReport,
			Allocation:  models.NoAllocation,
			FinalReport: &chain.FinalReports[i],
		})
	}

	// Only approval moves the latest-stage marker; a finalized stage awaiting approval does not.
	latest := -1
	for i := range stages {
		if stages[i].Status() == models.DrefStatusApproved {
			latest = i
		}
	}
	if latest >= 0 {
		stages[latest].IsLatestStage = true
	}
	return stages
}
