package services

import (
	"time"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

// Merge folds a fresh results snapshot into previous.
//
//   - An empty snapshot leaves a non-empty previous state untouched.
//   - A fresh entry without a score never replaces a previous entry that has one.
//   - Entries missing from the snapshot are kept; only Reset drops entries.
//
// The result lists fresh entries in snapshot order followed by previous-only
// entries in their previous order.
func Merge(previous models.ViewState, fresh []models.ExamResultView) models.ViewState {
	if len(fresh) == 0 && !previous.IsEmpty() {
		return previous
	}

	previousByKey := make(map[models.ExamKey]models.ExamResultView, len(previous.Entries))
	for _, entry := range previous.Entries {
		previousByKey[entry.Key()] = entry
	}

	merged := make([]models.ExamResultView, 0, len(fresh)+len(previous.Entries))
	position := make(map[models.ExamKey]int, len(fresh))
	for _, entry := range fresh {
		key := entry.Key()

		candidate := entry
		if idx, seen := position[key]; seen {
			// duplicate key inside one snapshot: fold into the earlier slot
			merged[idx] = preferScored(merged[idx], candidate)
			continue
		}
		if prev, ok := previousByKey[key]; ok {
			candidate = preferScored(prev, candidate)
		}

		position[key] = len(merged)
		merged = append(merged, candidate)
	}

	for _, entry := range previous.Entries {
		if _, ok := position[entry.Key()]; ok {
			continue
		}
		position[entry.Key()] = len(merged)
		merged = append(merged, entry)
	}

	return models.ViewState{
		Version: previous.Version + 1,
		Entries: merged,
	}
}

func preferScored(held, incoming models.ExamResultView) models.ExamResultView {
	if held.HasScore() && !incoming.HasScore() {
		return held
	}
	return incoming
}

// ApplyAggregate writes the scores computed for key into its entry. An
// aggregate without resolved questions updates only the submission count
// and timestamp, so a defined score is never cleared. A key that is not in
// state leaves state unchanged.
func ApplyAggregate(state models.ViewState, key models.ExamKey, agg *AggregateResult, fallbackSubmittedAt *time.Time) models.ViewState {
	entry, idx := state.Find(key)
	if idx < 0 || agg == nil {
		return state
	}

	count := agg.SubmissionCount
	entry.SubmissionCount = &count

	if agg.HasAnyResolved {
		entry.Score = copyFloat(agg.ExamScore)
		entry.BestScore = copyFloat(agg.ExamScore)
		entry.FinalScore = copyFloat(agg.FinalScore)
	}

	switch {
	case agg.LatestSubmittedAt != nil:
		submittedAt := *agg.LatestSubmittedAt
		entry.SubmittedAt = &submittedAt
	case entry.SubmittedAt == nil && fallbackSubmittedAt != nil:
		submittedAt := *fallbackSubmittedAt
		entry.SubmittedAt = &submittedAt
	}

	next := state.Clone()
	next.Entries[idx] = entry
	next.Version++
	return next
}

// MergeHistory keeps the previous exam history when the fresh one has no
// exams at all and a previous one exists.
func MergeHistory(previous, fresh models.ExamHistory, hadPrevious bool) models.ExamHistory {
	if fresh.IsEmpty() && hadPrevious {
		return previous
	}
	return fresh.Normalize().Clone()
}

// Reset is the explicit terminal path that drops every cached result.
func Reset() models.ViewState {
	return models.ViewState{Entries: []models.ExamResultView{}}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
