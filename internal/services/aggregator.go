package services

import (
	"sort"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

// AggregateResult is derived from one submissions snapshot of an exam.
type AggregateResult struct {
	// Only questions with at least one resolved submission
	PerQuestion map[string]models.QuestionAggregate

	// Mean of per-question best scores, nil while nothing is resolved
	ExamScore *float64
	// Mean of per-question final scores, nil while nothing is resolved
	FinalScore *float64

	HasAnyResolved bool

	// Questions with submissions but none resolved, sorted
	Unresolved []string

	SubmissionCount   int
	LatestSubmittedAt *time.Time
}

// Pending reports whether any question is still waiting for a grade.
func (a *AggregateResult) Pending() bool {
	return len(a.Unresolved) > 0
}

// QuestionCount is the number of distinct questions seen in the snapshot.
func (a *AggregateResult) QuestionCount() int {
	return len(a.PerQuestion) + len(a.Unresolved)
}

// Aggregate groups records by question and computes best and final scores.
//
// best_score is the maximum resolved score. final_score is the resolved
// score with the latest submitted_at; equal timestamps go to the record that
// appears last in records. A question without resolved records is left out
// of both means rather than counted as zero.
func Aggregate(records []models.SubmissionRecord) *AggregateResult {
	result := &AggregateResult{
		PerQuestion:     make(map[string]models.QuestionAggregate),
		Unresolved:      []string{},
		SubmissionCount: len(records),
	}

	type questionState struct {
		agg       models.QuestionAggregate
		resolved  bool
		finalTime time.Time
	}

	states := make(map[string]*questionState)
	for _, record := range records {
		questionID := record.GroupKey()
		st, ok := states[questionID]
		if !ok {
			st = &questionState{agg: models.QuestionAggregate{QuestionID: questionID}}
			states[questionID] = st
		}
		st.agg.AttemptCount++

		if !record.SubmittedAt.IsZero() &&
			(result.LatestSubmittedAt == nil || record.SubmittedAt.After(*result.LatestSubmittedAt)) {
			latest := record.SubmittedAt
			result.LatestSubmittedAt = &latest
		}

		if !IsResolved(record) {
			continue
		}

		score := *record.Score
		st.agg.ResolvedCount++
		if !st.resolved {
			st.resolved = true
			st.agg.BestScore = score
			st.agg.FinalScore = score
			st.finalTime = record.SubmittedAt
			continue
		}

		if score > st.agg.BestScore {
			st.agg.BestScore = score
		}
		if !record.SubmittedAt.Before(st.finalTime) {
			st.agg.FinalScore = score
			st.finalTime = record.SubmittedAt
		}
	}

	questionIDs := make([]string, 0, len(states))
	for questionID := range states {
		questionIDs = append(questionIDs, questionID)
	}
	sort.Strings(questionIDs)

	var bestSum, finalSum float64
	for _, questionID := range questionIDs {
		st := states[questionID]
		if !st.resolved {
			result.Unresolved = append(result.Unresolved, questionID)
			continue
		}
		result.PerQuestion[questionID] = st.agg
		bestSum += st.agg.BestScore
		finalSum += st.agg.FinalScore
	}

	if n := len(result.PerQuestion); n > 0 {
		result.HasAnyResolved = true
		examScore := bestSum / float64(n)
		finalScore := finalSum / float64(n)
		result.ExamScore = &examScore
		result.FinalScore = &finalScore
	}

	return result
}

// CheckCompleteness returns a PartialDataError when the snapshot covers fewer
// questions than expected. expected <= 0 disables the check.
func (a *AggregateResult) CheckCompleteness(key models.ExamKey, expected int) error {
	if expected <= 0 || a.SubmissionCount == 0 {
		return nil
	}
	if got := a.QuestionCount(); got < expected {
		return &PartialDataError{Key: key, Expected: expected, Got: got}
	}
	return nil
}
