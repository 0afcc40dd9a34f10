package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

// SubmissionsView selects which submissions of each question are returned.
type SubmissionsView string

const (
	SubmissionsViewAll   SubmissionsView = "all"
	SubmissionsViewBest  SubmissionsView = "best"
	SubmissionsViewFinal SubmissionsView = "final"
)

func ParseSubmissionsView(raw string) (SubmissionsView, error) {
	switch SubmissionsView(raw) {
	case "", SubmissionsViewAll:
		return SubmissionsViewAll, nil
	case SubmissionsViewBest, SubmissionsViewFinal:
		return SubmissionsView(raw), nil
	}
	return "", newQueryError("view", "must be one of [all best final]")
}

// QuestionSubmissions is the submission list of one question, oldest first.
// Aggregate is nil while no submission of the question is resolved.
type QuestionSubmissions struct {
	QuestionID  string                    `json:"question_id"`
	Processing  bool                      `json:"processing"`
	Aggregate   *models.QuestionAggregate `json:"aggregate,omitempty"`
	Submissions []models.SubmissionRecord `json:"submissions"`
}

// ExamSubmissions is one exam's submissions grouped by question.
type ExamSubmissions struct {
	ExamKey         string                `json:"exam_key"`
	View            SubmissionsView       `json:"view"`
	ExamScore       *float64              `json:"exam_score"`
	FinalScore      *float64              `json:"final_score"`
	SubmissionCount int                   `json:"submission_count"`
	Questions       []QuestionSubmissions `json:"questions"`
}

// GroupSubmissions partitions records by question and marks each question's
// best and final submission. Only resolved records are eligible: best is the
// first record with the highest score, final the one with the latest
// submitted_at, ties going to the record that appears last. Both follow
// Aggregate, so the marked records carry the aggregate's scores.
func GroupSubmissions(key models.ExamKey, records []models.SubmissionRecord, view SubmissionsView) *ExamSubmissions {
	agg := Aggregate(records)

	type group struct {
		records []models.SubmissionRecord
		best    int
		final   int
	}
	groups := make(map[string]*group)
	for _, record := range records {
		questionID := record.GroupKey()
		g, ok := groups[questionID]
		if !ok {
			g = &group{best: -1, final: -1}
			groups[questionID] = g
		}

		record.IsBest = false
		record.IsFinal = false
		idx := len(g.records)
		g.records = append(g.records, record)

		if !IsResolved(record) {
			continue
		}
		if g.best < 0 || *record.Score > *g.records[g.best].Score {
			g.best = idx
		}
		if g.final < 0 || !record.SubmittedAt.Before(g.records[g.final].SubmittedAt) {
			g.final = idx
		}
	}

	questionIDs := make([]string, 0, len(groups))
	for questionID := range groups {
		questionIDs = append(questionIDs, questionID)
	}
	sort.Strings(questionIDs)

	result := &ExamSubmissions{
		ExamKey:         key.String(),
		View:            view,
		ExamScore:       copyFloat(agg.ExamScore),
		FinalScore:      copyFloat(agg.FinalScore),
		SubmissionCount: agg.SubmissionCount,
		Questions:       make([]QuestionSubmissions, 0, len(questionIDs)),
	}

	for _, questionID := range questionIDs {
		g := groups[questionID]
		if g.best >= 0 {
			g.records[g.best].IsBest = true
			g.records[g.final].IsFinal = true
		}

		question := QuestionSubmissions{
			QuestionID:  questionID,
			Processing:  g.best < 0,
			Submissions: filterSubmissions(g.records, view),
		}
		if qa, ok := agg.PerQuestion[questionID]; ok {
			question.Aggregate = &qa
		}
		result.Questions = append(result.Questions, question)
	}

	return result
}

func filterSubmissions(records []models.SubmissionRecord, view SubmissionsView) []models.SubmissionRecord {
	out := make([]models.SubmissionRecord, 0, len(records))
	for _, record := range records {
		switch {
		case view == SubmissionsViewBest && !record.IsBest:
			continue
		case view == SubmissionsViewFinal && !record.IsFinal:
			continue
		}
		out = append(out, record)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Submissions fetches the submissions of one exam with the caller's
// credentials and groups them by question.
func (s *Session) Submissions(ctx context.Context, key models.ExamKey, view SubmissionsView) (*ExamSubmissions, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	records, err := s.repo.FetchSubmissions(ctx, key.ExamID, key.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions of %s: %w", key, err)
	}
	return GroupSubmissions(key, records, view), nil
}
