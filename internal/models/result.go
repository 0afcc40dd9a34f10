package models

import "time"

// QuestionAggregate is derived from the resolved submissions of one question.
type QuestionAggregate struct {
	QuestionID    string  `json:"question_id"`
	BestScore     float64 `json:"best_score"`
	FinalScore    float64 `json:"final_score"`
	AttemptCount  int     `json:"attempt_count"`
	ResolvedCount int     `json:"resolved_count"`
}

// ExamResultView is one row of the results view. Score stays nil until at
// least one question of the exam has a resolved submission.
type ExamResultView struct {
	ExamInfo

	Score           *float64   `json:"score,omitempty"`
	BestScore       *float64   `json:"best_score,omitempty"`
	FinalScore      *float64   `json:"final_score,omitempty"`
	SubmissionCount *int       `json:"submission_count,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
}

// NewPlaceholderResult creates the unscored row shown as soon as an exam is
// known to be finished.
func NewPlaceholderResult(exam ExamInfo) ExamResultView {
	return ExamResultView{
		ExamInfo:    exam,
		SubmittedAt: exam.JoinedTime(),
	}
}

func (r ExamResultView) HasScore() bool {
	return r.Score != nil
}

// ViewState is the cached collection of results held by one mounted view.
// It is a value: reconciliation returns a new ViewState instead of mutating.
type ViewState struct {
	Version uint64           `json:"version"`
	Entries []ExamResultView `json:"results"`
}

func (s ViewState) IsEmpty() bool {
	return len(s.Entries) == 0
}

// Find returns the entry for key and its index, or -1.
func (s ViewState) Find(key ExamKey) (ExamResultView, int) {
	for i, entry := range s.Entries {
		if entry.Key() == key {
			return entry, i
		}
	}
	return ExamResultView{}, -1
}

// Clone copies the entry slice.
func (s ViewState) Clone() ViewState {
	return ViewState{
		Version: s.Version,
		Entries: append([]ExamResultView(nil), s.Entries...),
	}
}
