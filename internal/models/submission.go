package models

import (
	"encoding/json"
	"time"
)

type SubmissionStatus string

const (
	SubmissionDone       SubmissionStatus = "done"
	SubmissionProcessing SubmissionStatus = "processing"
)

// UnknownQuestionID groups records the Grading Service returned without a question id.
const UnknownQuestionID = "unknown"

// LLMFeedback is the free-text review attached by the evaluation pipeline.
type LLMFeedback struct {
	Feedback            *string `json:"feedback,omitempty"`
	Critic              *string `json:"critic,omitempty"`
	Improvements        *string `json:"improvements,omitempty"`
	ScopeForImprovement *string `json:"scope_for_improvement,omitempty"`
}

// SubmissionRecord is one graded, or still grading, attempt at a question.
// Score is nil while the pipeline has not produced a number. An empty Status
// means the pipeline dropped the marker after grading completed.
type SubmissionRecord struct {
	QuestionID  string           `json:"question_id"`
	Score       *float64         `json:"score"`
	Status      SubmissionStatus `json:"status,omitempty" validate:"omitempty,oneof=done processing"`
	SubmittedAt time.Time        `json:"submitted_at"`

	Passed          *bool           `json:"passed,omitempty"`
	IsFinal         bool            `json:"is_final,omitempty"`
	IsBest          bool            `json:"is_best,omitempty"`
	DetailedResults json.RawMessage `json:"detailed_results,omitempty"`
	LLMFeedback     *LLMFeedback    `json:"llm_feedback,omitempty"`

	// LLM evaluation breakdown
	EffortScore     *float64 `json:"effort_score,omitempty"`
	LogicSimilarity *float64 `json:"logic_similarity,omitempty"`
	Correctness     *float64 `json:"correctness,omitempty"`
}

// GroupKey returns the question id records are partitioned by.
func (r SubmissionRecord) GroupKey() string {
	if r.QuestionID == "" {
		return UnknownQuestionID
	}
	return r.QuestionID
}

// SubmissionsResponse is the envelope of the submissions endpoint.
type SubmissionsResponse struct {
	Submissions []SubmissionRecord `json:"submissions"`
}
