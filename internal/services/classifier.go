package services

import (
	"math"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

// IsResolved reports whether a submission counts for aggregation: it needs a
// finite score and must not be explicitly marked as processing. A missing
// status means grading finished.
func IsResolved(record models.SubmissionRecord) bool {
	if record.Score == nil {
		return false
	}
	score := *record.Score
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	return record.Status != models.SubmissionProcessing
}
