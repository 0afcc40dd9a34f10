package events

import (
	"fmt"
	"unicode/utf8"
)

const (
	// TopicExamFinished carries ExamFinishedPayload
	TopicExamFinished = "exam-auto-finished"
	// TopicReferenceDataChanged has no payload
	TopicReferenceDataChanged = "reference-data-changed"
)

// ExamFinishedPayload announces that an exam of the scoped user finished.
type ExamFinishedPayload struct {
	UserScope string `json:"user_scope" validate:"required"`
	ExamID    string `json:"exam_id" validate:"required"`
}

// DeriveScope returns the fixed-length prefix of the credential that
// namespaces cross-view signals for one identity.
func DeriveScope(token string, length int) string {
	if length <= 0 || utf8.RuneCountInString(token) <= length {
		return token
	}
	return string([]rune(token)[:length])
}

// FinishedFlagKey is the durable presence flag written on exam finish.
func FinishedFlagKey(scope string) string {
	return fmt.Sprintf("%s-%s", TopicExamFinished, scope)
}

// LastExamKey holds the exam id that accompanies FinishedFlagKey.
func LastExamKey(scope string) string {
	return fmt.Sprintf("last-exam-id-%s", scope)
}
