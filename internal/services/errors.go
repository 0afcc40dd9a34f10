package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrViewClosed    = errors.New("view closed")
	ErrManagerClosed = errors.New("session manager shut down")
	ErrInvalidQuery  = errors.New("invalid results query")
)

// TransportError is returned when the Grading Service could not be reached
// or answered with a non-success status.
type TransportError = repositories.TransportError

func IsTransportError(err error) bool {
	return repositories.IsTransportError(err)
}

// PartialDataError reports a submissions response that parsed but covers
// fewer questions than the exam declares. It is logged, never returned to
// callers: missing questions are treated like unresolved ones.
type PartialDataError struct {
	Key      models.ExamKey
	Expected int
	Got      int
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("exam %s: expected %d questions, got %d", e.Key, e.Expected, e.Got)
}

// QueryError describes a rejected results query parameter
type QueryError struct {
	Field   string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *QueryError) Unwrap() error {
	return ErrInvalidQuery
}

func newQueryError(field string, format string, args ...any) error {
	return &QueryError{Field: field, Message: strings.TrimSpace(fmt.Sprintf(format, args...))}
}
