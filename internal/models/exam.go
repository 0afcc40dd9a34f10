package models

import (
	"fmt"
	"time"
)

// DefaultExamVersion is assumed when the Grading Service omits exam_version.
const DefaultExamVersion = 1

// ExamKey identifies one versioned exam in the results view.
type ExamKey struct {
	ExamID  string
	Version int
}

func NewExamKey(examID string, version int) ExamKey {
	if version <= 0 {
		version = DefaultExamVersion
	}
	return ExamKey{ExamID: examID, Version: version}
}

func (k ExamKey) String() string {
	return fmt.Sprintf("%s-%d", k.ExamID, k.Version)
}

// ExamInfo is one exam row of the exam-history snapshot.
type ExamInfo struct {
	ExamID              string  `json:"exam_id"`
	SubjectName         string  `json:"subject_name"`
	OriginalSubjectName *string `json:"original_subject_name,omitempty"`
	ExamVersion         *int    `json:"exam_version,omitempty"`
	Language            string  `json:"language"`
	DurationMinutes     int     `json:"duration_minutes"`
	JoinedAt            *int64  `json:"joined_at,omitempty"` // unix seconds
	SerialNumber        *int    `json:"serial_number,omitempty"`
	Finished            bool    `json:"finished,omitempty"`
	NumQuestions        *int    `json:"num_questions,omitempty"`
	QuestionsPerStudent *int    `json:"questions_per_student,omitempty"`

	// Org attributes
	DepartmentName *string `json:"department_name,omitempty"`
	SectionName    *string `json:"section_name,omitempty"`
	Year           *int    `json:"year,omitempty"`
}

func (e ExamInfo) Key() ExamKey {
	version := 0
	if e.ExamVersion != nil {
		version = *e.ExamVersion
	}
	return NewExamKey(e.ExamID, version)
}

// DisplayName prefers the subject name the exam was created with.
func (e ExamInfo) DisplayName() string {
	if e.OriginalSubjectName != nil && *e.OriginalSubjectName != "" {
		return *e.OriginalSubjectName
	}
	return e.SubjectName
}

// JoinedTime converts JoinedAt to a time, nil when absent.
func (e ExamInfo) JoinedTime() *time.Time {
	if e.JoinedAt == nil {
		return nil
	}
	t := time.Unix(*e.JoinedAt, 0).UTC()
	return &t
}

// ExamHistory is the student's exam-history snapshot.
type ExamHistory struct {
	Available  []ExamInfo `json:"available_exams"`
	InProgress []ExamInfo `json:"in_progress_exams"`
	Completed  []ExamInfo `json:"completed_exams"`
}

func (h ExamHistory) IsEmpty() bool {
	return len(h.Available) == 0 && len(h.InProgress) == 0 && len(h.Completed) == 0
}

// FinishedExams returns completed exams followed by in-progress exams already
// flagged as finished by the server.
func (h ExamHistory) FinishedExams() []ExamInfo {
	finished := make([]ExamInfo, 0, len(h.Completed)+len(h.InProgress))
	finished = append(finished, h.Completed...)
	for _, exam := range h.InProgress {
		if exam.Finished {
			finished = append(finished, exam)
		}
	}
	return finished
}

// Normalize replaces nil lists with empty ones.
func (h ExamHistory) Normalize() ExamHistory {
	if h.Available == nil {
		h.Available = []ExamInfo{}
	}
	if h.InProgress == nil {
		h.InProgress = []ExamInfo{}
	}
	if h.Completed == nil {
		h.Completed = []ExamInfo{}
	}
	return h
}

// Clone copies the lists so callers can mutate the result freely.
func (h ExamHistory) Clone() ExamHistory {
	return ExamHistory{
		Available:  append([]ExamInfo{}, h.Available...),
		InProgress: append([]ExamInfo{}, h.InProgress...),
		Completed:  append([]ExamInfo{}, h.Completed...),
	}
}
