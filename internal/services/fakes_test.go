package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T {
	return &v
}

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func ts(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func done(questionID string, score float64, minute int) models.SubmissionRecord {
	return models.SubmissionRecord{
		QuestionID:  questionID,
		Score:       ptr(score),
		Status:      models.SubmissionDone,
		SubmittedAt: ts(minute),
	}
}

func processing(questionID string, minute int) models.SubmissionRecord {
	return models.SubmissionRecord{
		QuestionID:  questionID,
		Status:      models.SubmissionProcessing,
		SubmittedAt: ts(minute),
	}
}

func exam(id string) models.ExamInfo {
	return models.ExamInfo{
		ExamID:          id,
		SubjectName:     "Subject " + id,
		Language:        "python",
		DurationMinutes: 60,
	}
}

func fastSessionConfig() SessionConfig {
	return SessionConfig{
		Results: ResultsViewConfig{
			Retry:        RetryConfig{Delay: 5 * time.Millisecond, MaxAttempts: 10},
			PollInterval: time.Hour,
		},
		History: HistoryViewConfig{
			PollInterval: 5 * time.Millisecond,
			PollAttempts: 2,
		},
	}
}

// fakeGrading is an in-memory GradingRepository
type fakeGrading struct {
	mu sync.Mutex

	history      *models.ExamHistory
	historyErr   error
	historyCalls int

	submissions     map[string][]models.SubmissionRecord
	submissionsErr  error
	submissionsFn   func(examID string, call int) ([]models.SubmissionRecord, error)
	submissionCalls map[string]int

	identity    *models.Identity
	identityErr error

	reference      *models.ReferenceData
	referenceErr   error
	referenceCalls int
	referenceGate  chan struct{}
}

var _ repositories.GradingRepository = (*fakeGrading)(nil)

func newFakeGrading() *fakeGrading {
	return &fakeGrading{
		history:         &models.ExamHistory{},
		submissions:     make(map[string][]models.SubmissionRecord),
		submissionCalls: make(map[string]int),
		identity:        &models.Identity{UserID: "u1", Name: "Ada", Role: models.RoleStudent},
		reference:       &models.ReferenceData{Departments: []models.Department{{ID: "d1", Name: "CSE"}}},
	}
}

func (f *fakeGrading) setHistory(h models.ExamHistory, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = &h
	f.historyErr = err
}

func (f *fakeGrading) setSubmissions(examID string, records ...models.SubmissionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[examID] = records
}

func (f *fakeGrading) calls(examID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissionCalls[examID]
}

func (f *fakeGrading) FetchExamHistory(context.Context) (*models.ExamHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	h := f.history.Clone()
	return &h, nil
}

func (f *fakeGrading) FetchSubmissions(_ context.Context, examID string, _ int) ([]models.SubmissionRecord, error) {
	f.mu.Lock()
	f.submissionCalls[examID]++
	call := f.submissionCalls[examID]
	fn := f.submissionsFn
	records := append([]models.SubmissionRecord(nil), f.submissions[examID]...)
	err := f.submissionsErr
	f.mu.Unlock()

	if fn != nil {
		return fn(examID, call)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *fakeGrading) FetchIdentity(context.Context) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	c := *f.identity
	return &c, nil
}

func (f *fakeGrading) FetchReferenceData(context.Context) (*models.ReferenceData, error) {
	f.mu.Lock()
	f.referenceCalls++
	gate := f.referenceGate
	data, err := f.reference, f.referenceErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	c := *data
	return &c, nil
}

type fakeClients struct {
	mu     sync.Mutex
	repos  map[string]*fakeGrading
	tokens []string
}

func (f *fakeClients) ForToken(token string) repositories.GradingRepository {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if repo, ok := f.repos[token]; ok {
		return repo
	}
	repo := newFakeGrading()
	if f.repos == nil {
		f.repos = make(map[string]*fakeGrading)
	}
	f.repos[token] = repo
	return repo
}
