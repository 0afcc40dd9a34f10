package grading

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/results-sync/internal/config"
	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.GradingConfig{
		BaseURL:   server.URL + "/api",
		Timeout:   2 * time.Second,
		RateLimit: 1000,
		RateBurst: 100,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(config.GradingConfig{BaseURL: "not a url", RateLimit: 1, RateBurst: 1}, slog.Default())
	assert.Error(t, err)
}

func TestClient_FetchSubmissions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/student/submissions/E1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"submissions":[
			{"question_id":"q1","score":80,"status":"done","submitted_at":"2025-03-01T10:00:00Z"},
			{"question_id":"q2","score":null,"status":"processing","submitted_at":"2025-03-01T10:05:00Z"}
		]}`)
	})
	client := newTestClient(t, mux)

	records, err := client.ForToken("tok").FetchSubmissions(context.Background(), "E1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "q1", records[0].QuestionID)
	require.NotNil(t, records[0].Score)
	assert.Equal(t, 80.0, *records[0].Score)
	assert.Nil(t, records[1].Score)
	assert.Equal(t, models.SubmissionProcessing, records[1].Status)
}

func TestClient_FetchSubmissionsDefaultsVersionAndEmptyBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/student/submissions/E1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("version"))
		_, _ = io.WriteString(w, `{}`)
	})
	client := newTestClient(t, mux)

	records, err := client.ForToken("tok").FetchSubmissions(context.Background(), "E1", 0)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestClient_FetchExamHistoryNormalizes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/student/exam-history", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"completed_exams":[{"exam_id":"E1","subject_name":"Algorithms","language":"python","duration_minutes":60}]}`)
	})
	client := newTestClient(t, mux)

	history, err := client.ForToken("tok").FetchExamHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history.Completed, 1)
	assert.Equal(t, "Algorithms", history.Completed[0].SubjectName)
	assert.NotNil(t, history.Available)
	assert.NotNil(t, history.InProgress)
}

func TestClient_FetchIdentityAndReferenceData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"user_id":"u1","name":"Ada"}`)
	})
	mux.HandleFunc("/api/reference-data", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"departments":[{"id":"d1","name":"CSE"}],"years":[{"id":"y1","year":2}]}`)
	})
	client := newTestClient(t, mux)
	session := client.ForToken("tok")

	identity, err := session.FetchIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", identity.Name)
	assert.Equal(t, models.RoleStudent, identity.Role)

	data, err := session.FetchReferenceData(context.Background())
	require.NoError(t, err)
	require.Len(t, data.Departments, 1)
	assert.Equal(t, 2, data.Years[0].Value)
	assert.False(t, data.FetchedAt.IsZero())
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantIs      error
	}{
		{name: "detail string", status: http.StatusInternalServerError, body: `{"detail":"boom"}`, wantMessage: "boom"},
		{name: "error field", status: http.StatusBadGateway, body: `{"error":"upstream"}`, wantMessage: "upstream"},
		{name: "plain text", status: http.StatusServiceUnavailable, body: "maintenance", wantMessage: "maintenance"},
		{name: "empty body", status: http.StatusInternalServerError, body: "", wantMessage: "500 Internal Server Error"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"expired"}`, wantMessage: "expired", wantIs: repositories.ErrUnauthorized},
		{name: "not found", status: http.StatusNotFound, body: `{"detail":"no exam"}`, wantMessage: "no exam", wantIs: repositories.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := client.ForToken("tok").FetchExamHistory(context.Background())
			require.Error(t, err)

			var te *repositories.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.wantMessage, te.Message)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestClient_MalformedBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"submissions":`)
	}))

	_, err := client.ForToken("tok").FetchSubmissions(context.Background(), "E1", 1)
	assert.True(t, repositories.IsTransportError(err))
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := NewClient(config.GradingConfig{
		BaseURL: server.URL, Timeout: time.Second, RateLimit: 100, RateBurst: 10,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = client.ForToken("tok").FetchIdentity(context.Background())
	var te *repositories.TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
}

func TestClient_TooManyRequestsSlowsDown(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ForToken("tok").FetchExamHistory(context.Background())
	require.Error(t, err)
	assert.Equal(t, 500.0, client.limiter.Limit())
	assert.Equal(t, 1, client.limiter.Burst())
}

func TestClient_RateRecoversAfterSuccesses(t *testing.T) {
	var rejects atomic.Int32
	rejects.Store(2)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejects.Add(-1) >= 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"completed_exams":[]}`)
	}))
	repo := client.ForToken("tok")

	for range 2 {
		_, err := repo.FetchExamHistory(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 250.0, client.limiter.Limit())

	fetch := func(n int) {
		t.Helper()
		for range n {
			_, err := repo.FetchExamHistory(context.Background())
			require.NoError(t, err)
		}
	}

	fetch(recoverAfter - 1)
	assert.Equal(t, 250.0, client.limiter.Limit())

	fetch(1)
	assert.Equal(t, 500.0, client.limiter.Limit())
	assert.Equal(t, 1, client.limiter.Burst())

	fetch(recoverAfter)
	assert.Equal(t, 1000.0, client.limiter.Limit())
	assert.Equal(t, 100, client.limiter.Burst())

	fetch(recoverAfter * 2)
	assert.Equal(t, 1000.0, client.limiter.Limit(), "never above the configured rate")
}

func TestRateLimiter_ThrottleFloor(t *testing.T) {
	rl := NewRateLimiter(2, 4)
	assert.Equal(t, 1.0, rl.Throttle(minBackoffRate))
	assert.Equal(t, 0.5, rl.Throttle(minBackoffRate))
	assert.Equal(t, 0.5, rl.Throttle(minBackoffRate))

	for range recoverAfter * 2 {
		rl.RecordSuccess()
	}
	assert.Equal(t, 2.0, rl.Limit())
	assert.Equal(t, 4, rl.Burst())
	assert.False(t, rl.RecordSuccess())
}

func TestClient_RequiresExamID(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	_, err := client.ForToken("tok").FetchSubmissions(context.Background(), "", 1)
	assert.Error(t, err)
}

func TestClient_ResolveUsesWhoami(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"user_id":"u1","name":"Ada","role":"student"}`)
	})
	client := newTestClient(t, mux)

	identity, err := client.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	_, err = client.Resolve(context.Background(), "other")
	assert.ErrorIs(t, err, repositories.ErrUnauthorized)

	_, err = client.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, repositories.ErrUnauthorized)
}
