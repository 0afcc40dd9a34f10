package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/config"
	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

const (
	maxErrorBody   = 4 << 10
	minBackoffRate = 0.5
)

var (
	_ repositories.GradingClientFactory = (*Client)(nil)
	_ repositories.IdentityResolver     = (*Client)(nil)
)

// Client talks to the Grading Service REST API. It is shared by all sessions;
// ForToken returns a per-session view bound to one bearer token.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg config.GradingConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid grading service url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid grading service url %q", cfg.BaseURL)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    NewRateLimiter(cfg.RateLimit, burst),
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Client) ForToken(token string) repositories.GradingRepository {
	return &sessionClient{client: c, token: token}
}

// Resolve asks the Grading Service who owns token. Used when tokens are not
// verified locally.
func (c *Client) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, repositories.ErrUnauthorized
	}
	return c.ForToken(token).FetchIdentity(ctx)
}

type sessionClient struct {
	client *Client
	token  string
}

func (s *sessionClient) FetchExamHistory(ctx context.Context) (*models.ExamHistory, error) {
	var history models.ExamHistory
	if err := s.client.getJSON(ctx, "fetch exam history", s.token, "/student/exam-history", nil, &history); err != nil {
		return nil, err
	}
	history = history.Normalize()
	return &history, nil
}

func (s *sessionClient) FetchSubmissions(ctx context.Context, examID string, version int) ([]models.SubmissionRecord, error) {
	if examID == "" {
		return nil, errors.New("exam id is required")
	}
	if version <= 0 {
		version = models.DefaultExamVersion
	}

	query := url.Values{}
	query.Set("version", strconv.Itoa(version))

	var resp models.SubmissionsResponse
	path := "/student/submissions/" + url.PathEscape(examID)
	if err := s.client.getJSON(ctx, "fetch submissions", s.token, path, query, &resp); err != nil {
		return nil, err
	}
	if resp.Submissions == nil {
		return []models.SubmissionRecord{}, nil
	}
	return resp.Submissions, nil
}

func (s *sessionClient) FetchIdentity(ctx context.Context) (*models.Identity, error) {
	var identity models.Identity
	if err := s.client.getJSON(ctx, "fetch identity", s.token, "/auth/whoami", nil, &identity); err != nil {
		return nil, err
	}
	if identity.Role == "" {
		identity.Role = models.RoleStudent
	}
	return &identity, nil
}

func (s *sessionClient) FetchReferenceData(ctx context.Context) (*models.ReferenceData, error) {
	var data models.ReferenceData
	if err := s.client.getJSON(ctx, "fetch reference data", s.token, "/reference-data", nil, &data); err != nil {
		return nil, err
	}
	if data.FetchedAt.IsZero() {
		data.FetchedAt = s.client.now().UTC()
	}
	return &data, nil
}

func (c *Client) getJSON(ctx context.Context, op, token, path string, query url.Values, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &repositories.TransportError{Op: op, Message: "rate limiter wait failed", Err: err}
	}

	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Grading service request failed", "op", op, "error", err)
		return &repositories.TransportError{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Grading service responded",
		"op", op,
		"status", resp.StatusCode,
		"duration", c.now().Sub(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		c.slowDown(ctx)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &repositories.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body, resp.Status),
		}
	}

	if c.limiter.RecordSuccess() {
		c.logger.InfoContext(ctx, "Grading service rate recovering", "rps", c.limiter.Limit())
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &repositories.TransportError{Op: op, Message: "invalid response body", Err: err}
	}
	return nil
}

// slowDown halves the request rate after the service pushes back.
func (c *Client) slowDown(ctx context.Context) {
	next := c.limiter.Throttle(minBackoffRate)
	c.logger.WarnContext(ctx, "Grading service rate limited us", "rps", next)
}

// errorMessage extracts "detail" or "error" from a JSON error body and
// falls back to the raw text.
func errorMessage(body []byte, status string) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Detail != nil:
			if s, ok := payload.Detail.(string); ok {
				return s
			}
			if raw, err := json.Marshal(payload.Detail); err == nil {
				return string(raw)
			}
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	return text
}
