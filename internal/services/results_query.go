package services

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

const DefaultResultSort = "submitted_desc"

// ResultQuery filters and orders the rows of a results view.
type ResultQuery struct {
	Search   string   `form:"search" json:"search,omitempty"`
	Language string   `form:"language" json:"language,omitempty"`
	MinScore *float64 `form:"min_score" json:"min_score,omitempty" validate:"omitempty,finite,min=0"`
	MaxScore *float64 `form:"max_score" json:"max_score,omitempty" validate:"omitempty,finite,min=0"`
	SortBy   string   `form:"sort_by" json:"sort_by,omitempty"`
}

type sortKey struct {
	field string
	desc  bool
}

var sortFields = map[string]bool{
	"name":      true,
	"language":  true,
	"duration":  true,
	"score":     true,
	"submitted": true,
}

func parseSort(sortBy string) (sortKey, error) {
	if sortBy == "" {
		sortBy = DefaultResultSort
	}

	field, direction, found := strings.Cut(strings.ToLower(sortBy), "_")
	if !found {
		direction = "asc"
	}
	if !sortFields[field] {
		return sortKey{}, newQueryError("sort_by", "unknown field %q", field)
	}
	switch direction {
	case "asc":
		return sortKey{field: field}, nil
	case "desc":
		return sortKey{field: field, desc: true}, nil
	default:
		return sortKey{}, newQueryError("sort_by", "unknown direction %q", direction)
	}
}

// Validate checks the sort key and score bounds
func (q ResultQuery) Validate() error {
	if _, err := parseSort(q.SortBy); err != nil {
		return err
	}
	if q.MinScore != nil && q.MaxScore != nil && *q.MinScore > *q.MaxScore {
		return newQueryError("min_score", "must not exceed max_score")
	}
	return nil
}

// Apply filters and sorts entries. Score bounds drop unscored rows; without
// bounds they stay. Unscored rows sort below every scored row.
func (q ResultQuery) Apply(entries []models.ExamResultView) ([]models.ExamResultView, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key, _ := parseSort(q.SortBy)

	search := strings.ToLower(strings.TrimSpace(q.Search))
	language := strings.ToUpper(strings.TrimSpace(q.Language))
	bounded := q.MinScore != nil || q.MaxScore != nil

	out := make([]models.ExamResultView, 0, len(entries))
	for _, entry := range entries {
		if search != "" && !strings.Contains(strings.ToLower(entry.DisplayName()), search) {
			continue
		}
		if language != "" && strings.ToUpper(entry.Language) != language {
			continue
		}
		if bounded {
			if entry.Score == nil {
				continue
			}
			if q.MinScore != nil && *entry.Score < *q.MinScore {
				continue
			}
			if q.MaxScore != nil && *entry.Score > *q.MaxScore {
				continue
			}
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		c := compareResults(out[i], out[j], key.field)
		if key.desc {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

func compareResults(a, b models.ExamResultView, field string) int {
	switch field {
	case "name":
		return strings.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName()))
	case "language":
		return strings.Compare(strings.ToUpper(a.Language), strings.ToUpper(b.Language))
	case "duration":
		return compareFloat(float64(a.DurationMinutes), float64(b.DurationMinutes))
	case "score":
		return compareFloat(scoreOrFloor(a.Score), scoreOrFloor(b.Score))
	default:
		return compareTime(a.SubmittedAt, b.SubmittedAt)
	}
}

func scoreOrFloor(score *float64) float64 {
	if score == nil {
		return math.Inf(-1)
	}
	return *score
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
