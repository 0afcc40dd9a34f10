package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

func scored(id string, score float64) models.ExamResultView {
	r := models.NewPlaceholderResult(exam(id))
	r.Score = ptr(score)
	return r
}

func unscored(id string) models.ExamResultView {
	return models.NewPlaceholderResult(exam(id))
}

func keysOf(state models.ViewState) []string {
	keys := make([]string, 0, len(state.Entries))
	for _, e := range state.Entries {
		keys = append(keys, e.Key().String())
	}
	return keys
}

func TestMerge_EmptySnapshotKeepsState(t *testing.T) {
	previous := models.ViewState{
		Version: 7,
		Entries: []models.ExamResultView{scored("E1", 82.5), unscored("E2")},
	}

	assert.Equal(t, previous, Merge(previous, nil))
	assert.Equal(t, previous, Merge(previous, []models.ExamResultView{}))
}

func TestMerge_ScoreNeverRegresses(t *testing.T) {
	snapshots := [][]models.ExamResultView{
		{unscored("E1"), unscored("E2")},
		{scored("E1", 60)},
		{unscored("E1"), scored("E2", 40)},
		{},
		{unscored("E1"), unscored("E2"), unscored("E3")},
		{scored("E3", 90), unscored("E2")},
		{unscored("E1")},
	}

	// every rotation of the sequence
	for start := range snapshots {
		state := Reset()
		everScored := map[models.ExamKey]bool{}
		for i := range snapshots {
			state = Merge(state, snapshots[(start+i)%len(snapshots)])
			for _, entry := range state.Entries {
				if entry.HasScore() {
					everScored[entry.Key()] = true
				} else {
					assert.False(t, everScored[entry.Key()], "score of %s regressed", entry.Key())
				}
			}
		}
	}
}

func TestMerge_OrderAndRetention(t *testing.T) {
	previous := models.ViewState{
		Version: 1,
		Entries: []models.ExamResultView{unscored("A"), scored("B", 50), unscored("C")},
	}

	next := Merge(previous, []models.ExamResultView{unscored("D"), unscored("B"), scored("A", 10)})

	assert.Equal(t, uint64(2), next.Version)
	assert.Equal(t, []string{"D-1", "B-1", "A-1", "C-1"}, keysOf(next))

	b, _ := next.Find(models.NewExamKey("B", 1))
	require.NotNil(t, b.Score)
	assert.Equal(t, 50.0, *b.Score)

	a, _ := next.Find(models.NewExamKey("A", 1))
	require.NotNil(t, a.Score)
	assert.Equal(t, 10.0, *a.Score)
}

func TestMerge_FreshScoreReplacesOlderScore(t *testing.T) {
	previous := models.ViewState{Entries: []models.ExamResultView{scored("E1", 50)}}
	next := Merge(previous, []models.ExamResultView{scored("E1", 75)})

	e, _ := next.Find(models.NewExamKey("E1", 1))
	assert.Equal(t, 75.0, *e.Score)
}

func TestMerge_VersionsAreDistinctKeys(t *testing.T) {
	v2 := exam("E1")
	v2.ExamVersion = ptr(2)

	state := Merge(Reset(), []models.ExamResultView{scored("E1", 40), models.NewPlaceholderResult(v2)})
	assert.Equal(t, []string{"E1-1", "E1-2"}, keysOf(state))
}

func TestMerge_DuplicateKeysInSnapshot(t *testing.T) {
	state := Merge(Reset(), []models.ExamResultView{scored("E1", 40), unscored("E1")})

	require.Len(t, state.Entries, 1)
	require.NotNil(t, state.Entries[0].Score)
	assert.Equal(t, 40.0, *state.Entries[0].Score)
}

func TestApplyAggregate(t *testing.T) {
	key := models.NewExamKey("E1", 1)
	state := Merge(Reset(), []models.ExamResultView{unscored("E1")})

	resolved := Aggregate([]models.SubmissionRecord{done("q1", 80, 1), done("q2", 85, 2)})
	state = ApplyAggregate(state, key, resolved, nil)

	entry, _ := state.Find(key)
	require.NotNil(t, entry.Score)
	assert.Equal(t, 82.5, *entry.Score)
	assert.Equal(t, 82.5, *entry.BestScore)
	assert.Equal(t, 82.5, *entry.FinalScore)
	assert.Equal(t, 2, *entry.SubmissionCount)
	assert.Equal(t, ts(2), *entry.SubmittedAt)

	// nothing resolved in the next snapshot: score stays
	version := state.Version
	pending := Aggregate([]models.SubmissionRecord{processing("q1", 3), processing("q2", 4), processing("q3", 5)})
	state = ApplyAggregate(state, key, pending, nil)

	entry, _ = state.Find(key)
	require.NotNil(t, entry.Score)
	assert.Equal(t, 82.5, *entry.Score)
	assert.Equal(t, 3, *entry.SubmissionCount)
	assert.Equal(t, version+1, state.Version)
}

func TestApplyAggregate_UnknownKeyLeavesStateUnchanged(t *testing.T) {
	state := Merge(Reset(), []models.ExamResultView{unscored("E1")})
	agg := Aggregate([]models.SubmissionRecord{done("q1", 80, 1)})

	assert.Equal(t, state, ApplyAggregate(state, models.NewExamKey("E9", 1), agg, nil))
}

func TestApplyAggregate_FallbackTimestamp(t *testing.T) {
	key := models.NewExamKey("E1", 1)
	state := Merge(Reset(), []models.ExamResultView{unscored("E1")})
	joined := ts(-30)

	state = ApplyAggregate(state, key, Aggregate(nil), &joined)

	entry, _ := state.Find(key)
	require.NotNil(t, entry.SubmittedAt)
	assert.Equal(t, joined, *entry.SubmittedAt)
	assert.Equal(t, 0, *entry.SubmissionCount)
}

func TestMergeHistory(t *testing.T) {
	previous := models.ExamHistory{Completed: []models.ExamInfo{exam("E1")}}

	kept := MergeHistory(previous, models.ExamHistory{}, true)
	assert.Equal(t, previous, kept)

	first := MergeHistory(models.ExamHistory{}, models.ExamHistory{}, false)
	assert.True(t, first.IsEmpty())
	assert.NotNil(t, first.Completed)

	fresh := models.ExamHistory{Available: []models.ExamInfo{exam("E2")}}
	replaced := MergeHistory(previous, fresh, true)
	assert.Empty(t, replaced.Completed)
	assert.Len(t, replaced.Available, 1)
}

func TestReset(t *testing.T) {
	state := Reset()
	assert.True(t, state.IsEmpty())
	assert.NotNil(t, state.Entries)
}
