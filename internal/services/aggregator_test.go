package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

func TestAggregate_ProcessingRecordIsExcluded(t *testing.T) {
	records := []models.SubmissionRecord{
		done("1", 40, 1),
		{QuestionID: "1", Score: ptr(90.0), Status: models.SubmissionProcessing, SubmittedAt: ts(2)},
		done("1", 70, 3),
	}

	agg := Aggregate(records)

	require.Contains(t, agg.PerQuestion, "1")
	q := agg.PerQuestion["1"]
	assert.Equal(t, 70.0, q.BestScore)
	assert.Equal(t, 70.0, q.FinalScore)
	assert.Equal(t, 3, q.AttemptCount)
	assert.Equal(t, 2, q.ResolvedCount)
	require.NotNil(t, agg.ExamScore)
	assert.Equal(t, 70.0, *agg.ExamScore)
	assert.False(t, agg.Pending())
}

func TestAggregate_ZeroIsAValidScore(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{
		done("q1", 0, 1),
		done("q2", 100, 1),
	})

	require.True(t, agg.HasAnyResolved)
	assert.Equal(t, 0.0, agg.PerQuestion["q1"].BestScore)
	require.NotNil(t, agg.ExamScore)
	assert.Equal(t, 50.0, *agg.ExamScore)
}

func TestAggregate_FinalScoreUsesLatestTimestampNotArrayOrder(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{
		done("q1", 60, 5),
		done("q1", 95, 9),
		done("q1", 30, 2),
	})

	assert.Equal(t, 95.0, agg.PerQuestion["q1"].BestScore)
	assert.Equal(t, 95.0, agg.PerQuestion["q1"].FinalScore)

	agg = Aggregate([]models.SubmissionRecord{
		done("q1", 95, 1),
		done("q1", 50, 9),
		done("q1", 80, 3),
	})
	assert.Equal(t, 95.0, agg.PerQuestion["q1"].BestScore)
	assert.Equal(t, 50.0, agg.PerQuestion["q1"].FinalScore)
}

func TestAggregate_FinalScoreTieGoesToLastInInputOrder(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{
		done("q1", 40, 4),
		done("q1", 65, 4),
	})
	assert.Equal(t, 65.0, agg.PerQuestion["q1"].FinalScore)

	agg = Aggregate([]models.SubmissionRecord{
		done("q1", 65, 4),
		done("q1", 40, 4),
	})
	assert.Equal(t, 40.0, agg.PerQuestion["q1"].FinalScore)
}

func TestAggregate_UnresolvedQuestionSkipsAverage(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{
		done("q1", 80, 1),
		processing("q2", 2),
		{QuestionID: "q3", SubmittedAt: ts(3)},
	})

	assert.Len(t, agg.PerQuestion, 1)
	assert.Equal(t, []string{"q2", "q3"}, agg.Unresolved)
	assert.True(t, agg.Pending())
	require.NotNil(t, agg.ExamScore)
	assert.Equal(t, 80.0, *agg.ExamScore)
	assert.Equal(t, 3, agg.QuestionCount())
}

func TestAggregate_NothingResolved(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{processing("q1", 1)})

	assert.False(t, agg.HasAnyResolved)
	assert.Nil(t, agg.ExamScore)
	assert.Nil(t, agg.FinalScore)
	assert.True(t, agg.Pending())
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil)

	assert.False(t, agg.HasAnyResolved)
	assert.False(t, agg.Pending())
	assert.Nil(t, agg.LatestSubmittedAt)
	assert.Equal(t, 0, agg.SubmissionCount)
}

func TestAggregate_MissingQuestionIDGroupsAsUnknown(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{
		{Score: ptr(10.0), SubmittedAt: ts(1)},
		{Score: ptr(30.0), SubmittedAt: ts(2)},
	})

	require.Contains(t, agg.PerQuestion, models.UnknownQuestionID)
	assert.Equal(t, 30.0, agg.PerQuestion[models.UnknownQuestionID].BestScore)
}

func TestAggregate_BestAndFinalMeans(t *testing.T) {
	agg := Aggregate([]models.SubmissionRecord{
		done("q1", 80, 1),
		done("q1", 85, 2),
		done("q2", 80, 3),
		done("q2", 70, 4),
	})

	require.NotNil(t, agg.ExamScore)
	require.NotNil(t, agg.FinalScore)
	assert.Equal(t, 82.5, *agg.ExamScore)
	assert.Equal(t, 77.5, *agg.FinalScore)
	assert.Equal(t, 4, agg.SubmissionCount)
	require.NotNil(t, agg.LatestSubmittedAt)
	assert.Equal(t, ts(4), *agg.LatestSubmittedAt)
}

func TestAggregate_CheckCompleteness(t *testing.T) {
	key := models.NewExamKey("E1", 1)
	agg := Aggregate([]models.SubmissionRecord{done("q1", 80, 1)})

	err := agg.CheckCompleteness(key, 3)
	var partial *PartialDataError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 3, partial.Expected)
	assert.Equal(t, 1, partial.Got)

	assert.NoError(t, agg.CheckCompleteness(key, 1))
	assert.NoError(t, agg.CheckCompleteness(key, 0))
	assert.NoError(t, Aggregate(nil).CheckCompleteness(key, 3))
}
