package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/movielake/internal/model"
)

func qfFor(provider, batch, feed string) model.QualifiedFile {
	return model.QualifiedFile{
		PlanItem: model.PlanItem{Provider: provider, BatchID: batch, Feed: feed},
	}
}

func TestRequiredFeeds(t *testing.T) {
	req := RequiredFeeds(testMappings())

	assert.Equal(t, []string{"domestic_csv", "financials_csv"}, req["boxofficemetrics"])
	assert.Empty(t, req["audiencepulse"], "ratings_json is marked optional")
}

func TestBatchCompleteness(t *testing.T) {
	maps := testMappings()

	qualified := []model.QualifiedFile{
		qfFor("boxofficemetrics", "b1", "domestic_csv"),
		qfFor("boxofficemetrics", "b1", "financials_csv"),
		qfFor("boxofficemetrics", "b2", "domestic_csv"), // financials missing
		qfFor("audiencepulse", "b1", "ratings_json"),
	}

	got := BatchCompleteness(qualified, maps)
	require.Len(t, got, 3)

	b1 := got[BatchKey{"boxofficemetrics", "b1"}]
	assert.True(t, b1.Complete)
	assert.Equal(t, []string{"domestic_csv", "financials_csv"}, b1.Present)

	b2 := got[BatchKey{"boxofficemetrics", "b2"}]
	assert.False(t, b2.Complete)
	assert.Equal(t, []string{"domestic_csv", "financials_csv"}, b2.Required)

	// A provider with no required feeds is trivially complete.
	ap := got[BatchKey{"audiencepulse", "b1"}]
	assert.True(t, ap.Complete)
}

func TestBatchCompleteness_MultipleFilesSameFeed(t *testing.T) {
	qualified := []model.QualifiedFile{
		qfFor("boxofficemetrics", "b1", "domestic_csv"),
		qfFor("boxofficemetrics", "b1", "domestic_csv"),
		qfFor("boxofficemetrics", "b1", "financials_csv"),
	}

	got := BatchCompleteness(qualified, testMappings())
	b1 := got[BatchKey{"boxofficemetrics", "b1"}]
	assert.True(t, b1.Complete)
	assert.Equal(t, []string{"domestic_csv", "financials_csv"}, b1.Present)
}
