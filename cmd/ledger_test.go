package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/movielake/internal/ledger"
)

func boolPtr(b bool) *bool { return &b }

func TestRecordLevel(t *testing.T) {
	assert.Equal(t, "file", recordLevel(ledger.Record{}))
	assert.Equal(t, "batch", recordLevel(ledger.Record{Level: "batch"}))
	assert.Equal(t, "gold", recordLevel(ledger.Record{Level: "gold"}))
}

func TestFormatLedgerEntries(t *testing.T) {
	var buf bytes.Buffer
	formatLedgerEntries(&buf, []ledger.Record{
		{
			TS: "2024-01-01T00:00:00Z", Provider: "boxofficemetrics",
			BatchID: "b1", Feed: "domestic_csv", SourceFile: "domestic.csv",
			RowsIn: 3, RowsOut: 2, Status: "ok",
		},
		{
			TS: "2024-01-01T00:01:00Z", Level: "batch",
			Provider: "boxofficemetrics", BatchID: "b1", Complete: boolPtr(true),
		},
		{
			TS: "2024-01-01T00:02:00Z", Level: "silver",
			Entity: "movie_metrics", RowsOut: 2, Status: "ok",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "TS")
	assert.Contains(t, out, "domestic.csv")
	assert.Contains(t, out, "complete=true")
	assert.Contains(t, out, "movie_metrics")
	assert.Contains(t, out, "silver")
}
