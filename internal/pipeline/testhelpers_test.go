package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/ledger"
	"github.com/sells-group/movielake/internal/model"
)

func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }

// testMappings declares one CSV provider and one optional JSON provider,
// shaped like the production mappings.yaml.
func testMappings() *feedcfg.Mappings {
	return &feedcfg.Mappings{
		Providers: map[string]feedcfg.Provider{
			"boxofficemetrics": {
				SchemaVersion: 1,
				Feeds: map[string]feedcfg.Feed{
					"domestic_csv": {
						InputFormat:      "csv",
						FilenameSelector: "domestic*.csv",
						Mappings: map[string]feedcfg.FieldRule{
							"Title": {To: "title", Type: "string", Normalize: []string{"strip", "collapse_ws"}},
							"Year":  {To: "year", Type: "int"},
							"Gross": {To: "domestic_box_office_gross", Type: "int", Clamp: []*float64{floatPtr(0), nil}},
						},
						RecordIdentity: feedcfg.RecordIdentity{
							Columns: []string{"title", "year", "domestic_box_office_gross"},
						},
						TargetEntity: "movie_metrics",
					},
					"financials_csv": {
						InputFormat:      "csv",
						FilenameSelector: "financials*.csv",
						Mappings: map[string]feedcfg.FieldRule{
							"Title":  {To: "title", Type: "string", Normalize: []string{"strip"}},
							"Year":   {To: "year", Type: "int"},
							"Budget": {To: "production_budget", Type: "int", Clamp: []*float64{floatPtr(0), nil}},
						},
						TargetEntity: "movie_metrics",
					},
				},
			},
			"audiencepulse": {
				SchemaVersion: 2,
				Feeds: map[string]feedcfg.Feed{
					"ratings_json": {
						InputFormat:      "json",
						FilenameSelector: "ratings*.json",
						Mappings: map[string]feedcfg.FieldRule{
							"movie_title":  {To: "title", Type: "string", Normalize: []string{"strip"}},
							"release_year": {To: "year", Type: "int"},
							"avg_rating":   {To: "audience_rating", Type: "float", Clamp: []*float64{floatPtr(0), floatPtr(10)}},
						},
						TargetEntity: "movie_metrics",
						Required:     boolPtr(false),
					},
				},
			},
			"criticagg": {
				SchemaVersion: 1,
				Feeds: map[string]feedcfg.Feed{
					"reviews_csv": {
						InputFormat:      "csv",
						FilenameSelector: "reviews*.csv",
						CSVOptions:       feedcfg.CSVOptions{Encoding: "windows-1252"},
						Mappings: map[string]feedcfg.FieldRule{
							"film":      {To: "title", Type: "string", Normalize: []string{"strip", "collapse_ws"}},
							"release":   {To: "year", Type: "int"},
							"metascore": {To: "critic_rating", Type: "float", Clamp: []*float64{floatPtr(0), floatPtr(100)}},
						},
						TargetEntity: "movie_metrics",
					},
					"awards_xlsx": {
						InputFormat:      "xlsx",
						FilenameSelector: "awards*.xlsx",
						XLSX:             feedcfg.XLSXOptions{Sheet: "Awards"},
						Mappings: map[string]feedcfg.FieldRule{
							"Film": {To: "title", Type: "string", Normalize: []string{"strip", "collapse_ws"}},
							"Year": {To: "year", Type: "int"},
							"Wins": {To: "award_wins", Type: "int", Clamp: []*float64{floatPtr(0), nil}},
						},
						TargetEntity: "movie_metrics",
						Required:     boolPtr(false),
					},
				},
			},
		},
	}
}

func testContracts() *feedcfg.Contracts {
	cols := []string{
		"provider", "feed", "batch_id", "source_file", "source_mod_time",
		"file_hash", "ingest_ts", "schema_version", "record_hash",
		"movie_key", "title", "year",
		"domestic_box_office_gross", "production_budget", "audience_rating",
		"critic_rating", "award_wins",
	}
	entity := feedcfg.Entity{}
	for _, c := range cols {
		entity.Columns = append(entity.Columns, feedcfg.Column{Name: c})
	}
	return &feedcfg.Contracts{
		Entities: map[string]feedcfg.Entity{"movie_metrics": entity},
		LineageColumns: []feedcfg.Column{
			{Name: "provider"}, {Name: "feed"}, {Name: "batch_id"},
			{Name: "source_file"}, {Name: "source_mod_time"}, {Name: "file_hash"},
			{Name: "ingest_ts"}, {Name: "schema_version"}, {Name: "record_hash"},
		},
	}
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeXLSXFile writes a spreadsheet fixture; rows[0] is the header.
func writeXLSXFile(t *testing.T, dir, name, sheetName string, rows [][]string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().Value = v
		}
	}

	path := filepath.Join(dir, name)
	require.NoError(t, f.Save(path))
	return path
}

// writeWindows1252File writes content re-encoded to windows-1252 bytes.
func writeWindows1252File(t *testing.T, dir, name, content string) string {
	t.Helper()
	encoded, err := charmap.Windows1252.NewEncoder().String(content)
	require.NoError(t, err)
	return writeTestFile(t, dir, name, encoded)
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(filepath.Join(t.TempDir(), "ledger.jsonl"))
}

// qualifyTestFile runs the gate for a file written into a temp batch dir.
func qualifyTestFile(t *testing.T, feedName, fileName, content string) (model.QualifiedFile, *ledger.Ledger) {
	t.Helper()

	maps := testMappings()
	var provider string
	var feed feedcfg.Feed
	for pname, p := range maps.Providers {
		if f, ok := p.Feeds[feedName]; ok {
			provider, feed = pname, f
		}
	}
	require.NotEmpty(t, provider, "unknown test feed %s", feedName)

	dir := t.TempDir()
	path := writeTestFile(t, dir, fileName, content)
	led := newTestLedger(t)

	item := model.PlanItem{
		Provider:     provider,
		BatchID:      "batch-1",
		Feed:         feedName,
		TargetEntity: feed.TargetEntity,
		File:         path,
	}

	qf, skipped, err := Qualify(item, feed, led)
	require.NoError(t, err)
	require.False(t, skipped)
	require.NotNil(t, qf)
	return *qf, led
}
