package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/movielake/internal/config"
	"github.com/sells-group/movielake/internal/ledger"
	"github.com/sells-group/movielake/internal/query"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// newETLFixture lays out a complete working directory: declarative configs,
// one provider with two feeds, and a ready batch delivery.
func newETLFixture(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	configDir := filepath.Join(root, "configs")
	incoming := filepath.Join(root, "incoming", "boxofficemetrics")

	writeFile(t, configDir, "mappings.yaml", `
providers:
  boxofficemetrics:
    schema_version: 1
    feeds:
      domestic_csv:
        input_format: csv
        filename_selector: "domestic*.csv"
        target_entity: movie_metrics
        mappings:
          Title: {to: title, type: string, normalize: [strip, collapse_ws]}
          Year: {to: year, type: int}
          Gross: {to: domestic_box_office_gross, type: int, clamp: [0, null]}
        record_identity:
          columns: [title, year, domestic_box_office_gross]
      financials_csv:
        input_format: csv
        filename_selector: "financials*.csv"
        target_entity: movie_metrics
        mappings:
          Title: {to: title, type: string, normalize: [strip, collapse_ws]}
          Year: {to: year, type: int}
          Budget: {to: production_budget, type: int, clamp: [0, null]}
`)

	writeFile(t, configDir, "contracts.yaml", `
entities:
  movie_metrics:
    columns:
      - {name: provider}
      - {name: feed}
      - {name: batch_id}
      - {name: source_file}
      - {name: source_mod_time}
      - {name: file_hash}
      - {name: ingest_ts}
      - {name: schema_version}
      - {name: record_hash}
      - {name: movie_key}
      - {name: title, type: string}
      - {name: year, type: int}
      - {name: domestic_box_office_gross, type: int}
      - {name: production_budget, type: int}
lineage_columns:
  - {name: provider}
  - {name: feed}
  - {name: batch_id}
  - {name: source_file}
  - {name: source_mod_time}
  - {name: file_hash}
  - {name: ingest_ts}
  - {name: schema_version}
  - {name: record_hash}
optional_columns_order: [movie_key, title, year]
`)

	writeFile(t, configDir, "paths.yaml", fmt.Sprintf(`
providers:
  boxofficemetrics:
    incoming_dir: %s
`, incoming))

	writeFile(t, configDir, "curation.yaml", `
entities:
  movie_metrics:
    join_key: movie_key
    sources:
      - provider: boxofficemetrics
        feeds: [domestic_csv, financials_csv]
    quality_checks:
      non_negative: [domestic_box_office_gross, production_budget]
`)

	batchDir := filepath.Join(incoming, "2024-01")
	writeFile(t, batchDir, "domestic_jan.csv",
		"Title,Year,Gross\nThe Matrix,1999,171479930\nHeat,1995,67436818\n")
	writeFile(t, batchDir, "financials_jan.csv",
		"Title,Year,Budget\nThe Matrix,1999,63000000\n")
	writeFile(t, batchDir, "_READY", "")

	return &config.Config{
		DataDir:   filepath.Join(root, "data"),
		ConfigDir: configDir,
		Ingest:    config.IngestConfig{Concurrency: 2},
	}
}

func TestRunETL_EndToEnd(t *testing.T) {
	cfg := newETLFixture(t)
	require.NoError(t, runETL(context.Background(), cfg))

	goldPath, err := query.FindLatestGold(cfg.GoldDir())
	require.NoError(t, err)

	ds, err := query.Load(goldPath)
	require.NoError(t, err)
	require.Len(t, ds.Rows, 2)

	rows := ds.ByTitleYear("The Matrix", 1999)
	require.Len(t, rows, 1)
	assert.Equal(t, "171479930", rows[0]["domestic_box_office_gross"])
	assert.Equal(t, "63000000", rows[0]["production_budget"],
		"feeds reconcile into one row per movie")
	assert.Equal(t, "171479930", rows[0]["total_box_office_gross_usd"])

	// The ledger carries the full trail: files, batch, silver, gold.
	led := ledger.New(cfg.LedgerPath())
	entries, err := led.Entries()
	require.NoError(t, err)

	levels := map[string]int{}
	for _, e := range entries {
		levels[recordLevel(e)]++
	}
	assert.Equal(t, 2, levels["file"])
	assert.Equal(t, 1, levels["batch"])
	assert.Equal(t, 1, levels["silver"])
	assert.Equal(t, 1, levels["gold"])
}

func TestRunETL_RerunIsIdempotent(t *testing.T) {
	cfg := newETLFixture(t)
	require.NoError(t, runETL(context.Background(), cfg))
	require.NoError(t, runETL(context.Background(), cfg))

	led := ledger.New(cfg.LedgerPath())
	entries, err := led.Entries()
	require.NoError(t, err)

	var fileRecs int
	for _, e := range entries {
		if recordLevel(e) == "file" {
			fileRecs++
		}
	}
	assert.Equal(t, 2, fileRecs, "already processed files are skipped, not re-ingested")
}

func TestRunETL_MissingConfig(t *testing.T) {
	cfg := &config.Config{
		DataDir:   t.TempDir(),
		ConfigDir: filepath.Join(t.TempDir(), "nope"),
		Ingest:    config.IngestConfig{Concurrency: 1},
	}
	assert.Error(t, runETL(context.Background(), cfg))
}
