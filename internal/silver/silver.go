// Package silver reconciles consolidated bronze outputs across providers
// into one unified entity table. Inputs are resolved from the audit ledger
// (latest complete batch per provider); merge precedence follows the
// declared source order in curation.yaml.
package silver

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/ledger"
)

// ErrNoInputs reports that no provider had a complete batch with
// consolidated output, so there is nothing to reconcile. Callers treat it
// as a routine condition, not a failure.
var ErrNoInputs = eris.New("silver: no inputs resolved")

// FeedInput is one consolidated artifact feeding the build.
type FeedInput struct {
	Feed string
	Path string
}

// SourceInput is one provider's contribution, in declared feed order. The
// slice of these preserves curation source order, which is what merge
// precedence is defined over.
type SourceInput struct {
	Provider string
	BatchID  string
	Feeds    []FeedInput
}

// Builder assembles the unified silver table for one entity.
type Builder struct {
	Curation   *feedcfg.Curation
	Contracts  *feedcfg.Contracts
	BronzeRoot string
	SilverRoot string
	Ledger     *ledger.Ledger
	RunID      string
}

// table is an ordered in-memory relation: rows of column name to cell
// value, with the column order they first appeared in. Empty cells are
// nulls.
type table struct {
	cols []string
	rows []map[string]string
}

// Build reconciles the entity and returns the written file path. Returns
// ErrNoInputs when no source resolved.
func (b *Builder) Build(entity string) (string, error) {
	log := zap.L().With(zap.String("component", "silver"), zap.String("entity", entity))

	ent, ok := b.Curation.Entities[entity]
	if !ok {
		return "", eris.Errorf("silver: entity %s not in curation config", entity)
	}

	inputs, err := b.ResolveInputs(ent)
	if err != nil {
		return "", err
	}
	if len(inputs) == 0 {
		return "", ErrNoInputs
	}

	dropCols := b.lineageToDrop()

	merged := newMerge(ent.JoinKey)
	for _, src := range inputs {
		for _, fi := range src.Feeds {
			tbl, err := loadConsolidated(fi.Path, dropCols)
			if err != nil {
				return "", eris.Wrapf(err, "silver: load %s/%s", src.Provider, fi.Feed)
			}
			dedupeRecency(tbl, ent.JoinKey)
			merged.fill(tbl)
		}
	}

	out := merged.result()
	rowsBefore := len(out.rows)
	applyQualityChecks(out, ent.QualityChecks)
	if dropped := rowsBefore - len(out.rows); dropped > 0 {
		log.Warn("rows dropped by quality checks", zap.Int("dropped", dropped))
	}

	orderColumns(out, b.Contracts.OptionalColumnsOrder)

	ts := time.Now().UTC().Format("20060102T150405Z")
	outPath := filepath.Join(b.SilverRoot, entity, entity+"_"+ts+".csv")
	if err := writeTable(outPath, out); err != nil {
		return "", err
	}

	if err := b.Ledger.Append(ledger.Record{
		Level:   "silver",
		Entity:  entity,
		RowsOut: len(out.rows),
		Status:  "ok",
		Path:    outPath,
		Inputs:  inputsMap(inputs),
		RunID:   b.RunID,
	}); err != nil {
		return "", err
	}

	log.Info("silver table written",
		zap.String("path", outPath),
		zap.Int("rows", len(out.rows)),
		zap.Int("sources", len(inputs)),
	)
	return outPath, nil
}

// ResolveInputs picks each source provider's latest complete batch from the
// ledger and locates its consolidated artifacts. Providers without a
// complete batch, and feeds whose artifact is missing, are logged and
// omitted; they never fail the build.
func (b *Builder) ResolveInputs(ent feedcfg.CurationEntity) ([]SourceInput, error) {
	log := zap.L().With(zap.String("component", "silver"))

	var inputs []SourceInput
	for _, src := range ent.Sources {
		batchID, ok, err := b.Ledger.LatestCompleteBatch(src.Provider)
		if err != nil {
			return nil, eris.Wrapf(err, "silver: resolve batch for %s", src.Provider)
		}
		if !ok {
			log.Warn("no complete batch for provider, skipping",
				zap.String("provider", src.Provider))
			continue
		}

		in := SourceInput{Provider: src.Provider, BatchID: batchID}
		for _, feed := range src.Feeds {
			path := filepath.Join(b.BronzeRoot, src.Provider, feed, batchID, "consolidated.csv")
			if _, err := os.Stat(path); err != nil {
				log.Warn("consolidated artifact missing, skipping feed",
					zap.String("provider", src.Provider),
					zap.String("feed", feed),
					zap.String("batch_id", batchID),
				)
				continue
			}
			in.Feeds = append(in.Feeds, FeedInput{Feed: feed, Path: path})
		}
		if len(in.Feeds) > 0 {
			inputs = append(inputs, in)
		}
	}
	return inputs, nil
}

// lineageToDrop returns the lineage column names to strip from consolidated
// inputs. ingest_ts survives; recency dedup needs it.
func (b *Builder) lineageToDrop() map[string]struct{} {
	drop := make(map[string]struct{})
	for _, col := range b.Contracts.LineageColumns {
		if col.Name != "ingest_ts" {
			drop[col.Name] = struct{}{}
		}
	}
	return drop
}

func loadConsolidated(path string, dropCols map[string]struct{}) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open consolidated")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "read consolidated")
	}
	if len(records) == 0 {
		return &table{}, nil
	}

	header := records[0]
	keep := make([]int, 0, len(header))
	tbl := &table{}
	for i, c := range header {
		if _, drop := dropCols[c]; drop {
			continue
		}
		keep = append(keep, i)
		tbl.cols = append(tbl.cols, c)
	}

	for _, rec := range records[1:] {
		row := make(map[string]string, len(keep))
		for n, i := range keep {
			if i < len(rec) {
				row[tbl.cols[n]] = rec[i]
			}
		}
		tbl.rows = append(tbl.rows, row)
	}
	return tbl, nil
}

// dedupeRecency keeps the most recently ingested record per join key.
// Rows sort by (ingest_ts, key); the last one wins, so a restated record
// from a later ingestion supersedes the original.
func dedupeRecency(tbl *table, joinKey string) {
	sort.SliceStable(tbl.rows, func(i, j int) bool {
		ti, tj := parseTS(tbl.rows[i]["ingest_ts"]), parseTS(tbl.rows[j]["ingest_ts"])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return tbl.rows[i][joinKey] < tbl.rows[j][joinKey]
	})

	last := make(map[string]int)
	for i, row := range tbl.rows {
		last[row[joinKey]] = i
	}

	kept := tbl.rows[:0]
	for i, row := range tbl.rows {
		if last[row[joinKey]] == i {
			kept = append(kept, row)
		}
	}
	tbl.rows = kept
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// merge accumulates the unified table. The first table to supply a value
// for a (key, column) cell wins; later tables only fill nulls.
type merge struct {
	joinKey string
	cols    []string
	colSeen map[string]struct{}
	keys    []string
	byKey   map[string]map[string]string
}

func newMerge(joinKey string) *merge {
	return &merge{
		joinKey: joinKey,
		colSeen: make(map[string]struct{}),
		byKey:   make(map[string]map[string]string),
	}
}

func (m *merge) fill(tbl *table) {
	for _, c := range tbl.cols {
		if _, ok := m.colSeen[c]; !ok {
			m.colSeen[c] = struct{}{}
			m.cols = append(m.cols, c)
		}
	}

	for _, row := range tbl.rows {
		key := row[m.joinKey]
		existing, ok := m.byKey[key]
		if !ok {
			copied := make(map[string]string, len(row))
			for c, v := range row {
				copied[c] = v
			}
			m.byKey[key] = copied
			m.keys = append(m.keys, key)
			continue
		}
		for c, v := range row {
			if v != "" && existing[c] == "" {
				existing[c] = v
			}
		}
	}
}

func (m *merge) result() *table {
	tbl := &table{cols: m.cols}
	for _, key := range m.keys {
		tbl.rows = append(tbl.rows, m.byKey[key])
	}
	return tbl
}

// applyQualityChecks drops rows that fail the entity's row-level gates.
// Checks on columns the table does not carry are ignored.
func applyQualityChecks(tbl *table, qc feedcfg.QualityChecks) {
	has := make(map[string]struct{}, len(tbl.cols))
	for _, c := range tbl.cols {
		has[c] = struct{}{}
	}

	var notNull, nonNeg []string
	for _, c := range qc.NotNullOrDefault() {
		if _, ok := has[c]; ok {
			notNull = append(notNull, c)
		}
	}
	for _, c := range qc.NonNegative {
		if _, ok := has[c]; ok {
			nonNeg = append(nonNeg, c)
		}
	}

	kept := tbl.rows[:0]
rows:
	for _, row := range tbl.rows {
		for _, c := range notNull {
			if row[c] == "" {
				continue rows
			}
		}
		for _, c := range nonNeg {
			v := row[c]
			if v == "" {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil && f < 0 {
				continue rows
			}
		}
		kept = append(kept, row)
	}
	tbl.rows = kept
}

// orderColumns reorders to the declared preferred order first, then the
// remaining columns in the order they appeared.
func orderColumns(tbl *table, preferred []string) {
	has := make(map[string]struct{}, len(tbl.cols))
	for _, c := range tbl.cols {
		has[c] = struct{}{}
	}

	var ordered []string
	taken := make(map[string]struct{})
	for _, c := range preferred {
		if _, ok := has[c]; ok {
			ordered = append(ordered, c)
			taken[c] = struct{}{}
		}
	}
	for _, c := range tbl.cols {
		if _, ok := taken[c]; !ok {
			ordered = append(ordered, c)
		}
	}
	tbl.cols = ordered
}

func writeTable(path string, tbl *table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "silver: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "silver: create output")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tbl.cols); err != nil {
		return eris.Wrap(err, "silver: write header")
	}
	for _, row := range tbl.rows {
		rec := make([]string, len(tbl.cols))
		for i, c := range tbl.cols {
			rec[i] = row[c]
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "silver: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "silver: flush output")
}

func inputsMap(inputs []SourceInput) map[string]map[string]string {
	out := make(map[string]map[string]string, len(inputs))
	for _, src := range inputs {
		feeds := make(map[string]string, len(src.Feeds))
		for _, fi := range src.Feeds {
			feeds[fi.Feed] = fi.Path
		}
		out[src.Provider] = feeds
	}
	return out
}
