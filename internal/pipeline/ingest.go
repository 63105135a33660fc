package pipeline

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/ledger"
	"github.com/sells-group/movielake/internal/model"
)

// stagedHashPrefix is how much of the file hash names a staged part file,
// so re-ingesting changed content never collides with an earlier part.
const stagedHashPrefix = 12

// Ingester stages qualified files into the raw tier, driven entirely by the
// feed's declared mapping.
type Ingester struct {
	Maps       *feedcfg.Mappings
	Contracts  *feedcfg.Contracts
	BronzeRoot string
	Ledger     *ledger.Ledger
	RunID      string
}

// dedupeKey identifies a staged row within one file.
type dedupeKey struct {
	movieKey   string
	recordHash string
}

// IngestFile applies the feed mapping to every input row, derives the
// entity key and record hash, deduplicates within the file, and writes one
// staged part file with lineage metadata. One ledger record is appended on
// success. Malformed values never abort the file; they become nulls.
func (ing *Ingester) IngestFile(qf model.QualifiedFile) (string, error) {
	log := zap.L().With(
		zap.String("component", "pipeline.ingest"),
		zap.String("provider", qf.Provider),
		zap.String("feed", qf.Feed),
		zap.String("file", filepath.Base(qf.File)),
	)

	providerCfg, ok := ing.Maps.Providers[qf.Provider]
	if !ok {
		return "", eris.Errorf("ingest: no mapping for provider %s", qf.Provider)
	}
	feed, ok := providerCfg.Feeds[qf.Feed]
	if !ok {
		return "", eris.Errorf("ingest: no feed config for %s.%s", qf.Provider, qf.Feed)
	}

	contractCols := ing.Contracts.ColumnNames(feed.TargetEntity)
	if contractCols == nil {
		return "", eris.Errorf("ingest: contract missing for entity %s", feed.TargetEntity)
	}

	var businessCols []string
	for _, c := range contractCols {
		if !model.IsMetaColumn(c) {
			businessCols = append(businessCols, c)
		}
	}

	recIDCols := feed.RecordIdentity.Columns
	if len(recIDCols) == 0 {
		recIDCols = businessCols
	}

	keyRequired := false
	for _, c := range businessCols {
		if c == "movie_key" {
			keyRequired = true
			break
		}
	}

	outDir := filepath.Join(ing.BronzeRoot, qf.Provider, qf.Feed, qf.BatchID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create staging dir")
	}
	outPath := filepath.Join(outDir, qf.FileHash[:stagedHashPrefix]+".csv")

	out, err := os.Create(outPath)
	if err != nil {
		return "", eris.Wrap(err, "ingest: create staged file")
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(contractCols); err != nil {
		return "", eris.Wrap(err, "ingest: write header")
	}

	ingestTS := time.Now().UTC().Format(time.RFC3339Nano)
	lineage := map[string]string{
		"provider":        qf.Provider,
		"feed":            qf.Feed,
		"batch_id":        qf.BatchID,
		"source_file":     filepath.Base(qf.File),
		"source_mod_time": qf.SourceModTime.Format(time.RFC3339Nano),
		"file_hash":       qf.FileHash,
		"ingest_ts":       ingestTS,
		"schema_version":  strconv.Itoa(providerCfg.SchemaVersion),
	}

	rowsIn, rowsOut := 0, 0
	seen := make(map[dedupeKey]struct{})
	droppedExtra := make(map[string]struct{})

	err = ing.sourceRows(qf, feed, func(raw map[string]any) bool {
		rowsIn++

		mapped := applyMapping(raw, feed.Mappings)

		if _, ok := mapped["movie_key"]; !ok {
			if key, derived := deriveKey(mapped); derived {
				mapped["movie_key"] = key
			}
		}
		if keyRequired && model.FormatValue(mapped["movie_key"]) == "" {
			return true
		}

		recordHash := hashMapped(mapped, recIDCols, businessCols)

		key := dedupeKey{model.FormatValue(mapped["movie_key"]), recordHash}
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}

		for name := range mapped {
			if !contains(businessCols, name) && name != "movie_key" {
				droppedExtra[name] = struct{}{}
			}
		}

		record := make([]string, len(contractCols))
		for i, c := range contractCols {
			if v, ok := lineage[c]; ok {
				record[i] = v
			} else if c == "record_hash" {
				record[i] = recordHash
			} else {
				record[i] = model.FormatValue(mapped[c])
			}
		}
		if err := w.Write(record); err != nil {
			return false
		}
		rowsOut++
		return true
	})
	if err != nil {
		return "", eris.Wrapf(err, "ingest: read %s", filepath.Base(qf.File))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrap(err, "ingest: flush staged file")
	}

	if len(droppedExtra) > 0 {
		names := make([]string, 0, len(droppedExtra))
		for n := range droppedExtra {
			names = append(names, n)
		}
		sort.Strings(names)
		log.Debug("ignoring non-contract fields", zap.Strings("fields", names))
	}

	if err := ing.Ledger.Append(ledger.Record{
		Provider:   qf.Provider,
		BatchID:    qf.BatchID,
		Feed:       qf.Feed,
		SourceFile: filepath.Base(qf.File),
		FileHash:   qf.FileHash,
		RowsIn:     rowsIn,
		RowsOut:    rowsOut,
		Status:     "ok",
		RunID:      ing.RunID,
	}); err != nil {
		return "", err
	}

	log.Info("staged file written",
		zap.String("path", outPath),
		zap.Int("rows_in", rowsIn),
		zap.Int("rows_out", rowsOut),
	)
	return outPath, nil
}

// sourceRows streams raw input rows in file order. CSV and XLSX rows arrive
// keyed by header name; record-oriented rows arrive as decoded objects.
func (ing *Ingester) sourceRows(qf model.QualifiedFile, feed feedcfg.Feed, fn func(map[string]any) bool) error {
	switch feed.Format() {
	case "csv":
		return csvRows(qf.File, feed.CSVOptions, fn)
	case "json":
		return iterRecords(qf.File, fn)
	case "xlsx":
		return xlsxRows(qf.File, feed.XLSX, fn)
	default:
		return eris.Errorf("ingest: unsupported input_format %q", feed.InputFormat)
	}
}

func csvRows(path string, opts feedcfg.CSVOptions, fn func(map[string]any) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "open csv")
	}
	defer f.Close()

	r, err := decodeReader(f, opts.Encoding)
	if err != nil {
		return err
	}

	br := bufio.NewReader(r)
	sample, _ := br.Peek(4096)

	cr := csv.NewReader(br)
	cr.Comma = delimiterFor(opts, sample)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return eris.Wrap(err, "read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}

		raw := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(record) {
				raw[h] = record[i]
			}
		}
		if !fn(raw) {
			break
		}
	}
	return nil
}

func xlsxRows(path string, opts feedcfg.XLSXOptions, fn func(map[string]any) bool) error {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return eris.Wrap(err, "open xlsx")
	}
	sheet, err := xlsxSheet(f, opts)
	if err != nil {
		return err
	}
	if len(sheet.Rows) == 0 {
		return nil
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		header[i] = strings.TrimSpace(cell.String())
	}

	for _, row := range sheet.Rows[1:] {
		raw := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(row.Cells) {
				raw[h] = row.Cells[i].String()
			}
		}
		if !fn(raw) {
			break
		}
	}
	return nil
}

// applyMapping runs the feed's rule pipeline over one raw row: rename each
// declared source field, cast it, normalize, then clamp. Failed casts and
// out-of-range values become nulls, never errors.
func applyMapping(raw map[string]any, rules map[string]feedcfg.FieldRule) map[string]any {
	mapped := make(map[string]any, len(rules))
	for src, rule := range rules {
		v := castValue(raw[src], rule.Type)
		v = applyNormalize(v, rule.Normalize)
		v = applyClamp(v, rule.Clamp)
		mapped[rule.To] = v
	}
	return mapped
}

// castValue converts a raw value to the declared type. Empty and
// unconvertible values yield nil.
func castValue(v any, typ string) any {
	if v == nil || v == "" {
		return nil
	}

	switch strings.ToLower(typ) {
	case "", "string", "str":
		return model.CollapseWhitespace(model.FormatValue(v))
	case "int", "integer":
		switch t := v.(type) {
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil
			}
			return n
		case float64:
			return int64(t)
		case int64:
			return t
		default:
			return nil
		}
	case "float", "double", "number":
		switch t := v.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil
			}
			return f
		case float64:
			return t
		case int64:
			return float64(t)
		default:
			return nil
		}
	default:
		return v
	}
}

// applyNormalize applies the declared normalization ops in order. The ops
// operate on text; non-string values pass through untouched so a later
// clamp still sees a number.
func applyNormalize(v any, ops []string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	for _, op := range ops {
		switch strings.ToLower(op) {
		case "strip", "trim":
			s = strings.TrimSpace(s)
		case "collapse_ws":
			s = model.CollapseWhitespace(s)
		case "lower":
			s = strings.ToLower(s)
		}
	}
	return s
}

// applyClamp nulls numeric values outside the declared closed interval.
// Null bounds leave that side open.
func applyClamp(v any, clamp []*float64) any {
	if len(clamp) == 0 {
		return v
	}

	var f float64
	switch t := v.(type) {
	case int64:
		f = float64(t)
	case float64:
		f = t
	default:
		return v
	}

	if lo := clamp[0]; lo != nil && f < *lo {
		return nil
	}
	if len(clamp) > 1 {
		if hi := clamp[1]; hi != nil && f > *hi {
			return nil
		}
	}
	return v
}

// deriveKey derives the movie key from a mapped row's title and year.
func deriveKey(mapped map[string]any) (string, bool) {
	title, ok := mapped["title"].(string)
	if !ok || title == "" {
		return "", false
	}

	var year int64
	switch y := mapped["year"].(type) {
	case int64:
		year = y
	case float64:
		year = int64(y)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(y), 10, 64)
		if err != nil {
			return "", false
		}
		year = n
	default:
		return "", false
	}

	return model.DeriveMovieKey(title, year), true
}

// hashMapped computes the record hash over the identity columns present in
// the mapped row, falling back to all present business columns.
func hashMapped(mapped map[string]any, recIDCols, businessCols []string) string {
	cols := presentColumns(recIDCols, mapped)
	if len(cols) == 0 {
		cols = presentColumns(businessCols, mapped)
	}
	sort.Strings(cols)
	return model.HashRecord(cols, mapped)
}

func presentColumns(cols []string, mapped map[string]any) []string {
	var out []string
	for _, c := range cols {
		if _, ok := mapped[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func contains(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
