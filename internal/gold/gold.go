// Package gold finalizes the reconciled silver table into the consumable
// dataset: derived KPIs, null numeric backfill, one row per movie.
package gold

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/movielake/internal/ledger"
)

// ErrNoSilver reports that no reconciled table exists yet, so there is
// nothing to finalize.
var ErrNoSilver = eris.New("gold: no silver table found")

// Finalizer builds the gold dataset for one entity.
type Finalizer struct {
	SilverRoot string
	GoldRoot   string
	Ledger     *ledger.Ledger
	RunID      string
}

// Build finalizes the latest silver table and returns the written path.
// Null numeric cells become 0, total_box_office_gross_usd is derived from
// the domestic and international gross, and movie_key duplicates collapse
// keeping the first occurrence.
func (g *Finalizer) Build(entity string) (string, error) {
	log := zap.L().With(zap.String("component", "gold"), zap.String("entity", entity))

	src, err := g.LatestSilver(entity)
	if err != nil {
		return "", err
	}

	header, rows, err := readCSV(src)
	if err != nil {
		return "", eris.Wrapf(err, "gold: read %s", filepath.Base(src))
	}

	fillNumericNulls(header, rows)
	header, rows = deriveTotalGross(header, rows)
	rows = dedupeFirst(header, rows, "movie_key")

	ts := time.Now().UTC().Format("20060102T150405Z")
	outPath := filepath.Join(g.GoldRoot, entity+"_final_"+ts+".csv")
	if err := writeCSV(outPath, header, rows); err != nil {
		return "", err
	}

	if err := g.Ledger.Append(ledger.Record{
		Level:   "gold",
		Entity:  entity + "_final",
		RowsOut: len(rows),
		Status:  "ok",
		Input:   src,
		Path:    outPath,
		RunID:   g.RunID,
	}); err != nil {
		return "", err
	}

	log.Info("final dataset written",
		zap.String("path", outPath),
		zap.Int("rows", len(rows)),
		zap.String("input", src),
	)
	return outPath, nil
}

// LatestSilver locates the most recent reconciled table for the entity.
// Timestamped names sort lexicographically, so the last one is newest.
func (g *Finalizer) LatestSilver(entity string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(g.SilverRoot, entity, entity+"_*.csv"))
	if err != nil {
		return "", eris.Wrap(err, "gold: glob silver dir")
	}
	if len(matches) == 0 {
		return "", ErrNoSilver
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// fillNumericNulls replaces empty cells with 0 in every numeric column. A
// column is numeric when it has at least one value and every value parses
// as a number.
func fillNumericNulls(header []string, rows [][]string) {
	for i := range header {
		if !numericColumn(rows, i) {
			continue
		}
		for _, row := range rows {
			if i < len(row) && row[i] == "" {
				row[i] = "0"
			}
		}
	}
}

func numericColumn(rows [][]string, idx int) bool {
	seen := false
	for _, row := range rows {
		if idx >= len(row) || row[idx] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(row[idx], 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// deriveTotalGross appends total_box_office_gross_usd = domestic +
// international. A missing gross column contributes 0.
func deriveTotalGross(header []string, rows [][]string) ([]string, [][]string) {
	domIdx, intlIdx := -1, -1
	for i, c := range header {
		switch c {
		case "domestic_box_office_gross":
			domIdx = i
		case "international_box_office_gross":
			intlIdx = i
		}
	}

	header = append(header, "total_box_office_gross_usd")
	for i, row := range rows {
		total := numAt(row, domIdx) + numAt(row, intlIdx)
		rows[i] = append(row, formatNumber(total))
	}
	return header, rows
}

// formatNumber renders integral values without an exponent or trailing
// fraction; everything else uses the shortest float form.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func numAt(row []string, idx int) float64 {
	if idx < 0 || idx >= len(row) || row[idx] == "" {
		return 0
	}
	f, err := strconv.ParseFloat(row[idx], 64)
	if err != nil {
		return 0
	}
	return f
}

func dedupeFirst(header []string, rows [][]string, keyCol string) [][]string {
	keyIdx := -1
	for i, c := range header {
		if c == keyCol {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return rows
	}

	seen := make(map[string]struct{}, len(rows))
	kept := rows[:0]
	for _, row := range rows {
		key := ""
		if keyIdx < len(row) {
			key = row[keyIdx]
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	return kept
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrap(err, "read")
	}
	if len(records) == 0 {
		return nil, nil, eris.New("empty silver table")
	}
	return records[0], records[1:], nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "gold: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "gold: create output")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "gold: write header")
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "gold: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "gold: flush output")
}
