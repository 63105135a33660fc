// Package query provides read access to the finalized gold dataset.
package query

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoGold reports that no finalized dataset exists yet.
var ErrNoGold = eris.New("query: no gold dataset found")

// goldPatterns are tried broadest-last so a conventionally named final
// dataset is preferred, but any CSV in the gold tier still resolves.
var goldPatterns = []string{
	"movie_metrics_final_*.csv",
	"movie_metrics_*.csv",
	"*.csv",
}

// Row is one gold record keyed by column name.
type Row map[string]string

// Dataset is a loaded gold table. Titles are normalized (trimmed,
// lowercased) at load so lookups are case-insensitive.
type Dataset struct {
	Path    string
	Columns []string
	Rows    []Row
}

// FindLatestGold locates the most recently modified gold CSV.
func FindLatestGold(goldDir string) (string, error) {
	var candidates []string
	for _, pattern := range goldPatterns {
		matches, err := filepath.Glob(filepath.Join(goldDir, pattern))
		if err != nil {
			return "", eris.Wrap(err, "query: glob gold dir")
		}
		candidates = append(candidates, matches...)
	}
	if len(candidates) == 0 {
		return "", ErrNoGold
	}

	latest, best := "", int64(-1)
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); mt > best {
			latest, best = path, mt
		}
	}
	if latest == "" {
		return "", ErrNoGold
	}
	return latest, nil
}

// Load reads a gold CSV into memory.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "query: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "query: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("query: %s is empty", path)
	}

	ds := &Dataset{Path: path, Columns: records[0]}
	for _, rec := range records[1:] {
		row := make(Row, len(ds.Columns))
		for i, c := range ds.Columns {
			if i < len(rec) {
				row[c] = rec[i]
			}
		}
		if title, ok := row["title"]; ok {
			row["title"] = normalizeTitle(title)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ByKey returns the rows with the given movie key.
func (d *Dataset) ByKey(movieKey string) []Row {
	var out []Row
	for _, row := range d.Rows {
		if row["movie_key"] == movieKey {
			out = append(out, row)
		}
	}
	return out
}

// ByTitleYear returns the rows matching an exact normalized title and year.
func (d *Dataset) ByTitleYear(title string, year int64) []Row {
	want := normalizeTitle(title)
	wantYear := strconv.FormatInt(year, 10)

	var out []Row
	for _, row := range d.Rows {
		if row["title"] == want && row["year"] == wantYear {
			out = append(out, row)
		}
	}
	return out
}

// FindTitle returns the rows whose title contains the given substring,
// case-insensitively.
func (d *Dataset) FindTitle(substr string) []Row {
	want := normalizeTitle(substr)

	var out []Row
	for _, row := range d.Rows {
		if strings.Contains(row["title"], want) {
			out = append(out, row)
		}
	}
	return out
}

// Head returns up to the first n rows.
func (d *Dataset) Head(n int) []Row {
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	if n < 0 {
		n = 0
	}
	return d.Rows[:n]
}
