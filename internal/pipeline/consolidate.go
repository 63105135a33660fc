package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// consolidatedName is the per-feed per-batch merged artifact filename.
const consolidatedName = "consolidated.csv"

// Consolidate merges every staged part file of one (provider, feed, batch)
// into a single artifact, deduplicating globally on (movie_key,
// record_hash) across parts. Parts are read in sorted name order; the
// first part with a valid header defines the output schema. Returns the
// output path, or "" when there was nothing to consolidate.
func Consolidate(bronzeRoot, provider, feed, batchID string) (string, error) {
	log := zap.L().With(
		zap.String("component", "pipeline.consolidate"),
		zap.String("provider", provider),
		zap.String("feed", feed),
		zap.String("batch_id", batchID),
	)

	base := filepath.Join(bronzeRoot, provider, feed, batchID)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("no parts to consolidate")
			return "", nil
		}
		return "", eris.Wrap(err, "consolidate: read batch dir")
	}

	var parts []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == consolidatedName || filepath.Ext(name) != ".csv" {
			continue
		}
		parts = append(parts, filepath.Join(base, name))
	}
	if len(parts) == 0 {
		log.Warn("no parts to consolidate")
		return "", nil
	}
	sort.Strings(parts)

	outPath := filepath.Join(base, consolidatedName)
	out, err := os.Create(outPath)
	if err != nil {
		return "", eris.Wrap(err, "consolidate: create output")
	}
	defer out.Close()

	w := csv.NewWriter(out)

	var outCols []string
	seen := make(map[dedupeKey]struct{})
	rowsOut := 0

	for _, part := range parts {
		cols, err := consolidatePart(part, w, &outCols, seen, &rowsOut)
		if err != nil {
			return "", eris.Wrapf(err, "consolidate: part %s", filepath.Base(part))
		}
		if !cols {
			log.Warn("skipping part with no header", zap.String("part", filepath.Base(part)))
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrap(err, "consolidate: flush output")
	}

	log.Info("consolidated parts",
		zap.Int("parts", len(parts)),
		zap.String("path", outPath),
		zap.Int("rows", rowsOut),
	)
	return outPath, nil
}

// consolidatePart appends one part's rows to the writer, deduplicating
// against rows already emitted. Records are realigned to the output schema
// by column name, so a part with a drifted column order still lands its
// cells under the right headers. Reports false when the part has no header.
func consolidatePart(part string, w *csv.Writer, outCols *[]string, seen map[dedupeKey]struct{}, rowsOut *int) (bool, error) {
	f, err := os.Open(part)
	if err != nil {
		return true, eris.Wrap(err, "open part")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF || len(header) == 0 {
		return false, nil
	}
	if err != nil {
		return true, eris.Wrap(err, "read part header")
	}

	if *outCols == nil {
		*outCols = header
		if err := w.Write(header); err != nil {
			return true, eris.Wrap(err, "write header")
		}
	}

	// Output column -> position in this part's header.
	colMap := make([]int, len(*outCols))
	keyIdx, hashIdx := -1, -1
	for i, c := range *outCols {
		colMap[i] = -1
		for j, h := range header {
			if h == c {
				colMap[i] = j
				break
			}
		}
		switch c {
		case "movie_key":
			keyIdx = i
		case "record_hash":
			hashIdx = i
		}
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		aligned := make([]string, len(*outCols))
		for i, j := range colMap {
			if j >= 0 && j < len(record) {
				aligned[i] = record[j]
			}
		}

		key := dedupeKey{field(aligned, keyIdx), field(aligned, hashIdx)}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if err := w.Write(aligned); err != nil {
			return true, eris.Wrap(err, "write row")
		}
		*rowsOut++
	}
	return true, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}
