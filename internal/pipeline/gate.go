package pipeline

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/ledger"
	"github.com/sells-group/movielake/internal/model"
)

// jsonSampleRecords caps how many records the gate reads when detecting a
// record-oriented file's field set.
const jsonSampleRecords = 50

// Qualify runs the schema gate on one plan item. It returns the enriched
// QualifiedFile on success, skipped=true when the ledger shows the exact
// same delivery was already processed, or an error when the file is
// rejected (missing, empty, unreadable, or failing schema validation).
func Qualify(item model.PlanItem, feed feedcfg.Feed, led *ledger.Ledger) (*model.QualifiedFile, bool, error) {
	log := zap.L().With(
		zap.String("component", "pipeline.gate"),
		zap.String("provider", item.Provider),
		zap.String("feed", item.Feed),
		zap.String("file", filepath.Base(item.File)),
	)

	info, err := os.Stat(item.File)
	if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
		return nil, false, eris.Errorf("gate: file missing or empty: %s", item.File)
	}

	fileHash, err := hashFile(item.File)
	if err != nil {
		return nil, false, eris.Wrapf(err, "gate: hash %s", item.File)
	}

	processed, err := led.AlreadyProcessed(item.Provider, item.BatchID, filepath.Base(item.File), fileHash)
	if err != nil {
		return nil, false, eris.Wrap(err, "gate: ledger lookup")
	}
	if processed {
		log.Info("skip (already processed)")
		return nil, true, nil
	}

	var header []string
	switch feed.Format() {
	case "csv":
		header, err = tabularHeader(item.File, feed.CSVOptions)
	case "json":
		header, err = recordFieldSet(item.File)
	case "xlsx":
		header, err = xlsxHeader(item.File, feed.XLSX)
	default:
		err = eris.Errorf("gate: unsupported input_format %q", feed.InputFormat)
	}
	if err != nil {
		return nil, false, err
	}

	required := feed.SourceColumns()
	headerSet := make(map[string]struct{}, len(header))
	for _, h := range header {
		headerSet[h] = struct{}{}
	}

	var missing, extra []string
	for _, c := range required {
		if _, ok := headerSet[c]; !ok {
			missing = append(missing, c)
		}
	}
	requiredSet := make(map[string]struct{}, len(required))
	for _, c := range required {
		requiredSet[c] = struct{}{}
	}
	for _, h := range header {
		if _, ok := requiredSet[h]; !ok {
			extra = append(extra, h)
		}
	}
	sort.Strings(extra)

	if len(missing) > 0 {
		return nil, false, eris.Errorf("gate: schema mismatch: %s missing %v", filepath.Base(item.File), missing)
	}
	if len(extra) > 0 {
		// Additive drift is allowed at this tier; record it, never reject.
		log.Warn("additive fields detected", zap.Strings("extra", extra))
	}

	if feed.Format() == "csv" {
		if err := csvSanityRead(item.File, feed.CSVOptions); err != nil {
			return nil, false, eris.Wrapf(err, "gate: parse sanity failed for %s", filepath.Base(item.File))
		}
	}

	return &model.QualifiedFile{
		PlanItem:      item,
		SizeBytes:     info.Size(),
		SourceModTime: info.ModTime().UTC(),
		FileHash:      fileHash,
		Header:        header,
		RequiredCols:  required,
		ExtraCols:     extra,
	}, false, nil
}

// hashFile computes the streaming sha256 of a file's full content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "gate: open for hashing")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, bufio.NewReaderSize(f, 1<<20)); err != nil {
		return "", eris.Wrap(err, "gate: hash content")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// decodeReader wraps r with a charset decoder when the feed declares a
// non-UTF-8 encoding. Encoding names are resolved the same way browsers do.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" || strings.EqualFold(encoding, "utf-8") || strings.EqualFold(encoding, "utf8") {
		return r, nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "gate: unsupported encoding %q", encoding)
	}
	return enc.NewDecoder().Reader(r), nil
}

// delimiterFor resolves the feed's delimiter, sniffing from the sample when
// none is configured.
func delimiterFor(opts feedcfg.CSVOptions, sample []byte) rune {
	if opts.Delimiter != "" {
		return []rune(opts.Delimiter)[0]
	}
	return sniffDelimiter(sample)
}

// sniffDelimiter guesses the delimiter from the first line of a sample by
// picking the most frequent candidate. Falls back to comma.
func sniffDelimiter(sample []byte) rune {
	line := string(sample)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	best, bestCount := ',', 0
	for _, cand := range []rune{',', ';', '\t', '|'} {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

// tabularHeader reads and trims the header row of a delimited file.
func tabularHeader(path string, opts feedcfg.CSVOptions) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "gate: open tabular file")
	}
	defer f.Close()

	r, err := decodeReader(f, opts.Encoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	sample, _ := br.Peek(4096)

	cr := csv.NewReader(br)
	cr.Comma = delimiterFor(opts, sample)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "gate: read header")
	}
	if len(header) == 0 {
		return nil, eris.New("gate: empty header")
	}

	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(h)
	}
	return out, nil
}

// csvSanityRead parses the first data row to prove the file is structurally
// readable beyond its header.
func csvSanityRead(path string, opts feedcfg.CSVOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "gate: open tabular file")
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

	if _, err := cr.Read(); err != nil {
		return eris.Wrap(err, "gate: read header")
	}
	if _, err := cr.Read(); err != nil && err != io.EOF {
		return eris.Wrap(err, "gate: read first data row")
	}
	return nil
}

// recordFieldSet samples up to jsonSampleRecords records from a
// record-oriented file (JSON Lines or a single JSON array) and returns the
// sorted union of their keys.
func recordFieldSet(path string) ([]string, error) {
	keys := make(map[string]struct{})
	count := 0
	err := iterRecords(path, func(rec map[string]any) bool {
		for k := range rec {
			keys[k] = struct{}{}
		}
		count++
		return count < jsonSampleRecords
	})
	if err != nil {
		return nil, eris.Wrapf(err, "gate: sample records from %s", filepath.Base(path))
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// iterRecords streams objects from a JSON Lines file or a single top-level
// JSON array. fn returning false stops the iteration.
func iterRecords(path string, fn func(map[string]any) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "open record file")
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(2048)

	if strings.HasPrefix(strings.TrimLeft(string(head), " \t\r\n"), "[") {
		var records []map[string]any
		if err := json.NewDecoder(br).Decode(&records); err != nil {
			return eris.Wrap(err, "decode json array")
		}
		for _, rec := range records {
			if !fn(rec) {
				return nil
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return eris.Wrap(err, "decode json line")
		}
		if !fn(rec) {
			return nil
		}
	}
	return scanner.Err()
}

// xlsxHeader reads the header row of the configured sheet.
func xlsxHeader(path string, opts feedcfg.XLSXOptions) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "gate: open xlsx")
	}

	sheet, err := xlsxSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("gate: xlsx sheet has no header row")
	}

	row := sheet.Rows[0]
	header := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		header[i] = strings.TrimSpace(cell.String())
	}
	return header, nil
}

func xlsxSheet(f *xlsx.File, opts feedcfg.XLSXOptions) (*xlsx.Sheet, error) {
	if opts.Sheet != "" {
		sheet, ok := f.Sheet[opts.Sheet]
		if !ok {
			return nil, eris.Errorf("gate: xlsx sheet %q not found", opts.Sheet)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("gate: xlsx sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}
