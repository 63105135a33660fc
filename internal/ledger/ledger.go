package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Record is one immutable fact appended to the audit ledger. Field presence
// varies by level: file-level records carry provider/batch/file/hash and row
// counts; batch-level records (level="batch") carry completeness; silver and
// gold records carry entity, path and inputs.
type Record struct {
	Level      string `json:"level,omitempty"`
	Provider   string `json:"provider,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
	Feed       string `json:"feed,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
	RowsIn     int    `json:"rows_in"`
	RowsOut    int    `json:"rows_out"`
	Status     string `json:"status,omitempty"`
	TS         string `json:"ts,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	// Batch-level completeness fields.
	Completeness []string `json:"completeness,omitempty"`
	Required     []string `json:"required,omitempty"`
	Complete     *bool    `json:"complete,omitempty"`

	// Silver/gold-level fields.
	Entity string                       `json:"entity,omitempty"`
	Path   string                       `json:"path,omitempty"`
	Inputs map[string]map[string]string `json:"inputs,omitempty"`
	Input  string                       `json:"input,omitempty"`
}

// Ledger is an append-only line-delimited JSON fact log. It is the single
// durable source of truth for idempotency and batch completeness. Appends
// are serialized through a mutex so concurrent writers never interleave
// partial lines; readers skip lines that fail to parse.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// New creates a Ledger backed by the given file path. The file is created
// on first append.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one record to the ledger. The timestamp is stamped at write
// time unless the caller already set one.
func (l *Ledger) Append(rec Record) error {
	if rec.TS == "" {
		rec.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return eris.Wrap(err, "ledger: create audit dir")
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrap(err, "ledger: open for append")
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return eris.Wrap(err, "ledger: append record")
	}
	return nil
}

// Scan streams every parseable record to fn in file order. Malformed or
// partial trailing lines are skipped. fn returning false stops the scan.
// A missing ledger file is not an error — there is simply nothing recorded.
func (l *Ledger) Scan(fn func(Record) bool) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrap(err, "ledger: open for read")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "ledger: scan")
	}
	return nil
}

// Entries returns all parseable ledger records in file order.
func (l *Ledger) Entries() ([]Record, error) {
	var out []Record
	err := l.Scan(func(rec Record) bool {
		out = append(out, rec)
		return true
	})
	return out, err
}

// AlreadyProcessed reports whether a processing attempt for the exact
// (provider, batch, source file, content hash) tuple was already recorded.
// This is the idempotency guarantee: the same delivery is never re-ingested.
func (l *Ledger) AlreadyProcessed(provider, batchID, sourceFile, fileHash string) (bool, error) {
	found := false
	err := l.Scan(func(rec Record) bool {
		if rec.Provider == provider &&
			rec.BatchID == batchID &&
			rec.SourceFile == sourceFile &&
			rec.FileHash == fileHash {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// LatestCompleteBatch returns the batch_id of the most recent batch-level
// record with complete=true for the provider, by ledger timestamp. Records
// with unparseable timestamps sort before everything else.
func (l *Ledger) LatestCompleteBatch(provider string) (string, bool, error) {
	var (
		batchID string
		best    time.Time
		found   bool
	)
	err := l.Scan(func(rec Record) bool {
		if rec.Level != "batch" || rec.Provider != provider {
			return true
		}
		if rec.Complete == nil || !*rec.Complete {
			return true
		}
		ts, parseErr := time.Parse(time.RFC3339Nano, rec.TS)
		if parseErr != nil {
			ts = time.Time{}
		}
		if !found || ts.After(best) {
			batchID = rec.BatchID
			best = ts
			found = true
		}
		return true
	})
	return batchID, found, err
}
