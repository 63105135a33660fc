package model

import "time"

// PlanItem is one matched, not-yet-validated unit of work: a file in a
// ready batch that matched a feed's filename selector.
type PlanItem struct {
	Provider     string
	BatchID      string
	Feed         string
	TargetEntity string
	File         string
}

// QualifiedFile is a PlanItem that passed the schema gate, enriched with
// file metadata and the detected field set.
type QualifiedFile struct {
	PlanItem

	SizeBytes     int64
	SourceModTime time.Time
	FileHash      string
	Header        []string
	RequiredCols  []string
	ExtraCols     []string
}

// MetaColumns are the lineage columns stamped on every staged row. They are
// excluded from the business column set of an entity contract.
var MetaColumns = map[string]struct{}{
	"provider":        {},
	"feed":            {},
	"batch_id":        {},
	"source_file":     {},
	"source_mod_time": {},
	"file_hash":       {},
	"ingest_ts":       {},
	"schema_version":  {},
	"record_hash":     {},
}

// IsMetaColumn reports whether name is a lineage metadata column.
func IsMetaColumn(name string) bool {
	_, ok := MetaColumns[name]
	return ok
}
