// Package feedcfg holds the declarative pipeline configuration: provider
// feed mappings, entity contracts, provider path layout, and curation rules.
// These are static structures consumed by the pipeline, validated at load.
package feedcfg

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Mappings is the top-level feed mapping configuration (mappings.yaml).
type Mappings struct {
	Providers map[string]Provider `yaml:"providers"`
}

// Provider declares one external data source and its feeds.
type Provider struct {
	SchemaVersion int             `yaml:"schema_version"`
	Feeds         map[string]Feed `yaml:"feeds"`
}

// Feed declares one input stream for a provider.
type Feed struct {
	InputFormat      string               `yaml:"input_format"` // csv | json | xlsx (default csv)
	FilenameSelector string               `yaml:"filename_selector"`
	CSVOptions       CSVOptions           `yaml:"csv_options"`
	XLSX             XLSXOptions          `yaml:"xlsx_options"`
	Mappings         map[string]FieldRule `yaml:"mappings"`
	RecordIdentity   RecordIdentity       `yaml:"record_identity"`
	TargetEntity     string               `yaml:"target_entity"`
	Required         *bool                `yaml:"required"` // default true
}

// Format returns the normalized input format, defaulting to csv.
func (f Feed) Format() string {
	if f.InputFormat == "" {
		return "csv"
	}
	return strings.ToLower(f.InputFormat)
}

// IsRequired reports whether the feed counts toward batch completeness.
func (f Feed) IsRequired() bool {
	return f.Required == nil || *f.Required
}

// SourceColumns returns the sorted set of source-side field names the
// mapping declares. These are the required fields at the schema gate.
func (f Feed) SourceColumns() []string {
	cols := make([]string, 0, len(f.Mappings))
	for src := range f.Mappings {
		cols = append(cols, src)
	}
	sort.Strings(cols)
	return cols
}

// CSVOptions configures tabular input parsing.
type CSVOptions struct {
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
}

// XLSXOptions configures spreadsheet input parsing.
type XLSXOptions struct {
	Sheet      string `yaml:"sheet"`       // by name, overrides index
	SheetIndex int    `yaml:"sheet_index"` // default 0
}

// FieldRule is one mapping rule: rename a source field, cast it, apply
// normalization ops in order, and optionally clamp to a closed interval.
type FieldRule struct {
	To        string     `yaml:"to"`
	Type      string     `yaml:"type"` // string | int | float (default string)
	Normalize []string   `yaml:"normalize"`
	Clamp     []*float64 `yaml:"clamp"` // [lo, hi]; null bounds are open
}

// RecordIdentity declares the business columns that define a record's
// identity for dedup hashing.
type RecordIdentity struct {
	Columns []string `yaml:"columns"`
}

// Contracts is the entity contract configuration (contracts.yaml).
type Contracts struct {
	Entities             map[string]Entity `yaml:"entities"`
	LineageColumns       []Column          `yaml:"lineage_columns"`
	OptionalColumnsOrder []string          `yaml:"optional_columns_order"`
}

// Entity declares the ordered output column set for one target entity.
type Entity struct {
	Columns []Column `yaml:"columns"`
}

// Column is one declared contract column.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ColumnNames returns the declared column names of an entity in contract
// order, or nil if the entity has no contract.
func (c *Contracts) ColumnNames(entity string) []string {
	ent, ok := c.Entities[entity]
	if !ok {
		return nil
	}
	names := make([]string, len(ent.Columns))
	for i, col := range ent.Columns {
		names[i] = col.Name
	}
	return names
}

// Paths is the provider path layout configuration (paths.yaml).
type Paths struct {
	Providers map[string]ProviderPaths `yaml:"providers"`
}

// ProviderPaths locates a provider's deliveries and readiness rules.
type ProviderPaths struct {
	IncomingDir string    `yaml:"incoming_dir"`
	Readiness   Readiness `yaml:"readiness"`
}

// Readiness controls when a batch directory is considered fully delivered.
type Readiness struct {
	MarkerFile        string `yaml:"marker_file"`
	QuarantineSeconds int    `yaml:"quarantine_seconds"`
}

// Marker returns the readiness marker filename, defaulting to _READY.
func (r Readiness) Marker() string {
	if r.MarkerFile == "" {
		return "_READY"
	}
	return r.MarkerFile
}

// Curation is the reconciliation configuration (curation.yaml).
type Curation struct {
	Entities map[string]CurationEntity `yaml:"entities"`
}

// CurationEntity declares how one unified entity is built. Sources is an
// ordered list: merge precedence follows declaration order, so it must not
// be modeled as a map.
type CurationEntity struct {
	JoinKey       string        `yaml:"join_key"`
	Sources       []Source      `yaml:"sources"`
	QualityChecks QualityChecks `yaml:"quality_checks"`
}

// Source names one provider and the feeds it contributes, in order.
type Source struct {
	Provider string   `yaml:"provider"`
	Feeds    []string `yaml:"feeds"`
}

// QualityChecks declares row-level gates on the unified table.
type QualityChecks struct {
	NotNull     []string `yaml:"not_null"`
	NonNegative []string `yaml:"non_negative"`
}

// NotNullOrDefault returns the configured not-null column set, defaulting
// to the join identity columns.
func (q QualityChecks) NotNullOrDefault() []string {
	if len(q.NotNull) > 0 {
		return q.NotNull
	}
	return []string{"movie_key", "title", "year"}
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "feedcfg: read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "feedcfg: parse %s", path)
	}
	return nil
}

// LoadMappings reads and validates mappings.yaml.
func LoadMappings(path string) (*Mappings, error) {
	var m Mappings
	if err := loadYAML(path, &m); err != nil {
		return nil, err
	}
	if len(m.Providers) == 0 {
		return nil, eris.Errorf("feedcfg: %s declares no providers", path)
	}
	for pname, p := range m.Providers {
		for fname, f := range p.Feeds {
			switch f.Format() {
			case "csv", "json", "xlsx":
			default:
				return nil, eris.Errorf("feedcfg: %s.%s: unsupported input_format %q", pname, fname, f.InputFormat)
			}
			if f.FilenameSelector == "" {
				return nil, eris.Errorf("feedcfg: %s.%s: missing filename_selector", pname, fname)
			}
			if f.TargetEntity == "" {
				return nil, eris.Errorf("feedcfg: %s.%s: missing target_entity", pname, fname)
			}
			if len(f.Mappings) == 0 {
				return nil, eris.Errorf("feedcfg: %s.%s: declares no mappings", pname, fname)
			}
		}
	}
	return &m, nil
}

// LoadContracts reads and validates contracts.yaml.
func LoadContracts(path string) (*Contracts, error) {
	var c Contracts
	if err := loadYAML(path, &c); err != nil {
		return nil, err
	}
	if len(c.Entities) == 0 {
		return nil, eris.Errorf("feedcfg: %s declares no entities", path)
	}
	return &c, nil
}

// LoadPaths reads and validates paths.yaml.
func LoadPaths(path string) (*Paths, error) {
	var p Paths
	if err := loadYAML(path, &p); err != nil {
		return nil, err
	}
	if len(p.Providers) == 0 {
		return nil, eris.Errorf("feedcfg: %s declares no providers", path)
	}
	return &p, nil
}

// LoadCuration reads and validates curation.yaml.
func LoadCuration(path string) (*Curation, error) {
	var c Curation
	if err := loadYAML(path, &c); err != nil {
		return nil, err
	}
	if len(c.Entities) == 0 {
		return nil, eris.Errorf("feedcfg: %s declares no entities", path)
	}
	for name, ent := range c.Entities {
		if ent.JoinKey == "" {
			return nil, eris.Errorf("feedcfg: curation entity %s: missing join_key", name)
		}
		if len(ent.Sources) == 0 {
			return nil, eris.Errorf("feedcfg: curation entity %s: declares no sources", name)
		}
	}
	return &c, nil
}
