package config

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Field types understood by the tracker integration.
const (
	FieldTypeDate   = "date"
	FieldTypeString = "string"
	FieldTypeNumber = "number"
)

const customFieldPrefix = "customfield_"

var (
	knownFieldTypes   = []string{FieldTypeDate, FieldTypeString, FieldTypeNumber}
	knownDateFormats  = []string{"mm/dd/yyyy", "yyyy-mm-dd", "dd/mm/yyyy"}
	standardFieldKeys = []string{"key", "summary", "status", "assignee", "created", "updated", "duedate"}
)

// TrackedField describes one tracker field listed in the fields file.
type TrackedField struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name,omitempty"`
	Type         string `yaml:"type" json:"type,omitempty"`
	TrackHistory bool   `yaml:"track_history" json:"track_history"`
	Summarize    bool   `yaml:"summarize" json:"summarize,omitempty"`
}

// FieldSet is the parsed fields file.
type FieldSet struct {
	CustomFields   []TrackedField `yaml:"custom_fields" json:"custom_fields"`
	DisplayColumns []string       `yaml:"display_columns" json:"display_columns"`
	DateFormat     string         `yaml:"date_format" json:"date_format,omitempty"`
}

// LoadFields reads and validates the fields file at path. The file may be
// YAML or JSON.
func LoadFields(path string) (*FieldSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(err, "config: fields file not found: %s", path)
		}
		return nil, eris.Wrapf(err, "config: read fields file %s", path)
	}
	return ParseFields(data)
}

// ParseFields decodes and validates fields file content.
func ParseFields(data []byte) (*FieldSet, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "config: invalid fields file")
	}
	if len(raw) == 0 {
		return nil, eris.New("config: fields file is empty")
	}
	for _, key := range []string{"custom_fields", "display_columns"} {
		if _, ok := raw[key]; !ok {
			return nil, eris.Errorf("config: fields file missing required key %q", key)
		}
	}

	var fs FieldSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, eris.Wrap(err, "config: decode fields file")
	}
	if err := fs.validate(); err != nil {
		return nil, err
	}
	return &fs, nil
}

func (fs *FieldSet) validate() error {
	seen := make(map[string]bool, len(fs.CustomFields))
	for i, f := range fs.CustomFields {
		if f.ID == "" {
			return eris.Errorf("config: custom_fields[%d] missing required key \"id\"", i)
		}
		id := canonicalID(f.ID)
		if seen[id] {
			return eris.Errorf("config: duplicate field id %q", f.ID)
		}
		seen[id] = true

		if !isCustomFieldID(id) && !slices.Contains(standardFieldKeys, id) {
			zap.L().Warn("field id does not follow the customfield_N form", zap.String("field_id", f.ID))
		}
		if f.Type != "" && !slices.Contains(knownFieldTypes, f.Type) {
			zap.L().Warn("unknown field type", zap.String("field_id", f.ID), zap.String("type", f.Type))
		}
		if f.Summarize && f.Type != FieldTypeString {
			zap.L().Warn("summarize only applies to string fields", zap.String("field_id", f.ID))
		}
	}

	if len(fs.DisplayColumns) == 0 {
		return eris.New("config: display_columns cannot be empty")
	}

	if fs.DateFormat != "" && !slices.Contains(knownDateFormats, fs.DateFormat) {
		zap.L().Warn("unsupported date format, dates are shown as DD/Mon/YYYY", zap.String("date_format", fs.DateFormat))
	}
	return nil
}

// DateFields returns the fields of type date.
func (fs *FieldSet) DateFields() []TrackedField {
	var out []TrackedField
	for _, f := range fs.CustomFields {
		if f.Type == FieldTypeDate {
			out = append(out, f)
		}
	}
	return out
}

// TrackedFields returns the date fields whose history is reconciled.
func (fs *FieldSet) TrackedFields() []TrackedField {
	var out []TrackedField
	for _, f := range fs.DateFields() {
		if f.TrackHistory {
			out = append(out, f)
		}
	}
	return out
}

// SummaryFields returns the text fields whose value is condensed into a
// short status summary.
func (fs *FieldSet) SummaryFields() []TrackedField {
	var out []TrackedField
	for _, f := range fs.CustomFields {
		if f.Summarize && f.Type == FieldTypeString {
			out = append(out, f)
		}
	}
	return out
}

// FieldIDs returns the ids of every configured field, in file order.
func (fs *FieldSet) FieldIDs() []string {
	ids := make([]string, 0, len(fs.CustomFields))
	for _, f := range fs.CustomFields {
		ids = append(ids, f.ID)
	}
	return ids
}

// canonicalID gives a bare field number its customfield_ prefix so both
// spellings of one field collide.
func canonicalID(id string) string {
	if isCustomFieldID(customFieldPrefix + id) {
		return customFieldPrefix + id
	}
	return id
}

func isCustomFieldID(id string) bool {
	if len(id) <= len(customFieldPrefix) || id[:len(customFieldPrefix)] != customFieldPrefix {
		return false
	}
	for _, r := range id[len(customFieldPrefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
