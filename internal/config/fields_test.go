package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFields = `
custom_fields:
  - id: customfield_11067
    name: Target End
    type: date
    track_history: true
  - id: customfield_23073
    name: Commit Date
    type: date
    track_history: false
  - id: summary
    name: Summary
    type: string
display_columns: [key, summary, customfield_11067, customfield_23073]
date_format: mm/dd/yyyy
`

func TestParseFields_YAML(t *testing.T) {
	fs, err := ParseFields([]byte(sampleFields))
	require.NoError(t, err)

	require.Len(t, fs.CustomFields, 3)
	assert.Equal(t, "Target End", fs.CustomFields[0].Name)
	assert.Equal(t, []string{"key", "summary", "customfield_11067", "customfield_23073"}, fs.DisplayColumns)
	assert.Equal(t, "mm/dd/yyyy", fs.DateFormat)

	dates := fs.DateFields()
	require.Len(t, dates, 2)

	tracked := fs.TrackedFields()
	require.Len(t, tracked, 1)
	assert.Equal(t, "customfield_11067", tracked[0].ID)

	assert.Equal(t, []string{"customfield_11067", "customfield_23073", "summary"}, fs.FieldIDs())
}

func TestFieldSet_SummaryFields(t *testing.T) {
	fs, err := ParseFields([]byte(`
custom_fields:
  - {id: customfield_23073, name: Status update, type: string, summarize: true}
  - {id: customfield_23074, name: Notes, type: string}
  - {id: customfield_11067, type: date, summarize: true}
display_columns: [key]
`))
	require.NoError(t, err)

	got := fs.SummaryFields()
	require.Len(t, got, 1, "only string fields marked summarize")
	assert.Equal(t, "customfield_23073", got[0].ID)
}

func TestParseFields_JSON(t *testing.T) {
	data := `{
  "custom_fields": [
    {"id": "customfield_11067", "name": "Target End", "type": "date", "track_history": true}
  ],
  "display_columns": ["key", "customfield_11067"]
}`
	fs, err := ParseFields([]byte(data))
	require.NoError(t, err)
	require.Len(t, fs.TrackedFields(), 1)
}

func TestParseFields_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty", ``, "empty"},
		{"invalid", `custom_fields: [`, "invalid fields file"},
		{"missing custom_fields", `display_columns: [key]`, `"custom_fields"`},
		{"missing display_columns", "custom_fields: []", `"display_columns"`},
		{"empty display_columns", "custom_fields: []\ndisplay_columns: []", "display_columns cannot be empty"},
		{"missing id", "custom_fields:\n  - name: x\ndisplay_columns: [key]", `custom_fields[0] missing required key "id"`},
		{"duplicate id", "custom_fields:\n  - id: customfield_1\n  - id: customfield_1\ndisplay_columns: [key]", "duplicate field id"},
		{"duplicate numeric id", "custom_fields:\n  - id: \"11067\"\n  - id: customfield_11067\ndisplay_columns: [key]", "duplicate field id"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFields([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFields_UnknownTypeAndFormatOnlyWarn(t *testing.T) {
	data := `
custom_fields:
  - id: customfield_1
    type: datetime
  - id: "11067"
    type: date
display_columns: [key]
date_format: dd.mm.yyyy
`
	fs, err := ParseFields([]byte(data))
	require.NoError(t, err)
	assert.Len(t, fs.DateFields(), 1)
}

func TestLoadFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFields), 0644))

	fs, err := LoadFields(path)
	require.NoError(t, err)
	assert.Len(t, fs.CustomFields, 3)

	_, err = LoadFields(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields file not found")
}

func TestIsCustomFieldID(t *testing.T) {
	assert.True(t, isCustomFieldID("customfield_11067"))
	assert.False(t, isCustomFieldID("customfield_"))
	assert.False(t, isCustomFieldID("customfield_abc"))
	assert.False(t, isCustomFieldID("11067"))
}
