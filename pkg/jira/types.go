package jira

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// ServerInfo is the response from GET /rest/api/2/serverInfo.
type ServerInfo struct {
	BaseURL        string `json:"baseUrl"`
	Version        string `json:"version"`
	VersionNumbers []int  `json:"versionNumbers"`
	DeploymentType string `json:"deploymentType"`
	BuildNumber    int    `json:"buildNumber"`
	ServerTitle    string `json:"serverTitle"`
}

// User is an account as returned by /myself and changelog authors.
type User struct {
	Name         string `json:"name"`
	Key          string `json:"key"`
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

// Field is one entry of GET /rest/api/2/field.
type Field struct {
	ID          string       `json:"id"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Custom      bool         `json:"custom"`
	ClauseNames []string     `json:"clauseNames"`
	Schema      *FieldSchema `json:"schema,omitempty"`
}

// FieldSchema describes a field's value type.
type FieldSchema struct {
	Type     string `json:"type"`
	Custom   string `json:"custom,omitempty"`
	CustomID int    `json:"customId,omitempty"`
}

// SearchResult is one page of GET /rest/api/2/search.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Issue is a work item with its raw field values and, when expanded, its
// change history.
type Issue struct {
	ID        string                     `json:"id"`
	Key       string                     `json:"key"`
	Self      string                     `json:"self"`
	Fields    map[string]json.RawMessage `json:"fields"`
	Changelog *Changelog                 `json:"changelog,omitempty"`
}

// FieldText returns the value of field id as text. Strings are returned
// unquoted, other JSON values verbatim. Missing and null values report false.
func (i *Issue) FieldText(id string) (string, bool) {
	raw, ok := i.Fields[id]
	if !ok {
		return "", false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	return string(raw), true
}

// Histories returns the change records, or nil when the changelog was not
// expanded.
func (i *Issue) Histories() []History {
	if i.Changelog == nil {
		return nil
	}
	return i.Changelog.Histories
}

// Changelog is the changelog embedded in an issue by expand=changelog.
type Changelog struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Histories  []History `json:"histories"`
}

// Truncated reports whether the tracker left out part of the history.
func (c *Changelog) Truncated() bool {
	return c != nil && c.Total > c.StartAt+len(c.Histories)
}

// ChangelogPage is one page of GET /rest/api/2/issue/{key}/changelog.
type ChangelogPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	IsLast     bool      `json:"isLast"`
	Values     []History `json:"values"`
}

// History is one change record: everything one user changed at one instant.
type History struct {
	ID      string       `json:"id"`
	Author  *User        `json:"author,omitempty"`
	Created string       `json:"created"`
	Items   []ChangeItem `json:"items"`
}

// ChangeItem is a single field transition inside a History.
type ChangeItem struct {
	Field      string   `json:"field"`
	FieldType  string   `json:"fieldtype"`
	FieldID    FieldRef `json:"fieldId,omitempty"`
	From       string   `json:"from"`
	FromString string   `json:"fromString"`
	To         string   `json:"to"`
	ToString   string   `json:"toString"`
}

// FieldRef is a changelog field reference. The tracker sends it either as a
// string ("customfield_11067", "duedate") or as a bare number (11067).
type FieldRef string

// UnmarshalJSON accepts a JSON string, number or null.
func (r *FieldRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "jira: decode fieldId")
		}
		*r = FieldRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return eris.Wrapf(err, "jira: fieldId %s is neither string nor number", string(data))
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return eris.Errorf("jira: fieldId %s is not an integer", n.String())
	}
	*r = FieldRef(n.String())
	return nil
}

// ConnectionResult reports the outcome of TestConnection.
type ConnectionResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ServerTitle    string `json:"server_title,omitempty"`
	Version        string `json:"version,omitempty"`
	DeploymentType string `json:"deployment_type,omitempty"`
	User           string `json:"user,omitempty"`
	StatusCode     int    `json:"status_code,omitempty"`
	Kind           string `json:"kind,omitempty"`
}

type errorBody struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
	Message       string            `json:"message"`
}
