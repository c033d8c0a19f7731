package history

import (
	"strings"

	"github.com/rotisserie/eris"
)

const customFieldPrefix = "customfield_"

// ErrUnresolved is returned when a field reference matches no known field.
var ErrUnresolved = eris.New("history: field reference unresolved")

// FieldID is a canonical field identifier: customfield_<n> for custom
// fields, the tracker's own id (duedate, created) for system fields.
type FieldID string

// NameResolver maps a field display name to its id. *jira.FieldIndex
// satisfies it.
type NameResolver interface {
	ResolveName(name string) (string, bool)
}

// NormalizeFieldID canonicalizes a field reference. A bare number gains the
// customfield_ prefix and the prefix itself is matched case-insensitively;
// anything else is returned trimmed.
func NormalizeFieldID(ref string) FieldID {
	s := strings.TrimSpace(ref)
	if isDigits(s) {
		return FieldID(customFieldPrefix + s)
	}
	if len(s) > len(customFieldPrefix) && strings.EqualFold(s[:len(customFieldPrefix)], customFieldPrefix) {
		if n := s[len(customFieldPrefix):]; isDigits(n) {
			return FieldID(customFieldPrefix + n)
		}
	}
	return FieldID(s)
}

// ResolveFieldRef turns any surface form into a canonical id. Numeric and
// prefixed references normalize directly; other text is looked up by name.
// A name with no unique match returns ErrUnresolved.
func ResolveFieldRef(ref string, names NameResolver) (FieldID, error) {
	s := strings.TrimSpace(ref)
	if s == "" {
		return "", eris.Wrap(ErrUnresolved, "empty reference")
	}
	if id := NormalizeFieldID(s); isIDForm(string(id)) {
		return id, nil
	}
	if names != nil {
		if id, ok := names.ResolveName(s); ok {
			return NormalizeFieldID(id), nil
		}
	}
	return "", eris.Wrapf(ErrUnresolved, "%q", s)
}

func isIDForm(s string) bool {
	return strings.HasPrefix(s, customFieldPrefix) && isDigits(s[len(customFieldPrefix):])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
