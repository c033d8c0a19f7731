package history

import (
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/datemover/pkg/jira"
)

// Timestamp layouts used by the tracker for changelog entries.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
}

// ChangeEvent is one recorded transition of a field to a new value.
type ChangeEvent struct {
	FieldID      FieldID   `json:"field_id"`
	Value        string    `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	RawTimestamp string    `json:"raw_timestamp,omitempty"`
}

// Extract returns the change events for target, oldest first. Events with
// equal timestamps keep their changelog order. Items with an empty new value
// (a field being cleared) are not events. names may be nil.
func Extract(histories []jira.History, target FieldID, names NameResolver) []ChangeEvent {
	var events []ChangeEvent
	for _, h := range histories {
		ts := parseTimestamp(h.Created)
		for _, item := range h.Items {
			if !refersTo(item, target, names) {
				continue
			}
			value := item.To
			if strings.TrimSpace(value) == "" {
				value = item.ToString
			}
			if strings.TrimSpace(value) == "" {
				continue
			}
			events = append(events, ChangeEvent{
				FieldID:      target,
				Value:        value,
				Timestamp:    ts,
				RawTimestamp: h.Created,
			})
		}
	}

	slices.SortStableFunc(events, func(a, b ChangeEvent) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return events
}

// refersTo reports whether any surface form of the item's field reference
// normalizes to target: its fieldId, its field attribute taken as an id, or
// the field attribute resolved as a display name.
func refersTo(item jira.ChangeItem, target FieldID, names NameResolver) bool {
	if item.FieldID != "" && NormalizeFieldID(string(item.FieldID)) == target {
		return true
	}
	if item.Field == "" {
		return false
	}
	if NormalizeFieldID(item.Field) == target {
		return true
	}
	if item.FieldID != "" {
		// An explicit id that did not match wins over a name lookup.
		return false
	}
	id, err := ResolveFieldRef(item.Field, names)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			zap.L().Debug("history: changelog field reference unresolved",
				zap.String("field", item.Field),
				zap.String("target", string(target)),
			)
		}
		return false
	}
	return id == target
}

// parseTimestamp parses a changelog timestamp. Unparseable timestamps sort
// first.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if s != "" {
		zap.L().Debug("history: unparseable changelog timestamp", zap.String("created", s))
	}
	return time.Time{}
}
