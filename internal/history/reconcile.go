package history

import (
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/dates"
)

// ReconciledHistory is a field's current date and the distinct earlier dates
// it held.
type ReconciledHistory struct {
	Current dates.Date `json:"current"`
	// Displayed holds historical dates in display form, newest first. It
	// never contains Current and never repeats a day.
	Displayed []string `json:"history"`
	// Raw holds the raw values behind Displayed, in the same order.
	Raw []string `json:"history_raw"`
	// ChangeCount counts every event, reverts included.
	ChangeCount int `json:"change_count"`
	// Unparseable holds event values that are not dates, oldest first.
	Unparseable []string `json:"unparseable,omitempty"`
	// Original is the earliest event value that parsed; nil without one.
	Original *dates.Date `json:"original,omitempty"`
}

// Reconcile folds events (oldest first) against the field's current value.
// It returns nil when current is absent or not a date.
func Reconcile(current string, events []ChangeEvent) *ReconciledHistory {
	cur, err := dates.Parse(current)
	if err != nil {
		return nil
	}

	h := &ReconciledHistory{
		Current:     cur,
		Displayed:   []string{},
		Raw:         []string{},
		ChangeCount: len(events),
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		d, err := dates.Parse(ev.Value)
		if err != nil {
			zap.L().Debug("history: skipping unparseable value",
				zap.String("field", string(ev.FieldID)),
				zap.String("value", ev.Value),
				zap.Error(err),
			)
			h.Unparseable = append(h.Unparseable, ev.Value)
			continue
		}
		if h.Original == nil {
			orig := d
			h.Original = &orig
		}
		if d.Equal(cur) {
			continue
		}
		if _, dup := seen[d.Key()]; dup {
			continue
		}
		seen[d.Key()] = struct{}{}
		h.Displayed = append(h.Displayed, d.String())
		h.Raw = append(h.Raw, ev.Value)
	}

	slices.Reverse(h.Displayed)
	slices.Reverse(h.Raw)
	return h
}

// Slip returns the slip from the original value to the current one, or nil
// when there is no history.
func (h *ReconciledHistory) Slip() *Slip {
	if h == nil || h.Original == nil {
		return nil
	}
	s := CalculateSlip(*h.Original, h.Current)
	return &s
}
