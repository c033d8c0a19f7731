package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/datemover/internal/dates"
)

func TestCalculateSlip(t *testing.T) {
	base := dates.New(2026, 1, 5)

	tests := []struct {
		name      string
		current   dates.Date
		days      int
		magnitude float64
		unit      Unit
		display   string
		signed    string
		class     Classification
		color     string
	}{
		{"unchanged", base, 0, 0, UnitDays, "0 days", "0 days", Unchanged, "gray"},
		{"one day", dates.New(2026, 1, 6), 1, 1, UnitDays, "1 day", "+1 day", Behind, "red"},
		{"four days", dates.New(2026, 1, 9), 4, 4, UnitDays, "4 days", "+4 days", Behind, "red"},
		{"six days ahead", dates.New(2025, 12, 30), -6, 6, UnitDays, "6 days", "-6 days", Ahead, "green"},
		{"exactly a week", dates.New(2026, 1, 12), 7, 1, UnitWeeks, "1 week", "+1 week", Behind, "red"},
		{"ten days", dates.New(2026, 1, 15), 10, 1.4, UnitWeeks, "1.4 weeks", "+1.4 weeks", Behind, "red"},
		{"two weeks", dates.New(2026, 1, 19), 14, 2, UnitWeeks, "2 weeks", "+2 weeks", Behind, "red"},
		{"ten days ahead", dates.New(2025, 12, 26), -10, 1.4, UnitWeeks, "1.4 weeks", "-1.4 weeks", Ahead, "green"},
		{"across a year", dates.New(2027, 1, 5), 365, 52.1, UnitWeeks, "52.1 weeks", "+52.1 weeks", Behind, "red"},
		{"four centuries ahead", dates.New(1626, 1, 5), -146097, 20871, UnitWeeks, "20871 weeks", "-20871 weeks", Ahead, "green"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := CalculateSlip(base, tt.current)
			assert.Equal(t, tt.days, s.Days)
			assert.InDelta(t, tt.magnitude, s.Magnitude, 1e-9)
			assert.Equal(t, tt.unit, s.Unit)
			assert.Equal(t, tt.display, s.Display)
			assert.Equal(t, tt.signed, s.SignedDisplay)
			assert.Equal(t, tt.class, s.Classification)
			assert.Equal(t, tt.color, s.Color)
		})
	}
}

func TestSlip_NilHistory(t *testing.T) {
	var h *ReconciledHistory
	assert.Nil(t, h.Slip())
}
