package history

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sells-group/datemover/internal/dates"
)

// WeekThreshold is the absolute day difference from which slip is shown in
// weeks.
const WeekThreshold = 7

// Classification describes the direction of a slip.
type Classification string

// Slip classifications.
const (
	Behind    Classification = "behind"
	Ahead     Classification = "ahead"
	Unchanged Classification = "unchanged"
)

// Unit is the unit a slip is displayed in.
type Unit string

// Slip units.
const (
	UnitDays  Unit = "days"
	UnitWeeks Unit = "weeks"
)

// Slip is the signed movement of a date from its original value.
type Slip struct {
	// Days is current minus original; positive means the date moved later.
	Days int `json:"days"`
	// Magnitude is |Days| in Unit, weeks rounded to one decimal.
	Magnitude      float64        `json:"magnitude"`
	Unit           Unit           `json:"unit"`
	Display        string         `json:"display"`
	SignedDisplay  string         `json:"signed_display"`
	Classification Classification `json:"classification"`
	Color          string         `json:"color"`
}

// CalculateSlip computes the slip from original to current.
func CalculateSlip(original, current dates.Date) Slip {
	days := original.DaysUntil(current)
	abs := days
	if abs < 0 {
		abs = -abs
	}

	s := Slip{Days: days}
	if abs < WeekThreshold {
		s.Unit = UnitDays
		s.Magnitude = float64(abs)
		s.Display = plural(strconv.Itoa(abs), abs == 1, "day", "days")
	} else {
		weeks := math.Round(float64(abs)/7*10) / 10
		s.Unit = UnitWeeks
		s.Magnitude = weeks
		s.Display = plural(strconv.FormatFloat(weeks, 'f', -1, 64), weeks == 1, "week", "weeks")
	}

	switch {
	case days > 0:
		s.Classification = Behind
		s.Color = "red"
		s.SignedDisplay = "+" + s.Display
	case days < 0:
		s.Classification = Ahead
		s.Color = "green"
		s.SignedDisplay = "-" + s.Display
	default:
		s.Classification = Unchanged
		s.Color = "gray"
		s.SignedDisplay = s.Display
	}
	return s
}

func plural(n string, one bool, singular, many string) string {
	if one {
		return fmt.Sprintf("%s %s", n, singular)
	}
	return fmt.Sprintf("%s %s", n, many)
}
