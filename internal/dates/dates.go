// Package dates parses tracker date values into day-precision canonical dates
// and formats them for display.
package dates

import (
	"fmt"
	"time"
)

const (
	// isoLayout is the comparison key form.
	isoLayout = "2006-01-02"

	secondsPerDay = 24 * 60 * 60
)

var monthAbbr = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Date is a calendar day with no time-of-day or offset. The zero value is
// "no date" and is never produced by Parse.
type Date struct {
	t time.Time // always 00:00 UTC
}

// New returns the Date for the given calendar day. Out-of-range values
// normalize the way time.Date does.
func New(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Year returns the year of d.
func (d Date) Year() int { return d.t.Year() }

// Month returns the month of d.
func (d Date) Month() time.Month { return d.t.Month() }

// Day returns the day of the month of d.
func (d Date) Day() int { return d.t.Day() }

// Time returns d as midnight UTC.
func (d Date) Time() time.Time { return d.t }

// Equal reports whether d and o denote the same calendar day.
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// DaysUntil returns the signed number of days from d to o (positive when o is
// later). Both are midnight UTC, so the difference is an exact multiple of a
// day at any distance.
func (d Date) DaysUntil(o Date) int {
	return int((o.t.Unix() - d.t.Unix()) / secondsPerDay)
}

// Key returns the YYYY-MM-DD form used as a map key for day equality.
func (d Date) Key() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(isoLayout)
}

// String returns the display form DD/Mon/YYYY.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%02d/%s/%04d", d.Day(), monthAbbr[d.Month()-1], d.Year())
}

// MarshalText implements encoding.TextMarshaler using the display form.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
