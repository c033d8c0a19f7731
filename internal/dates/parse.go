package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrUnparseable is matched by every ParseError whose value is not a date
	// in any accepted form.
	ErrUnparseable = eris.New("unparseable date")

	// ErrAmbiguous is matched by a ParseError for a numeric date that reads
	// as two different valid days (DD/MM vs MM/DD).
	ErrAmbiguous = eris.New("ambiguous numeric date")
)

// ParseError is returned when a value cannot be canonicalized. It always
// carries the original, untrimmed input.
type ParseError struct {
	Value  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dates: cannot parse %q: %s", e.Value, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

const (
	minYear = 1
	maxYear = 9999
)

var (
	isoPattern     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:[T ](\d{2}):(\d{2})(?::(\d{2})(?:[.,]\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)
	dayMonPattern  = regexp.MustCompile(`^(\d{1,2})/([A-Za-z]{3})/(\d{4})$`)
	dayMonYY       = regexp.MustCompile(`^(\d{1,2})/([A-Za-z]{3})/(\d{2})$`)
	numericPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// Parse canonicalizes a textual date. Accepted forms, tried in order:
//
//  1. ISO-8601 date or date-time (YYYY-MM-DD[THH:MM[:SS[.fff]][offset]]); the
//     calendar day is taken as written, in the value's own offset.
//  2. DD/Mon/YYYY, e.g. 15/Jan/2026 (month case-insensitive).
//  3. DD/Mon/YY; years below 50 map to 20YY, others to 19YY.
//  4. DD/MM/YYYY or MM/DD/YYYY, rejected with ErrAmbiguous when both readings
//     are valid and denote different days.
//
// Years outside 0001..9999 are rejected, as is 01/Jan/0001, which is the zero
// Date. Parse(d.String()) == d for every Date Parse returns.
func Parse(value string) (Date, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return Date{}, &ParseError{Value: value, Reason: "empty value", Err: ErrUnparseable}
	}

	if m := isoPattern.FindStringSubmatch(s); m != nil {
		return parseISO(value, m)
	}
	if m := dayMonPattern.FindStringSubmatch(s); m != nil {
		return parseDayMon(value, m[1], m[2], atoi(m[3]))
	}
	if m := dayMonYY.FindStringSubmatch(s); m != nil {
		return parseDayMon(value, m[1], m[2], expandYear(atoi(m[3])))
	}
	if m := numericPattern.FindStringSubmatch(s); m != nil {
		return parseNumeric(value, atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	return Date{}, &ParseError{Value: value, Reason: "no accepted format matched", Err: ErrUnparseable}
}

// MustParse is Parse that panics on failure. Intended for tests and constants.
func MustParse(value string) Date {
	d, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return d
}

func parseISO(raw string, m []string) (Date, error) {
	if m[4] != "" {
		hh, mm := atoi(m[4]), atoi(m[5])
		ss := 0
		if m[6] != "" {
			ss = atoi(m[6])
		}
		if hh > 23 || mm > 59 || ss > 60 {
			return Date{}, &ParseError{Value: raw, Reason: "time of day out of range", Err: ErrUnparseable}
		}
	}
	return validDay(raw, atoi(m[1]), atoi(m[2]), atoi(m[3]))
}

func parseDayMon(raw, day, mon string, year int) (Date, error) {
	month, ok := lookupMonth(mon)
	if !ok {
		return Date{}, &ParseError{Value: raw, Reason: fmt.Sprintf("unknown month %q", mon), Err: ErrUnparseable}
	}
	return validDay(raw, year, int(month), atoi(day))
}

func parseNumeric(raw string, first, second, year int) (Date, error) {
	dmy, dmyErr := validDay(raw, year, second, first)
	mdy, mdyErr := validDay(raw, year, first, second)

	switch {
	case dmyErr == nil && mdyErr == nil:
		if !dmy.Equal(mdy) {
			return Date{}, &ParseError{
				Value:  raw,
				Reason: fmt.Sprintf("could be %s or %s", dmy, mdy),
				Err:    ErrAmbiguous,
			}
		}
		return dmy, nil
	case dmyErr == nil:
		return dmy, nil
	case mdyErr == nil:
		return mdy, nil
	default:
		return Date{}, &ParseError{Value: raw, Reason: "not a valid day/month/year or month/day/year", Err: ErrUnparseable}
	}
}

// validDay rejects days that time.Date would silently roll over (31/Feb).
func validDay(raw string, year, month, day int) (Date, error) {
	if year < minYear || year > maxYear {
		return Date{}, &ParseError{Value: raw, Reason: fmt.Sprintf("year %d out of range", year), Err: ErrUnparseable}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Date{}, &ParseError{Value: raw, Reason: "day or month out of range", Err: ErrUnparseable}
	}
	d := New(year, time.Month(month), day)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return Date{}, &ParseError{Value: raw, Reason: "day does not exist in month", Err: ErrUnparseable}
	}
	if d.IsZero() {
		return Date{}, &ParseError{Value: raw, Reason: "reserved zero date", Err: ErrUnparseable}
	}
	return d, nil
}

func lookupMonth(token string) (time.Month, bool) {
	// cases.Caser is stateful; one per call.
	title := cases.Title(language.English).String(token)
	for i, abbr := range monthAbbr {
		if abbr == title {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}

func expandYear(yy int) int {
	if yy < 50 {
		return 2000 + yy
	}
	return 1900 + yy
}

// atoi is only called on regexp-matched digit groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
