package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISODate is the canonical date layout
const ISODate = "2006-01-02"

var (
	dayFirstPattern = regexp.MustCompile(`^(\d{1,2})([./-])(\d{1,2})([./-])(\d{4})$`)
	isoPattern      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// Date is a calendar date without time of day or zone
type Date struct {
	t time.Time
}

// NewDate returns the Date for the given year, month and day.
// The values are not validated; use NormalizeDate for untrusted input.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// NormalizeDate converts day-month-year text such as "30.09.2025" to a Date.
// The separator may be '.', '/' or '-' but must be the same twice. Text that is
// already in ISO form (YYYY-MM-DD) is accepted as well.
func NormalizeDate(text string) (Date, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Date{}, formatError(text, "empty date")
	}

	var day, month, year string
	if m := isoPattern.FindStringSubmatch(s); m != nil {
		year, month, day = m[1], m[2], m[3]
	} else if m := dayFirstPattern.FindStringSubmatch(s); m != nil {
		if m[2] != m[4] {
			return Date{}, formatError(text, "mixed separators %q and %q", m[2], m[4])
		}
		day, month, year = m[1], m[3], m[5]
	} else {
		return Date{}, formatError(text, "expected DD.MM.YYYY")
	}

	// the patterns only admit digits, so Atoi cannot fail
	d, _ := strconv.Atoi(day)
	mo, _ := strconv.Atoi(month)
	y, _ := strconv.Atoi(year)

	if y < 1 {
		return Date{}, formatError(text, "year %d out of range", y)
	}
	if mo < 1 || mo > 12 {
		return Date{}, formatError(text, "month %d out of range", mo)
	}
	if d < 1 || d > 31 {
		return Date{}, formatError(text, "day %d out of range", d)
	}

	date := NewDate(y, time.Month(mo), d)
	if date.t.Day() != d || date.t.Month() != time.Month(mo) {
		return Date{}, formatError(text, "day %d does not exist in %s %d", d, time.Month(mo), y)
	}

	return date, nil
}

// Time returns the date as midnight UTC
func (d Date) Time() time.Time {
	return d.t
}

// IsZero reports whether d is the zero Date
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// String returns the date in YYYY-MM-DD form
func (d Date) String() string {
	return d.t.Format(ISODate)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(ISODate, s)
	if err != nil {
		return formatError(s, "expected YYYY-MM-DD")
	}
	d.t = t
	return nil
}
