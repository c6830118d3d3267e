package types

import (
	"fmt"
	"time"
)

// DatePrecision is the number of date components present in a PartialDate
type DatePrecision int

const (
	DatePrecisionYear DatePrecision = iota + 1
	DatePrecisionMonth
	DatePrecisionDay
)

// PartialDate is an ISO date that may omit day or month: YYYY, YYYY-MM or YYYY-MM-DD
type PartialDate struct {
	Year      int
	Month     time.Month
	Day       int
	Precision DatePrecision
}

// ParsePartialDate parses an ISO date with optional month and day
func ParsePartialDate(s string) (PartialDate, error) {
	layouts := []struct {
		layout    string
		precision DatePrecision
	}{
		{"2006-01-02", DatePrecisionDay},
		{"2006-01", DatePrecisionMonth},
		{"2006", DatePrecisionYear},
	}

	for _, l := range layouts {
		if len(s) != len(l.layout) {
			continue
		}
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		d := PartialDate{Year: t.Year(), Precision: l.precision}
		if l.precision >= DatePrecisionMonth {
			d.Month = t.Month()
		}
		if l.precision == DatePrecisionDay {
			d.Day = t.Day()
		}
		return d, nil
	}

	return PartialDate{}, fmt.Errorf("invalid date %q: expected YYYY, YYYY-MM or YYYY-MM-DD", s)
}

// Start returns the first instant covered by the date in UTC
func (d PartialDate) Start() time.Time {
	month := d.Month
	if month == 0 {
		month = time.January
	}
	day := d.Day
	if day == 0 {
		day = 1
	}
	return time.Date(d.Year, month, day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether d is definitely earlier than o, comparing only the components both
// dates carry.
func (d PartialDate) Before(o PartialDate) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Precision < DatePrecisionMonth || o.Precision < DatePrecisionMonth {
		return false
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	if d.Precision < DatePrecisionDay || o.Precision < DatePrecisionDay {
		return false
	}
	return d.Day < o.Day
}

// After reports whether d starts after t
func (d PartialDate) After(t time.Time) bool {
	return d.Start().After(t)
}

// Compact renders the date without separators: YYYYMMDD, YYYYMM or YYYY
func (d PartialDate) Compact() string {
	switch d.Precision {
	case DatePrecisionDay:
		return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
	case DatePrecisionMonth:
		return fmt.Sprintf("%04d%02d", d.Year, int(d.Month))
	default:
		return fmt.Sprintf("%04d", d.Year)
	}
}

// String renders the date in its ISO form
func (d PartialDate) String() string {
	switch d.Precision {
	case DatePrecisionDay:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
	case DatePrecisionMonth:
		return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
	default:
		return fmt.Sprintf("%04d", d.Year)
	}
}

// ParseCompactDate parses the separator-free form produced by Compact
func ParseCompactDate(s string) (PartialDate, error) {
	switch len(s) {
	case 8:
		return ParsePartialDate(s[0:4] + "-" + s[4:6] + "-" + s[6:8])
	case 6:
		return ParsePartialDate(s[0:4] + "-" + s[4:6])
	case 4:
		return ParsePartialDate(s)
	default:
		return PartialDate{}, fmt.Errorf("invalid compact date %q", s)
	}
}
