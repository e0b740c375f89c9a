// Package period models the calendar granularities variables are defined and
// requested at: days, months, years and the unbounded eternity period.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit identifies a calendar granularity. Units are ordered by size.
type Unit int

const (
	Day Unit = iota
	Month
	Year
	Eternity
)

func (u Unit) String() string {
	switch u {
	case Day:
		return "day"
	case Month:
		return "month"
	case Year:
		return "year"
	case Eternity:
		return "eternity"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// ParseUnit maps a unit name onto its Unit value.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day":
		return Day, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	case "eternity":
		return Eternity, nil
	default:
		return 0, ParseError{Input: s, Reason: "unknown unit"}
	}
}

// ParseError reports a malformed period or unit string.
type ParseError struct {
	Input  string
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("period: cannot parse %q: %s", e.Input, e.Reason)
}

// Period is a contiguous run of Size units starting at Start. The zero value is
// not a valid period; use the constructors.
type Period struct {
	unit  Unit
	start time.Time
	size  int
}

// New builds a period, normalising start to midnight UTC.
func New(unit Unit, start time.Time, size int) Period {
	if size < 1 {
		size = 1
	}
	if unit == Eternity {
		return Period{unit: Eternity, size: 1}
	}
	y, m, d := start.Date()
	return Period{unit: unit, start: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), size: size}
}

// ForYear returns the calendar year y.
func ForYear(y int) Period {
	return New(Year, time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), 1)
}

// ForMonth returns the calendar month m of year y.
func ForMonth(y int, m time.Month) Period {
	return New(Month, time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), 1)
}

// ForDay returns a single day.
func ForDay(y int, m time.Month, d int) Period {
	return New(Day, time.Date(y, m, d, 0, 0, 0, 0, time.UTC), 1)
}

// ForEternity returns the period covering all time.
func ForEternity() Period {
	return Period{unit: Eternity, size: 1}
}

// Parse accepts "2020", "2020-03", "2020-03-04", "eternity" and the long form
// "<unit>:<start>[:<size>]", e.g. "month:2020-01:3" or "year:2019-04".
func Parse(s string) (Period, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return Period{}, ParseError{Input: s, Reason: "empty"}
	}
	if strings.EqualFold(in, "eternity") {
		return ForEternity(), nil
	}
	if strings.Contains(in, ":") {
		parts := strings.Split(in, ":")
		if len(parts) > 3 {
			return Period{}, ParseError{Input: s, Reason: "too many segments"}
		}
		unit, err := ParseUnit(parts[0])
		if err != nil {
			return Period{}, ParseError{Input: s, Reason: "unknown unit " + parts[0]}
		}
		if unit == Eternity {
			return ForEternity(), nil
		}
		if len(parts) < 2 {
			return Period{}, ParseError{Input: s, Reason: "missing start"}
		}
		start, _, err := parseInstant(parts[1])
		if err != nil {
			return Period{}, ParseError{Input: s, Reason: err.Error()}
		}
		size := 1
		if len(parts) == 3 {
			size, err = strconv.Atoi(parts[2])
			if err != nil || size < 1 {
				return Period{}, ParseError{Input: s, Reason: "invalid size " + parts[2]}
			}
		}
		return New(unit, start, size), nil
	}
	start, unit, err := parseInstant(in)
	if err != nil {
		return Period{}, ParseError{Input: s, Reason: err.Error()}
	}
	return New(unit, start, 1), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// parseInstant reads YYYY, YYYY-MM or YYYY-MM-DD and reports the finest unit given.
func parseInstant(s string) (time.Time, Unit, error) {
	parts := strings.Split(s, "-")
	if len(parts) > 3 {
		return time.Time{}, 0, fmt.Errorf("invalid date %q", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("invalid date %q", s)
		}
		nums[i] = n
	}
	y, m, d := nums[0], 1, 1
	unit := Year
	if len(nums) > 1 {
		m = nums[1]
		unit = Month
	}
	if len(nums) > 2 {
		d = nums[2]
		unit = Day
	}
	if m < 1 || m > 12 {
		return time.Time{}, 0, fmt.Errorf("month out of range in %q", s)
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, 0, fmt.Errorf("day out of range in %q", s)
	}
	return t, unit, nil
}

// Unit returns the period's granularity.
func (p Period) Unit() Unit { return p.unit }

// Start returns the first day of the period. Eternity starts at the zero time.
func (p Period) Start() time.Time { return p.start }

// Size returns the number of units the period spans.
func (p Period) Size() int { return p.size }

// IsEternity reports whether p covers all time.
func (p Period) IsEternity() bool { return p.unit == Eternity }

// IsZero reports whether p is the unset zero value.
func (p Period) IsZero() bool { return p.size == 0 }

// end returns the first day after the period.
func (p Period) end() time.Time {
	switch p.unit {
	case Day:
		return p.start.AddDate(0, 0, p.size)
	case Month:
		return p.start.AddDate(0, p.size, 0)
	case Year:
		return p.start.AddDate(p.size, 0, 0)
	default:
		return time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
}

// Stop returns the last day included in the period.
func (p Period) Stop() time.Time {
	if p.unit == Eternity {
		return p.end()
	}
	return p.end().AddDate(0, 0, -1)
}

// Offset shifts the period start by n units of u, keeping its own unit and size.
func (p Period) Offset(n int, u Unit) Period {
	switch {
	case p.unit == Eternity || u == Eternity:
		return p
	case u == Day:
		return New(p.unit, p.start.AddDate(0, 0, n), p.size)
	case u == Month:
		return New(p.unit, p.start.AddDate(0, n, 0), p.size)
	default:
		return New(p.unit, p.start.AddDate(n, 0, 0), p.size)
	}
}

// Shift moves the period by n of its own units.
func (p Period) Shift(n int) Period { return p.Offset(n, p.unit) }

// ThisYear is the calendar year containing the period start.
func (p Period) ThisYear() Period {
	if p.unit == Eternity {
		return p
	}
	return ForYear(p.start.Year())
}

// LastYear is the calendar year before ThisYear.
func (p Period) LastYear() Period { return p.ThisYear().Offset(-1, Year) }

// FirstMonth is the month containing the period start.
func (p Period) FirstMonth() Period {
	if p.unit == Eternity {
		return p
	}
	return ForMonth(p.start.Year(), p.start.Month())
}

// LastMonth is the month before FirstMonth.
func (p Period) LastMonth() Period { return p.FirstMonth().Offset(-1, Month) }

// Subperiods splits p into consecutive single-unit periods of unit u. u must
// not be coarser than p and neither may be eternity.
func (p Period) Subperiods(u Unit) ([]Period, error) {
	if p.unit == Eternity || u == Eternity {
		return nil, fmt.Errorf("period: cannot split %s into %s", p, u)
	}
	if u > p.unit {
		return nil, fmt.Errorf("period: cannot split %s into coarser %s", p, u)
	}
	var out []Period
	stop := p.end()
	for cur := New(u, p.start, 1); cur.start.Before(stop); cur = cur.Shift(1) {
		out = append(out, cur)
	}
	return out, nil
}

// Count returns how many single units of u the period spans.
func (p Period) Count(u Unit) (int, error) {
	subs, err := p.Subperiods(u)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

// Contains reports whether q lies entirely within p.
func (p Period) Contains(q Period) bool {
	if p.unit == Eternity {
		return true
	}
	if q.unit == Eternity {
		return false
	}
	return !q.start.Before(p.start) && !q.Stop().After(p.Stop())
}

// Equal compares unit, start and size.
func (p Period) Equal(q Period) bool {
	return p.unit == q.unit && p.size == q.size && p.start.Equal(q.start)
}

// String renders the canonical form accepted by Parse.
func (p Period) String() string {
	if p.unit == Eternity {
		return "eternity"
	}
	y, m, d := p.start.Date()
	if p.size == 1 {
		switch {
		case p.unit == Year && m == time.January && d == 1:
			return fmt.Sprintf("%04d", y)
		case p.unit == Month && d == 1:
			return fmt.Sprintf("%04d-%02d", y, int(m))
		case p.unit == Day:
			return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
		}
	}
	var start string
	switch {
	case d != 1 || p.unit == Day:
		start = fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
	case m != time.January || p.unit == Month:
		start = fmt.Sprintf("%04d-%02d", y, int(m))
	default:
		start = fmt.Sprintf("%04d", y)
	}
	if p.size == 1 {
		return fmt.Sprintf("%s:%s", p.unit, start)
	}
	return fmt.Sprintf("%s:%s:%d", p.unit, start, p.size)
}
