package streak

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// Day is a calendar date normalised to midnight UTC so that subtraction
// counts calendar days regardless of DST shifts in the source zone.
type Day struct {
	t time.Time
}

// DayOf returns the calendar day of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Day{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid calendar day %q: %w", s, err)
	}
	return Day{t: t}, nil
}

func (d Day) String() string {
	return d.t.Format(DayLayout)
}

func (d Day) IsZero() bool {
	return d.t.IsZero()
}

func (d Day) AddDays(n int) Day {
	return Day{t: d.t.AddDate(0, 0, n)}
}

// Time returns midnight of the day in loc.
func (d Day) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, dd := d.t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// DaysBetween is the number of calendar days from a to b.
func DaysBetween(a, b Day) int {
	return int(b.t.Sub(a.t).Hours() / 24)
}
