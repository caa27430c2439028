package ethiocal

import (
	"fmt"
	"time"
)

// WeeksPerMonth is the number of week buckets in an Ethiopian month.
const WeeksPerMonth = 4

// WeekOfMonth buckets an Ethiopian day of month into weeks 1-4.
// Days 29 and 30 have no fifth week and fall into week 4.
func WeekOfMonth(day int) int {
	week := (day-1)/7 + 1
	if week > WeeksPerMonth {
		week = WeeksPerMonth
	}
	return week
}

// WeekKey identifies one Ethiopian week bucket.
type WeekKey struct {
	Year  int
	Month int
	Week  int
}

// String renders the key as "YYYY-M-W", the label used for weekly records.
func (k WeekKey) String() string {
	return fmt.Sprintf("%d-%d-%d", k.Year, k.Month, k.Week)
}

// Less orders keys chronologically.
func (k WeekKey) Less(o WeekKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	if k.Month != o.Month {
		return k.Month < o.Month
	}
	return k.Week < o.Week
}

// Days returns the first and last Ethiopian day of month covered by the week.
func (k WeekKey) Days() (first, last int) {
	first = (k.Week-1)*7 + 1
	last = first + 6
	if k.Week == WeeksPerMonth || last > DaysInMonth(k.Year, k.Month) {
		last = DaysInMonth(k.Year, k.Month)
	}
	return first, last
}

// GregorianRange returns the Gregorian dates of the first and last day of the
// week, both at midnight UTC.
func (k WeekKey) GregorianRange(conv Converter) (from, to time.Time, err error) {
	first, last := k.Days()
	from, err = conv.ToGregorian(EthDate{Year: k.Year, Month: k.Month, Day: first})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err = conv.ToGregorian(EthDate{Year: k.Year, Month: k.Month, Day: last})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// WeekLabel converts a Gregorian date to its Ethiopian week label.
func WeekLabel(conv Converter, t time.Time) (string, error) {
	d, err := conv.ToEthiopian(t.Day(), int(t.Month()), t.Year())
	if err != nil {
		return "", err
	}
	return d.WeekKey().String(), nil
}

// DayLabel converts a Gregorian date to its Ethiopian "YYYY-MM-DD" label.
func DayLabel(conv Converter, t time.Time) (string, error) {
	d, err := conv.ToEthiopian(t.Day(), int(t.Month()), t.Year())
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
