package cycle

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	UnitDay   = "day"
	UnitWeek  = "week"
	UnitMonth = "month"
)

var ErrMalformed = errors.New("malformed cycle descriptor")

var descriptorRe = regexp.MustCompile(`^(day|week|month)-(\d+)$`)

// Descriptor is a parsed "<unit>-<param>" cycle string.
type Descriptor struct {
	Unit  string
	Param int
}

func Parse(s string) (Descriptor, error) {
	m := descriptorRe.FindStringSubmatch(s)
	if len(m) != 3 {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	d := Descriptor{Unit: m[1], Param: n}
	if !d.inRange() {
		return Descriptor{}, fmt.Errorf("%w: %q out of range", ErrMalformed, s)
	}
	return d, nil
}

func Validate(s string) error {
	_, err := Parse(s)
	return err
}

func (d Descriptor) String() string {
	return d.Unit + "-" + strconv.Itoa(d.Param)
}

func (d Descriptor) inRange() bool {
	switch d.Unit {
	case UnitDay:
		return d.Param >= 0 && d.Param <= 23
	case UnitWeek:
		return d.Param >= 0 && d.Param <= 6
	case UnitMonth:
		return d.Param >= 1 && d.Param <= 31
	}
	return false
}

// Threshold returns the fire point of the period containing now, in now's location.
// For month descriptors past the end of a short month the date rolls into the
// next month, so the threshold is not reached in the current one.
func (d Descriptor) Threshold(now time.Time) time.Time {
	y, mo, day := now.Date()
	loc := now.Location()

	switch d.Unit {
	case UnitDay:
		return time.Date(y, mo, day, d.Param, 0, 0, 0, loc)
	case UnitWeek:
		back := (int(now.Weekday()) - d.Param + 7) % 7
		return time.Date(y, mo, day-back, 0, 0, 0, 0, loc)
	case UnitMonth:
		return time.Date(y, mo, d.Param, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}

// Reached reports whether now is at or after the period's fire point.
func (d Descriptor) Reached(now time.Time) bool {
	t := d.Threshold(now)
	if t.IsZero() {
		return false
	}
	return !now.Before(t)
}

// HasTriggered is level-triggered: once the fire point passes it stays true
// for the rest of the period. Malformed descriptors never trigger.
func HasTriggered(s string, now time.Time) bool {
	d, err := Parse(s)
	if err != nil {
		return false
	}
	return d.Reached(now)
}

// FiredInPeriod reports whether last falls inside the current period, i.e. at
// or after the threshold computed for now.
func FiredInPeriod(s string, last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	d, err := Parse(s)
	if err != nil {
		return false
	}
	return !last.Before(d.Threshold(now))
}
