package cycle

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestDayDescriptor(t *testing.T) {
	// 2026-10-14 is a Wednesday
	if !HasTriggered("day-22", at(2026, 10, 14, 22, 5)) {
		t.Fatal("day-22 at 22:05 should trigger")
	}
	if HasTriggered("day-22", at(2026, 10, 14, 21, 59)) {
		t.Fatal("day-22 at 21:59 should not trigger")
	}
	if !HasTriggered("day-22", at(2026, 10, 14, 22, 0)) {
		t.Fatal("day-22 at exactly 22:00 should trigger")
	}

	for h := 0; h <= 23; h++ {
		threshold := at(2026, 10, 14, h, 0)
		d := "day-" + strconv.Itoa(h)
		if h > 0 && HasTriggered(d, threshold.Add(-time.Second)) {
			t.Fatalf("%s triggered one second before threshold", d)
		}
		if !HasTriggered(d, threshold) {
			t.Fatalf("%s did not trigger at threshold", d)
		}
		if !HasTriggered(d, at(2026, 10, 14, 23, 59)) {
			t.Fatalf("%s did not stay triggered until end of day", d)
		}
	}
}

func TestWeekDescriptor(t *testing.T) {
	now := at(2026, 10, 14, 0, 0) // Wednesday, midnight
	for d := 0; d <= 6; d++ {
		if !HasTriggered("week-"+strconv.Itoa(d), now) {
			t.Fatalf("week-%d should be reached at midnight of a Wednesday", d)
		}
	}

	desc, err := Parse("week-3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := desc.Threshold(at(2026, 10, 14, 15, 30)); !got.Equal(at(2026, 10, 14, 0, 0)) {
		t.Fatalf("week-3 threshold on a Wednesday should be today 00:00, got %s", got)
	}

	desc, _ = Parse("week-5")
	if got := desc.Threshold(at(2026, 10, 14, 15, 30)); !got.Equal(at(2026, 10, 9, 0, 0)) {
		t.Fatalf("week-5 threshold should be last Friday, got %s", got)
	}
}

func TestMonthDescriptor(t *testing.T) {
	if HasTriggered("month-15", at(2026, 10, 14, 23, 59)) {
		t.Fatal("month-15 should not trigger on the 14th")
	}
	if !HasTriggered("month-15", at(2026, 10, 15, 0, 0)) {
		t.Fatal("month-15 should trigger at 00:00 on the 15th")
	}
	if !HasTriggered("month-1", at(2026, 10, 1, 0, 0)) {
		t.Fatal("month-1 should trigger on the 1st")
	}
	// November has 30 days, so day 31 rolls into December.
	if HasTriggered("month-31", at(2026, 11, 30, 23, 59)) {
		t.Fatal("month-31 should not trigger in a 30-day month")
	}
}

func TestMalformed(t *testing.T) {
	cases := []string{"", "day", "day-", "hour-3", "day-24", "week-7", "month-0", "month-32", "day--1", " day-3", "DAY-3"}
	now := at(2026, 10, 14, 23, 59)
	for _, c := range cases {
		if HasTriggered(c, now) {
			t.Fatalf("%q should never trigger", c)
		}
		if err := Validate(c); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", c, err)
		}
	}
}

func TestFiredInPeriod(t *testing.T) {
	now := at(2026, 10, 14, 22, 30)
	yesterday := at(2026, 10, 13, 22, 1)
	earlier := at(2026, 10, 14, 22, 1)

	if FiredInPeriod("day-22", nil, now) {
		t.Fatal("never fired should not count")
	}
	if FiredInPeriod("day-22", &yesterday, now) {
		t.Fatal("yesterday's firing is a different period")
	}
	if !FiredInPeriod("day-22", &earlier, now) {
		t.Fatal("firing after today's threshold should count")
	}
}
