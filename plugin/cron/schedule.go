package cron

import (
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/ductor/internal/errs"
)

// Schedule is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week).
type Schedule struct {
	minutes  [60]bool
	hours    [24]bool
	days     [32]bool
	months   [13]bool
	weekdays [7]bool
	dayAny   bool
	wdayAny  bool
}

// ParseSchedule parses a standard five-field cron expression. Supported
// syntax per field: "*", single values, ranges "a-b", lists "a,b,c" and
// steps "*/n" or "a-b/n".
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, errs.New(errs.KindScheduler, "invalid cron expression %q: want 5 fields, got %d", expr, len(fields))
	}
	s := &Schedule{}
	specs := []struct {
		field string
		min   int
		max   int
		set   func(int)
	}{
		{fields[0], 0, 59, func(v int) { s.minutes[v] = true }},
		{fields[1], 0, 23, func(v int) { s.hours[v] = true }},
		{fields[2], 1, 31, func(v int) { s.days[v] = true }},
		{fields[3], 1, 12, func(v int) { s.months[v] = true }},
		{fields[4], 0, 6, func(v int) { s.weekdays[v%7] = true }},
	}
	for i, spec := range specs {
		if err := parseField(spec.field, spec.min, spec.max, spec.set); err != nil {
			return nil, errs.Wrap(err, errs.KindScheduler, "invalid cron expression %q", expr)
		}
		if spec.field == "*" {
			switch i {
			case 2:
				s.dayAny = true
			case 4:
				s.wdayAny = true
			}
		}
	}
	return s, nil
}

func parseField(field string, min, max int, set func(int)) error {
	for _, part := range strings.Split(field, ",") {
		step := 1
		if base, stepStr, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return errs.New(errs.KindScheduler, "bad step %q", part)
			}
			step = n
			part = base
		}
		lo, hi := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			loStr, hiStr, _ := strings.Cut(part, "-")
			var err error
			if lo, err = strconv.Atoi(loStr); err != nil {
				return errs.New(errs.KindScheduler, "bad range %q", part)
			}
			if hi, err = strconv.Atoi(hiStr); err != nil {
				return errs.New(errs.KindScheduler, "bad range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return errs.New(errs.KindScheduler, "bad value %q", part)
			}
			lo, hi = v, v
		}
		if lo < min || hi > max || lo > hi {
			return errs.New(errs.KindScheduler, "value %q out of range %d-%d", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set(v)
		}
	}
	return nil
}

// Matches reports whether t's wall-clock fields satisfy the schedule.
// Day-of-month and day-of-week follow the standard cron rule: when both
// are restricted, either one matching is enough.
func (s *Schedule) Matches(t time.Time) bool {
	if !s.minutes[t.Minute()] || !s.hours[t.Hour()] || !s.months[int(t.Month())] {
		return false
	}
	domOK := s.days[t.Day()]
	dowOK := s.weekdays[int(t.Weekday())]
	switch {
	case s.dayAny && s.wdayAny:
		return true
	case s.dayAny:
		return dowOK
	case s.wdayAny:
		return domOK
	default:
		return domOK || dowOK
	}
}

// Next returns the first scheduled time strictly after t in t's
// location. DST gaps are skipped: a slot whose wall-clock time does
// not exist advances to the next matching slot. Returns the zero time
// when no slot exists within two years.
func (s *Schedule) Next(t time.Time) time.Time {
	loc := t.Location()
	y, mo, d := t.Date()
	hh, mm := t.Hour(), t.Minute()
	// Start at the next whole minute of wall-clock time.
	cand := naiveDate(y, mo, d, hh, mm+1)
	limit := cand.add(2 * 366 * 24 * 60)
	for cand.before(limit) {
		if !s.months[int(cand.mo)] {
			cand = naiveDate(cand.y, cand.mo+1, 1, 0, 0)
			continue
		}
		if !s.dayMatches(cand) {
			cand = naiveDate(cand.y, cand.mo, cand.d+1, 0, 0)
			continue
		}
		if !s.hours[cand.hh] {
			cand = naiveDate(cand.y, cand.mo, cand.d, cand.hh+1, 0)
			continue
		}
		if !s.minutes[cand.mm] {
			cand = naiveDate(cand.y, cand.mo, cand.d, cand.hh, cand.mm+1)
			continue
		}
		at := time.Date(cand.y, cand.mo, cand.d, cand.hh, cand.mm, 0, 0, loc)
		// A spring-forward gap normalizes to a different wall clock.
		if at.Hour() != cand.hh || at.Minute() != cand.mm {
			cand = cand.add(1)
			continue
		}
		if at.After(t) {
			return at
		}
		cand = cand.add(1)
	}
	return time.Time{}
}

func (s *Schedule) dayMatches(n naive) bool {
	wd := int(time.Date(n.y, n.mo, n.d, 0, 0, 0, 0, time.UTC).Weekday())
	domOK := s.days[n.d]
	dowOK := s.weekdays[wd]
	switch {
	case s.dayAny && s.wdayAny:
		return true
	case s.dayAny:
		return dowOK
	case s.wdayAny:
		return domOK
	default:
		return domOK || dowOK
	}
}

// naive is a wall-clock timestamp with no zone attached, so field
// arithmetic stays free of DST adjustments until the final conversion.
type naive struct {
	y  int
	mo time.Month
	d  int
	hh int
	mm int
}

func naiveDate(y int, mo time.Month, d, hh, mm int) naive {
	t := time.Date(y, mo, d, hh, mm, 0, 0, time.UTC)
	return naive{t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()}
}

func (n naive) add(minutes int) naive {
	return naiveDate(n.y, n.mo, n.d, n.hh, n.mm+minutes)
}

func (n naive) before(o naive) bool {
	a := time.Date(n.y, n.mo, n.d, n.hh, n.mm, 0, 0, time.UTC)
	b := time.Date(o.y, o.mo, o.d, o.hh, o.mm, 0, 0, time.UTC)
	return a.Before(b)
}
