// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
type CronExpression struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6 (0 = Sunday)

	// A day field is restricted unless it starts with "*".
	domRestricted bool
	dowRestricted bool

	source string
}

// ParseCron parses a standard 5-field cron expression.
//
// Supported syntax:
//   - * (any value)
//   - n (specific value)
//   - n-m (range)
//   - n,m,o (list)
//   - */n (step from start)
//   - n-m/s and n/s (stepped range)
//
// Examples:
//   - "0 * * * *" - every hour on the hour
//   - "*/15 * * * *" - every 15 minutes
//   - "30 6 * * 1-5" - 06:30 on weekdays
func ParseCron(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields, got %d", expr, len(fields))
	}

	specs := []struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 7},
	}
	values := make([][]int, len(specs))
	for i, spec := range specs {
		v, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", spec.name, fields[i], err)
		}
		values[i] = v
	}

	// 7 is an alias for Sunday.
	dow := values[4]
	for i, d := range dow {
		if d == 7 {
			dow[i] = 0
		}
	}
	slices.Sort(dow)

	return &CronExpression{
		Minutes:       values[0],
		Hours:         values[1],
		DaysOfMonth:   values[2],
		Months:        values[3],
		DaysOfWeek:    slices.Compact(dow),
		domRestricted: !strings.HasPrefix(fields[2], "*"),
		dowRestricted: !strings.HasPrefix(fields[4], "*"),
		source:        strings.Join(fields, " "),
	}, nil
}

// String returns the normalised expression.
func (c *CronExpression) String() string { return c.source }

// NextRun returns the first matching minute strictly after the given time,
// evaluated in loc (UTC when nil). It returns the zero time if nothing
// matches within four years, e.g. "0 0 31 2 *".
func (c *CronExpression) NextRun(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !slices.Contains(c.Months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !slices.Contains(c.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !slices.Contains(c.Minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// dayMatches ORs day-of-month and day-of-week when both are restricted.
func (c *CronExpression) dayMatches(t time.Time) bool {
	dom := slices.Contains(c.DaysOfMonth, t.Day())
	dow := slices.Contains(c.DaysOfWeek, int(t.Weekday()))
	switch {
	case c.domRestricted && c.dowRestricted:
		return dom || dow
	case c.domRestricted:
		return dom
	case c.dowRestricted:
		return dow
	default:
		return true
	}
}

func parseField(field string, minVal, maxVal int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(field, ",") {
		v, err := parsePart(part, minVal, maxVal)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func parsePart(part string, minVal, maxVal int) ([]int, error) {
	if part == "" {
		return nil, fmt.Errorf("empty list element")
	}

	rangePart, stepPart, stepped := strings.Cut(part, "/")
	step := 1
	if stepped {
		s, err := strconv.Atoi(stepPart)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", stepPart)
		}
		step = s
	}

	start, end := minVal, maxVal
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		lo, hi, _ := strings.Cut(rangePart, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return nil, fmt.Errorf("invalid range start: %s", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return nil, fmt.Errorf("invalid range end: %s", hi)
		}
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", rangePart)
		}
		start = v
		if !stepped {
			end = v
		}
	}

	if start < minVal || end > maxVal || start > end {
		return nil, fmt.Errorf("range %d-%d outside %d-%d", start, end, minVal, maxVal)
	}

	out := make([]int, 0, (end-start)/step+1)
	for i := start; i <= end; i += step {
		out = append(out, i)
	}
	return out, nil
}
