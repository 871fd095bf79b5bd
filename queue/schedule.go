package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cadence determines when the next occurrence of a recurring schedule runs.
type Cadence interface {
	Next(from time.Time) time.Time
	String() string
}

// CadenceParser turns a persisted cadence expression into an evaluator. The
// grammar is pluggable: callers may install their own parser on the queue to
// support cron expressions or anything else.
type CadenceParser func(spec string) (Cadence, error)

// intervalCadence runs at fixed intervals.
type intervalCadence struct {
	every time.Duration
}

func (c intervalCadence) Next(from time.Time) time.Time {
	return from.Add(c.every)
}

func (c intervalCadence) String() string {
	return fmt.Sprintf("every %v", c.every)
}

// dailyCadence runs once per day at the given time.
type dailyCadence struct {
	hour   int
	minute int
}

func (c dailyCadence) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		c.hour, c.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (c dailyCadence) String() string {
	return fmt.Sprintf("daily %02d:%02d", c.hour, c.minute)
}

// hourlyCadence runs every hour at the given minute.
type hourlyCadence struct {
	minute int
}

func (c hourlyCadence) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		from.Hour(), c.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (c hourlyCadence) String() string {
	return fmt.Sprintf("hourly :%02d", c.minute)
}

// monthlyCadence runs once per month on the given day and time. Days past
// the end of a short month clamp to its last day.
type monthlyCadence struct {
	day    int
	hour   int
	minute int
}

func (c monthlyCadence) Next(from time.Time) time.Time {
	next := c.onMonth(from.Year(), from.Month(), from.Location())
	if !next.After(from) {
		next = c.onMonth(from.Year(), from.Month()+1, from.Location())
	}
	return next
}

func (c monthlyCadence) onMonth(year int, month time.Month, loc *time.Location) time.Time {
	day := c.day
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day(); day > last {
		day = last
	}
	return time.Date(year, month, day, c.hour, c.minute, 0, 0, loc)
}

func (c monthlyCadence) String() string {
	return fmt.Sprintf("monthly %d %02d:%02d", c.day, c.hour, c.minute)
}

// weeklyCadence runs once per week on the given day and time.
type weeklyCadence struct {
	weekday time.Weekday
	hour    int
	minute  int
}

func (c weeklyCadence) Next(from time.Time) time.Time {
	daysUntil := (int(c.weekday) - int(from.Weekday()) + 7) % 7
	next := from.AddDate(0, 0, daysUntil)
	next = time.Date(
		next.Year(), next.Month(), next.Day(),
		c.hour, c.minute, 0, 0, next.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (c weeklyCadence) String() string {
	return fmt.Sprintf("weekly %s %02d:%02d", strings.ToLower(c.weekday.String()), c.hour, c.minute)
}

// Factory functions.

// Every returns a cadence that fires at a fixed interval.
func Every(d time.Duration) Cadence {
	return intervalCadence{every: d}
}

// DailyAt returns a cadence that fires once per day at hour:minute.
func DailyAt(hour, minute int) Cadence {
	return dailyCadence{hour: hour, minute: minute}
}

// HourlyAt returns a cadence that fires every hour at the given minute.
func HourlyAt(minute int) Cadence {
	return hourlyCadence{minute: minute}
}

// WeeklyOn returns a cadence that fires weekly on the given day at
// hour:minute.
func WeeklyOn(weekday time.Weekday, hour, minute int) Cadence {
	return weeklyCadence{weekday: weekday, hour: hour, minute: minute}
}

// MonthlyOn returns a cadence that fires monthly on the given day of the
// month at hour:minute.
func MonthlyOn(day, hour, minute int) Cadence {
	return monthlyCadence{day: day, hour: hour, minute: minute}
}

// ParseCadence is the default cadence grammar. Accepted forms:
//
//	every <duration>          e.g. "every 5m", "every 1h30m"
//	hourly :<MM>              e.g. "hourly :15"
//	daily <HH>:<MM>           e.g. "daily 02:00"
//	weekly <day> <HH>:<MM>    e.g. "weekly monday 08:30"
//	monthly <DD> <HH>:<MM>    e.g. "monthly 1 06:00"
func ParseCadence(spec string) (Cadence, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(spec)))
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: cadence %q", ErrValidation, spec)
	}

	switch fields[0] {
	case "every":
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: cadence interval %q", ErrValidation, fields[1])
		}
		return intervalCadence{every: d}, nil

	case "hourly":
		m, err := strconv.Atoi(strings.TrimPrefix(fields[1], ":"))
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("%w: cadence minute %q", ErrValidation, fields[1])
		}
		return hourlyCadence{minute: m}, nil

	case "daily":
		h, m, err := parseClock(fields[1])
		if err != nil {
			return nil, err
		}
		return dailyCadence{hour: h, minute: m}, nil

	case "weekly":
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: cadence %q", ErrValidation, spec)
		}
		wd, ok := weekdays[fields[1]]
		if !ok {
			return nil, fmt.Errorf("%w: cadence weekday %q", ErrValidation, fields[1])
		}
		h, m, err := parseClock(fields[2])
		if err != nil {
			return nil, err
		}
		return weeklyCadence{weekday: wd, hour: h, minute: m}, nil

	case "monthly":
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: cadence %q", ErrValidation, spec)
		}
		day, err := strconv.Atoi(fields[1])
		if err != nil || day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: cadence day of month %q", ErrValidation, fields[1])
		}
		h, m, err := parseClock(fields[2])
		if err != nil {
			return nil, err
		}
		return monthlyCadence{day: day, hour: h, minute: m}, nil
	}

	return nil, fmt.Errorf("%w: cadence %q", ErrValidation, spec)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"sun":       time.Sunday,
	"monday":    time.Monday,
	"mon":       time.Monday,
	"tuesday":   time.Tuesday,
	"tue":       time.Tuesday,
	"wednesday": time.Wednesday,
	"wed":       time.Wednesday,
	"thursday":  time.Thursday,
	"thu":       time.Thursday,
	"friday":    time.Friday,
	"fri":       time.Friday,
	"saturday":  time.Saturday,
	"sat":       time.Saturday,
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: cadence time %q", ErrValidation, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: cadence hour %q", ErrValidation, parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: cadence minute %q", ErrValidation, parts[1])
	}
	return hour, minute, nil
}
