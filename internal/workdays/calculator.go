// Package workdays computes business-day deadlines for request handling terms.
package workdays

import (
	"fmt"
	"time"
)

const isoDate = "2006-01-02"

// Calculator resolves deadlines a number of business days ahead of a start
// date. Saturdays, Sundays and the configured holidays never count.
type Calculator struct {
	holidays map[string]struct{}
}

// NewCalculator builds a calculator from a list of ISO dates (2006-01-02).
// Malformed entries are rejected so a typo in the holiday calendar is caught
// at startup rather than silently shifting deadlines.
func NewCalculator(holidays []string) (*Calculator, error) {
	set := make(map[string]struct{}, len(holidays))
	for _, raw := range holidays {
		d, err := time.Parse(isoDate, raw)
		if err != nil {
			return nil, fmt.Errorf("workdays: invalid holiday %q: %w", raw, err)
		}
		set[d.Format(isoDate)] = struct{}{}
	}
	return &Calculator{holidays: set}, nil
}

// Deadline returns the date businessDays working days after start. Counting
// anchors at start+1: the day the term begins never counts toward it. With
// businessDays == 0 the result is start+1 unconditionally. The result carries
// date-only granularity in the start's location.
func (c *Calculator) Deadline(start time.Time, businessDays int) time.Time {
	day := truncateToDay(start).AddDate(0, 0, 1)
	if businessDays <= 0 {
		return day
	}

	counted := 0
	for {
		if c.IsBusinessDay(day) {
			counted++
			if counted == businessDays {
				return day
			}
		}
		day = day.AddDate(0, 0, 1)
	}
}

// IsBusinessDay reports whether the date counts toward a handling term.
func (c *Calculator) IsBusinessDay(date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[date.Format(isoDate)]
	return !holiday
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
