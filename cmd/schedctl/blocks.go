package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-booking-agent/internal/schedule"
)

// parseBlocks turns "HH:MM-HH:MM" strings into intervals on day, which must
// already be midnight in the clinic zone.
func parseBlocks(day time.Time, raw []string) ([]schedule.Interval, error) {
	blocks := make([]schedule.Interval, 0, len(raw))
	for _, b := range raw {
		from, to, ok := strings.Cut(strings.TrimSpace(b), "-")
		if !ok {
			return nil, fmt.Errorf("invalid block %q: want HH:MM-HH:MM", b)
		}
		start, err := clockOn(day, from)
		if err != nil {
			return nil, fmt.Errorf("invalid block %q: %w", b, err)
		}
		end, err := clockOn(day, to)
		if err != nil {
			return nil, fmt.Errorf("invalid block %q: %w", b, err)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("invalid block %q: end must be after start", b)
		}
		blocks = append(blocks, schedule.Interval{Start: start, End: end})
	}
	return blocks, nil
}

func clockOn(day time.Time, hhmm string) (time.Time, error) {
	c, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}
