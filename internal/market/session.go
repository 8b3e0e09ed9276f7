package market

import (
	"fmt"
	"time"
)

// ParseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
}

// TimeOfDay returns the offset of t from midnight in loc
func TimeOfDay(t time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Duration(lt.Hour())*time.Hour +
		time.Duration(lt.Minute())*time.Minute +
		time.Duration(lt.Second())*time.Second
}

// Window is an intraday interval [Start, End) in Location
type Window struct {
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

// NewWindow parses start and end clock times
func NewWindow(start, end string, loc *time.Location) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e <= s {
		return Window{}, fmt.Errorf("window end %s must be after start %s", end, start)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Window{Start: s, End: e, Location: loc}, nil
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	tod := TimeOfDay(t, w.Location)
	return tod >= w.Start && tod < w.End
}
