package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is the raw schedule input accepted at the enqueue boundary.
// Either At is set, or Date and Time are set with an optional TZOffset.
type Schedule struct {
	At       string
	Date     string
	Time     string
	TZOffset string
}

func (s Schedule) IsZero() bool {
	return strings.TrimSpace(s.At) == "" && strings.TrimSpace(s.Date) == "" && strings.TrimSpace(s.Time) == ""
}

// ParseSchedule resolves s into an absolute instant. A zero Schedule yields nil.
//
// Accepted forms:
//   - At: RFC 3339, with or without fractional seconds
//   - Date "YYYY-MM-DD" + Time "HH:MM" or "HH:MM:SS" + TZOffset "±HH:MM", "Z",
//     or minutes east of UTC ("-300"); an empty offset means UTC
func ParseSchedule(s Schedule) (*time.Time, error) {
	if s.IsZero() {
		return nil, nil
	}
	if at := strings.TrimSpace(s.At); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("%w: scheduled_at %q is not RFC 3339", ErrInvalidSchedule, at)
		}
		t = t.UTC()
		return &t, nil
	}

	date := strings.TrimSpace(s.Date)
	clock := strings.TrimSpace(s.Time)
	if date == "" || clock == "" {
		return nil, fmt.Errorf("%w: date and time are both required", ErrInvalidSchedule)
	}
	if strings.Count(clock, ":") == 1 {
		clock += ":00"
	}
	loc, err := parseOffset(s.TZOffset)
	if err != nil {
		return nil, err
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q %q", ErrInvalidSchedule, s.Date, s.Time)
	}
	t = t.UTC()
	return &t, nil
}

func parseOffset(raw string) (*time.Location, error) {
	v := strings.TrimSpace(raw)
	if v == "" || v == "Z" || v == "z" {
		return time.UTC, nil
	}
	if !strings.Contains(v, ":") {
		mins, err := strconv.Atoi(v)
		if err != nil || mins < -14*60 || mins > 14*60 {
			return nil, fmt.Errorf("%w: timezone offset %q", ErrInvalidSchedule, raw)
		}
		return time.FixedZone("", mins*60), nil
	}
	t, err := time.Parse("-07:00", v)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone offset %q", ErrInvalidSchedule, raw)
	}
	_, secs := t.Zone()
	return time.FixedZone("", secs), nil
}
