package usage

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are tried in order; the first successful parse wins.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
}

// Window is the reporting interval every source is aggregated over.
type Window struct {
	Start    time.Time `json:"start"`
	Stop     time.Time `json:"stop"`
	Detailed bool      `json:"detailed"`
}

// ParseTimestamp parses raw with the supported layouts and returns it in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("datetime %q is in invalid format", raw)
}

// ParseRecordTime parses a lifecycle timestamp of a resource record. An empty
// value yields the zero time, which the overlap calculation treats as never
// launched.
func ParseRecordTime(resourceID, field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &DataFormatError{ResourceID: resourceID, Field: field, Value: raw, Err: err}
	}
	return t, nil
}

// ParseOptionalRecordTime is ParseRecordTime for nullable fields such as a
// deletion time.
func ParseOptionalRecordTime(resourceID, field, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := ParseRecordTime(resourceID, field, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseWindow validates the raw request values. Missing bounds default to now.
func ParseWindow(rawStart, rawEnd, rawDetailed string, now time.Time) (Window, error) {
	start, err := parseBound(rawStart, now)
	if err != nil {
		return Window{}, err
	}
	stop, err := parseBound(rawEnd, now)
	if err != nil {
		return Window{}, err
	}
	if !start.Before(stop) {
		return Window{}, &WindowError{Reason: "start after end"}
	}
	return Window{
		Start:    start,
		Stop:     stop,
		Detailed: parseDetailed(rawDetailed),
	}, nil
}

// Clamp moves a stop that lies in the future back to now.
func (w Window) Clamp(now time.Time) (Window, error) {
	now = now.UTC()
	if w.Stop.After(now) {
		w.Stop = now
	}
	if !w.Start.Before(w.Stop) {
		return Window{}, &WindowError{Reason: "start after end"}
	}
	return w, nil
}

// Hours is the window length in hours.
func (w Window) Hours() float64 {
	return w.Stop.Sub(w.Start).Hours()
}

func parseBound(raw string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return now.UTC(), nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &WindowError{Reason: err.Error()}
	}
	return t, nil
}

func parseDetailed(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on":
		return true
	default:
		return false
	}
}
