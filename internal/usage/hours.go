package usage

import "time"

// HoursActive returns how many hours a resource was active inside
// [start, stop]. A nil deletedAt means the resource is still running and a
// zero createdAt means it never launched.
func HoursActive(createdAt time.Time, deletedAt *time.Time, start, stop time.Time) float64 {
	start = start.UTC()
	stop = stop.UTC()

	if deletedAt != nil && deletedAt.UTC().Before(start) {
		return 0
	}
	if createdAt.UTC().After(stop) {
		return 0
	}
	if createdAt.IsZero() {
		return 0
	}

	effectiveStart := maxTime(createdAt.UTC(), start)
	effectiveStop := stop
	if deletedAt != nil {
		effectiveStop = minTime(stop, deletedAt.UTC())
	}

	hours := effectiveStop.Sub(effectiveStart).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
