package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(t *testing.T, raw string) time.Time {
	t.Helper()
	v, err := ParseTimestamp(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return v
}

func tsPtr(t *testing.T, raw string) *time.Time {
	v := ts(t, raw)
	return &v
}

func TestHoursActive(t *testing.T) {
	start := ts(t, "2024-01-05T00:00:00")
	stop := ts(t, "2024-01-06T00:00:00")

	tests := []struct {
		name    string
		created time.Time
		deleted *time.Time
		want    float64
	}{
		{
			name:    "spans whole window",
			created: ts(t, "2024-01-01T00:00:00"),
			deleted: tsPtr(t, "2024-01-10T00:00:00"),
			want:    24,
		},
		{
			name:    "deleted before window",
			created: ts(t, "2024-01-01T00:00:00"),
			deleted: tsPtr(t, "2024-01-04T23:59:59"),
			want:    0,
		},
		{
			name:    "created after window",
			created: ts(t, "2024-01-06T00:00:01"),
			want:    0,
		},
		{
			name: "never launched",
			want: 0,
		},
		{
			name:    "still running",
			created: ts(t, "2024-01-05T12:00:00"),
			want:    12,
		},
		{
			name:    "contained in window",
			created: ts(t, "2024-01-05T06:00:00"),
			deleted: tsPtr(t, "2024-01-05T07:30:00"),
			want:    1.5,
		},
		{
			name:    "fractional seconds",
			created: ts(t, "2024-01-05T23:59:59.5"),
			want:    0.5 / 3600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HoursActive(tt.created, tt.deleted, start, stop)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestHoursActiveComparesInUTC(t *testing.T) {
	start := ts(t, "2024-01-05T00:00:00")
	stop := ts(t, "2024-01-06T00:00:00")
	zone := time.FixedZone("UTC+2", 2*60*60)

	// 2024-01-05T12:00:00+02:00 is 10:00 UTC.
	created := time.Date(2024, 1, 5, 12, 0, 0, 0, zone)
	assert.InDelta(t, 14.0, HoursActive(created, nil, start, stop), 1e-9)
}

func TestHoursActiveContainedProperty(t *testing.T) {
	start := ts(t, "2024-03-01T00:00:00")
	stop := ts(t, "2024-03-02T00:00:00")
	for offset := time.Duration(0); offset < 24*time.Hour; offset += 97 * time.Minute {
		created := start.Add(offset)
		deleted := created.Add(3 * time.Hour)
		end := deleted
		if end.After(stop) {
			end = stop
		}
		assert.InDelta(t, end.Sub(created).Hours(), HoursActive(created, &deleted, start, stop), 1e-9)
	}
}
