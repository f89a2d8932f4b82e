package printer

import (
	"fmt"
	"time"
)

var agoUnits = []struct {
	name string
	size time.Duration
	max  time.Duration
}{
	{name: "second", size: time.Second, max: time.Minute},
	{name: "minute", size: time.Minute, max: time.Hour},
	{name: "hour", size: time.Hour, max: 24 * time.Hour},
	{name: "day", size: 24 * time.Hour},
}

// TimeAgo returns a human-readable relative time string in UTC, like "3 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	for _, u := range agoUnits {
		if u.max != 0 && diff >= u.max {
			continue
		}
		n := int(diff / u.size)
		if n == 1 {
			return fmt.Sprintf("1 %s ago (UTC)", u.name)
		}
		return fmt.Sprintf("%d %ss ago (UTC)", n, u.name)
	}

	return ""
}

// FormatTimestamp returns the timestamp in UTC using "2006-01-02 15:04:05 UTC" format.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
