// Package presence derives online/offline state from heartbeat
// timestamps and keeps the agent's own liveness signal running.
package presence

import (
	"fmt"
	"time"
)

// OnlineWindow is how recently a party must have been seen to count
// as online.
const OnlineWindow = 90 * time.Second

// lastSeen layouts the backend is known to emit. The naive forms carry
// no zone marker; the backend emits UTC, so time.Parse's UTC default
// is the correct reading, not local time.
var lastSeenLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseLastSeen normalizes a backend lastSeen timestamp to UTC.
func ParseLastSeen(s string) (time.Time, error) {
	for _, layout := range lastSeenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("presence: unparseable lastSeen %q", s)
}

// IsOnline reports whether a party whose heartbeat was last recorded
// at lastSeen counts as online at now. The boundary is exclusive: a
// party seen exactly OnlineWindow ago is offline.
func IsOnline(lastSeen, now time.Time) bool {
	return now.UTC().Sub(lastSeen.UTC()) < OnlineWindow
}
