package monitor

import "time"

// WithinCooldown reports whether last is recent enough at now to suppress a
// new trigger. A non-positive cooldown never suppresses.
func WithinCooldown(last, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) < cooldown
}
