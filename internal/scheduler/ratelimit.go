package scheduler

import "time"

// rateWindow is a per-agent sliding window of recent fire timestamps.
// Skipped fires are never recorded, so a rate-limit skip does not count
// against the window.
type rateWindow struct {
	events []time.Time
}

// allow reports whether another fire fits under limit within the last
// hour. A limit of zero means unlimited.
func (w *rateWindow) allow(now time.Time, limit int) bool {
	if limit <= 0 {
		return true
	}
	w.evict(now)
	return len(w.events) < limit
}

// record registers a fire that is actually proceeding.
func (w *rateWindow) record(now time.Time) {
	w.events = append(w.events, now)
}

// evict drops events older than one hour. Events are chronologically
// ordered.
func (w *rateWindow) evict(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = w.events[i:]
	}
}
