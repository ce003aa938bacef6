// Package clock provides the monotonic timebase shared by the boundary
// cadence, offset probing, and injected recording timestamps (spec §2,
// component "Clock/Timebase").
package clock

import "time"

// Now returns the current wall-clock time. Kept as a function value (not a
// bare time.Now() call at every use site) so tests can substitute a fixed
// source.
var Now = time.Now

// WallMillis returns the current wall-clock time in milliseconds since the
// Unix epoch, as an f64 — the unit injected recording-timestamp channels
// use (spec §4.2, §6.2).
func WallMillis() float64 {
	return float64(Now().UnixNano()) / float64(time.Millisecond)
}

// WallSeconds returns the current wall-clock time in seconds since the Unix
// epoch, as an f64 — the unit sample timestamps and clock-offset
// measurements use (spec §3, §4.6).
func WallSeconds() float64 {
	return float64(Now().UnixNano()) / float64(time.Second)
}

// Elapsed reports whether d has passed since start.
func Elapsed(start time.Time, d time.Duration) bool {
	return Now().Sub(start) >= d
}
