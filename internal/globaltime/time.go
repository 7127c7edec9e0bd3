// Package globaltime is the process-wide clock. Production code reads time
// through it so tests can pin the clock for freshness, decay, window, and
// quiet-hours logic.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the current time from the active clock.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

// UTC returns the current time in UTC.
func UTC() time.Time {
	return Now().UTC()
}

// Local returns the current time in the process's local zone. Quiet-hours
// boundaries are expressed in local wall-clock time.
func Local() time.Time {
	return Now().Local()
}

// SetMockTime pins the clock. Call ResetTime when the test finishes.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

// ResetTime restores the real clock.
func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
