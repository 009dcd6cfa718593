package clock

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the current wall time, or the frozen instant while Freeze is active.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// Freeze pins Now to t until the returned restore func is called.
func Freeze(t time.Time) func() {
	mu.Lock()
	previous := nowFunc
	nowFunc = func() time.Time { return t }
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		nowFunc = previous
	}
}
