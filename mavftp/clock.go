package mavftp

import "time"

// Clock supplies the current time to the retry and idle-detection logic.
// Injecting it keeps the watchdog deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
