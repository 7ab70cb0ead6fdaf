// Package clock defines the time source used by components that sleep or
// schedule deferred work. Injecting it lets tests simulate elapsed time
// instead of waiting on the real clock.
package clock

import "time"

// Clock supplies the current time and timer channels.
type Clock interface {
	// Now returns the current UTC time.
	Now() time.Time
	// After returns a channel that delivers once d has elapsed.
	After(d time.Duration) <-chan time.Time
}
