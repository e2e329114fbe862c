// Package safego provides a panic-recovering goroutine launcher for the
// service's long-lived background work. The partition creator and export
// worker run for the life of the process; an unrecovered panic in either
// would silently stop partition provisioning or strand export jobs in
// pending until the next deploy.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered
// and logged rather than crashing the process.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
