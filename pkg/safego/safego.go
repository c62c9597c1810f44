// Package safego provides a panic-recovering goroutine wrapper.
// Fire-and-forget goroutines (spawner invocations, webhook notifications,
// lifecycle callbacks) must never take the process down on an unexpected
// panic.
package safego

import (
	"runtime/debug"

	"github.com/council-run/council-core/pkg/logger"
)

// Go runs fn in a new goroutine, recovering any panic and logging it
// instead of letting it propagate.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					logger.FieldError, r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
