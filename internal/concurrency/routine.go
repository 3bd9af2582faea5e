package concurrency

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// SafeGo runs fn in a goroutine named name. A panic is logged with its stack
// and handed to onPanic instead of crashing the process.
func SafeGo(name string, fn func(), onPanic func(error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic recovered", "goroutine", name, "panic", r, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(fmt.Errorf("%s: panic: %v", name, r))
				}
			}
		}()
		fn()
	}()
}
