// safego.go — Panic-recovering goroutine launcher.
package util

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
)

// PanicHandler receives a recovered panic value and the goroutine's stack.
type PanicHandler func(recovered any, stack []byte)

// SafeGo launches fn in a goroutine with deferred panic recovery.
// On panic: onPanic is called (stderr when nil). Does NOT os.Exit: the serving
// loop outlives any single handler.
// If wg is non-nil it is incremented before launch and released when fn returns.
func SafeGo(wg *sync.WaitGroup, onPanic PanicHandler, fn func()) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				fmt.Fprintf(os.Stderr, "[meter-bridge] PANIC in goroutine: %v\n%s\n", r, stack)
			}
		}()
		fn()
	}()
}
