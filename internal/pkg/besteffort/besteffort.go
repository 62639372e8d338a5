// Package besteffort runs operations whose failure must never reach the
// caller: plugin log persistence, analytics enqueue, webhook publishing and
// invocation timing. Every swallowed error is logged, counted and handed to
// the observer so tests can assert which failures stayed silent.
package besteffort

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
)

// Observer receives every swallowed failure.
type Observer func(component string, err error)

var (
	mu       sync.RWMutex
	observer Observer
)

// SetObserver installs o and returns a function restoring the previous one.
func SetObserver(o Observer) (restore func()) {
	mu.Lock()
	prev := observer
	observer = o
	mu.Unlock()
	return func() {
		mu.Lock()
		observer = prev
		mu.Unlock()
	}
}

// Do runs fn and swallows its error or panic. It reports whether fn succeeded.
func Do(component string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			report(component, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		report(component, err)
		return false
	}
	return true
}

// Go runs Do in a new goroutine.
func Go(component string, fn func() error) {
	go Do(component, fn)
}

func report(component string, err error) {
	log.Warnf("[%s] best-effort operation failed: %v", component, err)
	metrics.BestEffortFailures.WithLabelValues(component).Inc()

	mu.RLock()
	o := observer
	mu.RUnlock()
	if o != nil {
		o(component, err)
	}
}
