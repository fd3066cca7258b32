// Package maintenance provides the maintenance GATT service (command channel, BLE mode,
// log stream, log level) and the runtime exposure toggles for the maintenance and
// component services.
package maintenance

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Exposure is a runtime on/off flag deciding whether a group of services is offered to peers.
// Turning it to the state it already has is a no-op and raises no change event.
type Exposure struct {
	name   string
	logger *logrus.Logger

	mu        sync.Mutex
	on        bool
	listeners []func(on bool)
}

// NewExposure creates a flag in the initial state
func NewExposure(name string, initial bool, logger *logrus.Logger) *Exposure {
	if logger == nil {
		logger = logrus.New()
	}
	return &Exposure{name: name, on: initial, logger: logger}
}

// Name identifies the flag in logs
func (e *Exposure) Name() string {
	return e.name
}

// On reports the current state
func (e *Exposure) On() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.on
}

// OnChange registers fn, called with the new state after every real change
func (e *Exposure) OnChange(fn func(on bool)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// TurnOn exposes the services; it reports whether the state changed
func (e *Exposure) TurnOn() bool {
	return e.Set(true)
}

// TurnOff hides the services; it reports whether the state changed
func (e *Exposure) TurnOff() bool {
	return e.Set(false)
}

// Toggle flips the state and returns the new one
func (e *Exposure) Toggle() bool {
	e.mu.Lock()
	e.on = !e.on
	on := e.on
	listeners := append([]func(bool){}, e.listeners...)
	e.mu.Unlock()

	e.announce(on, listeners)
	return on
}

// Set changes the state; it reports whether the state changed
func (e *Exposure) Set(on bool) bool {
	e.mu.Lock()
	if e.on == on {
		e.mu.Unlock()
		return false
	}
	e.on = on
	listeners := append([]func(bool){}, e.listeners...)
	e.mu.Unlock()

	e.announce(on, listeners)
	return true
}

func (e *Exposure) announce(on bool, listeners []func(bool)) {
	e.logger.WithFields(logrus.Fields{
		"exposure": e.name,
		"on":       on,
	}).Info("Service exposure changed")

	for _, fn := range listeners {
		fn(on)
	}
}
