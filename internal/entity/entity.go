// Package entity provides the application entity kinds that can be exposed over GATT:
// sensors, binary sensors, switches, text sensors and fans.
//
// Values use the transport representation the device has always used:
// sensors are little-endian float32, binary states are little-endian uint16 (0 or 1),
// text sensors are UTF-8, fans are a space separated option list.
package entity

import (
	"sync"
)

// base carries identity and the change observers shared by all entity kinds
type base struct {
	id   string
	name string

	obsMu     sync.Mutex
	observers []func(value []byte)
}

func (b *base) ID() string { return b.id }

func (b *base) Name() string {
	if b.name == "" {
		return b.id
	}
	return b.name
}

// Observe registers fn for value changes
func (b *base) Observe(fn func(value []byte)) {
	if fn == nil {
		return
	}
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, fn)
}

// notify calls the observers; must be called without holding the entity's state lock
func (b *base) notify(value []byte) {
	b.obsMu.Lock()
	observers := append([]func([]byte){}, b.observers...)
	b.obsMu.Unlock()

	for _, fn := range observers {
		fn(value)
	}
}
