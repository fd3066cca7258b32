package entity

import (
	"sync"
)

// Switch is an on/off entity that peers may write
type Switch struct {
	base
	mu      sync.RWMutex
	state   bool
	onWrite func(on bool) error
}

// NewSwitch creates a switch in the off state.
// onWrite, when set, is called before a peer write is applied and may veto it.
func NewSwitch(id, name string, onWrite func(on bool) error) *Switch {
	return &Switch{base: base{id: id, name: name}, onWrite: onWrite}
}

// State returns the current state
func (s *Switch) State() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Publish sets the state from the application side and notifies observers
func (s *Switch) Publish(on bool) {
	s.mu.Lock()
	s.state = on
	s.mu.Unlock()
	s.notify(EncodeBool(on))
}

func (s *Switch) Value() []byte {
	return EncodeBool(s.State())
}

// Apply handles a peer write
func (s *Switch) Apply(data []byte) error {
	on, err := DecodeBool(data)
	if err != nil {
		return err
	}
	if s.onWrite != nil {
		if err := s.onWrite(on); err != nil {
			return err
		}
	}
	s.Publish(on)
	return nil
}
