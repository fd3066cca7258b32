package entity

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const (
	optFanOn          = "on"
	optFanOff         = "off"
	optOscillatingYes = "yes"
	optOscillatingNo  = "no"
	optDirectionFwd   = "forward"
	optDirectionRev   = "reverse"
)

// FanDirection is the rotation direction of a fan
type FanDirection int

const (
	FanForward FanDirection = iota
	FanReverse
)

// FanTraits describes the optional capabilities of a fan
type FanTraits struct {
	SpeedCount  int // 0 = no speed control
	Oscillation bool
	Direction   bool
}

// FanState is the full state of a fan
type FanState struct {
	On          bool
	Speed       int
	Oscillating bool
	Direction   FanDirection
}

// Fan is a writable entity with an on/off state and optional speed, oscillation and direction.
// Its value is text, e.g. "fan=on speed=2/3 oscillating=yes direction=forward".
type Fan struct {
	base
	traits  FanTraits
	mu      sync.RWMutex
	state   FanState
	onWrite func(FanState) error
}

// NewFan creates a fan that is off.
// onWrite, when set, is called with the requested state before a peer write is applied and may veto it.
func NewFan(id, name string, traits FanTraits, onWrite func(FanState) error) *Fan {
	return &Fan{base: base{id: id, name: name}, traits: traits, onWrite: onWrite}
}

// State returns the current state
func (f *Fan) State() FanState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Publish sets the state from the application side and notifies observers
func (f *Fan) Publish(state FanState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.notify(f.Value())
}

func (f *Fan) Value() []byte {
	state := f.State()

	var sb strings.Builder
	sb.WriteString("fan=")
	if state.On {
		sb.WriteString(optFanOn)
	} else {
		sb.WriteString(optFanOff)
	}

	if f.traits.SpeedCount > 0 {
		fmt.Fprintf(&sb, " speed=%d", state.Speed)
		if f.traits.SpeedCount != 100 {
			fmt.Fprintf(&sb, "/%d", f.traits.SpeedCount)
		}
	}

	if f.traits.Oscillation {
		sb.WriteString(" oscillating=")
		if state.Oscillating {
			sb.WriteString(optOscillatingYes)
		} else {
			sb.WriteString(optOscillatingNo)
		}
	}

	if f.traits.Direction {
		sb.WriteString(" direction=")
		if state.Direction == FanForward {
			sb.WriteString(optDirectionFwd)
		} else {
			sb.WriteString(optDirectionRev)
		}
	}

	return []byte(sb.String())
}

// Apply handles a peer write. A single byte switches the fan on (non-zero) or off,
// anything longer is a space separated list of options; an unknown option rejects the write.
func (f *Fan) Apply(data []byte) error {
	next := f.State()

	if len(data) == 1 {
		next.On = data[0] != 0
		return f.commit(next)
	}

	options := strings.Fields(string(data))
	if len(options) == 0 {
		return fmt.Errorf("%w: empty fan command", ErrInvalidValue)
	}
	for _, option := range options {
		if !f.applyOption(&next, option) {
			return fmt.Errorf("%w: unknown fan option %q", ErrInvalidValue, option)
		}
	}
	return f.commit(next)
}

func (f *Fan) applyOption(state *FanState, option string) bool {
	switch option {
	case optFanOn:
		state.On = true
		return true
	case optFanOff:
		state.On = false
		return true
	}

	if f.traits.SpeedCount > 0 {
		if speed, err := strconv.Atoi(option); err == nil && speed >= 0 && speed <= f.traits.SpeedCount {
			state.Speed = speed
			return true
		}
	}

	if f.traits.Oscillation {
		switch option {
		case optOscillatingYes:
			state.Oscillating = true
			return true
		case optOscillatingNo:
			state.Oscillating = false
			return true
		}
	}

	if f.traits.Direction {
		switch option {
		case optDirectionFwd:
			state.Direction = FanForward
			return true
		case optDirectionRev:
			state.Direction = FanReverse
			return true
		}
	}

	return false
}

func (f *Fan) commit(next FanState) error {
	if f.onWrite != nil {
		if err := f.onWrite(next); err != nil {
			return err
		}
	}
	f.Publish(next)
	return nil
}
