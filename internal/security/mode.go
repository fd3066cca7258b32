// Package security drives BLE pairing: it tracks the pairing state of every connected peer
// according to the configured security mode and raises pass-key and authentication events.
package security

import (
	"fmt"
	"strings"
)

// Mode is the security policy chosen at setup. It never changes at runtime.
type Mode int

const (
	// ModeNone accepts every connection without pairing
	ModeNone Mode = iota
	// ModeBond pairs without a pass key (just works) and stores the bond
	ModeBond
	// ModeSecure pairs with a displayed pass key and stores the bond
	ModeSecure
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeBond:
		return "bond"
	case ModeSecure:
		return "secure"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts the textual configuration value into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return ModeNone, nil
	case "bond":
		return ModeBond, nil
	case "secure":
		return ModeSecure, nil
	default:
		return ModeNone, fmt.Errorf("unknown security mode %q (expected none, bond or secure)", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State is the pairing state of one connection
type State int

const (
	StateIdle State = iota
	StatePairing
	StateBonded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairing:
		return "pairing"
	case StateBonded:
		return "bonded"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
