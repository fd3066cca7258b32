package security

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listeners are the automation hooks for pairing events. Both may be nil.
type Listeners struct {
	// OnPassKey receives the pass key to show to the user (SECURE mode only)
	OnPassKey func(passKey uint32)
	// OnAuthenticationComplete receives the pairing outcome (BOND and SECURE modes)
	OnAuthenticationComplete func(success bool)
}

// ValidateListeners applies the configuration rule for mode: SECURE requires a pass-key
// listener, NONE forbids pass-key and authentication listeners.
func ValidateListeners(mode Mode, l Listeners) error {
	switch mode {
	case ModeNone:
		if l.OnPassKey != nil {
			return &ListenerError{Reason: ListenerNotAllowed, Mode: mode, Listener: "on_show_pass_key"}
		}
		if l.OnAuthenticationComplete != nil {
			return &ListenerError{Reason: ListenerNotAllowed, Mode: mode, Listener: "on_authentication_complete"}
		}
	case ModeSecure:
		if l.OnPassKey == nil {
			return &ListenerError{Reason: MissingPassKeyListener, Mode: mode}
		}
	}
	return nil
}

type session struct {
	state         State
	passKeyRaised bool
}

// Controller runs the pairing state machine of every connected peer:
// Idle → Pairing → Bonded | Rejected, back to Idle when the peer disconnects.
type Controller struct {
	mode      Mode
	listeners Listeners
	bonds     BondStore
	logger    *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewController creates the controller for mode. Listeners are validated against mode.
// bonds may be nil, in which case bonds are kept in memory.
func NewController(mode Mode, listeners Listeners, bonds BondStore, logger *logrus.Logger) (*Controller, error) {
	if err := ValidateListeners(mode, listeners); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if bonds == nil {
		bonds = NewMemoryBondStore()
	}
	return &Controller{
		mode:      mode,
		listeners: listeners,
		bonds:     bonds,
		logger:    logger,
		sessions:  make(map[string]*session),
	}, nil
}

// Mode returns the configured security mode
func (c *Controller) Mode() Mode {
	return c.mode
}

// State returns the pairing state of peer; unknown peers are Idle
func (c *Controller) State(peer string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[normalizePeer(peer)]; ok {
		return s.state
	}
	return StateIdle
}

// Authorized reports whether peer may access protected characteristics
func (c *Controller) Authorized(peer string) bool {
	if c.mode == ModeNone {
		return true
	}
	return c.State(peer) == StateBonded
}

// Connected starts tracking peer. With ModeNone, or when the peer bonded before,
// the connection is Bonded right away and no events are raised.
func (c *Controller) Connected(peer string) {
	key := normalizePeer(peer)
	state := StateIdle
	if c.mode == ModeNone || c.bonds.Has(key) {
		state = StateBonded
	}

	c.mu.Lock()
	c.sessions[key] = &session{state: state}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"peer":  key,
		"mode":  c.mode,
		"state": state,
	}).Debug("Security session started")
}

// Disconnected drops the peer's session, returning it to Idle
func (c *Controller) Disconnected(peer string) {
	c.mu.Lock()
	delete(c.sessions, normalizePeer(peer))
	c.mu.Unlock()
}

// SecurityRequest is called when pairing starts. It returns whether pairing is accepted.
func (c *Controller) SecurityRequest(peer string) bool {
	if c.mode == ModeNone {
		c.logger.WithField("peer", peer).Debug("Ignoring security request, security is disabled")
		return true
	}
	c.mu.Lock()
	s := c.sessionLocked(normalizePeer(peer))
	if s.state != StateBonded {
		c.enterPairingLocked(s)
	}
	c.mu.Unlock()

	c.logger.WithField("peer", peer).Info("Pairing requested")
	return true
}

// PassKeyNotify is called when the stack has a pass key to display. The pass-key event is
// raised at most once per pairing attempt and only in SECURE mode.
func (c *Controller) PassKeyNotify(peer string, passKey uint32) {
	logger := c.logger.WithField("peer", peer)
	if c.mode != ModeSecure {
		logger.WithField("mode", c.mode).Warn("Ignoring pass key, mode does not display pass keys")
		return
	}

	c.mu.Lock()
	s := c.sessionLocked(normalizePeer(peer))
	if s.state == StateIdle || s.state == StateRejected {
		c.enterPairingLocked(s)
	}
	raise := s.state == StatePairing && !s.passKeyRaised
	if raise {
		s.passKeyRaised = true
	}
	c.mu.Unlock()

	if !raise {
		logger.Debug("Pass key already shown for this pairing")
		return
	}

	logger.Info("Showing pass key")
	if c.listeners.OnPassKey != nil {
		c.listeners.OnPassKey(passKey)
	}
}

// AuthenticationComplete is called with the pairing outcome. Success bonds the peer,
// failure rejects it; the stack is expected to drop a rejected connection. In secure mode a
// success without a displayed pass key counts as a failure.
func (c *Controller) AuthenticationComplete(peer string, success bool) {
	logger := c.logger.WithFields(logrus.Fields{"peer": peer, "success": success})
	if c.mode == ModeNone {
		logger.Debug("Ignoring authentication result, security is disabled")
		return
	}

	key := normalizePeer(peer)
	c.mu.Lock()
	s := c.sessionLocked(key)
	if s.state != StatePairing && s.state != StateIdle {
		c.mu.Unlock()
		logger.WithField("state", s.state).Debug("Ignoring authentication result outside pairing")
		return
	}
	if success && c.mode == ModeSecure && !s.passKeyRaised {
		logger.Warn("Pass key was never shown, rejecting pairing")
		success = false
	}
	if success {
		s.state = StateBonded
	} else {
		s.state = StateRejected
	}
	c.mu.Unlock()

	if success {
		if err := c.bonds.Add(key); err != nil {
			logger.WithError(err).Error("Failed to store bond")
		}
		logger.Info("Pairing succeeded")
	} else {
		logger.Warn("Pairing failed")
	}

	if c.listeners.OnAuthenticationComplete != nil {
		c.listeners.OnAuthenticationComplete(success)
	}
}

// Pairings lists the bonded peers
func (c *Controller) Pairings() []string {
	return c.bonds.List()
}

// ClearPairings forgets all bonded peers. Live connections keep their state until they disconnect.
func (c *Controller) ClearPairings() error {
	if err := c.bonds.Clear(); err != nil {
		return fmt.Errorf("failed to clear pairings: %w", err)
	}
	c.logger.Info("Pairings cleared")
	return nil
}

func (c *Controller) sessionLocked(key string) *session {
	s, ok := c.sessions[key]
	if !ok {
		s = &session{state: StateIdle}
		c.sessions[key] = s
	}
	return s
}

func (c *Controller) enterPairingLocked(s *session) {
	s.state = StatePairing
	s.passKeyRaised = false
}

// GeneratePassKey returns a random six digit pass key
func GeneratePassKey() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate pass key: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]) % 1000000, nil
}

// FormatPassKey renders a pass key the way it is shown to users, zero padded to six digits
func FormatPassKey(passKey uint32) string {
	return fmt.Sprintf("%06d", passKey)
}

func normalizePeer(peer string) string {
	return strings.ToLower(peer)
}
