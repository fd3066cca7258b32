// Package lifecycle raises connected/disconnected events for peer connections.
package lifecycle

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener receives the peer address of the connection an event belongs to
type Listener func(peer string)

type phase int

const (
	phaseConnected phase = iota
	// phaseEnded marks an instance that disconnected before it was reported as connected
	phaseEnded
)

type event struct {
	connected bool
	peer      string
	instance  uint64
}

// Notifier delivers onConnected/onDisconnected at most once per connection instance,
// onConnected always first. Events are delivered in the order the transitions happened,
// without holding the notifier lock, so listeners may call back into the notifier.
type Notifier struct {
	logger *logrus.Logger

	mu           sync.Mutex
	instances    map[uint64]phase
	queue        []event
	draining     bool
	connected    []Listener
	disconnected []Listener
}

// NewNotifier creates a notifier without listeners
func NewNotifier(logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{logger: logger, instances: make(map[uint64]phase)}
}

// OnConnected registers l for connection events
func (n *Notifier) OnConnected(l Listener) {
	if l == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, l)
}

// OnDisconnected registers l for disconnection events
func (n *Notifier) OnDisconnected(l Listener) {
	if l == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, l)
}

// Connected reports that connection instance from peer is up.
// Instance ids identify one connection and must not be reused.
func (n *Notifier) Connected(instance uint64, peer string) {
	n.mu.Lock()
	switch p, seen := n.instances[instance]; {
	case !seen:
		n.instances[instance] = phaseConnected
		n.queue = append(n.queue, event{connected: true, peer: peer, instance: instance})
	case p == phaseEnded:
		// the disconnect already produced both events
		delete(n.instances, instance)
	}
	n.mu.Unlock()

	n.drain()
}

// Disconnected reports that connection instance went down. A disconnect that overtakes its
// connect produces both events, in order, and the late connect is then ignored.
func (n *Notifier) Disconnected(instance uint64, peer string) {
	n.mu.Lock()
	switch p, seen := n.instances[instance]; {
	case !seen:
		n.instances[instance] = phaseEnded
		n.queue = append(n.queue,
			event{connected: true, peer: peer, instance: instance},
			event{connected: false, peer: peer, instance: instance})
	case p == phaseConnected:
		delete(n.instances, instance)
		n.queue = append(n.queue, event{connected: false, peer: peer, instance: instance})
	}
	n.mu.Unlock()

	n.drain()
}

// drain delivers queued events; only one goroutine drains at a time
func (n *Notifier) drain() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true

	for len(n.queue) > 0 {
		ev := n.queue[0]
		n.queue = n.queue[1:]
		listeners := n.connected
		if !ev.connected {
			listeners = n.disconnected
		}
		listeners = append([]Listener(nil), listeners...)
		n.mu.Unlock()

		n.deliver(ev, listeners)

		n.mu.Lock()
	}

	n.draining = false
	n.mu.Unlock()
}

func (n *Notifier) deliver(ev event, listeners []Listener) {
	logger := n.logger.WithFields(logrus.Fields{
		"peer":     ev.peer,
		"instance": ev.instance,
	})
	if ev.connected {
		logger.Info("Peer connected")
	} else {
		logger.Info("Peer disconnected")
	}

	for _, l := range listeners {
		n.safeCall(l, ev.peer)
	}
}

func (n *Notifier) safeCall(l Listener, peer string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithField("panic", r).Error("Connection listener panicked")
		}
	}()
	l(peer)
}
