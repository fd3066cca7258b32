package main

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/controller"
)

// linkController is the part of the controller that link events drive
type linkController interface {
	Connected(conn ble.Conn) string
	Disconnected(conn ble.Conn)
}

// hciLink stands for a link reported by the HCI layer before any GATT traffic. Only the
// peer address and the disconnect signal are available at that point.
type hciLink struct {
	ble.Conn
	handle uint16
	addr   ble.Addr
	done   chan struct{}
}

func (l *hciLink) RemoteAddr() ble.Addr          { return l.addr }
func (l *hciLink) Disconnected() <-chan struct{} { return l.done }

// linkTracker turns connection complete and disconnection complete events into controller
// connection events. Events that arrive before attach are dropped.
type linkTracker struct {
	mu     sync.Mutex
	ctrl   linkController
	links  map[uint16]*hciLink
	logger *logrus.Logger
}

func newLinkTracker(logger *logrus.Logger) *linkTracker {
	return &linkTracker{links: make(map[uint16]*hciLink), logger: logger}
}

func (t *linkTracker) attach(ctrl linkController) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctrl = ctrl
}

func (t *linkTracker) up(handle uint16, addr string) {
	t.mu.Lock()
	ctrl := t.ctrl
	if ctrl == nil {
		t.mu.Unlock()
		t.logger.WithField("peer", addr).Debug("Link up before the controller started, ignored")
		return
	}
	if _, dup := t.links[handle]; dup {
		t.mu.Unlock()
		return
	}
	l := &hciLink{handle: handle, addr: ble.NewAddr(addr), done: make(chan struct{})}
	t.links[handle] = l
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{"peer": addr, "handle": handle}).Debug("Link up")
	ctrl.Connected(l)
}

func (t *linkTracker) down(handle uint16) {
	t.mu.Lock()
	l, ok := t.links[handle]
	delete(t.links, handle)
	ctrl := t.ctrl
	t.mu.Unlock()
	if !ok {
		return
	}

	t.logger.WithFields(logrus.Fields{"peer": l.addr.String(), "handle": handle}).Debug("Link down")
	close(l.done)
	ctrl.Disconnected(l)
}

var _ linkController = (*controller.Controller)(nil)
