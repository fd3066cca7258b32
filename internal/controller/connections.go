package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/groutine"
)

// guard admits a request to a protected characteristic. The first request seen on a
// connection also registers the connection.
func (c *Controller) guard(conn ble.Conn) bool {
	if conn == nil {
		return false
	}
	peer := c.Connected(conn)
	if c.security.Authorized(peer) {
		return true
	}
	c.logger.WithField("peer", peer).Debug("Access denied, link is not bonded")
	return false
}

// link is the live connection of one peer. conn is whichever handle reported it first: a
// link-layer event or the first GATT request.
type link struct {
	conn     ble.Conn
	instance uint64
}

// Connected registers conn and returns its peer address. Stacks that report link events call
// it when the link comes up; otherwise the first GATT request on the connection does.
// Connections are keyed by peer address, so a second handle for a peer that is already
// connected is a no-op.
func (c *Controller) Connected(conn ble.Conn) string {
	peer := peerAddress(conn)
	key := strings.ToLower(peer)

	c.connMu.Lock()
	if _, known := c.conns[key]; known {
		c.connMu.Unlock()
		return peer
	}
	c.nextInstance++
	instance := c.nextInstance
	c.conns[key] = &link{conn: conn, instance: instance}
	ctx := c.runCtx
	c.security.Connected(peer)
	c.connMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logrus.Fields{
		"peer":     peer,
		"instance": instance,
	}).Info("Peer connected")
	c.lifecycle.Connected(instance, peer)

	groutine.Go(ctx, fmt.Sprintf("conn-%d", instance), func(ctx context.Context) {
		select {
		case <-conn.Disconnected():
		case <-ctx.Done():
		}
		c.Disconnected(conn)
	})
	return peer
}

// Disconnected ends the session of conn. It is ignored unless conn is the handle that
// registered the peer's current connection.
func (c *Controller) Disconnected(conn ble.Conn) {
	peer := peerAddress(conn)
	key := strings.ToLower(peer)

	c.connMu.Lock()
	l, known := c.conns[key]
	if !known || l.conn != conn {
		c.connMu.Unlock()
		return
	}
	delete(c.conns, key)
	c.security.Disconnected(peer)
	c.connMu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"peer":     peer,
		"instance": l.instance,
	}).Info("Peer disconnected")
	c.lifecycle.Disconnected(l.instance, peer)
}

// Connections returns the number of live connections
func (c *Controller) Connections() int {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return len(c.conns)
}

// OnSecurityRequest is the stack callback for a peer starting to pair
func (c *Controller) OnSecurityRequest(peer string) bool {
	return c.security.SecurityRequest(peer)
}

// OnPassKeyNotify is the stack callback carrying the pass key to display
func (c *Controller) OnPassKeyNotify(peer string, passKey uint32) {
	c.security.PassKeyNotify(peer, passKey)
}

// OnAuthenticationComplete is the stack callback carrying the pairing outcome
func (c *Controller) OnAuthenticationComplete(peer string, success bool) {
	c.security.AuthenticationComplete(peer, success)
}

func peerAddress(conn ble.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
