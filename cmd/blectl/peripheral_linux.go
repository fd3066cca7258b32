//go:build linux

package main

import (
	"net"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/evt"

	"github.com/srg/blectl/internal/controller"
)

// newPeripheral opens the default HCI adapter. Link events are routed to links, so a peer
// counts as connected as soon as the link is up rather than on its first GATT request.
func newPeripheral(links *linkTracker) (controller.Device, error) {
	dev, err := linux.NewDevice(
		ble.OptConnectHandler(func(e evt.LEConnectionComplete) {
			if e.Status() != 0 {
				return
			}
			links.up(e.ConnectionHandle(), hciAddress(e.PeerAddress()))
		}),
		ble.OptDisconnectHandler(func(e evt.DisconnectionComplete) {
			links.down(e.ConnectionHandle())
		}),
	)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// hciAddress renders a little-endian HCI address the way go-ble reports RemoteAddr
func hciAddress(a [6]byte) string {
	return net.HardwareAddr{a[5], a[4], a[3], a[2], a[1], a[0]}.String()
}
