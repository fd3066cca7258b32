//go:build darwin

package main

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"

	"github.com/srg/blectl/internal/controller"
)

// newPeripheral opens CoreBluetooth in the peripheral role. CoreBluetooth reports no link
// events, so peers are registered on their first GATT request.
func newPeripheral(_ *linkTracker) (controller.Device, error) {
	dev, err := darwin.NewDevice(ble.OptPeripheralRole())
	if err != nil {
		return nil, err
	}
	return dev, nil
}
