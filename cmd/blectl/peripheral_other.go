//go:build !linux && !darwin

package main

import "github.com/srg/blectl/internal/controller"

func newPeripheral(_ *linkTracker) (controller.Device, error) {
	return nil, ErrUnsupportedPlatform
}
