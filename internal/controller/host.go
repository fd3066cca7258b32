package controller

import (
	"fmt"

	"github.com/srg/blectl/internal/prefs"
)

// ComponentServicesEnabled reports whether the entity services are exposed
func (c *Controller) ComponentServicesEnabled() bool {
	return c.compExp.On()
}

// SetComponentServicesEnabled exposes or hides the entity services
func (c *Controller) SetComponentServicesEnabled(on bool) error {
	c.compExp.Set(on)
	return nil
}

// CurrentSSID returns the SSID of the stored Wi-Fi credentials
func (c *Controller) CurrentSSID() (string, bool) {
	creds, ok := c.prefs.Wifi()
	return creds.SSID, ok
}

// SetCredentials stores Wi-Fi credentials and hands them to the host
func (c *Controller) SetCredentials(ssid, password string, hidden bool) error {
	creds := prefs.WifiCredentials{SSID: ssid, Password: password, Hidden: hidden}
	if err := c.prefs.SetWifi(creds); err != nil {
		return err
	}
	if err := c.cfg.Wifi(&creds); err != nil {
		return fmt.Errorf("failed to apply WiFi credentials: %w", err)
	}
	return nil
}

// ClearCredentials forgets the stored Wi-Fi credentials
func (c *Controller) ClearCredentials() error {
	if err := c.prefs.ClearWifi(); err != nil {
		return err
	}
	if err := c.cfg.Wifi(nil); err != nil {
		return fmt.Errorf("failed to reset WiFi: %w", err)
	}
	return nil
}
