package controller

import (
	"github.com/srg/blectl/internal/command"
	"github.com/srg/blectl/internal/gatt"
	"github.com/srg/blectl/internal/lifecycle"
	"github.com/srg/blectl/internal/maintenance"
	"github.com/srg/blectl/internal/prefs"
	"github.com/srg/blectl/internal/security"
)

// DefaultName is advertised when the configuration names no device
const DefaultName = "blectl"

// BindingSpec exposes an entity as one characteristic
type BindingSpec struct {
	Entity         gatt.Entity
	Service        string
	Characteristic string
	Notify         bool
}

// WifiHook applies new station credentials on the host; nil credentials mean "forget"
type WifiHook func(creds *prefs.WifiCredentials) error

// Config is the complete controller setup. It is produced once from the configuration file
// and is not changed afterwards.
type Config struct {
	Name    string
	Version string

	Bindings []BindingSpec
	Commands []command.Descriptor

	SecurityMode     security.Mode
	SecurityHandlers security.Listeners

	OnConnected    lifecycle.Listener
	OnDisconnected lifecycle.Listener

	// Maintenance is the maintenance service exposure on first boot; afterwards the stored
	// state wins
	Maintenance bool
	// PayloadLimit caps command results; 0 means command.DefaultPayloadLimit
	PayloadLimit int
	// LogLevel is the initial level of the maintenance log stream
	LogLevel int
	// LogBufferSize is the number of log lines kept for the log characteristic
	LogBufferSize uint32

	// Prefs persists runtime settings; nil keeps them in memory
	Prefs *prefs.Store
	// Wifi is called when wifi-config changes the stored credentials; nil disables wifi-config
	Wifi WifiHook
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.PayloadLimit <= 0 {
		c.PayloadLimit = command.DefaultPayloadLimit
	}
	if c.LogBufferSize == 0 {
		c.LogBufferSize = maintenance.DefaultLogBufferSize
	}
	if c.Prefs == nil {
		c.Prefs = prefs.Memory()
	}
}
