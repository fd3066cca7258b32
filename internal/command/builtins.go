package command

import (
	"fmt"
	"strconv"
	"strings"
)

// ServicesSwitch controls exposure of the component (non-maintenance) services
type ServicesSwitch interface {
	ComponentServicesEnabled() bool
	SetComponentServicesEnabled(on bool) error
}

// WifiSettings stores station credentials that override the built-in network settings
type WifiSettings interface {
	CurrentSSID() (string, bool)
	SetCredentials(ssid, password string, hidden bool) error
	ClearCredentials() error
}

// PairingStore lists and forgets bonded peers
type PairingStore interface {
	Pairings() []string
	ClearPairings() error
}

// LogLevelControl reads and changes the device log level (0=None ... 4=Config, 5=Debug, 7=Very verbose)
type LogLevelControl interface {
	LogLevel() int
	SetLogLevel(level int) error
}

// Host is what the built-in commands act on. A nil member makes its command report that
// the feature is not available on this device.
type Host struct {
	Version  string
	Services ServicesSwitch
	Wifi     WifiSettings
	Pairings PairingStore
	LogLevel LogLevelControl
}

func (d *Dispatcher) installBuiltins(host Host) {
	add := func(id, description string, h Handler) {
		d.builtins.Set(id, Descriptor{ID: id, Description: description, Handler: h})
	}

	add(HelpID, "[cmd] show help for commands", d.help)
	add(BLEServicesID, "on|off enables or disables the non-maintenance services", servicesCommand(host.Services))
	add(WifiConfigID, "<ssid> <password> [hidden] | clear sets or clears WiFi credentials", wifiCommand(host.Wifi))
	add(PairingsID, "[clear] lists or removes bonded devices", pairingsCommand(host.Pairings))
	add(VersionID, "shows the firmware version", versionCommand(host.Version))
	add(LogLevelID, "[level] get or set log level (0=None, 4=Config, 5=Debug)", logLevelCommand(host.LogLevel))
}

func (d *Dispatcher) help(args []string, out *ResultSender) error {
	if len(args) > 0 {
		id := strings.ToLower(args[0])
		desc, ok := d.Lookup(id)
		if !ok {
			out.SendString(fmt.Sprintf("Unknown command '%s'.", id))
			return nil
		}
		out.SendString(desc.ID + ": " + desc.Description)
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Available:")
	for _, desc := range d.Commands() {
		sb.WriteString("\n")
		sb.WriteString(desc.ID)
		if desc.Description != "" {
			sb.WriteString(" - ")
			sb.WriteString(desc.Description)
		}
	}
	out.SendString(sb.String())
	return nil
}

func notAvailable(out *ResultSender, feature string) {
	out.SendString(fmt.Sprintf("%s is not available on this device.", feature))
}

func servicesCommand(services ServicesSwitch) Handler {
	return func(args []string, out *ResultSender) error {
		if services == nil {
			notAvailable(out, "Service control")
			return nil
		}
		if len(args) > 0 {
			switch strings.ToLower(args[0]) {
			case "on":
				if err := services.SetComponentServicesEnabled(true); err != nil {
					return err
				}
			case "off":
				if err := services.SetComponentServicesEnabled(false); err != nil {
					return err
				}
			default:
				out.SendString("Usage: ble-services on|off")
				return nil
			}
		}

		state := "disabled"
		if services.ComponentServicesEnabled() {
			state = "enabled"
		}
		out.SendString("Non-maintenance services are " + state + ".")
		return nil
	}
}

func wifiCommand(wifi WifiSettings) Handler {
	return func(args []string, out *ResultSender) error {
		if wifi == nil {
			notAvailable(out, "WiFi")
			return nil
		}

		switch {
		case len(args) == 0:
			if ssid, ok := wifi.CurrentSSID(); ok {
				out.SendString(fmt.Sprintf("WiFi SSID is '%s'.", ssid))
			} else {
				out.SendString("No WiFi credentials stored.")
			}
		case len(args) == 1 && strings.EqualFold(args[0], "clear"):
			if err := wifi.ClearCredentials(); err != nil {
				return err
			}
			out.SendString("WiFi credentials cleared.")
		case len(args) == 2 || len(args) == 3:
			hidden := false
			if len(args) == 3 {
				if !strings.EqualFold(args[2], "hidden") {
					out.SendString("Usage: wifi-config <ssid> <password> [hidden] | clear")
					return nil
				}
				hidden = true
			}
			if err := wifi.SetCredentials(args[0], args[1], hidden); err != nil {
				return err
			}
			out.SendString(fmt.Sprintf("WiFi credentials for '%s' stored.", args[0]))
		default:
			out.SendString("Usage: wifi-config <ssid> <password> [hidden] | clear")
		}
		return nil
	}
}

func pairingsCommand(store PairingStore) Handler {
	return func(args []string, out *ResultSender) error {
		if store == nil {
			notAvailable(out, "Pairing")
			return nil
		}

		if len(args) > 0 {
			if !strings.EqualFold(args[0], "clear") {
				out.SendString("Usage: pairings [clear]")
				return nil
			}
			if err := store.ClearPairings(); err != nil {
				return err
			}
			out.SendString("Pairings cleared.")
			return nil
		}

		peers := store.Pairings()
		if len(peers) == 0 {
			out.SendString("No pairings.")
			return nil
		}
		out.SendString("Pairings: " + strings.Join(peers, ", "))
		return nil
	}
}

func versionCommand(version string) Handler {
	if version == "" {
		version = "unknown"
	}
	return func(_ []string, out *ResultSender) error {
		out.SendString("Version " + version)
		return nil
	}
}

func logLevelCommand(control LogLevelControl) Handler {
	return func(args []string, out *ResultSender) error {
		if control == nil {
			notAvailable(out, "Logging")
			return nil
		}
		if len(args) > 0 {
			level, err := strconv.Atoi(args[0])
			if err != nil {
				out.SendString(fmt.Sprintf("Invalid log level '%s' (0=None, 4=Config, 5=Debug).", args[0]))
				return nil
			}
			if err := control.SetLogLevel(level); err != nil {
				out.SendString(err.Error())
				return nil
			}
		}
		out.SendString(fmt.Sprintf("Log level is %d.", control.LogLevel()))
		return nil
	}
}
