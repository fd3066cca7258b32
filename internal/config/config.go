// Package config loads the YAML device description (entities, GATT bindings, commands and
// automation listeners) and turns it into a controller configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blectl/internal/command"
	"github.com/srg/blectl/internal/gatt"
	"github.com/srg/blectl/internal/maintenance"
	"github.com/srg/blectl/internal/security"
)

// Entity kinds
const (
	KindSensor       = "sensor"
	KindBinarySensor = "binary_sensor"
	KindTextSensor   = "text_sensor"
	KindSwitch       = "switch"
	KindFan          = "fan"
)

// File is the device description as written in YAML
type File struct {
	Name                string `yaml:"name" default:"blectl"`
	Version             string `yaml:"version"`
	LogLevel            string `yaml:"log_level" default:"info"`
	MaintenanceLogLevel string `yaml:"maintenance_log_level" default:"info"`
	SecurityMode        string `yaml:"security_mode" default:"secure"`
	Maintenance         bool   `yaml:"maintenance" default:"true"`
	PayloadLimit        int    `yaml:"payload_limit" default:"512"`
	LogBufferSize       uint32 `yaml:"log_buffer_size" default:"64"`
	Preferences         string `yaml:"preferences"`
	WifiConfig          bool   `yaml:"wifi_config"`

	Entities []EntityConfig  `yaml:"entities"`
	Services []ServiceConfig `yaml:"services"`
	Commands []CommandConfig `yaml:"commands"`

	OnShowPassKey            []Action `yaml:"on_show_pass_key"`
	OnAuthenticationComplete []Action `yaml:"on_authentication_complete"`
	OnConnected              []Action `yaml:"on_connected"`
	OnDisconnected           []Action `yaml:"on_disconnected"`
	OnWifiCredentials        []Action `yaml:"on_wifi_credentials"`
}

// EntityConfig declares an entity. Initial is the state published before advertising starts.
type EntityConfig struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	Initial string `yaml:"initial"`

	// fan traits
	SpeedCount  int  `yaml:"speed_count"`
	Oscillation bool `yaml:"oscillation"`
	Direction   bool `yaml:"direction"`

	// OnWrite runs when a peer writes a switch or fan; a failing action rejects the write
	OnWrite []Action `yaml:"on_write"`
}

// ServiceConfig groups the characteristics of one GATT service
type ServiceConfig struct {
	Service         string                 `yaml:"service"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

// CharacteristicConfig binds an entity to a characteristic
type CharacteristicConfig struct {
	Characteristic string `yaml:"characteristic"`
	Exposes        string `yaml:"exposes"`
	Notify         bool   `yaml:"use_BLE2902" default:"true"`
}

// UnmarshalYAML applies the field defaults before decoding, list elements included
func (c *CharacteristicConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain CharacteristicConfig
	var p plain
	defaults.SetDefaults(&p)
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = CharacteristicConfig(p)
	return nil
}

// CommandConfig declares a custom maintenance command
type CommandConfig struct {
	Command     string   `yaml:"command"`
	Description string   `yaml:"description"`
	OnExecute   []Action `yaml:"on_execute"`
}

// Default returns a File with every default applied
func Default() *File {
	f := &File{}
	defaults.SetDefaults(f)
	return f
}

// Load reads and parses a YAML device description. Missing fields keep their defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML device description
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate applies every configuration-time rule and reports all violations at once
func (f *File) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(f.Name) == "" {
		add("name must not be empty")
	}
	if _, err := logrus.ParseLevel(f.LogLevel); err != nil {
		add("log_level: %w", err)
	}
	if _, err := maintenance.ParseLevel(f.MaintenanceLogLevel); err != nil {
		add("maintenance_log_level: %w", err)
	}
	if f.PayloadLimit <= 0 {
		add("payload_limit must be > 0, got %d", f.PayloadLimit)
	}
	if f.LogBufferSize == 0 {
		add("log_buffer_size must be > 0")
	}

	mode, err := security.ParseMode(f.SecurityMode)
	if err != nil {
		add("security_mode: %w", err)
	} else if err := security.ValidateListeners(mode, f.securityListenersShape()); err != nil {
		errs = append(errs, err)
	}

	lua := newLuaChecker()
	defer lua.close()

	kinds := make(map[string]string, len(f.Entities))
	for i, e := range f.Entities {
		where := fmt.Sprintf("entities[%d]", i)
		if e.ID == "" {
			add("%s: id must not be empty", where)
			continue
		}
		if _, dup := kinds[e.ID]; dup {
			add("%s: duplicate entity id %q", where, e.ID)
			continue
		}
		kinds[e.ID] = e.Kind
		if err := e.validate(); err != nil {
			add("%s (%s): %w", where, e.ID, err)
		}
		if len(e.OnWrite) > 0 && e.Kind != KindSwitch && e.Kind != KindFan {
			add("%s (%s): on_write is only supported by switch and fan", where, e.ID)
		}
		errs = append(errs, validateActions(where+".on_write", e.OnWrite, listenerScope, kinds, lua)...)
	}

	bound := make(map[string]bool)
	for i, svc := range f.Services {
		where := fmt.Sprintf("services[%d]", i)
		if _, err := gatt.ParseUUID(svc.Service); err != nil {
			add("%s: %w", where, err)
		}
		for j, ch := range svc.Characteristics {
			cw := fmt.Sprintf("%s.characteristics[%d]", where, j)
			if _, err := gatt.ParseUUID(ch.Characteristic); err != nil {
				add("%s: %w", cw, err)
			}
			if _, ok := kinds[ch.Exposes]; !ok {
				add("%s: exposes unknown entity %q", cw, ch.Exposes)
			}
			key := gatt.NormalizeUUID(svc.Service) + "/" + gatt.NormalizeUUID(ch.Characteristic)
			if bound[key] {
				add("%s: characteristic %s is bound twice", cw, ch.Characteristic)
			}
			bound[key] = true
		}
	}

	ids := make(map[string]bool, len(f.Commands))
	for i, cmd := range f.Commands {
		where := fmt.Sprintf("commands[%d]", i)
		if err := command.ValidateID(cmd.Command); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		} else if ids[cmd.Command] {
			errs = append(errs, fmt.Errorf("%s: %w", where, &command.RegistrationError{Reason: command.DuplicateID, ID: cmd.Command}))
		}
		ids[cmd.Command] = true
		errs = append(errs, validateActions(where+".on_execute", cmd.OnExecute, commandScope, kinds, lua)...)
	}

	for _, l := range f.listenerLists() {
		errs = append(errs, validateActions(l.name, l.actions, listenerScope, kinds, lua)...)
	}

	return errors.Join(errs...)
}

type listenerList struct {
	name    string
	actions []Action
}

func (f *File) listenerLists() []listenerList {
	return []listenerList{
		{"on_show_pass_key", f.OnShowPassKey},
		{"on_authentication_complete", f.OnAuthenticationComplete},
		{"on_connected", f.OnConnected},
		{"on_disconnected", f.OnDisconnected},
		{"on_wifi_credentials", f.OnWifiCredentials},
	}
}

// securityListenersShape mirrors which pairing listeners are configured, for rule checks only
func (f *File) securityListenersShape() security.Listeners {
	var l security.Listeners
	if len(f.OnShowPassKey) > 0 {
		l.OnPassKey = func(uint32) {}
	}
	if len(f.OnAuthenticationComplete) > 0 {
		l.OnAuthenticationComplete = func(bool) {}
	}
	return l
}

func (e EntityConfig) validate() error {
	switch e.Kind {
	case KindSensor, KindBinarySensor, KindTextSensor, KindSwitch:
	case KindFan:
		if e.SpeedCount < 0 {
			return fmt.Errorf("speed_count must be >= 0, got %d", e.SpeedCount)
		}
		if e.Initial != "" {
			if _, err := parseBool(e.Initial); err != nil {
				return fmt.Errorf("initial: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q (expected sensor, binary_sensor, text_sensor, switch or fan)", e.Kind)
	}
	if e.Initial == "" {
		return nil
	}
	_, err := parseInitial(e.Kind, e.Initial)
	return err
}

// NewLogger creates the process logger at the configured level
func (f *File) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	return NewLogger(level), nil
}

// NewLogger creates a configured logger instance
func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
