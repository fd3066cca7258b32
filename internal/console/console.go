// Package console drives a controller through an in-process BLE peer. Lines typed on the
// console are written to the maintenance command characteristic as if a phone sent them;
// lines starting with ':' control the simulated peer itself.
package console

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/controller"
	"github.com/srg/blectl/internal/gatt"
	"github.com/srg/blectl/internal/maintenance"
	"github.com/srg/blectl/internal/security"
)

// DefaultPeerAddress is the address of the simulated central
const DefaultPeerAddress = "02:00:00:00:00:01"

// ErrQuit is returned by Execute for the :quit command
var ErrQuit = errors.New("quit")

// States gives the console access to entity state
type States interface {
	Entities() []gatt.Entity
	SetState(id, text string) error
}

// Options configures a console
type Options struct {
	// PeerAddress of the simulated central (DefaultPeerAddress when empty)
	PeerAddress string
	// Output receives results and console messages
	Output io.Writer
	// Colors enables colored output
	Colors bool
	// StateText renders an entity state for :state (raw value as hex when nil)
	StateText func(e gatt.Entity) string
}

// Console is a maintenance terminal backed by a loopback peer
type Console struct {
	ctrl   *controller.Controller
	device *Device
	states States
	opts   Options
	logger *logrus.Logger

	outMu   sync.Mutex
	out     io.Writer
	result  *color.Color
	info    *color.Color
	failure *color.Color

	mu      sync.Mutex
	peer    *Peer
	results *notifier
	logs    *notifier
}

// New creates a console for ctrl, whose device must be the loopback device
func New(ctrl *controller.Controller, device *Device, states States, opts Options, logger *logrus.Logger) *Console {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PeerAddress == "" {
		opts.PeerAddress = DefaultPeerAddress
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}

	c := &Console{
		ctrl:    ctrl,
		device:  device,
		states:  states,
		opts:    opts,
		logger:  logger,
		out:     opts.Output,
		result:  color.New(color.FgGreen),
		info:    color.New(color.FgCyan),
		failure: color.New(color.FgRed),
	}
	for _, col := range []*color.Color{c.result, c.info, c.failure} {
		if opts.Colors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// SetOutput redirects console output
func (c *Console) SetOutput(w io.Writer) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.out = w
}

func (c *Console) print(col *color.Color, format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = col.Fprintf(c.out, format+"\n", args...)
}

// Execute handles one console line
func (c *Console) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		return c.send(line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	switch fields[0] {
	case "quit", "exit":
		c.Disconnect()
		return ErrQuit
	case "help":
		c.usage()
		return nil
	case "connect":
		if len(args) > 0 {
			c.mu.Lock()
			c.opts.PeerAddress = args[0]
			c.mu.Unlock()
		}
		return c.Connect()
	case "disconnect":
		c.Disconnect()
		return nil
	case "pair":
		return c.Pair(len(args) > 0 && args[0] == "fail")
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: :set <entity> <value>")
		}
		if err := c.states.SetState(args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}
		return nil
	case "state":
		c.printStates()
		return nil
	case "read":
		if len(args) != 1 {
			return fmt.Errorf("usage: :read <entity>")
		}
		return c.read(args[0])
	case "write":
		if len(args) < 2 {
			return fmt.Errorf("usage: :write <entity> <text|0xHEX>")
		}
		return c.write(args[0], strings.Join(args[1:], " "))
	case "logs":
		return c.followLogs()
	default:
		return fmt.Errorf("unknown console command :%s, :help lists them", fields[0])
	}
}

func (c *Console) usage() {
	c.print(c.info, strings.Join([]string{
		"<command> [args]         send a maintenance command (try 'help')",
		":connect [address]       connect the simulated peer",
		":disconnect              drop the connection",
		":pair [fail]             run the pairing procedure",
		":set <entity> <value>    publish an entity state",
		":state                   list entity states",
		":read <entity>           read an entity characteristic as the peer",
		":write <entity> <value>  write an entity characteristic as the peer",
		":logs                    subscribe to the maintenance log",
		":quit                    leave the console",
	}, "\n"))
}

// Connect attaches the simulated peer and subscribes to command results. Connecting twice
// keeps the existing connection.
func (c *Console) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer != nil {
		return nil
	}

	peer := newPeer(c.opts.PeerAddress)
	c.peer = peer
	addr := c.ctrl.Connected(peer)
	c.print(c.info, "connected as %s", addr)

	c.subscribeResultsLocked()
	return nil
}

// subscribeResultsLocked (re)subscribes the peer to command results. A subscription made
// before the link was bonded is refused by the stack, so pairing renews it.
func (c *Console) subscribeResultsLocked() {
	if c.results != nil {
		_ = c.results.Close()
		c.results = nil
	}
	char := c.device.Characteristic(maintenance.ServiceUUID, maintenance.CommandCharacteristicUUID)
	if char == nil {
		c.print(c.info, "maintenance service is not exposed")
		return
	}
	c.results = c.peer.subscribe(char, func(value []byte) {
		c.print(c.result, "%s", value)
	})
}

// Disconnect drops the simulated connection
func (c *Console) Disconnect() {
	c.mu.Lock()
	peer, results, logs := c.peer, c.results, c.logs
	c.peer, c.results, c.logs = nil, nil, nil
	c.mu.Unlock()

	if peer == nil {
		return
	}
	for _, n := range []*notifier{results, logs} {
		if n != nil {
			_ = n.Close()
		}
	}
	peer.disconnect()
	c.ctrl.Disconnected(peer)
	c.print(c.info, "disconnected")
}

func (c *Console) connected() (*Peer, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer, nil
}

// Pair runs the pairing procedure the stack would run for the security mode
func (c *Console) Pair(fail bool) error {
	peer, err := c.connected()
	if err != nil {
		return err
	}
	addr := peer.RemoteAddr().String()

	if c.ctrl.Security().Mode() == security.ModeNone {
		c.print(c.info, "pairing not required")
		return nil
	}
	if !c.ctrl.OnSecurityRequest(addr) {
		c.print(c.failure, "pairing refused")
		return nil
	}
	if c.ctrl.Security().Mode() == security.ModeSecure {
		key, err := security.GeneratePassKey()
		if err != nil {
			return err
		}
		c.print(c.info, "pass key %s", security.FormatPassKey(key))
		c.ctrl.OnPassKeyNotify(addr, key)
	}
	c.ctrl.OnAuthenticationComplete(addr, !fail)
	c.print(c.info, "pairing state: %s", c.ctrl.Security().State(addr))

	if c.ctrl.Security().Authorized(addr) {
		c.mu.Lock()
		if c.peer == peer {
			c.subscribeResultsLocked()
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *Console) send(text string) error {
	peer, err := c.connected()
	if err != nil {
		return err
	}
	char := c.device.Characteristic(maintenance.ServiceUUID, maintenance.CommandCharacteristicUUID)
	if char == nil {
		return fmt.Errorf("maintenance service is not exposed")
	}
	if status := peer.write(char, []byte(text)); status != ble.ErrSuccess {
		return fmt.Errorf("command write failed: %s", status)
	}
	return nil
}

func (c *Console) followLogs() error {
	peer, err := c.connected()
	if err != nil {
		return err
	}
	char := c.device.Characteristic(maintenance.ServiceUUID, maintenance.LogCharacteristicUUID)
	if char == nil {
		return fmt.Errorf("maintenance log is not exposed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logs != nil {
		return nil
	}
	c.logs = peer.subscribe(char, func(value []byte) {
		c.print(c.info, "log: %s", value)
	})
	return nil
}

func (c *Console) binding(id string) (*gatt.Binding, *ble.Characteristic, error) {
	for _, b := range c.ctrl.Entities() {
		if b.Entity.ID() != id {
			continue
		}
		char := c.device.Characteristic(b.Service, b.Characteristic)
		if char == nil {
			return nil, nil, fmt.Errorf("entity %q is not exposed", id)
		}
		return b, char, nil
	}
	return nil, nil, fmt.Errorf("entity %q is not bound", id)
}

func (c *Console) read(id string) error {
	peer, err := c.connected()
	if err != nil {
		return err
	}
	_, char, err := c.binding(id)
	if err != nil {
		return err
	}
	value, status := peer.read(char)
	if status != ble.ErrSuccess {
		c.print(c.failure, "read %s: %s", id, status)
		return nil
	}
	c.print(c.result, "%s = %s", id, hex.EncodeToString(value))
	return nil
}

func (c *Console) write(id, text string) error {
	peer, err := c.connected()
	if err != nil {
		return err
	}
	_, char, err := c.binding(id)
	if err != nil {
		return err
	}

	data := []byte(text)
	if raw, ok := strings.CutPrefix(text, "0x"); ok {
		data, err = hex.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("invalid hex value %q", text)
		}
	}
	if status := peer.write(char, data); status != ble.ErrSuccess {
		c.print(c.failure, "write %s: %s", id, status)
		return nil
	}
	c.print(c.info, "write %s: ok", id)
	return nil
}

func (c *Console) printStates() {
	for _, e := range c.states.Entities() {
		text := hex.EncodeToString(e.Value())
		if c.opts.StateText != nil {
			text = c.opts.StateText(e)
		}
		c.print(c.result, "%s (%s) = %s", e.ID(), e.Name(), text)
	}
}

// Run reads console lines from in until EOF, :quit or ctx is done
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	if err := c.device.WaitAdvertising(ctx); err != nil {
		return err
	}
	c.print(c.info, "console ready, :help lists the console commands")

	lines := newLineReader(in)
	defer c.Disconnect()
	for {
		line, err := lines.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := c.Execute(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			c.print(c.failure, "%v", err)
		}
	}
}
