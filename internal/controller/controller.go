// Package controller is the composition root of the BLE runtime. It owns the entity bindings,
// the maintenance service with its command dispatcher, the security state machine and the
// connection lifecycle notifier, and it is the single entry point for BLE stack callbacks.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/command"
	"github.com/srg/blectl/internal/gatt"
	"github.com/srg/blectl/internal/groutine"
	"github.com/srg/blectl/internal/lifecycle"
	"github.com/srg/blectl/internal/maintenance"
	"github.com/srg/blectl/internal/prefs"
	"github.com/srg/blectl/internal/security"
)

// Exposure names, also used as preference keys
const (
	MaintenanceExposure = "maintenance"
	ComponentsExposure  = "components"
)

// DeferredQueueSize bounds the work queued with ExecuteInLoop
const DeferredQueueSize = 16

var (
	// ErrAlreadyRunning is returned by Run when the controller is already running
	ErrAlreadyRunning = errors.New("controller is already running")
	// ErrLoopQueueFull is returned by ExecuteInLoop when the deferred queue is full
	ErrLoopQueueFull = errors.New("deferred execution queue is full")
)

// Device is the part of a go-ble peripheral the controller drives
type Device interface {
	SetServices(svcs []*ble.Service) error
	AdvertiseNameAndServices(ctx context.Context, name string, ss ...ble.UUID) error
}

// Controller wires configuration into the runtime components and serves the BLE stack
type Controller struct {
	cfg    Config
	device Device
	logger *logrus.Logger

	entities    *gatt.Registry
	maintenance *maintenance.Service
	logs        *maintenance.LogStream
	maintExp    *maintenance.Exposure
	compExp     *maintenance.Exposure
	dispatcher  *command.Dispatcher
	security    *security.Controller
	lifecycle   *lifecycle.Notifier
	prefs       *prefs.Store

	deferred        mpmc.RingBuffer[func()]
	wakeLoop        chan struct{}
	servicesChanged chan struct{}
	running         atomic.Bool

	connMu       sync.Mutex
	conns        map[string]*link
	nextInstance uint64
	runCtx       context.Context
}

// New builds the controller. Configuration errors (security listeners, command ids) fail here;
// binding errors are logged and the offending binding is skipped.
func New(cfg Config, device Device, logger *logrus.Logger) (*Controller, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if device == nil {
		return nil, fmt.Errorf("controller needs a BLE device")
	}
	cfg.applyDefaults()

	c := &Controller{
		cfg:             cfg,
		device:          device,
		logger:          logger,
		prefs:           cfg.Prefs,
		lifecycle:       lifecycle.NewNotifier(logger),
		deferred:        mpmc.New[func()](DeferredQueueSize),
		wakeLoop:        make(chan struct{}, 1),
		servicesChanged: make(chan struct{}, 1),
		conns:           make(map[string]*link),
	}

	var err error
	c.security, err = security.NewController(cfg.SecurityMode, cfg.SecurityHandlers, cfg.Prefs, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid security configuration: %w", err)
	}

	c.lifecycle.OnConnected(cfg.OnConnected)
	c.lifecycle.OnDisconnected(cfg.OnDisconnected)

	c.maintExp = c.newExposure(MaintenanceExposure, cfg.Maintenance)
	c.compExp = c.newExposure(ComponentsExposure, true)

	level := cfg.LogLevel
	if stored, ok := cfg.Prefs.LogLevel(); ok {
		level = stored
	}
	c.logs = maintenance.NewLogStream(logger, level, cfg.LogBufferSize)
	c.logs.OnLevelChange(func(level int) {
		if err := c.prefs.SetLogLevel(level); err != nil {
			c.logger.WithError(err).Warn("Failed to store log level")
		}
	})

	c.maintenance, err = maintenance.NewService(maintenance.Options{
		Dispatch:    c.Dispatch,
		Maintenance: c.maintExp,
		Components:  c.compExp,
		Logs:        c.logs,
		Guard:       c.guard,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance service: %w", err)
	}

	registry := command.NewRegistry()
	for _, desc := range cfg.Commands {
		if err := registry.Register(desc.ID, desc.Description, desc.Handler); err != nil {
			return nil, fmt.Errorf("invalid command configuration: %w", err)
		}
	}

	host := command.Host{
		Version:  cfg.Version,
		Services: c,
		Pairings: c.security,
		LogLevel: c.logs,
	}
	if cfg.Wifi != nil {
		host.Wifi = c
	}
	sender := command.NewResultSender(c.maintenance.CommandChannel(), cfg.PayloadLimit, logger)
	c.dispatcher = command.NewDispatcher(registry, sender, host, logger)

	c.entities = gatt.NewRegistry(nil, c.guard, logger)
	for _, spec := range cfg.Bindings {
		// binding errors skip the binding, the rest of the device keeps working
		_ = c.Bind(spec)
	}

	return c, nil
}

func (c *Controller) newExposure(name string, initial bool) *maintenance.Exposure {
	if stored, ok := c.prefs.Exposure(name); ok {
		initial = stored
	}
	exp := maintenance.NewExposure(name, initial, c.logger)
	exp.OnChange(func(on bool) {
		if err := c.prefs.SetExposure(name, on); err != nil {
			c.logger.WithError(err).WithField("exposure", name).Warn("Failed to store service exposure")
		}
		select {
		case c.servicesChanged <- struct{}{}:
		default:
		}
	})
	return exp
}

// Bind exposes an entity. It fails once advertising started (gatt.ErrLateBinding).
func (c *Controller) Bind(spec BindingSpec) error {
	if spec.Entity == nil {
		err := fmt.Errorf("binding %s/%s has no entity", spec.Service, spec.Characteristic)
		c.logger.WithError(err).Error("Skipping binding")
		return err
	}
	if _, err := c.entities.Bind(spec.Entity, spec.Service, spec.Characteristic, spec.Notify); err != nil {
		c.logger.WithError(err).WithField("entity", spec.Entity.ID()).Error("Skipping binding")
		return err
	}
	return nil
}

// Dispatch runs a maintenance command line as if a peer wrote it
func (c *Controller) Dispatch(text string) {
	c.dispatcher.Dispatch(text)
}

// Commands lists the built-in and configured commands
func (c *Controller) Commands() []command.Descriptor {
	return c.dispatcher.Commands()
}

// Entities returns the entity bindings in registration order
func (c *Controller) Entities() []*gatt.Binding {
	return c.entities.Bindings()
}

// Security returns the pairing state machine
func (c *Controller) Security() *security.Controller {
	return c.security
}

// Maintenance returns the maintenance service
func (c *Controller) Maintenance() *maintenance.Service {
	return c.maintenance
}

// MaintenanceExposure returns the maintenance service exposure toggle
func (c *Controller) MaintenanceExposure() *maintenance.Exposure {
	return c.maintExp
}

// ComponentsExposure returns the component services exposure toggle
func (c *Controller) ComponentsExposure() *maintenance.Exposure {
	return c.compExp
}

// LogStream returns the maintenance log stream
func (c *Controller) LogStream() *maintenance.LogStream {
	return c.logs
}

// Services returns the services currently exposed: the maintenance service first, then the
// entity services
func (c *Controller) Services() []*ble.Service {
	var svcs []*ble.Service
	if c.maintExp.On() {
		svcs = append(svcs, c.maintenance.BLEService())
	}
	if c.compExp.On() {
		svcs = append(svcs, c.entities.Table().Services()...)
	}
	return svcs
}

// Run freezes the service table, starts advertising and serves deferred work until ctx is done
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.entities.Table().Freeze()
	c.DumpConfig()

	c.connMu.Lock()
	c.runCtx = ctx
	c.connMu.Unlock()

	workers := groutine.NewGroup(ctx)
	workers.Go("maintenance-log", c.maintenance.Run)
	workers.Go("advertising", c.advertise)

	c.loop(ctx)
	workers.Wait()
	c.logger.Info("Controller stopped")
	return nil
}

// Running reports whether Run is active
func (c *Controller) Running() bool {
	return c.running.Load()
}

// DumpConfig logs the effective configuration
func (c *Controller) DumpConfig() {
	c.logger.WithFields(logrus.Fields{
		"name":          c.cfg.Name,
		"version":       c.cfg.Version,
		"security_mode": c.security.Mode(),
		"maintenance":   c.maintExp.On(),
		"components":    c.compExp.On(),
		"log_level":     c.logs.LogLevel(),
		"payload_limit": c.cfg.PayloadLimit,
		"preferences":   c.prefs.Path(),
	}).Info("BLE controller configuration")

	for _, b := range c.entities.Bindings() {
		c.logger.WithFields(logrus.Fields{
			"entity":         b.Entity.ID(),
			"service":        b.Service,
			"characteristic": b.Characteristic,
			"notify":         b.Notify,
			"writable":       b.Writable(),
		}).Info("BLE characteristic")
	}
	for _, desc := range c.dispatcher.Registry().Descriptors() {
		c.logger.WithField("command", desc.ID).Info("BLE command")
	}
}
