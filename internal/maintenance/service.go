package maintenance

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/entity"
	"github.com/srg/blectl/internal/gatt"
)

// Maintenance service and characteristic UUIDs
const (
	ServiceUUID                = "7b691dff-9062-4192-b46a-692e0da81d91"
	CommandCharacteristicUUID  = "2b9f4e3c-87a5-4c4b-9d1e-2f0c6a1b5e77"
	ModeCharacteristicUUID     = "9484a6ab-54c9-4432-bff9-13bada528ab7"
	LogCharacteristicUUID      = "a1083f3b-0ad6-49e0-8a9d-56eb5bf462ca"
	LogLevelCharacteristicUUID = "d2af61d2-5086-4a99-94e9-6638edc3d14c"
)

const (
	commandEntityID  = "maintenance-command"
	modeEntityID     = "maintenance-mode"
	logEntityID      = "maintenance-log"
	logLevelEntityID = "maintenance-log-level"
)

// Mode is the BLE mode bit set: which service groups are exposed
type Mode uint8

const (
	ModeMaintenanceService Mode = 1
	ModeComponentServices  Mode = 2
	ModeAll                Mode = ModeMaintenanceService | ModeComponentServices
)

// Options wires the maintenance service to the rest of the controller
type Options struct {
	// Dispatch runs a command line written to the command characteristic
	Dispatch func(text string)
	// Maintenance and Components are the exposure flags controlled by the mode characteristic
	Maintenance *Exposure
	Components  *Exposure
	// Logs feeds the log characteristic; nil disables log streaming
	Logs  *LogStream
	Guard gatt.Guard
}

// Service is the maintenance GATT service
type Service struct {
	registry *gatt.Registry
	command  *gatt.Binding
	logText  *entity.TextSensor
	logs     *LogStream
	logger   *logrus.Logger
}

// NewService builds the maintenance service with its own service table
func NewService(opts Options, logger *logrus.Logger) (*Service, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Dispatch == nil {
		return nil, fmt.Errorf("maintenance service needs a command dispatcher")
	}
	if opts.Maintenance == nil || opts.Components == nil {
		return nil, fmt.Errorf("maintenance service needs both exposure flags")
	}

	s := &Service{
		registry: gatt.NewRegistry(nil, opts.Guard, logger),
		logs:     opts.Logs,
		logger:   logger,
	}

	var err error
	s.command, err = s.registry.Bind(&commandEntity{dispatch: opts.Dispatch}, ServiceUUID, CommandCharacteristicUUID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to bind command characteristic: %w", err)
	}

	mode := &modeEntity{maintenance: opts.Maintenance, components: opts.Components}
	if _, err := s.registry.Bind(mode, ServiceUUID, ModeCharacteristicUUID, true); err != nil {
		return nil, fmt.Errorf("failed to bind mode characteristic: %w", err)
	}

	if opts.Logs != nil {
		s.logText = entity.NewTextSensor(logEntityID, "Log messages")
		if _, err := s.registry.Bind(s.logText, ServiceUUID, LogCharacteristicUUID, true); err != nil {
			return nil, fmt.Errorf("failed to bind log characteristic: %w", err)
		}
		if _, err := s.registry.Bind(&logLevelEntity{logs: opts.Logs}, ServiceUUID, LogLevelCharacteristicUUID, true); err != nil {
			return nil, fmt.Errorf("failed to bind log level characteristic: %w", err)
		}
	}

	s.registry.Table().Freeze()
	return s, nil
}

// CommandChannel is where command results are published
func (s *Service) CommandChannel() *gatt.Binding {
	return s.command
}

// BLEService returns the go-ble service to register with the device
func (s *Service) BLEService() *ble.Service {
	return s.registry.Table().Services()[0]
}

// UUID returns the service UUID
func (s *Service) UUID() ble.UUID {
	return s.BLEService().UUID
}

// Run streams log lines to the log characteristic until ctx is done
func (s *Service) Run(ctx context.Context) {
	if s.logs == nil {
		<-ctx.Done()
		return
	}
	s.logs.Run(ctx, s.logText.Publish)
}

// commandEntity turns writes into command dispatches; results are published on the binding
type commandEntity struct {
	dispatch func(text string)
}

func (c *commandEntity) ID() string                 { return commandEntityID }
func (c *commandEntity) Name() string               { return "Command (write 'help' for a list)" }
func (c *commandEntity) Value() []byte              { return nil }
func (c *commandEntity) Observe(func(value []byte)) {}

func (c *commandEntity) Apply(data []byte) error {
	c.dispatch(string(data))
	return nil
}

// modeEntity exposes both exposure flags as the BLE mode bit set
type modeEntity struct {
	maintenance *Exposure
	components  *Exposure
}

func (m *modeEntity) ID() string   { return modeEntityID }
func (m *modeEntity) Name() string { return "BLE Mode (1=maintenance, 2=components, 3=all)" }

func (m *modeEntity) mode() Mode {
	var mode Mode
	if m.maintenance.On() {
		mode |= ModeMaintenanceService
	}
	if m.components.On() {
		mode |= ModeComponentServices
	}
	return mode
}

func (m *modeEntity) Value() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(m.mode()))
	return b
}

func (m *modeEntity) Observe(fn func(value []byte)) {
	publish := func(bool) { fn(m.Value()) }
	m.maintenance.OnChange(publish)
	m.components.OnChange(publish)
}

func (m *modeEntity) Apply(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("%w: BLE mode is a single byte", entity.ErrInvalidValue)
	}
	mode := Mode(data[0])
	if mode == 0 || mode > ModeAll {
		return fmt.Errorf("%w: BLE mode %d (expected 1, 2 or 3)", entity.ErrInvalidValue, mode)
	}
	m.components.Set(mode&ModeComponentServices != 0)
	m.maintenance.Set(mode&ModeMaintenanceService != 0)
	return nil
}

// logLevelEntity exposes the log stream level as a single byte
type logLevelEntity struct {
	logs *LogStream
}

func (l *logLevelEntity) ID() string    { return logLevelEntityID }
func (l *logLevelEntity) Name() string  { return "Log level (0=None, 4=Config, 5=Debug)" }
func (l *logLevelEntity) Value() []byte { return []byte{byte(l.logs.LogLevel())} }

func (l *logLevelEntity) Observe(fn func(value []byte)) {
	l.logs.OnLevelChange(func(level int) { fn([]byte{byte(level)}) })
}

func (l *logLevelEntity) Apply(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("%w: log level is a single byte", entity.ErrInvalidValue)
	}
	return l.logs.SetLogLevel(int(data[0]))
}
