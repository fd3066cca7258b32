package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blectl/internal/command"
	"github.com/srg/blectl/internal/controller"
	"github.com/srg/blectl/internal/entity"
	"github.com/srg/blectl/internal/gatt"
	"github.com/srg/blectl/internal/maintenance"
	"github.com/srg/blectl/internal/prefs"
	"github.com/srg/blectl/internal/security"
)

// ErrNotAttached is returned by ble_maintenance actions that run before Attach
var ErrNotAttached = errors.New("no controller attached")

// Runtime is a built device description: the controller configuration plus the entities and
// the action machinery behind its commands and listeners
type Runtime struct {
	Config controller.Config

	entities *orderedmap.OrderedMap[string, gatt.Entity]
	lua      *command.LuaEngine
	logger   *logrus.Logger
	luaIDs   int

	mu   sync.RWMutex
	ctrl *controller.Controller
}

// invocation carries the inputs of one action run. out is nil outside commands.
type invocation struct {
	args []string
	vars map[string]string
	out  *command.ResultSender
}

type step func(inv invocation) error

// Build validates f and turns it into a Runtime. The returned runtime owns a Lua state;
// call Close when done.
func (f *File) Build(logger *logrus.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		entities: orderedmap.New[string, gatt.Entity](),
		lua:      command.NewLuaEngine(logger),
		logger:   logger,
	}
	if err := r.build(f); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) build(f *File) error {
	mode, err := security.ParseMode(f.SecurityMode)
	if err != nil {
		return err
	}
	logLevel, err := maintenance.ParseLevel(f.MaintenanceLogLevel)
	if err != nil {
		return err
	}

	store := prefs.Memory()
	if f.Preferences != "" {
		store, err = prefs.Open(expandHome(f.Preferences), r.logger)
		if err != nil {
			return err
		}
	}

	r.Config = controller.Config{
		Name:          f.Name,
		Version:       f.Version,
		SecurityMode:  mode,
		Maintenance:   f.Maintenance,
		PayloadLimit:  f.PayloadLimit,
		LogLevel:      logLevel,
		LogBufferSize: f.LogBufferSize,
		Prefs:         store,
	}

	for _, ec := range f.Entities {
		e, err := r.newEntity(ec)
		if err != nil {
			return fmt.Errorf("entity %s: %w", ec.ID, err)
		}
		r.entities.Set(ec.ID, e)
	}

	for _, svc := range f.Services {
		for _, ch := range svc.Characteristics {
			e, _ := r.entities.Get(ch.Exposes)
			r.Config.Bindings = append(r.Config.Bindings, controller.BindingSpec{
				Entity:         e,
				Service:        svc.Service,
				Characteristic: ch.Characteristic,
				Notify:         ch.Notify,
			})
		}
	}

	for _, cc := range f.Commands {
		run, err := r.compile(cc.OnExecute)
		if err != nil {
			return fmt.Errorf("command %s: %w", cc.Command, err)
		}
		r.Config.Commands = append(r.Config.Commands, command.Descriptor{
			ID:          cc.Command,
			Description: cc.Description,
			Handler:     commandHandler(cc.Command, run),
		})
	}

	return r.buildListeners(f)
}

func (r *Runtime) buildListeners(f *File) error {
	passKey, err := r.compile(f.OnShowPassKey)
	if err != nil {
		return fmt.Errorf("on_show_pass_key: %w", err)
	}
	auth, err := r.compile(f.OnAuthenticationComplete)
	if err != nil {
		return fmt.Errorf("on_authentication_complete: %w", err)
	}
	connected, err := r.compile(f.OnConnected)
	if err != nil {
		return fmt.Errorf("on_connected: %w", err)
	}
	disconnected, err := r.compile(f.OnDisconnected)
	if err != nil {
		return fmt.Errorf("on_disconnected: %w", err)
	}
	wifi, err := r.compile(f.OnWifiCredentials)
	if err != nil {
		return fmt.Errorf("on_wifi_credentials: %w", err)
	}

	if passKey != nil {
		r.Config.SecurityHandlers.OnPassKey = func(key uint32) {
			r.fire("on_show_pass_key", passKey, map[string]string{"pass_key": security.FormatPassKey(key)})
		}
	}
	if auth != nil {
		r.Config.SecurityHandlers.OnAuthenticationComplete = func(success bool) {
			r.fire("on_authentication_complete", auth, map[string]string{"success": strconv.FormatBool(success)})
		}
	}
	if connected != nil {
		r.Config.OnConnected = func(peer string) {
			r.fire("on_connected", connected, map[string]string{"peer": peer})
		}
	}
	if disconnected != nil {
		r.Config.OnDisconnected = func(peer string) {
			r.fire("on_disconnected", disconnected, map[string]string{"peer": peer})
		}
	}
	if f.WifiConfig || wifi != nil {
		r.Config.Wifi = func(creds *prefs.WifiCredentials) error {
			vars := map[string]string{"ssid": "", "hidden": "false"}
			if creds != nil {
				vars["ssid"] = creds.SSID
				vars["hidden"] = strconv.FormatBool(creds.Hidden)
			}
			if wifi == nil {
				return nil
			}
			return wifi(invocation{vars: vars})
		}
	}
	return nil
}

func (r *Runtime) fire(event string, run step, vars map[string]string) {
	if err := run(invocation{vars: vars}); err != nil {
		r.logger.WithError(err).WithField("event", event).Error("Listener action failed")
	}
}

func commandHandler(id string, run step) command.Handler {
	return func(args []string, out *command.ResultSender) error {
		vars := map[string]string{
			"command": id,
			"args":    strings.Join(args, " "),
		}
		for i, a := range args {
			vars[strconv.Itoa(i+1)] = a
		}
		if run == nil {
			return nil
		}
		return run(invocation{args: args, vars: vars, out: out})
	}
}

// compile turns an action list into one step running the actions in order until one fails.
// An empty list compiles to nil.
func (r *Runtime) compile(actions []Action) (step, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	steps := make([]step, 0, len(actions))
	for _, a := range actions {
		s, err := r.compileAction(a)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return func(inv invocation) error {
		for _, s := range steps {
			if err := s(inv); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (r *Runtime) compileAction(a Action) (step, error) {
	kind, err := a.kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case "log":
		text := a.Log
		return func(inv invocation) error {
			r.logger.WithField("action", "log").Info(expand(text, inv.vars))
			return nil
		}, nil

	case "send_result":
		format, args := a.SendResult.Format, a.SendResult.Args
		return func(inv invocation) error {
			if inv.out == nil {
				return fmt.Errorf("send_result outside of a command")
			}
			values := make([]string, len(args))
			for i, arg := range args {
				v, err := r.resolveArg(arg, inv.vars)
				if err != nil {
					return err
				}
				values[i] = v
			}
			converted, err := command.ConvertArgs(format, values)
			if err != nil {
				return err
			}
			inv.out.Send(format, converted...)
			return nil
		}, nil

	case "lua":
		r.luaIDs++
		id := fmt.Sprintf("lua-%d", r.luaIDs)
		if err := r.lua.Compile(id, a.Lua); err != nil {
			return nil, err
		}
		handler := r.lua.Handler(id)
		return func(inv invocation) error {
			if inv.out != nil {
				return handler(inv.args, inv.out)
			}
			return r.lua.Run(id, inv.vars)
		}, nil

	case "ble_maintenance":
		op := a.BLEMaintenance
		return func(invocation) error {
			return r.maintenance(op)
		}, nil
	}
	return nil, fmt.Errorf("unsupported action %q", kind)
}

// maintenance switches the maintenance service exposure on the controller loop
func (r *Runtime) maintenance(op string) error {
	r.mu.RLock()
	ctrl := r.ctrl
	r.mu.RUnlock()
	if ctrl == nil {
		return ErrNotAttached
	}

	exp := ctrl.MaintenanceExposure()
	return ctrl.ExecuteInLoop(func() {
		switch op {
		case MaintenanceToggle:
			exp.Toggle()
		case MaintenanceTurnOn:
			exp.TurnOn()
		case MaintenanceTurnOff:
			exp.TurnOff()
		}
	})
}

func (r *Runtime) resolveArg(arg string, vars map[string]string) (string, error) {
	id, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return expand(arg, vars), nil
	}
	e, found := r.entities.Get(id)
	if !found {
		return "", fmt.Errorf("unknown entity %q", id)
	}
	return EntityState(e), nil
}

// Attach connects the runtime to the controller built from its Config
func (r *Runtime) Attach(ctrl *controller.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctrl = ctrl
}

// Entity returns a declared entity by id
func (r *Runtime) Entity(id string) (gatt.Entity, bool) {
	return r.entities.Get(id)
}

// Entities returns the declared entities in declaration order
func (r *Runtime) Entities() []gatt.Entity {
	out := make([]gatt.Entity, 0, r.entities.Len())
	for pair := r.entities.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Close releases the Lua state
func (r *Runtime) Close() {
	if r.lua != nil {
		r.lua.Close()
		r.lua = nil
	}
}

func (r *Runtime) newEntity(ec EntityConfig) (gatt.Entity, error) {
	var initial any
	if ec.Initial != "" && ec.Kind != KindFan {
		v, err := parseInitial(ec.Kind, ec.Initial)
		if err != nil {
			return nil, err
		}
		initial = v
	}

	onWrite, err := r.compile(ec.OnWrite)
	if err != nil {
		return nil, fmt.Errorf("on_write: %w", err)
	}
	writeVars := func(value string) map[string]string {
		return map[string]string{"entity": ec.ID, "value": value}
	}

	switch ec.Kind {
	case KindSensor:
		e := entity.NewSensor(ec.ID, ec.Name)
		if initial != nil {
			e.Publish(initial.(float32))
		}
		return e, nil
	case KindBinarySensor:
		e := entity.NewBinarySensor(ec.ID, ec.Name)
		if initial != nil {
			e.Publish(initial.(bool))
		}
		return e, nil
	case KindTextSensor:
		e := entity.NewTextSensor(ec.ID, ec.Name)
		if initial != nil {
			e.Publish(initial.(string))
		}
		return e, nil
	case KindSwitch:
		var hook func(on bool) error
		if onWrite != nil {
			hook = func(on bool) error {
				return onWrite(invocation{vars: writeVars(formatBool(on))})
			}
		}
		e := entity.NewSwitch(ec.ID, ec.Name, hook)
		if initial != nil {
			e.Publish(initial.(bool))
		}
		return e, nil
	case KindFan:
		traits := entity.FanTraits{SpeedCount: ec.SpeedCount, Oscillation: ec.Oscillation, Direction: ec.Direction}
		var hook func(entity.FanState) error
		if onWrite != nil {
			hook = func(st entity.FanState) error {
				vars := writeVars(formatBool(st.On))
				vars["speed"] = strconv.Itoa(st.Speed)
				vars["oscillating"] = formatBool(st.Oscillating)
				vars["direction"] = "forward"
				if st.Direction == entity.FanReverse {
					vars["direction"] = "reverse"
				}
				return onWrite(invocation{vars: vars})
			}
		}
		e := entity.NewFan(ec.ID, ec.Name, traits, hook)
		if ec.Initial != "" {
			on, err := parseBool(ec.Initial)
			if err != nil {
				return nil, err
			}
			e.Publish(entity.FanState{On: on})
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown kind %q", ec.Kind)
}

// EntityState renders an entity's current state as text: numbers in shortest form, booleans
// as on/off, text and fans as they read over BLE
func EntityState(e gatt.Entity) string {
	switch v := e.(type) {
	case *entity.Sensor:
		return strconv.FormatFloat(float64(v.State()), 'f', -1, 32)
	case *entity.BinarySensor:
		return formatBool(v.State())
	case *entity.Switch:
		return formatBool(v.State())
	case *entity.TextSensor:
		return v.State()
	default:
		return string(e.Value())
	}
}

func expand(text string, vars map[string]string) string {
	return os.Expand(text, func(name string) string {
		return vars[name]
	})
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// SetState publishes a new state for an entity, parsed like an initial value. Fans take
// on/off and keep their other settings.
func (r *Runtime) SetState(id, text string) error {
	e, ok := r.entities.Get(id)
	if !ok {
		return fmt.Errorf("unknown entity %q", id)
	}
	switch v := e.(type) {
	case *entity.Sensor:
		parsed, err := parseInitial(KindSensor, text)
		if err != nil {
			return err
		}
		v.Publish(parsed.(float32))
	case *entity.BinarySensor:
		on, err := parseBool(text)
		if err != nil {
			return err
		}
		v.Publish(on)
	case *entity.Switch:
		on, err := parseBool(text)
		if err != nil {
			return err
		}
		v.Publish(on)
	case *entity.TextSensor:
		v.Publish(text)
	case *entity.Fan:
		on, err := parseBool(text)
		if err != nil {
			return err
		}
		state := v.State()
		state.On = on
		v.Publish(state)
	default:
		return fmt.Errorf("entity %q does not accept a state", id)
	}
	return nil
}
