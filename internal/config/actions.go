package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/command"
)

// ble_maintenance operations
const (
	MaintenanceToggle  = "toggle"
	MaintenanceTurnOn  = "turn_on"
	MaintenanceTurnOff = "turn_off"
)

// Action is one automation step. Exactly one field is set.
//
// Text fields expand $name and ${name} from the event variables: positional command arguments
// ($1, $2, ...), $args, $pass_key, $success, $peer, $ssid, $hidden, $value and $entity.
type Action struct {
	Log            string            `yaml:"log"`
	SendResult     *SendResultAction `yaml:"send_result"`
	Lua            string            `yaml:"lua"`
	BLEMaintenance string            `yaml:"ble_maintenance"`
}

// SendResultAction formats a result for the maintenance channel. Args starting with '@' are
// replaced by the named entity's state; the rest are expanded like any action text.
type SendResultAction struct {
	Format string   `yaml:"format"`
	Args   []string `yaml:"args"`
}

func (a Action) kind() (string, error) {
	var set []string
	if a.Log != "" {
		set = append(set, "log")
	}
	if a.SendResult != nil {
		set = append(set, "send_result")
	}
	if a.Lua != "" {
		set = append(set, "lua")
	}
	if a.BLEMaintenance != "" {
		set = append(set, "ble_maintenance")
	}
	switch len(set) {
	case 0:
		return "", fmt.Errorf("empty action")
	case 1:
		return set[0], nil
	default:
		return "", fmt.Errorf("action sets %s, expected exactly one", strings.Join(set, " and "))
	}
}

type actionScope int

const (
	commandScope actionScope = iota
	listenerScope
)

func validateActions(where string, actions []Action, scope actionScope, entities map[string]string, lua *luaChecker) []error {
	var errs []error
	for i, a := range actions {
		at := fmt.Sprintf("%s[%d]", where, i)
		kind, err := a.kind()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", at, err))
			continue
		}
		switch kind {
		case "send_result":
			if scope != commandScope {
				errs = append(errs, fmt.Errorf("%s: send_result is only allowed in a command's on_execute", at))
				continue
			}
			if err := command.CheckArity(a.SendResult.Format, len(a.SendResult.Args)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", at, err))
			}
			for _, arg := range a.SendResult.Args {
				if id, ok := strings.CutPrefix(arg, "@"); ok {
					if _, known := entities[id]; !known {
						errs = append(errs, fmt.Errorf("%s: unknown entity %q", at, id))
					}
				}
			}
		case "lua":
			if err := lua.check(a.Lua); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", at, err))
			}
		case "ble_maintenance":
			switch a.BLEMaintenance {
			case MaintenanceToggle, MaintenanceTurnOn, MaintenanceTurnOff:
			default:
				errs = append(errs, fmt.Errorf("%s: ble_maintenance must be toggle, turn_on or turn_off, got %q", at, a.BLEMaintenance))
			}
		}
	}
	return errs
}

// luaChecker compiles scripts in a scratch engine to surface syntax errors at validation time
type luaChecker struct {
	engine *command.LuaEngine
	n      int
}

func newLuaChecker() *luaChecker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &luaChecker{engine: command.NewLuaEngine(logger)}
}

func (c *luaChecker) check(script string) error {
	c.n++
	return c.engine.Compile(fmt.Sprintf("check-%d", c.n), script)
}

func (c *luaChecker) close() {
	c.engine.Close()
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return v, nil
}

func formatBool(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// parseInitial converts an initial state for the scalar entity kinds
func parseInitial(kind, text string) (any, error) {
	switch kind {
	case KindSensor:
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
		if err != nil {
			return nil, fmt.Errorf("initial: invalid number %q", text)
		}
		return float32(v), nil
	case KindBinarySensor, KindSwitch:
		v, err := parseBool(text)
		if err != nil {
			return nil, fmt.Errorf("initial: %w", err)
		}
		return v, nil
	case KindTextSensor:
		return text, nil
	}
	return nil, fmt.Errorf("kind %q has no scalar initial state", kind)
}
