package command

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

const luaPrelude = `
__commands = {}
function send_result(fmt, ...)
  __send(string.format(fmt, ...))
end
`

// LuaError represents a Lua load or execution failure
type LuaError struct {
	Type    string // "syntax", "runtime"
	Command string
	Message string
	Line    int
}

func (e *LuaError) Error() string {
	parts := []string{}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command %s", e.Command))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := fmt.Sprintf("Lua %s error", e.Type)
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s (%s)", prefix, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *LuaError) Is(target error) bool {
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// LuaEngine runs command handlers written in Lua. Each command body is compiled into a
// function receiving the argument list as the table `args`; the body reports results with
// send_result(fmt, ...), print(...) or by returning a string.
type LuaEngine struct {
	stateMutex sync.Mutex
	state      *lua.State
	logger     *logrus.Logger

	// result sender of the command currently executing; guarded by stateMutex
	out *ResultSender
}

// NewLuaEngine creates an engine with the standard libraries opened
func NewLuaEngine(logger *logrus.Logger) *LuaEngine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &LuaEngine{logger: logger}

	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerOutputInternal()
	if err := e.state.DoString(luaPrelude); err != nil {
		logger.WithError(err).Error("Failed to load Lua command prelude")
	}
	return e
}

func (e *LuaEngine) doWithState(callback func(L *lua.State) error) error {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state == nil {
		return fmt.Errorf("lua state closed")
	}
	return callback(e.state)
}

func (e *LuaEngine) registerOutputInternal() {
	send := func(text string) {
		if e.out != nil {
			e.out.SendString(text)
			return
		}
		e.logger.WithField("lua", text).Info("Lua output")
	}

	e.state.PushGoFunction(func(L *lua.State) int {
		send(L.ToString(1))
		return 0
	})
	e.state.SetGlobal("__send")

	// print joins its arguments with tabs like the stock implementation
	e.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i), L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				parts = append(parts, L.Typename(int(L.Type(i))))
			}
		}
		send(strings.Join(parts, "\t"))
		return 0
	})
	e.state.SetGlobal("print")
}

// parseLuaErrorInternal extracts line and message from the error on top of the stack
func (e *LuaEngine) parseLuaErrorInternal(errType, command string) *LuaError {
	L := e.state
	errMsg := "unknown Lua error"
	if L.GetTop() > 0 {
		if L.IsString(-1) {
			errMsg = L.ToString(-1)
		}
		L.Pop(1)
	}

	line := 0
	message := errMsg
	parts := strings.SplitN(errMsg, ":", 3)
	if len(parts) == 3 {
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			message = strings.TrimSpace(parts[2])
		}
	}
	return &LuaError{Type: errType, Command: command, Message: message, Line: line}
}

// Compile registers script as the body of command id. Syntax errors are reported here,
// so configuration problems surface before the controller starts.
func (e *LuaEngine) Compile(id, script string) error {
	if !validID.MatchString(id) {
		return &RegistrationError{Reason: InvalidID, ID: id}
	}
	chunk := fmt.Sprintf("__commands[\"%s\"] = function(args)\n%s\nend", id, script)

	return e.doWithState(func(L *lua.State) error {
		if status := L.LoadString(chunk); status != 0 {
			return e.parseLuaErrorInternal("syntax", id)
		}
		if err := L.Call(0, 0); err != nil {
			return &LuaError{Type: "runtime", Command: id, Message: err.Error()}
		}
		e.logger.WithField("command", id).Debug("Lua command compiled")
		return nil
	})
}

// Handler returns a command handler running the compiled body of id
func (e *LuaEngine) Handler(id string) Handler {
	return func(args []string, out *ResultSender) error {
		return e.invoke(id, out, func(L *lua.State) {
			for i, arg := range args {
				L.PushInteger(int64(i + 1))
				L.PushString(arg)
				L.SetTable(-3)
			}
		})
	}
}

// Run executes the compiled body of id outside of a command. The body sees vars as fields
// of args; its output goes to the log.
func (e *LuaEngine) Run(id string, vars map[string]string) error {
	return e.invoke(id, nil, func(L *lua.State) {
		for k, v := range vars {
			L.PushString(k)
			L.PushString(v)
			L.SetTable(-3)
		}
	})
}

func (e *LuaEngine) invoke(id string, out *ResultSender, fillArgs func(L *lua.State)) error {
	return e.doWithState(func(L *lua.State) error {
		e.out = out
		defer func() { e.out = nil }()

		top := L.GetTop()
		defer L.SetTop(top)

		L.GetGlobal("__commands")
		L.GetField(-1, id)
		if !L.IsFunction(-1) {
			return &LuaError{Type: "runtime", Command: id, Message: "command not compiled"}
		}

		L.NewTable()
		fillArgs(L)

		if err := L.Call(1, 1); err != nil {
			return &LuaError{Type: "runtime", Command: id, Message: err.Error()}
		}
		if L.IsString(-1) && !L.IsNumber(-1) {
			if out != nil {
				out.SendString(L.ToString(-1))
			} else {
				e.logger.WithField("lua", L.ToString(-1)).Info("Lua output")
			}
		}
		return nil
	})
}

// Close releases the Lua state
func (e *LuaEngine) Close() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}
