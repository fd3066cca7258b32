package command

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Dispatcher parses maintenance channel text and runs the selected command.
// Built-ins are resolved before custom commands and cannot be shadowed.
type Dispatcher struct {
	builtins *orderedmap.OrderedMap[string, Descriptor]
	registry *Registry
	sender   *ResultSender
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher over registry. The built-in commands are backed by host.
func NewDispatcher(registry *Registry, sender *ResultSender, host Host, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	d := &Dispatcher{
		builtins: orderedmap.New[string, Descriptor](),
		registry: registry,
		sender:   sender,
		logger:   logger,
	}
	d.installBuiltins(host)
	return d
}

// Registry returns the custom command registry
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Sender returns the result sender handlers write to
func (d *Dispatcher) Sender() *ResultSender {
	return d.sender
}

// Commands returns the built-ins followed by the custom commands in registration order
func (d *Dispatcher) Commands() []Descriptor {
	out := make([]Descriptor, 0, d.builtins.Len()+d.registry.Len())
	for pair := d.builtins.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return append(out, d.registry.Descriptors()...)
}

// Lookup resolves id, built-ins first
func (d *Dispatcher) Lookup(id string) (Descriptor, bool) {
	if desc, ok := d.builtins.Get(id); ok {
		return desc, true
	}
	return d.registry.Lookup(id)
}

// Dispatch tokenizes raw on whitespace and runs the command named by the first token.
// Failures are reported through the result sender and never escape to the caller.
func (d *Dispatcher) Dispatch(raw string) {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		d.logger.Debug("Ignoring empty command")
		return
	}

	id := strings.ToLower(tokens[0])
	args := tokens[1:]
	logger := d.logger.WithFields(logrus.Fields{
		"command": id,
		"args":    len(args),
	})

	desc, ok := d.Lookup(id)
	if !ok {
		logger.Warn("Unknown command")
		d.sender.SendString(fmt.Sprintf("Command '%s' not found, 'help' lists the available commands.", id))
		return
	}

	logger.Info("Executing command")
	if err := d.run(desc, args); err != nil {
		logger.WithError(err).Error("Command failed")
		d.sender.SendString(fmt.Sprintf("Command '%s' failed.", id))
	}
}

func (d *Dispatcher) run(desc Descriptor, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", desc.ID, r)
		}
	}()
	if desc.Handler == nil {
		return fmt.Errorf("command %s has no handler", desc.ID)
	}
	return desc.Handler(args, d.sender)
}
