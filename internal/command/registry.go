package command

import (
	"regexp"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Built-in command ids. They are always available and cannot be registered or shadowed.
const (
	HelpID        = "help"
	BLEServicesID = "ble-services"
	WifiConfigID  = "wifi-config"
	PairingsID    = "pairings"
	VersionID     = "version"
	LogLevelID    = "log-level"
)

// BuiltinIDs lists the built-in commands in the order help presents them
var BuiltinIDs = []string{HelpID, BLEServicesID, WifiConfigID, PairingsID, VersionID, LogLevelID}

var validID = regexp.MustCompile(`^[a-z0-9-]+$`)

// Handler executes a command. args are the tokens following the command id, passed verbatim.
// Results go through out; a returned error (or panic) is reported to the peer as a generic failure.
type Handler func(args []string, out *ResultSender) error

// Descriptor is a registered command
type Descriptor struct {
	ID          string
	Description string
	Handler     Handler
}

// IsBuiltin reports whether id names a built-in command
func IsBuiltin(id string) bool {
	for _, b := range BuiltinIDs {
		if b == id {
			return true
		}
	}
	return false
}

// ValidateID checks an id against the command naming rules without registering it.
func ValidateID(id string) error {
	if IsBuiltin(id) {
		return &RegistrationError{Reason: ReservedID, ID: id}
	}
	if !validID.MatchString(id) {
		return &RegistrationError{Reason: InvalidID, ID: id}
	}
	return nil
}

// Registry holds the custom commands in registration order
type Registry struct {
	mu       sync.RWMutex
	commands *orderedmap.OrderedMap[string, Descriptor]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: orderedmap.New[string, Descriptor]()}
}

// Register adds a custom command.
// It fails with ErrReservedID, ErrInvalidID or ErrDuplicateID (see RegistrationError).
func (r *Registry) Register(id, description string, handler Handler) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands.Get(id); exists {
		return &RegistrationError{Reason: DuplicateID, ID: id}
	}
	r.commands.Set(id, Descriptor{ID: id, Description: description, Handler: handler})
	return nil
}

// Lookup returns the command registered under id
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands.Get(id)
}

// Descriptors returns the registered commands in registration order
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, r.commands.Len())
	for pair := r.commands.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of custom commands
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands.Len()
}
