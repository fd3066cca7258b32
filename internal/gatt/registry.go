package gatt

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type bindingKey struct {
	service        string
	characteristic string
}

// Registry maps entities to their GATT identity. It is populated during setup and read-mostly
// afterwards; the lock is held for lookups and mutations only, never while entity code runs.
type Registry struct {
	mu       sync.RWMutex
	table    *ServiceTable
	bindings *orderedmap.OrderedMap[bindingKey, *Binding]
	byEntity *hashmap.Map[string, []*Binding]
	guard    Guard
	logger   *logrus.Logger
}

// NewRegistry creates a registry that adds characteristics to table.
// guard, when non-nil, is consulted for every read, write and subscription.
func NewRegistry(table *ServiceTable, guard Guard, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if table == nil {
		table = NewServiceTable()
	}
	return &Registry{
		table:    table,
		bindings: orderedmap.New[bindingKey, *Binding](),
		byEntity: hashmap.New[string, []*Binding](),
		guard:    guard,
		logger:   logger,
	}
}

// Table returns the service table the registry populates
func (r *Registry) Table() *ServiceTable {
	return r.table
}

// Bind exposes entity as characteristicUUID inside serviceUUID.
// It fails with ErrInvalidUUID, ErrDuplicateBinding or ErrLateBinding (see BindError).
func (r *Registry) Bind(entity Entity, serviceUUID, characteristicUUID string, notify bool) (*Binding, error) {
	svcUUID, err := ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUID, err := ParseUUID(characteristicUUID)
	if err != nil {
		return nil, err
	}

	key := bindingKey{service: NormalizeUUID(serviceUUID), characteristic: NormalizeUUID(characteristicUUID)}

	r.mu.Lock()
	if _, exists := r.bindings.Get(key); exists {
		r.mu.Unlock()
		return nil, &BindError{Reason: DuplicateBinding, Service: serviceUUID, Characteristic: characteristicUUID}
	}

	r.table.mu.Lock()
	if r.table.frozen {
		r.table.mu.Unlock()
		r.mu.Unlock()
		return nil, &BindError{Reason: LateBinding, Service: serviceUUID, Characteristic: characteristicUUID}
	}
	svc := r.table.serviceFor(key.service, svcUUID)
	b := newBinding(svc, charUUID, key, entity, notify, r.guard, r.logger)
	r.table.mu.Unlock()

	r.bindings.Set(key, b)
	existing, _ := r.byEntity.Get(entity.ID())
	r.byEntity.Set(entity.ID(), append(append([]*Binding(nil), existing...), b))
	r.mu.Unlock()

	entity.Observe(b.Publish)

	r.logger.WithFields(logrus.Fields{
		"entity":         entity.ID(),
		"service":        serviceUUID,
		"characteristic": characteristicUUID,
		"notify":         notify,
		"writable":       b.Writable(),
	}).Info("Entity bound to characteristic")

	return b, nil
}

// Lookup returns the binding for a (service, characteristic) pair
func (r *Registry) Lookup(serviceUUID, characteristicUUID string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings.Get(bindingKey{service: NormalizeUUID(serviceUUID), characteristic: NormalizeUUID(characteristicUUID)})
}

// ForEntity returns the bindings of the entity with the given id
func (r *Registry) ForEntity(id string) []*Binding {
	bindings, _ := r.byEntity.Get(id)
	return bindings
}

// Bindings returns all bindings in registration order
func (r *Registry) Bindings() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Binding, 0, r.bindings.Len())
	for pair := r.bindings.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of bindings
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings.Len()
}
