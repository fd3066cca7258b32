package gatt

import (
	"sync"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ServiceTable holds the GATT services in creation order. It is mutable only until Freeze is
// called, which the controller does right before it starts advertising.
type ServiceTable struct {
	mu       sync.RWMutex
	services *orderedmap.OrderedMap[string, *ble.Service]
	frozen   bool
}

// NewServiceTable creates an empty, mutable service table
func NewServiceTable() *ServiceTable {
	return &ServiceTable{
		services: orderedmap.New[string, *ble.Service](),
	}
}

// serviceFor returns the service for uuid, creating it on first use.
// Caller must hold the write lock.
func (t *ServiceTable) serviceFor(key string, uuid ble.UUID) *ble.Service {
	if svc, ok := t.services.Get(key); ok {
		return svc
	}
	svc := ble.NewService(uuid)
	t.services.Set(key, svc)
	return svc
}

// Freeze makes the table read-only
func (t *ServiceTable) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Frozen reports whether the table no longer accepts new characteristics
func (t *ServiceTable) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Services returns the services in creation order
func (t *ServiceTable) Services() []*ble.Service {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*ble.Service, 0, t.services.Len())
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// UUIDs returns the service UUIDs in creation order, for advertising
func (t *ServiceTable) UUIDs() []ble.UUID {
	services := t.Services()
	out := make([]ble.UUID, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.UUID)
	}
	return out
}
