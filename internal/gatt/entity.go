package gatt

// Entity is an application value exposed through a characteristic. Entities are owned by the
// application; the bridge only looks them up and never controls their lifetime.
type Entity interface {
	// ID is the stable object id of the entity.
	ID() string
	// Name is the human readable name, published as the characteristic user description.
	Name() string
	// Value returns the current transport representation.
	Value() []byte
	// Observe registers fn to be called with the new transport representation on every change.
	Observe(fn func(value []byte))
}

// WritableEntity is an Entity that accepts values written by a peer.
type WritableEntity interface {
	Entity
	// Apply decodes and validates data and applies it to the entity.
	// A non-nil error rejects the write and leaves the entity unchanged.
	Apply(data []byte) error
}
