package gatt

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// UserDescriptionUUID is the Characteristic User Description descriptor (0x2901)
var UserDescriptionUUID = ble.UUID16(0x2901)

// Guard decides whether a peer connection may access entity characteristics.
// A nil Guard allows every connection.
type Guard func(conn ble.Conn) bool

// Binding adapts one entity to one characteristic: entity changes are stored as the
// characteristic value and pushed to subscribed peers, peer writes are applied to the entity.
type Binding struct {
	Service        string
	Characteristic string
	Entity         Entity
	Notify         bool

	char   *ble.Characteristic
	guard  Guard
	logger *logrus.Logger

	mu        sync.Mutex
	value     []byte
	notifiers map[ble.Notifier]struct{}
}

func newBinding(svc *ble.Service, charUUID ble.UUID, key bindingKey, entity Entity, notify bool, guard Guard, logger *logrus.Logger) *Binding {
	b := &Binding{
		Service:        key.service,
		Characteristic: key.characteristic,
		Entity:         entity,
		Notify:         notify,
		guard:          guard,
		logger:         logger,
		value:          cloneBytes(entity.Value()),
		notifiers:      make(map[ble.Notifier]struct{}),
	}

	b.char = svc.NewCharacteristic(charUUID)
	b.char.HandleRead(ble.ReadHandlerFunc(b.serveRead))
	if _, ok := entity.(WritableEntity); ok {
		b.char.HandleWrite(ble.WriteHandlerFunc(b.serveWrite))
	}
	if notify {
		// go-ble adds the client characteristic configuration descriptor for notifying characteristics
		b.char.HandleNotify(ble.NotifyHandlerFunc(b.serveNotify))
	}
	b.char.NewDescriptor(UserDescriptionUUID).SetValue([]byte(entity.Name()))

	return b
}

// Writable reports whether peers may write the characteristic
func (b *Binding) Writable() bool {
	_, ok := b.Entity.(WritableEntity)
	return ok
}

// Value returns a copy of the current characteristic value
func (b *Binding) Value() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneBytes(b.value)
}

// Subscribers returns the number of peers with notifications enabled
func (b *Binding) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notifiers)
}

// Publish stores value as the characteristic value and notifies subscribed peers.
func (b *Binding) Publish(value []byte) {
	b.mu.Lock()
	b.value = cloneBytes(value)
	notifiers := b.snapshotNotifiersLocked()
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"entity":         b.Entity.ID(),
		"characteristic": ShortenUUID(b.Characteristic),
		"subscribers":    len(notifiers),
	}).Debug("Updating characteristic value")

	if !b.Notify {
		return
	}
	for _, n := range notifiers {
		payload := value
		if c := n.Cap(); c > 0 && len(payload) > c {
			payload = payload[:c]
		}
		if _, err := n.Write(payload); err != nil {
			b.logger.WithError(err).WithField("entity", b.Entity.ID()).Debug("Notification failed")
		}
	}
}

func (b *Binding) snapshotNotifiersLocked() []ble.Notifier {
	out := make([]ble.Notifier, 0, len(b.notifiers))
	for n := range b.notifiers {
		out = append(out, n)
	}
	return out
}

func (b *Binding) allowed(req ble.Request) bool {
	if b.guard == nil {
		return true
	}
	return b.guard(req.Conn())
}

func (b *Binding) serveRead(req ble.Request, rsp ble.ResponseWriter) {
	if !b.allowed(req) {
		rsp.SetStatus(ble.ErrAuthentication)
		return
	}

	value := b.Value()
	offset := req.Offset()
	if offset > len(value) {
		rsp.SetStatus(ble.ErrInvalidOffset)
		return
	}
	if _, err := rsp.Write(value[offset:]); err != nil {
		b.logger.WithError(err).WithField("entity", b.Entity.ID()).Debug("Read response truncated")
	}
}

func (b *Binding) serveWrite(req ble.Request, rsp ble.ResponseWriter) {
	if !b.allowed(req) {
		rsp.SetStatus(ble.ErrAuthentication)
		return
	}

	entity, ok := b.Entity.(WritableEntity)
	if !ok {
		rsp.SetStatus(ble.ErrWriteNotPerm)
		return
	}

	data := cloneBytes(req.Data())
	logger := b.logger.WithFields(logrus.Fields{
		"entity":         entity.ID(),
		"characteristic": ShortenUUID(b.Characteristic),
	})
	logger.WithField("len", len(data)).Debug("Characteristic written")

	if err := b.apply(entity, data); err != nil {
		logger.WithError(err).Warn("Write rejected by entity")
		rsp.SetStatus(ble.ErrUnlikely)
		// restore subscribers' view of the last accepted value
		b.Publish(b.Value())
	}
}

// apply runs the entity's own validation; a panic counts as a rejection.
func (b *Binding) apply(entity WritableEntity, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entity %s panicked on write: %v", entity.ID(), r)
		}
	}()
	return entity.Apply(data)
}

func (b *Binding) serveNotify(req ble.Request, n ble.Notifier) {
	if !b.allowed(req) {
		return
	}

	b.mu.Lock()
	b.notifiers[n] = struct{}{}
	b.mu.Unlock()
	b.logger.WithField("entity", b.Entity.ID()).Debug("Notifications enabled")

	<-n.Context().Done()

	b.mu.Lock()
	delete(b.notifiers, n)
	b.mu.Unlock()
	b.logger.WithField("entity", b.Entity.ID()).Debug("Notifications disabled")
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
