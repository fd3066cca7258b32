package testutils

import (
	"bytes"
	"context"
	"sync"

	"github.com/go-ble/ble"
)

// The fakes below embed the go-ble interfaces they stand in for, so they satisfy the full
// interface while overriding only what the controller touches. Calling a method that is not
// overridden panics on the nil embedded value.

// FakeConn is a peer connection
type FakeConn struct {
	ble.Conn
	addr   string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewFakeConn creates a connection from the peer with the given address
func NewFakeConn(addr string) *FakeConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &FakeConn{addr: addr, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (c *FakeConn) RemoteAddr() ble.Addr            { return ble.NewAddr(c.addr) }
func (c *FakeConn) LocalAddr() ble.Addr             { return ble.NewAddr("00:00:00:00:00:00") }
func (c *FakeConn) Context() context.Context        { return c.ctx }
func (c *FakeConn) SetContext(ctx context.Context)  { c.ctx = ctx }
func (c *FakeConn) Disconnected() <-chan struct{}   { return c.done }
func (c *FakeConn) TxMTU() int                      { return 247 }
func (c *FakeConn) RxMTU() int                      { return 247 }
func (c *FakeConn) Close() error                    { c.Disconnect(); return nil }

// Disconnect simulates the link going down
func (c *FakeConn) Disconnect() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// FakeRequest is an ATT request
type FakeRequest struct {
	ble.Request
	conn   ble.Conn
	data   []byte
	offset int
}

// NewFakeRequest creates a request from conn carrying data
func NewFakeRequest(conn ble.Conn, data []byte) *FakeRequest {
	return &FakeRequest{conn: conn, data: data}
}

func (r *FakeRequest) Conn() ble.Conn { return r.conn }
func (r *FakeRequest) Data() []byte   { return r.data }
func (r *FakeRequest) Offset() int    { return r.offset }

// FakeResponseWriter records an ATT response
type FakeResponseWriter struct {
	ble.ResponseWriter
	buf    bytes.Buffer
	status ble.ATTError
}

func (w *FakeResponseWriter) Write(b []byte) (int, error)  { return w.buf.Write(b) }
func (w *FakeResponseWriter) Status() ble.ATTError          { return w.status }
func (w *FakeResponseWriter) SetStatus(status ble.ATTError) { w.status = status }
func (w *FakeResponseWriter) Len() int                      { return w.buf.Len() }
func (w *FakeResponseWriter) Cap() int                      { return 512 }

// Bytes returns what the handler wrote
func (w *FakeResponseWriter) Bytes() []byte { return w.buf.Bytes() }

// FakeNotifier records notifications sent to one subscribed peer
type FakeNotifier struct {
	ble.Notifier
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	writes [][]byte
	cap    int
}

// NewFakeNotifier creates a notifier with the given payload capacity (0 = unlimited)
func NewFakeNotifier(capacity int) *FakeNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &FakeNotifier{ctx: ctx, cancel: cancel, cap: capacity}
}

func (n *FakeNotifier) Context() context.Context { return n.ctx }
func (n *FakeNotifier) Cap() int                 { return n.cap }
func (n *FakeNotifier) Close() error             { n.cancel(); return nil }

func (n *FakeNotifier) Write(b []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, append([]byte(nil), b...))
	return len(b), nil
}

// Writes returns a copy of all notifications received
func (n *FakeNotifier) Writes() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.writes...)
}

// Last returns the most recent notification, nil when none arrived
func (n *FakeNotifier) Last() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.writes) == 0 {
		return nil
	}
	return n.writes[len(n.writes)-1]
}

// FakeDevice is a peripheral-role ble.Device recording services and advertising
type FakeDevice struct {
	ble.Device
	mu          sync.Mutex
	services    []*ble.Service
	advertised  []ble.UUID
	advertising bool
	advRounds   int
	name        string
}

// NewFakeDevice creates a device with no services
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{}
}

func (d *FakeDevice) AddService(svc *ble.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = append(d.services, svc)
	return nil
}

func (d *FakeDevice) RemoveAllServices() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = nil
	return nil
}

func (d *FakeDevice) SetServices(svcs []*ble.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = append([]*ble.Service(nil), svcs...)
	return nil
}

func (d *FakeDevice) Stop() error { return nil }

// AdvertiseNameAndServices records the advertised set and blocks until ctx is done, like go-ble does
func (d *FakeDevice) AdvertiseNameAndServices(ctx context.Context, name string, ss ...ble.UUID) error {
	d.mu.Lock()
	d.name = name
	d.advertised = append([]ble.UUID(nil), ss...)
	d.advertising = true
	d.advRounds++
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	d.advertising = false
	d.mu.Unlock()
	return ctx.Err()
}

// Services returns the services currently registered
func (d *FakeDevice) Services() []*ble.Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ble.Service(nil), d.services...)
}

// Advertised returns the service UUIDs of the latest advertisement
func (d *FakeDevice) Advertised() []ble.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ble.UUID(nil), d.advertised...)
}

// Advertising reports whether an advertisement is running
func (d *FakeDevice) Advertising() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.advertising
}

// AdvertisingRounds returns how many times advertising was (re)started
func (d *FakeDevice) AdvertisingRounds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.advRounds
}

// HasService reports whether a service with the given UUID is registered
func (d *FakeDevice) HasService(uuid string) bool {
	want := ble.MustParse(uuid)
	for _, svc := range d.Services() {
		if svc.UUID.Equal(want) {
			return true
		}
	}
	return false
}

// FindCharacteristic looks up a characteristic in the given services
func FindCharacteristic(services []*ble.Service, serviceUUID, charUUID string) *ble.Characteristic {
	svcWant := ble.MustParse(serviceUUID)
	charWant := ble.MustParse(charUUID)
	for _, svc := range services {
		if !svc.UUID.Equal(svcWant) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(charWant) {
				return c
			}
		}
	}
	return nil
}

// ReadCharacteristic serves a read request from conn
func ReadCharacteristic(c *ble.Characteristic, conn ble.Conn) ([]byte, ble.ATTError) {
	rsp := &FakeResponseWriter{}
	c.ReadHandler.ServeRead(NewFakeRequest(conn, nil), rsp)
	return rsp.Bytes(), rsp.Status()
}

// WriteCharacteristic serves a write request from conn
func WriteCharacteristic(c *ble.Characteristic, conn ble.Conn, data []byte) ble.ATTError {
	rsp := &FakeResponseWriter{}
	c.WriteHandler.ServeWrite(NewFakeRequest(conn, data), rsp)
	return rsp.Status()
}

// Subscribe enables notifications from conn; the subscription ends when the notifier is closed.
// Like go-ble, the notify handler runs on its own goroutine.
func Subscribe(c *ble.Characteristic, conn ble.Conn, capacity int) *FakeNotifier {
	n := NewFakeNotifier(capacity)
	go c.NotifyHandler.ServeNotify(NewFakeRequest(conn, nil), n)
	return n
}
