package console

import (
	"bytes"
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/gatt"
)

// Device is an in-process peripheral. It keeps the services the controller registers and
// "advertises" until the advertising context ends, so the console can reach the GATT
// handlers without a radio.
type Device struct {
	logger *logrus.Logger

	mu          sync.Mutex
	services    []*ble.Service
	advertising bool
	changed     chan struct{}
}

// NewDevice creates an idle loopback device
func NewDevice(logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}
	return &Device{logger: logger, changed: make(chan struct{})}
}

// SetServices replaces the registered services
func (d *Device) SetServices(svcs []*ble.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = append([]*ble.Service(nil), svcs...)
	return nil
}

// AdvertiseNameAndServices blocks until ctx is done
func (d *Device) AdvertiseNameAndServices(ctx context.Context, name string, ss ...ble.UUID) error {
	d.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": len(ss),
	}).Debug("Loopback advertising")
	d.setAdvertising(true)
	<-ctx.Done()
	d.setAdvertising(false)
	return ctx.Err()
}

func (d *Device) setAdvertising(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advertising = on
	close(d.changed)
	d.changed = make(chan struct{})
}

// WaitAdvertising blocks until an advertisement is running or ctx is done
func (d *Device) WaitAdvertising(ctx context.Context) error {
	for {
		d.mu.Lock()
		on, changed := d.advertising, d.changed
		d.mu.Unlock()
		if on {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Characteristic finds a registered characteristic, nil when it is not exposed
func (d *Device) Characteristic(serviceUUID, charUUID string) *ble.Characteristic {
	svcID, err := gatt.ParseUUID(serviceUUID)
	if err != nil {
		return nil
	}
	charID, err := gatt.ParseUUID(charUUID)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, svc := range d.services {
		if !svc.UUID.Equal(svcID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(charID) {
				return c
			}
		}
	}
	return nil
}

// Peer is the simulated central. Only the parts of ble.Conn the GATT handlers use are
// implemented; the embedded interface is nil.
type Peer struct {
	ble.Conn
	addr   ble.Addr
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func newPeer(address string) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{addr: ble.NewAddr(address), ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (p *Peer) RemoteAddr() ble.Addr           { return p.addr }
func (p *Peer) LocalAddr() ble.Addr            { return ble.NewAddr("00:00:00:00:00:00") }
func (p *Peer) Context() context.Context       { return p.ctx }
func (p *Peer) SetContext(ctx context.Context) { p.ctx = ctx }
func (p *Peer) Disconnected() <-chan struct{}  { return p.done }
func (p *Peer) TxMTU() int                     { return mtu }
func (p *Peer) RxMTU() int                     { return mtu }
func (p *Peer) Close() error                   { p.disconnect(); return nil }

func (p *Peer) disconnect() {
	p.once.Do(func() {
		p.cancel()
		close(p.done)
	})
}

// mtu is the ATT MTU the loopback peer negotiates
const mtu = 247

type request struct {
	ble.Request
	conn ble.Conn
	data []byte
}

func (r *request) Conn() ble.Conn { return r.conn }
func (r *request) Data() []byte   { return r.data }
func (r *request) Offset() int    { return 0 }

type response struct {
	ble.ResponseWriter
	buf    bytes.Buffer
	status ble.ATTError
}

func (w *response) Write(b []byte) (int, error)  { return w.buf.Write(b) }
func (w *response) Status() ble.ATTError          { return w.status }
func (w *response) SetStatus(status ble.ATTError) { w.status = status }
func (w *response) Len() int                      { return w.buf.Len() }
func (w *response) Cap() int                      { return mtu - 1 }

// notifier delivers notifications of one subscription to a callback
type notifier struct {
	ble.Notifier
	ctx    context.Context
	cancel context.CancelFunc
	deliver func(value []byte)
}

func newNotifier(deliver func(value []byte)) *notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &notifier{ctx: ctx, cancel: cancel, deliver: deliver}
}

func (n *notifier) Context() context.Context { return n.ctx }
func (n *notifier) Cap() int                 { return 0 }
func (n *notifier) Close() error             { n.cancel(); return nil }

func (n *notifier) Write(b []byte) (int, error) {
	n.deliver(append([]byte(nil), b...))
	return len(b), nil
}

func (p *Peer) read(c *ble.Characteristic) ([]byte, ble.ATTError) {
	rsp := &response{}
	c.ReadHandler.ServeRead(&request{conn: p}, rsp)
	return rsp.buf.Bytes(), rsp.status
}

func (p *Peer) write(c *ble.Characteristic, data []byte) ble.ATTError {
	rsp := &response{}
	c.WriteHandler.ServeWrite(&request{conn: p, data: data}, rsp)
	return rsp.status
}

// subscribe enables notifications; like go-ble the handler runs on its own goroutine
func (p *Peer) subscribe(c *ble.Characteristic, deliver func(value []byte)) *notifier {
	n := newNotifier(deliver)
	go c.NotifyHandler.ServeNotify(&request{conn: p}, n)
	return n
}
