package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blectl/internal/groutine"
)

const (
	// pollTimeoutMs bounds how long the PTY loops wait for I/O before checking for shutdown
	pollTimeoutMs = 50
	// ptyBufferSize is the capacity of each PTY ring buffer
	ptyBufferSize = 8192
)

// ptyLink is the master side of a pseudo-terminal. Input from the terminal is buffered in a
// ring and handed to onInput by a dispatcher goroutine; output is queued in a second ring and
// flushed by the write loop, dropping bytes when the terminal does not keep up.
type ptyLink struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	name    string
	onInput func(data []byte)

	in      *ringbuffer.RingBuffer
	out     *ringbuffer.RingBuffer
	inWake  chan struct{}
	outWake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	dropped atomic.Uint64
}

// openPTY creates a raw pseudo-terminal pair and starts its I/O loops
func openPTY(onInput func(data []byte), logger *logrus.Logger) (*ptyLink, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		closeAll(master, slave)
		return nil, fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		closeAll(master, slave)
		return nil, fmt.Errorf("failed to set PTY %s to nonblocking mode: %w", slave.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ptyLink{
		logger:  logger,
		master:  master,
		slave:   slave,
		name:    slave.Name(),
		onInput: onInput,
		in:      ringbuffer.New(ptyBufferSize),
		out:     ringbuffer.New(ptyBufferSize),
		inWake:  make(chan struct{}, 1),
		outWake: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-input-dispatcher", func(context.Context) { p.dispatch() })
	return p, nil
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Name returns the path of the terminal, e.g. /dev/pts/5
func (p *ptyLink) Name() string {
	return p.name
}

// Write queues output for the terminal without blocking
func (p *ptyLink) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := p.out.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.dropped.Add(uint64(len(data) - n))
		p.logger.WithField("dropped", len(data)-n).Warn("PTY output buffer overflow")
	}
	wake(p.outWake)
	return len(data), nil
}

// Dropped returns how many output bytes were lost to overflow
func (p *ptyLink) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *ptyLink) readLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	for p.ctx.Err() == nil {
		ready, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("PTY poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			if written, _ := p.in.Write(buf[:n]); written < n {
				p.logger.WithField("dropped", n-written).Warn("PTY input buffer overflow")
			}
			wake(p.inWake)
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, io.EOF), errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.logger.WithError(err).Warn("PTY read loop stopped")
				return
			}
		}
	}
}

func (p *ptyLink) writeLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)
	for p.ctx.Err() == nil {
		if p.out.IsEmpty() {
			select {
			case <-p.ctx.Done():
				return
			case <-p.outWake:
			}
			continue
		}

		n, err := p.out.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			continue
		}
		for off := 0; off < n; {
			written, err := p.master.Write(buf[off:n])
			off += written
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				_, _ = unix.Poll(fds, pollTimeoutMs)
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.logger.WithError(err).Warn("PTY write loop stopped")
				return
			}
			if p.ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *ptyLink) dispatch() {
	defer p.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.inWake:
		}
		for {
			n, err := p.in.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			p.deliver(append([]byte(nil), buf[:n]...))
		}
	}
}

func (p *ptyLink) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("PTY input handler panicked")
		}
	}()
	p.onInput(data)
}

// Close stops the loops and closes both ends of the terminal
func (p *ptyLink) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := p.master.Close()
	if serr := p.slave.Close(); err == nil {
		err = serr
	}
	p.wg.Wait()
	return err
}

// ServePTY runs the console on a new pseudo-terminal. ready receives the terminal path once it
// exists; ServePTY returns when ctx is done or the user quits.
func (c *Console) ServePTY(ctx context.Context, ready func(ttyName string)) error {
	if err := c.device.WaitAdvertising(ctx); err != nil {
		return err
	}

	quit := make(chan struct{})
	var quitOnce sync.Once
	stop := func() { quitOnce.Do(func() { close(quit) }) }

	var link *ptyLink
	editor := &lineEditor{echo: func(b []byte) { _, _ = link.Write(b) }}

	link, err := openPTY(func(data []byte) {
		lines, eof := editor.feed(data)
		for _, line := range lines {
			if err := c.Execute(line); err != nil {
				if errors.Is(err, ErrQuit) {
					stop()
					return
				}
				c.print(c.failure, "%v", err)
			}
		}
		if eof {
			stop()
		}
	}, c.logger)
	if err != nil {
		return err
	}
	defer link.Close()

	c.SetOutput(crlfWriter{link})
	defer c.SetOutput(c.opts.Output)
	defer c.Disconnect()

	if ready != nil {
		ready(link.Name())
	}
	c.print(c.info, "console ready, :help lists the console commands")

	select {
	case <-ctx.Done():
	case <-quit:
	}
	return nil
}

// crlfWriter translates line feeds for a raw terminal
type crlfWriter struct {
	w io.Writer
}

func (w crlfWriter) Write(b []byte) (int, error) {
	out := make([]byte, 0, len(b)+8)
	for _, c := range b {
		if c == '\n' {
			out = append(out, '\r')
		}
		out = append(out, c)
	}
	if _, err := w.w.Write(out); err != nil {
		return 0, err
	}
	return len(b), nil
}
