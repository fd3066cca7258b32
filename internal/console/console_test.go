package console

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blectl/internal/config"
	"github.com/srg/blectl/internal/controller"
	"github.com/srg/blectl/internal/entity"
	"github.com/srg/blectl/internal/testutils"
)

const consoleYAML = `
name: console-test
version: 0.9.0
security_mode: secure
maintenance_log_level: none
on_show_pass_key:
  - log: "pass key $pass_key"
entities:
  - id: temperature
    kind: sensor
    name: Temperature
  - id: relay
    kind: switch
    name: Relay
services:
  - service: 6e400001-b5a3-f393-e0a9-e50e24dcca9e
    characteristics:
      - characteristic: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
        exposes: temperature
      - characteristic: 6e400003-b5a3-f393-e0a9-e50e24dcca9e
        exposes: relay
`

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type ConsoleTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	runtime *config.Runtime
	ctrl    *controller.Controller
	device  *Device
	console *Console
	output  *syncBuffer
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *ConsoleTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())

	f, err := config.Parse([]byte(consoleYAML))
	s.Require().NoError(err)
	s.runtime, err = f.Build(s.helper.Logger)
	s.Require().NoError(err)

	s.device = NewDevice(s.helper.Logger)
	s.ctrl, err = controller.New(s.runtime.Config, s.device, s.helper.Logger)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.ctrl.Run(ctx)
	}()
	s.Require().NoError(s.device.WaitAdvertising(ctx))

	s.output = &syncBuffer{}
	s.console = New(s.ctrl, s.device, s.runtime, Options{
		Output:    s.output,
		StateText: config.EntityState,
	}, s.helper.Logger)
}

func (s *ConsoleTestSuite) TearDownTest() {
	s.console.Disconnect()
	s.cancel()
	<-s.done
	s.runtime.Close()
}

func (s *ConsoleTestSuite) waitOutput(want string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(s.output.String(), want)
	}, waitFor, pollEvery, "output never contained %q:\n%s", want, s.output.String())
}

func (s *ConsoleTestSuite) TestCommandsNeedABondedLink() {
	// GOAL: in secure mode the loopback peer goes through pairing like a phone would

	err := s.console.Execute("version")
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), "command write failed")

	s.Require().NoError(s.console.Execute(":pair"))
	s.waitOutput("pass key ")
	s.waitOutput("pairing state: bonded")

	s.Require().NoError(s.console.Execute("version"))
	s.waitOutput("Version 0.9.0")
	s.Assert().Equal([]string{DefaultPeerAddress}, s.ctrl.Security().Pairings())
}

func (s *ConsoleTestSuite) TestFailedPairing() {
	s.Require().NoError(s.console.Execute(":pair fail"))
	s.waitOutput("pairing state: rejected")

	s.Require().NoError(s.console.Execute(":read temperature"))
	s.waitOutput("read temperature: ")
	s.Assert().Empty(s.ctrl.Security().Pairings())
}

func (s *ConsoleTestSuite) TestSetReadWriteEntities() {
	s.Require().NoError(s.console.Execute(":pair"))

	s.Require().NoError(s.console.Execute(":set temperature 20"))
	s.Require().NoError(s.console.Execute(":read temperature"))
	s.waitOutput("temperature = " + hex.EncodeToString(entity.EncodeFloat(20)))

	s.Require().NoError(s.console.Execute(":write relay 0x01"))
	s.waitOutput("write relay: ok")

	s.Require().NoError(s.console.Execute(":state"))
	s.waitOutput("temperature (Temperature) = 20")
	s.waitOutput("relay (Relay) = on")

	s.Assert().Error(s.console.Execute(":set nothing 1"))
	s.Assert().Error(s.console.Execute(":read nothing"))
}

func (s *ConsoleTestSuite) TestConnectionLifecycle() {
	s.Require().NoError(s.console.Execute(":connect aa:bb:cc:dd:ee:ff"))
	s.waitOutput("connected as aa:bb:cc:dd:ee:ff")
	s.Assert().Equal(1, s.ctrl.Connections())

	s.Require().NoError(s.console.Execute(":connect"))
	s.Assert().Equal(1, s.ctrl.Connections(), "connecting twice keeps the link")

	s.Require().NoError(s.console.Execute(":disconnect"))
	s.waitOutput("disconnected")
	s.Assert().Eventually(func() bool { return s.ctrl.Connections() == 0 }, waitFor, pollEvery)
}

func (s *ConsoleTestSuite) TestConsoleCommandErrors() {
	s.Assert().ErrorContains(s.console.Execute(":bogus"), "unknown console command")
	s.Assert().ErrorContains(s.console.Execute(":set temperature"), "usage")
	s.Assert().ErrorIs(s.console.Execute(":quit"), ErrQuit)
	s.Assert().NoError(s.console.Execute("   "))
}

func (s *ConsoleTestSuite) TestRunReadsLines() {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	input := strings.NewReader(":help\n:pair\nversion\n:quit\nversion\n")
	s.Require().NoError(s.console.Run(ctx, input))
	s.waitOutput(":connect [address]")
	s.waitOutput("Version 0.9.0")
	s.Assert().Equal(1, strings.Count(s.output.String(), "Version 0.9.0"), "lines after :quit are ignored")
}

func (s *ConsoleTestSuite) TestServePTY() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		errs <- s.console.ServePTY(ctx, func(name string) { ready <- name })
	}()

	var name string
	select {
	case name = <-ready:
	case err := <-errs:
		s.T().Skipf("PTY not available: %v", err)
	case <-time.After(waitFor):
		s.FailNow("PTY did not start")
	}

	tty, err := os.OpenFile(name, os.O_RDWR, 0)
	s.Require().NoError(err)
	defer tty.Close()

	terminal := &syncBuffer{}
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				_, _ = terminal.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	_, err = tty.Write([]byte(":pair\rversion\r"))
	s.Require().NoError(err)
	s.Assert().Eventually(func() bool {
		return strings.Contains(terminal.String(), "Version 0.9.0\r\n")
	}, waitFor, pollEvery, terminal.String())

	_, err = tty.Write([]byte{keyEOF})
	s.Require().NoError(err)
	select {
	case err := <-errs:
		s.Assert().NoError(err)
	case <-time.After(waitFor):
		s.Fail("Ctrl-D did not end the session")
	}
}

func TestConsoleTestSuite(t *testing.T) {
	suite.Run(t, new(ConsoleTestSuite))
}

func TestLineEditor(t *testing.T) {
	var echoed bytes.Buffer
	e := &lineEditor{echo: func(b []byte) { echoed.Write(b) }}

	lines, eof := e.feed([]byte("helo\x7flp\r\n"))
	assert.False(t, eof)
	assert.Equal(t, []string{"help"}, lines)
	assert.Equal(t, "helo\b \blp\r\n\r\n", echoed.String())

	lines, eof = e.feed([]byte("ver"))
	assert.Empty(t, lines)
	assert.False(t, eof)

	lines, eof = e.feed([]byte("sion\nx\x03"))
	assert.Equal(t, []string{"version"}, lines)
	assert.True(t, eof)
}
