package maintenance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blectl/internal/testutils"
)

type ServiceTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	maintenance *Exposure
	components  *Exposure
	logs        *LogStream

	mu         sync.Mutex
	dispatched []string

	service *Service
	conn    *testutils.FakeConn
}

func (s *ServiceTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.helper.Logger.SetLevel(logrus.InfoLevel)
	s.dispatched = nil

	s.maintenance = NewExposure("maintenance", true, s.helper.Logger)
	s.components = NewExposure("components", true, s.helper.Logger)
	s.logs = NewLogStream(s.helper.Logger, LevelWarn, 8)

	var err error
	s.service, err = NewService(Options{
		Dispatch: func(text string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.dispatched = append(s.dispatched, text)
		},
		Maintenance: s.maintenance,
		Components:  s.components,
		Logs:        s.logs,
	}, s.helper.Logger)
	s.Require().NoError(err)

	s.conn = testutils.NewFakeConn("aa:bb:cc:dd:ee:01")
}

func (s *ServiceTestSuite) characteristic(uuid string) *ble.Characteristic {
	c := testutils.FindCharacteristic([]*ble.Service{s.service.BLEService()}, ServiceUUID, uuid)
	s.Require().NotNil(c, "characteristic %s", uuid)
	return c
}

func (s *ServiceTestSuite) TestLayout() {
	svc := s.service.BLEService()
	s.Require().Len(svc.Characteristics, 4)
	s.Assert().True(svc.UUID.Equal(ble.MustParse(ServiceUUID)))

	for _, uuid := range []string{CommandCharacteristicUUID, ModeCharacteristicUUID, LogCharacteristicUUID, LogLevelCharacteristicUUID} {
		s.characteristic(uuid)
	}
	s.Assert().Nil(s.characteristic(LogCharacteristicUUID).WriteHandler, "log characteristic is read-only")
}

func (s *ServiceTestSuite) TestCommandWritesAreDispatched() {
	cmd := s.characteristic(CommandCharacteristicUUID)

	s.Require().Equal(ble.ErrSuccess, testutils.WriteCharacteristic(cmd, s.conn, []byte("help")))
	s.Require().Equal(ble.ErrSuccess, testutils.WriteCharacteristic(cmd, s.conn, []byte("log-level 5")))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Assert().Equal([]string{"help", "log-level 5"}, s.dispatched)
}

func (s *ServiceTestSuite) TestCommandChannelCarriesResults() {
	// GOAL: results published on the command channel reach subscribed peers

	channel := s.service.CommandChannel()
	n := testutils.Subscribe(s.characteristic(CommandCharacteristicUUID), s.conn, 0)
	defer n.Close()
	s.Require().Eventually(func() bool { return channel.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	channel.Publish([]byte("Version 1.0"))

	s.Assert().Equal([]byte("Version 1.0"), n.Last())
	value, status := testutils.ReadCharacteristic(s.characteristic(CommandCharacteristicUUID), s.conn)
	s.Assert().Equal(ble.ErrSuccess, status)
	s.Assert().Equal([]byte("Version 1.0"), value)
}

func (s *ServiceTestSuite) TestModeReflectsExposures() {
	mode := s.characteristic(ModeCharacteristicUUID)

	value, _ := testutils.ReadCharacteristic(mode, s.conn)
	s.Assert().Equal([]byte{byte(ModeAll), 0}, value)

	s.components.TurnOff()
	value, _ = testutils.ReadCharacteristic(mode, s.conn)
	s.Assert().Equal([]byte{byte(ModeMaintenanceService), 0}, value)
}

func (s *ServiceTestSuite) TestModeWriteSetsExposures() {
	// TEST SCENARIO: write mode 1 → components hidden, maintenance kept; mode 3 → both on

	mode := s.characteristic(ModeCharacteristicUUID)

	s.Require().Equal(ble.ErrSuccess, testutils.WriteCharacteristic(mode, s.conn, []byte{1}))
	s.Assert().True(s.maintenance.On())
	s.Assert().False(s.components.On())

	s.Require().Equal(ble.ErrSuccess, testutils.WriteCharacteristic(mode, s.conn, []byte{3}))
	s.Assert().True(s.components.On())

	s.Assert().Equal(ble.ErrUnlikely, testutils.WriteCharacteristic(mode, s.conn, []byte{0}))
	s.Assert().Equal(ble.ErrUnlikely, testutils.WriteCharacteristic(mode, s.conn, []byte{4}))
	s.Assert().Equal(ble.ErrUnlikely, testutils.WriteCharacteristic(mode, s.conn, []byte{1, 0}))
	s.Assert().True(s.maintenance.On())
	s.Assert().True(s.components.On())
}

func (s *ServiceTestSuite) TestLogLevelCharacteristic() {
	level := s.characteristic(LogLevelCharacteristicUUID)

	value, _ := testutils.ReadCharacteristic(level, s.conn)
	s.Assert().Equal([]byte{LevelWarn}, value)

	s.Require().Equal(ble.ErrSuccess, testutils.WriteCharacteristic(level, s.conn, []byte{LevelDebug}))
	s.Assert().Equal(LevelDebug, s.logs.LogLevel())
	s.Assert().Equal(logrus.DebugLevel, s.helper.Logger.GetLevel(), "logger raised to produce debug lines")

	value, _ = testutils.ReadCharacteristic(level, s.conn)
	s.Assert().Equal([]byte{LevelDebug}, value)

	s.Assert().Equal(ble.ErrUnlikely, testutils.WriteCharacteristic(level, s.conn, []byte{9}))
	s.Assert().Equal(LevelDebug, s.logs.LogLevel())
}

func (s *ServiceTestSuite) TestLogStreaming() {
	// GOAL: log lines at or above the stream level reach log subscribers without color codes
	//
	// TEST SCENARIO: level Warn, log info + warn + colored error → only warn and error streamed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := testutils.Subscribe(s.characteristic(LogCharacteristicUUID), s.conn, 0)
	defer n.Close()
	binding, ok := s.service.registry.Lookup(ServiceUUID, LogCharacteristicUUID)
	s.Require().True(ok)
	s.Require().Eventually(func() bool { return binding.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.service.Run(ctx)
	}()

	s.helper.Logger.Info("not streamed")
	s.helper.Logger.Warn("battery low")
	s.helper.Logger.Error("\033[0;31msensor lost\033[0m")

	s.Require().Eventually(func() bool { return len(n.Writes()) >= 2 }, time.Second, 5*time.Millisecond)

	writes := n.Writes()
	s.Assert().Contains(string(writes[0]), "battery low")
	s.Assert().Contains(string(writes[1]), "sensor lost")
	for _, w := range writes {
		s.Assert().NotContains(string(w), "not streamed")
		s.Assert().False(strings.Contains(string(w), "\033["), "escape codes removed: %q", w)
	}

	cancel()
	<-done
}

func (s *ServiceTestSuite) TestLevelNoneStreamsNothing() {
	s.Require().NoError(s.logs.SetLogLevel(LevelNone))
	s.helper.Logger.Error("dropped")

	s.Assert().True(s.logs.buffer.IsEmpty())
}

func (s *ServiceTestSuite) TestLogBufferOverwritesOldest() {
	for i := 0; i < 20; i++ {
		s.helper.Logger.Warnf("line %d", i)
	}

	s.Assert().Positive(s.logs.Overwritten())

	var lines []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.logs.Run(ctx, func(line string) { lines = append(lines, line) })

	s.Require().NotEmpty(lines)
	s.Assert().Contains(lines[len(lines)-1], "line 19")
}

func (s *ServiceTestSuite) TestWithoutLogStream() {
	svc, err := NewService(Options{
		Dispatch:    func(string) {},
		Maintenance: s.maintenance,
		Components:  s.components,
	}, s.helper.Logger)
	s.Require().NoError(err)
	s.Assert().Len(svc.BLEService().Characteristics, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)
}

func (s *ServiceTestSuite) TestRequiresDispatcherAndExposures() {
	_, err := NewService(Options{Maintenance: s.maintenance, Components: s.components}, s.helper.Logger)
	s.Assert().Error(err)

	_, err = NewService(Options{Dispatch: func(string) {}}, s.helper.Logger)
	s.Assert().Error(err)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
