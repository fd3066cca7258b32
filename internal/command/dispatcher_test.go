package command

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/srg/blectl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type recordingChannel struct {
	mu          sync.Mutex
	subscribers int
	published   []string
}

func (c *recordingChannel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribers
}

func (c *recordingChannel) Publish(value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, string(value))
}

func (c *recordingChannel) results() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.published...)
}

func (c *recordingChannel) last() string {
	r := c.results()
	if len(r) == 0 {
		return ""
	}
	return r[len(r)-1]
}

type fakeServices struct{ on bool }

func (f *fakeServices) ComponentServicesEnabled() bool { return f.on }
func (f *fakeServices) SetComponentServicesEnabled(on bool) error {
	f.on = on
	return nil
}

type fakeWifi struct {
	ssid, password string
	hidden         bool
}

func (f *fakeWifi) CurrentSSID() (string, bool) { return f.ssid, f.ssid != "" }
func (f *fakeWifi) SetCredentials(ssid, password string, hidden bool) error {
	f.ssid, f.password, f.hidden = ssid, password, hidden
	return nil
}
func (f *fakeWifi) ClearCredentials() error {
	*f = fakeWifi{}
	return nil
}

type fakePairings struct{ peers []string }

func (f *fakePairings) Pairings() []string { return f.peers }
func (f *fakePairings) ClearPairings() error {
	f.peers = nil
	return nil
}

type fakeLogLevel struct{ level int }

func (f *fakeLogLevel) LogLevel() int { return f.level }
func (f *fakeLogLevel) SetLogLevel(level int) error {
	if level < 0 || level > 7 {
		return errors.New("log level must be between 0 and 7")
	}
	f.level = level
	return nil
}

type DispatcherTestSuite struct {
	suite.Suite
	helper     *testutils.TestHelper
	channel    *recordingChannel
	registry   *Registry
	dispatcher *Dispatcher
	services   *fakeServices
	wifi       *fakeWifi
	pairings   *fakePairings
	logLevel   *fakeLogLevel
}

func (s *DispatcherTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.channel = &recordingChannel{subscribers: 1}
	s.registry = NewRegistry()
	s.services = &fakeServices{on: true}
	s.wifi = &fakeWifi{}
	s.pairings = &fakePairings{peers: []string{"aa:bb:cc:dd:ee:ff"}}
	s.logLevel = &fakeLogLevel{level: 4}

	sender := NewResultSender(s.channel, 0, s.helper.Logger)
	s.dispatcher = NewDispatcher(s.registry, sender, Host{
		Version:  "1.2.3",
		Services: s.services,
		Wifi:     s.wifi,
		Pairings: s.pairings,
		LogLevel: s.logLevel,
	}, s.helper.Logger)
}

func (s *DispatcherTestSuite) helpIDs(result string) []string {
	lines := strings.Split(result, "\n")
	s.Require().Equal("Available:", lines[0])

	ids := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		ids = append(ids, strings.SplitN(line, " - ", 2)[0])
	}
	return ids
}

func (s *DispatcherTestSuite) TestHelp_ListsExactlyBuiltins() {
	// GOAL: help without custom commands lists exactly the six built-ins

	s.dispatcher.Dispatch("help")

	s.Require().Len(s.channel.results(), 1)
	s.Assert().Equal(BuiltinIDs, s.helpIDs(s.channel.last()))
}

func (s *DispatcherTestSuite) TestHelp_CustomCommandsInRegistrationOrder() {
	// GOAL: custom commands follow the built-ins in registration order, with descriptions

	noop := func([]string, *ResultSender) error { return nil }
	s.Require().NoError(s.registry.Register("zeta", "last letter", noop))
	s.Require().NoError(s.registry.Register("alpha", "first letter", noop))

	s.dispatcher.Dispatch("HELP")

	ids := s.helpIDs(s.channel.last())
	s.Assert().Equal(append(append([]string{}, BuiltinIDs...), "zeta", "alpha"), ids)
	s.Assert().Contains(s.channel.last(), "zeta - last letter")

	s.dispatcher.Dispatch("help alpha")
	s.Assert().Equal("alpha: first letter", s.channel.last())

	s.dispatcher.Dispatch("help nope")
	s.Assert().Equal("Unknown command 'nope'.", s.channel.last())
}

func (s *DispatcherTestSuite) TestDispatch_UnknownCommand() {
	// GOAL: an unregistered id never invokes a handler and yields a not found result

	invoked := false
	s.Require().NoError(s.registry.Register("frob", "", func([]string, *ResultSender) error {
		invoked = true
		return nil
	}))

	s.dispatcher.Dispatch("frobnicate 1 2")

	s.Assert().False(invoked)
	s.Assert().Contains(s.channel.last(), "not found")
	s.Assert().Contains(s.channel.last(), "frobnicate")
}

func (s *DispatcherTestSuite) TestDispatch_ArgumentsPassedVerbatim() {
	// GOAL: tokens after the id reach the handler without coercion, id is case-folded

	var got []string
	s.Require().NoError(s.registry.Register("set", "", func(args []string, out *ResultSender) error {
		got = args
		out.Send("%d args", len(args))
		return nil
	}))

	s.dispatcher.Dispatch("  SET  Temp   21.5\t0x10 ")

	s.Assert().Equal([]string{"Temp", "21.5", "0x10"}, got)
	s.Assert().Equal("3 args", s.channel.last())
}

func (s *DispatcherTestSuite) TestDispatch_FailingHandlerDoesNotPoison() {
	// GOAL: a handler failure becomes a generic failure result and later commands still work
	//
	// TEST SCENARIO: "reboot now" panics → failure result → "help" → full listing

	tests := []struct {
		name    string
		handler Handler
	}{
		{name: "panic", handler: func([]string, *ResultSender) error { panic("flash busy") }},
		{name: "error", handler: func([]string, *ResultSender) error { return errors.New("flash busy") }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.Require().NoError(s.registry.Register("reboot", "restart the device", tt.handler))

			s.Assert().NotPanics(func() { s.dispatcher.Dispatch("reboot now") })
			s.Assert().Equal("Command 'reboot' failed.", s.channel.last())
			s.Assert().NotContains(s.channel.last(), "flash busy", "failure details MUST stay in the log")

			s.dispatcher.Dispatch("help")
			ids := s.helpIDs(s.channel.last())
			s.Assert().Equal(append(append([]string{}, BuiltinIDs...), "reboot"), ids)
		})
	}
}

func (s *DispatcherTestSuite) TestDispatch_EmptyInputIgnored() {
	s.dispatcher.Dispatch(" \t ")
	s.Assert().Empty(s.channel.results())
}

func (s *DispatcherTestSuite) TestBuiltin_BLEServices() {
	s.dispatcher.Dispatch("ble-services off")
	s.Assert().False(s.services.on)
	s.Assert().Equal("Non-maintenance services are disabled.", s.channel.last())

	s.dispatcher.Dispatch("ble-services on")
	s.Assert().True(s.services.on)
	s.Assert().Equal("Non-maintenance services are enabled.", s.channel.last())

	s.dispatcher.Dispatch("ble-services maybe")
	s.Assert().True(s.services.on)
	s.Assert().Equal("Usage: ble-services on|off", s.channel.last())
}

func (s *DispatcherTestSuite) TestBuiltin_WifiConfig() {
	s.dispatcher.Dispatch("wifi-config")
	s.Assert().Equal("No WiFi credentials stored.", s.channel.last())

	s.dispatcher.Dispatch("wifi-config HomeNet s3cret hidden")
	s.Assert().Equal(fakeWifi{ssid: "HomeNet", password: "s3cret", hidden: true}, *s.wifi)

	s.dispatcher.Dispatch("wifi-config")
	s.Assert().Equal("WiFi SSID is 'HomeNet'.", s.channel.last())

	s.dispatcher.Dispatch("wifi-config clear")
	s.Assert().Equal("WiFi credentials cleared.", s.channel.last())
	s.Assert().Empty(s.wifi.ssid)

	s.dispatcher.Dispatch("wifi-config only-ssid-and extra junk")
	s.Assert().True(strings.HasPrefix(s.channel.last(), "Usage:"))
}

func (s *DispatcherTestSuite) TestBuiltin_Pairings() {
	s.dispatcher.Dispatch("pairings")
	s.Assert().Equal("Pairings: aa:bb:cc:dd:ee:ff", s.channel.last())

	s.dispatcher.Dispatch("pairings clear")
	s.Assert().Equal("Pairings cleared.", s.channel.last())

	s.dispatcher.Dispatch("pairings")
	s.Assert().Equal("No pairings.", s.channel.last())
}

func (s *DispatcherTestSuite) TestBuiltin_VersionAndLogLevel() {
	s.dispatcher.Dispatch("version")
	s.Assert().Equal("Version 1.2.3", s.channel.last())

	s.dispatcher.Dispatch("log-level")
	s.Assert().Equal("Log level is 4.", s.channel.last())

	s.dispatcher.Dispatch("log-level 5")
	s.Assert().Equal("Log level is 5.", s.channel.last())

	s.dispatcher.Dispatch("log-level loud")
	s.Assert().Contains(s.channel.last(), "Invalid log level")
	s.Assert().Equal(5, s.logLevel.level)

	s.dispatcher.Dispatch("log-level 9")
	s.Assert().Equal("log level must be between 0 and 7", s.channel.last())
}

func (s *DispatcherTestSuite) TestBuiltin_MissingHostFeature() {
	d := NewDispatcher(nil, NewResultSender(s.channel, 0, s.helper.Logger), Host{}, s.helper.Logger)

	d.Dispatch("wifi-config")
	s.Assert().Equal("WiFi is not available on this device.", s.channel.last())

	d.Dispatch("version")
	s.Assert().Equal("Version unknown", s.channel.last())
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func TestRegistry_Register(t *testing.T) {
	noop := func([]string, *ResultSender) error { return nil }

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "valid", id: "reboot-now2"},
		{name: "builtin", id: "help", wantErr: ErrReservedID},
		{name: "builtin log-level", id: "log-level", wantErr: ErrReservedID},
		{name: "upper case", id: "Reboot", wantErr: ErrInvalidID},
		{name: "underscore", id: "re_boot", wantErr: ErrInvalidID},
		{name: "space", id: "re boot", wantErr: ErrInvalidID},
		{name: "empty", id: "", wantErr: ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.id, "", noop)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	r := NewRegistry()
	if err := r.Register("reboot", "", noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("reboot", "", noop); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
