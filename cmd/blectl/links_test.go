package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blectl/internal/config"
	"github.com/srg/blectl/internal/controller"
	"github.com/srg/blectl/internal/testutils"
)

const linkPeer = "aa:bb:cc:dd:ee:01"

// linkRecorder is a linkController keeping the order of link events
type linkRecorder struct {
	mu     sync.Mutex
	events []string
	conns  []ble.Conn
}

func (r *linkRecorder) Connected(conn ble.Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "up:"+conn.RemoteAddr().String())
	r.conns = append(r.conns, conn)
	return conn.RemoteAddr().String()
}

func (r *linkRecorder) Disconnected(conn ble.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "down:"+conn.RemoteAddr().String())
}

func TestLinkTracker_Events(t *testing.T) {
	links := newLinkTracker(testutils.NewTestHelper(t).Logger)
	rec := &linkRecorder{}

	// nothing is reported before the controller is attached
	links.up(1, linkPeer)
	links.down(1)
	links.attach(rec)

	links.up(2, linkPeer)
	links.up(2, linkPeer)
	require.Len(t, rec.conns, 1)
	done := rec.conns[0].Disconnected()

	links.down(2)
	links.down(2)
	links.down(7)

	assert.Equal(t, []string{"up:" + linkPeer, "down:" + linkPeer}, rec.events)
	select {
	case <-done:
	default:
		t.Fatal("link disconnect signal not closed")
	}
}

func TestLinkTracker_DrivesController(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	f, err := config.Parse([]byte(greenhouseYAML))
	require.NoError(t, err)
	rt, err := f.Build(helper.Logger)
	require.NoError(t, err)
	defer rt.Close()

	var mu sync.Mutex
	var events []string
	record := func(ev string) func(string) {
		return func(peer string) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev+":"+peer)
		}
	}
	recorded := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), events...)
	}
	rt.Config.OnConnected = record("connected")
	rt.Config.OnDisconnected = record("disconnected")

	dev := testutils.NewFakeDevice()
	ctrl, err := controller.New(rt.Config, dev, helper.Logger)
	require.NoError(t, err)
	links := newLinkTracker(helper.Logger)
	links.attach(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, dev.Advertising, time.Second, 5*time.Millisecond)

	// the link comes up before any GATT traffic
	links.up(64, linkPeer)
	assert.Equal(t, 1, ctrl.Connections())
	require.Eventually(t, func() bool { return len(recorded()) == 1 }, time.Second, 5*time.Millisecond)

	// GATT requests from the same peer join the existing connection
	temp := testutils.FindCharacteristic(dev.Services(),
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	require.NotNil(t, temp)
	gattConn := testutils.NewFakeConn(linkPeer)
	_, status := testutils.ReadCharacteristic(temp, gattConn)
	assert.Equal(t, ble.ErrSuccess, status)
	assert.Equal(t, 1, ctrl.Connections())

	links.down(64)
	assert.Equal(t, 0, ctrl.Connections())
	gattConn.Disconnect()
	require.Eventually(t, func() bool { return len(recorded()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"connected:" + linkPeer, "disconnected:" + linkPeer}, recorded())
}

func TestCheckPairingSupport(t *testing.T) {
	assert.NoError(t, checkPairingSupport("none"))
	assert.NoError(t, checkPairingSupport("paranoid"), "unknown modes are reported by validation")
	assert.ErrorIs(t, checkPairingSupport("bond"), ErrPairingUnsupported)
	assert.ErrorIs(t, checkPairingSupport("Secure"), ErrPairingUnsupported)
}

func TestRun_RejectsPairingModes(t *testing.T) {
	// security_mode defaults to secure, so only an explicit none runs
	path := writeConfig(t, strings.Replace(greenhouseYAML, "security_mode: none\n", "", 1))
	_, err := executeCommand(t, "", "run", "--config", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPairingUnsupported), "got %v", err)
}
