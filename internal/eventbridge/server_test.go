package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regimesync/internal/fanout"
	"regimesync/pkg/logger"
)

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	srv := NewServer(Config{ReadTimeout: time.Second}, newTestLogger())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSendEventRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	received := make(chan Event, 1)
	srv.Subscribe(EventMarketUpdate, func(ev Event) {
		received <- ev
	})

	payload := map[string]interface{}{"regime": "GRIND UP", "spot_ndx": 15002.5}
	require.NoError(t, SendEvent(srv.Port(), EventMarketUpdate, payload, newTestLogger()))

	ev := waitEvent(t, received)
	assert.Equal(t, EventMarketUpdate, ev.Type)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
	assert.Equal(t, "GRIND UP", decoded["regime"])
	assert.Equal(t, 15002.5, decoded["spot_ndx"])
}

func TestCatchAllSeesUnroutedEvents(t *testing.T) {
	srv := newTestServer(t)

	received := make(chan Event, 1)
	srv.SubscribeAll(func(ev Event) {
		received <- ev
	})

	require.NoError(t, SendEvent(srv.Port(), "magnet_change", map[string]string{"symbol": "NDX"}, newTestLogger()))

	ev := waitEvent(t, received)
	assert.Equal(t, "magnet_change", ev.Type)
}

func TestEventsFanOutToDashboardClients(t *testing.T) {
	srv := newTestServer(t)

	hub := fanout.NewHub(newTestLogger())
	require.NoError(t, hub.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Stop(ctx)
	})

	// The hub wiring in regimehub: everything the bridge receives is pushed
	// to the dashboard clients, routed or not.
	srv.SubscribeAll(func(ev Event) {
		hub.Publish(ev)
	})

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", hub.Port())
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dashboard client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, SendEvent(srv.Port(), "magnet_change", map[string]string{"symbol": "NDX"}, newTestLogger()))

	var got Event
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, "magnet_change", got.Type)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &decoded))
	assert.Equal(t, "NDX", decoded["symbol"])
}

func TestMalformedEventIsDroppedAndServerSurvives(t *testing.T) {
	srv := newTestServer(t)

	received := make(chan Event, 1)
	srv.Subscribe(EventMarketUpdate, func(ev Event) {
		received <- ev
	})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"type": "MARKET_UPDATE", "payload":`))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// A well-formed event after the malformed one still goes through
	require.NoError(t, SendEvent(srv.Port(), EventMarketUpdate, map[string]int{"regime_code": 3}, newTestLogger()))

	ev := waitEvent(t, received)
	assert.Equal(t, EventMarketUpdate, ev.Type)
}

func TestSendEventToClosedPortIsSwallowed(t *testing.T) {
	// Grab a port that nothing listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = SendEvent(port, EventMarketUpdate, map[string]string{}, newTestLogger())
	assert.NoError(t, err)
}

func TestHandlerPanicDoesNotKillDispatch(t *testing.T) {
	srv := newTestServer(t)

	received := make(chan Event, 1)
	srv.Subscribe(EventMarketUpdate, func(Event) { panic("boom") })
	srv.Subscribe(EventMarketUpdate, func(ev Event) { received <- ev })

	require.NoError(t, SendEvent(srv.Port(), EventMarketUpdate, map[string]string{}, newTestLogger()))

	waitEvent(t, received)
}
