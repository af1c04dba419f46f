package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strataline/callflow-backend/internal/domain/call"
	"github.com/strataline/callflow-backend/internal/testutil/fixtures"
)

type stubCommands struct {
	ended atomic.Value // uuid.UUID
}

func (s *stubCommands) EndCall(_ context.Context, id uuid.UUID) (*call.Call, error) {
	s.ended.Store(id)
	return fixtures.NewCall("vapi", "corr-1").WithStatus(call.StatusCompleted).Build(), nil
}

type countingHubMetrics struct {
	connected    atomic.Int64
	disconnected atomic.Int64
	broadcasts   atomic.Int64
}

func (m *countingHubMetrics) ObserverConnected()    { m.connected.Add(1) }
func (m *countingHubMetrics) ObserverDisconnected() { m.disconnected.Add(1) }
func (m *countingHubMetrics) BroadcastSent()        { m.broadcasts.Add(1) }

type hubFixture struct {
	hub      *Hub
	commands *stubCommands
	metrics  *countingHubMetrics
	server   *httptest.Server
	cancel   context.CancelFunc
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f := &hubFixture{
		commands: &stubCommands{},
		metrics:  &countingHubMetrics{},
		cancel:   cancel,
	}
	f.hub = NewHub(zap.NewNop(), f.metrics)
	go f.hub.Run(ctx)
	f.server = httptest.NewServer(NewHandler(f.hub, f.commands, zap.NewNop()))
	t.Cleanup(func() {
		f.server.Close()
		cancel()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *hubFixture) waitForObservers(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.metrics.connected.Load()-f.metrics.disconnected.Load() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func readNotification(t *testing.T, conn *websocket.Conn) Notification {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var n Notification
	require.NoError(t, json.Unmarshal(payload, &n))
	return n
}

func TestHub_BroadcastReachesAllObservers(t *testing.T) {
	f := newHubFixture(t)
	conns := []*websocket.Conn{f.dial(t), f.dial(t), f.dial(t)}
	f.waitForObservers(t, 3)

	rec := fixtures.NewCall("vapi", "corr-1").Build()
	f.hub.CallCreated(context.Background(), rec)

	for _, conn := range conns {
		n := readNotification(t, conn)
		assert.Equal(t, NotifyIncomingCall, n.Type)
		require.NotNil(t, n.Call)
		assert.Equal(t, rec.ID, n.Call.ID)
	}
	assert.Equal(t, int64(1), f.metrics.broadcasts.Load())
}

func TestHub_NotificationTypes(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)
	f.waitForObservers(t, 1)
	ctx := context.Background()

	outgoing := fixtures.NewCall("vapi", "corr-out").
		WithDirection(call.DirectionOutgoing).
		WithStatus(call.StatusInitiated).
		Build()
	f.hub.CallCreated(ctx, outgoing)
	assert.Equal(t, NotifyCallCreated, readNotification(t, conn).Type)

	f.hub.CallUpdated(ctx, fixtures.NewCall("vapi", "corr-1").Build())
	assert.Equal(t, NotifyCallUpdated, readNotification(t, conn).Type)

	f.hub.CallEnded(ctx, fixtures.NewCall("vapi", "corr-1").WithStatus(call.StatusCompleted).Build())
	assert.Equal(t, NotifyCallEnded, readNotification(t, conn).Type)
}

func TestHub_FailedObserverDoesNotBlockOthers(t *testing.T) {
	f := newHubFixture(t)
	healthy1 := f.dial(t)
	failing := f.dial(t)
	healthy2 := f.dial(t)
	f.waitForObservers(t, 3)

	// Kill one observer's transport out from under it.
	failing.UnderlyingConn().Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.hub.CallUpdated(ctx, fixtures.NewCall("vapi", "corr-1").Build())
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, NotifyCallUpdated, readNotification(t, healthy1).Type)
		assert.Equal(t, NotifyCallUpdated, readNotification(t, healthy2).Type)
	}

	require.Eventually(t, func() bool {
		return f.metrics.disconnected.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond, "the dead observer should be reaped")
}

func TestHub_EndCallCommand(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)
	f.waitForObservers(t, 1)

	id := uuid.New()
	require.NoError(t, conn.WriteJSON(map[string]string{
		"action": "endCall",
		"callId": id.String(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var result struct {
		Type   string `json:"type"`
		Action string `json:"action"`
		OK     bool   `json:"ok"`
	}
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "commandResult", result.Type)
	assert.Equal(t, "endCall", result.Action)
	assert.True(t, result.OK)

	require.Eventually(t, func() bool {
		v := f.commands.ended.Load()
		return v != nil && v.(uuid.UUID) == id
	}, 2*time.Second, 10*time.Millisecond)
}

// Actions this server does not recognize are dropped without a reply, so a
// newer client speaking a wider command set keeps working against it.
func TestHub_UnknownActionIgnored(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)
	f.waitForObservers(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"transferCall","callId":"x"}`)))

	// Give the read pump time to process the command, then broadcast. The
	// next frame the observer sees must be the notification, not an error.
	time.Sleep(100 * time.Millisecond)
	f.hub.CallUpdated(context.Background(), fixtures.NewCall("vapi", "corr-1").Build())

	n := readNotification(t, conn)
	assert.Equal(t, NotifyCallUpdated, n.Type)

	// The observer can still issue known commands afterwards.
	require.NoError(t, conn.WriteJSON(map[string]string{
		"action": "endCall",
		"callId": uuid.New().String(),
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var result struct {
		Action string `json:"action"`
		OK     bool   `json:"ok"`
	}
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "endCall", result.Action)
	assert.True(t, result.OK)
}

// After Run exits, a client tearing down must not wedge on the unregister
// channel nobody services anymore.
func TestHub_ShutdownUnblocksObserverTeardown(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)
	f.waitForObservers(t, 1)

	f.cancel()
	select {
	case <-f.hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not shut down")
	}

	late := &Client{
		hub:    f.hub,
		conn:   conn,
		send:   make(chan []byte, 1),
		logger: zap.NewNop(),
	}
	finished := make(chan struct{})
	go func() {
		late.ReadPump(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump stayed blocked after hub shutdown")
	}
}

func TestHub_CommandRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		errMsg  string
	}{
		{"invalid call id", `{"action":"endCall","callId":"not-a-uuid"}`, "invalid call id"},
		{"malformed json", `{{{`, "malformed command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHubFixture(t)
			conn := f.dial(t)
			f.waitForObservers(t, 1)

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var result struct {
				OK    bool   `json:"ok"`
				Error string `json:"error"`
			}
			require.NoError(t, conn.ReadJSON(&result))
			assert.False(t, result.OK)
			assert.Equal(t, tt.errMsg, result.Error)
		})
	}
}
