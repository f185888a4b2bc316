package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/models"
)

type scriptConn struct {
	inbound chan models.Event

	mu     sync.Mutex
	writes []models.Event
	closed bool
	done   chan struct{}
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		inbound: make(chan models.Event, 16),
		done:    make(chan struct{}),
	}
}

func (c *scriptConn) ReadJSON(v any) error {
	select {
	case ev := <-c.inbound:
		*(v.(*models.Event)) = ev
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

func (c *scriptConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, v.(models.Event))
	return nil
}

func (c *scriptConn) SetReadDeadline(time.Time) error { return nil }

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *scriptConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, len(c.writes))
	for i, ev := range c.writes {
		types[i] = ev.Type
	}
	return types
}

type scriptDialer struct {
	mu    sync.Mutex
	conns []*scriptConn
	err   error
	dials atomic.Int32
}

func (d *scriptDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no scripted connection")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func testConfig() Config {
	return Config{
		URL:              "ws://test/ws",
		Token:            "token",
		UserID:           "me",
		SessionID:        "sess-1",
		ReconnectBase:    10 * time.Millisecond,
		ReconnectCap:     50 * time.Millisecond,
		HandshakeTimeout: time.Second,
	}
}

func joinedConn() *scriptConn {
	conn := newScriptConn()
	conn.inbound <- models.Event{Type: models.EventJoined}
	return conn
}

func waitForState(t *testing.T, m *Manager, state models.ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == state }, time.Second, 5*time.Millisecond)
}

func TestConnectHandshakeSuccess(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	require.Equal(t, models.ConnDisconnected, m.State())
	m.Connect()
	waitForState(t, m, models.ConnConnected)

	require.Equal(t, []string{models.EventJoin}, conn.sentTypes())
	m.Disconnect()
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &scriptDialer{conns: []*scriptConn{joinedConn()}}
	m := NewManager(testConfig(), dialer)

	m.Connect()
	waitForState(t, m, models.ConnConnected)
	m.Connect()
	m.Connect()

	assert.Equal(t, int32(1), dialer.dials.Load())
	m.Disconnect()
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	var mu sync.Mutex
	var order []string
	m.Subscribe(models.EventTypingStart, func(models.Event) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	m.Subscribe(models.EventTypingStart, func(models.Event) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	m.Connect()
	waitForState(t, m, models.ConnConnected)
	conn.inbound <- models.Event{Type: models.EventTypingStart, ConversationID: "c1", UserID: "alice"}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, order)
	m.Disconnect()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	var count atomic.Int32
	unsubscribe := m.Subscribe(models.EventMessageCreated, func(models.Event) { count.Add(1) })

	m.Connect()
	waitForState(t, m, models.ConnConnected)

	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	conn.inbound <- models.Event{Type: models.EventMessageCreated, ConversationID: "c1", Message: &msg}
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	conn.inbound <- models.Event{Type: models.EventMessageCreated, ConversationID: "c1", Message: &msg}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
	m.Disconnect()
}

func TestMalformedEventDroppedPipelineSurvives(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	var count atomic.Int32
	m.Subscribe(models.EventMessageCreated, func(models.Event) { count.Add(1) })

	m.Connect()
	waitForState(t, m, models.ConnConnected)

	// Missing message payload: dropped, must not kill the read loop.
	conn.inbound <- models.Event{Type: models.EventMessageCreated, ConversationID: "c1"}
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	conn.inbound <- models.Event{Type: models.EventMessageCreated, ConversationID: "c1", Message: &msg}

	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ConnConnected, m.State())
	m.Disconnect()
}

func TestUnknownEventKindIgnored(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	m.Connect()
	waitForState(t, m, models.ConnConnected)

	conn.inbound <- models.Event{Type: "presence.ping", UserID: "alice"}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, models.ConnConnected, m.State())
	m.Disconnect()
}

func TestTransportErrorReconnects(t *testing.T) {
	first := joinedConn()
	second := joinedConn()
	dialer := &scriptDialer{conns: []*scriptConn{first, second}}
	m := NewManager(testConfig(), dialer)

	m.Connect()
	waitForState(t, m, models.ConnConnected)

	first.Close()
	require.Eventually(t, func() bool { return dialer.dials.Load() == 2 }, time.Second, 5*time.Millisecond)
	waitForState(t, m, models.ConnConnected)
	m.Disconnect()
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	conn := newScriptConn()
	conn.inbound <- models.Event{Type: models.EventError, Code: "unauthorized"}
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	m := NewManager(testConfig(), dialer)

	var authErr error
	var mu sync.Mutex
	m.OnAuthFailure(func(err error) {
		mu.Lock()
		authErr = err
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return authErr != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.ErrorIs(t, authErr, ErrAuthRejected)
	mu.Unlock()

	// No retry after a terminal rejection.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Equal(t, models.ConnDisconnected, m.State())

	m.Connect()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestDialFailureRetriesWithBackoff(t *testing.T) {
	dialer := &scriptDialer{err: errors.New("connection refused")}
	m := NewManager(testConfig(), dialer)

	m.Connect()
	require.Eventually(t, func() bool { return dialer.dials.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ConnDisconnected, m.State())
	m.Disconnect()
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	dialer := &scriptDialer{err: errors.New("connection refused")}
	m := NewManager(testConfig(), dialer)

	m.Connect()
	require.Eventually(t, func() bool { return dialer.dials.Load() >= 1 }, time.Second, 5*time.Millisecond)
	m.Disconnect()

	settled := dialer.dials.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, settled, dialer.dials.Load())
}

func TestBackoffMonotonicUnderCap(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBase = 100 * time.Millisecond
	cfg.ReconnectCap = 400 * time.Millisecond
	m := NewManager(cfg, &scriptDialer{})
	m.backoff.RandomizationFactor = 0

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		delay := m.backoff.NextBackOff()
		require.GreaterOrEqual(t, delay, prev, "delay decreased at attempt %d", i)
		require.LessOrEqual(t, delay, cfg.ReconnectCap)
		prev = delay
	}
}

func TestSendWhileDisconnectedIsSoftFailure(t *testing.T) {
	m := NewManager(testConfig(), &scriptDialer{})
	// Must not panic or block.
	m.Send(models.Event{Type: models.EventTypingStart, ConversationID: "c1", UserID: "me"})
	assert.Equal(t, models.ConnDisconnected, m.State())
}

func TestSendWhileConnectedWrites(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	m.Connect()
	waitForState(t, m, models.ConnConnected)

	m.Send(models.Event{Type: models.EventTypingStart, ConversationID: "c1", UserID: "me"})
	require.Eventually(t, func() bool {
		types := conn.sentTypes()
		return len(types) == 2 && types[1] == models.EventTypingStart
	}, time.Second, 5*time.Millisecond)
	m.Disconnect()
}

func TestStateChangeNotifications(t *testing.T) {
	conn := joinedConn()
	m := NewManager(testConfig(), &scriptDialer{conns: []*scriptConn{conn}})

	var mu sync.Mutex
	var states []models.ConnState
	m.OnStateChange(func(s models.ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.Connect()
	waitForState(t, m, models.ConnConnected)

	mu.Lock()
	assert.Equal(t, []models.ConnState{models.ConnConnecting, models.ConnConnected}, states)
	mu.Unlock()
	m.Disconnect()
}
