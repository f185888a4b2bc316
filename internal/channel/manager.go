// Package channel owns the single push channel of an authenticated session:
// connect, application-level join handshake, disconnect detection, capped
// reconnect, and fan-out of inbound events to subscribers.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chat-core/internal/models"
	"chat-core/internal/observability"
)

// ErrAuthRejected signals that the push endpoint refused the session
// credentials during the join handshake. The channel gives up; the session
// needs renewal.
var ErrAuthRejected = errors.New("push channel rejected session credentials")

// Handler consumes one inbound event. Handlers for a kind run in
// registration order, synchronously on the read loop.
type Handler = func(models.Event)

// Config carries the channel tunables.
type Config struct {
	URL              string
	Token            string
	UserID           string
	SessionID        string
	ReconnectBase    time.Duration
	ReconnectCap     time.Duration
	HandshakeTimeout time.Duration
}

type subscription struct {
	id int
	fn Handler
}

// Manager maintains one logical push channel, independent of which
// conversation is currently displayed.
type Manager struct {
	cfg    Config
	dialer Dialer

	mu             sync.Mutex
	state          models.ConnState
	conn           Conn
	gen            int
	connectedAt    time.Time
	reconnectTimer *time.Timer
	backoff        *backoff.ExponentialBackOff
	closed         bool
	terminal       bool

	writeMu sync.Mutex

	subMu     sync.RWMutex
	subs      map[string][]subscription
	stateSubs []func(models.ConnState)
	authSubs  []func(error)
	nextSubID int
}

// NewManager constructs a disconnected manager.
func NewManager(cfg Config, dialer Dialer) *Manager {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBase
	b.MaxInterval = cfg.ReconnectCap
	b.MaxElapsedTime = 0

	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		state:   models.ConnDisconnected,
		backoff: b,
		subs:    make(map[string][]subscription),
	}
}

// State reports the current connection state.
func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection attempt. It is idempotent: a no-op while
// already connecting or connected, after Disconnect, and after a terminal
// auth failure.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.terminal || m.state != models.ConnDisconnected {
		m.mu.Unlock()
		return
	}
	m.cancelReconnectLocked()
	m.state = models.ConnConnecting
	observability.SetChannelState(m.state)
	m.mu.Unlock()

	m.notifyState(models.ConnConnecting)
	go m.dial()
}

// Disconnect tears the channel down for good, cancelling any pending
// reconnect. Used on logout or when the session view goes away.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancelReconnectLocked()
	conn := m.conn
	m.conn = nil
	m.gen++
	wasConnected := m.state == models.ConnConnected
	m.state = models.ConnDisconnected
	observability.SetChannelState(m.state)
	connectedAt := m.connectedAt
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		m.publishLifecycle("ws_disconnect", "client teardown", connectedAt)
	}
	m.notifyState(models.ConnDisconnected)
}

// Send pushes an outbound event, fire and forget. Not being connected is a
// soft failure: logged, never surfaced, callers must not block on it.
func (m *Manager) Send(ev models.Event) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == models.ConnConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		log.Printf("push send skipped while disconnected: %s", ev.Type)
		return
	}

	m.writeMu.Lock()
	err := conn.WriteJSON(ev)
	m.writeMu.Unlock()
	if err != nil {
		log.Printf("push send failed: %v", err)
		return
	}
	observability.IncChannelEvent("outbound", ev.Type)
}

// Subscribe registers a handler for one inbound event kind and returns the
// unsubscribe func. Subscriptions are additive; a closing conversation view
// must unsubscribe so handlers never fire against torn-down state.
func (m *Manager) Subscribe(kind string, h Handler) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[kind] = append(m.subs[kind], subscription{id: id, fn: h})
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		entries := m.subs[kind]
		for i, entry := range entries {
			if entry.id == id {
				m.subs[kind] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers a handler invoked after every state transition.
func (m *Manager) OnStateChange(h func(models.ConnState)) {
	m.subMu.Lock()
	m.stateSubs = append(m.stateSubs, h)
	m.subMu.Unlock()
}

// OnAuthFailure registers a handler for the terminal handshake rejection.
func (m *Manager) OnAuthFailure(h func(error)) {
	m.subMu.Lock()
	m.authSubs = append(m.authSubs, h)
	m.subMu.Unlock()
}

func (m *Manager) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.connectFailed(fmt.Errorf("dial: %w", err))
		return
	}

	join := models.Event{Type: models.EventJoin, Token: m.cfg.Token, UserID: m.cfg.UserID}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		m.connectFailed(fmt.Errorf("join: %w", err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	var ack models.Event
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		m.connectFailed(fmt.Errorf("handshake read: %w", err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if ack.Type == models.EventError && ack.Code == "unauthorized" {
		_ = conn.Close()
		m.authRejected()
		return
	}
	if ack.Type != models.EventJoined {
		_ = conn.Close()
		m.connectFailed(fmt.Errorf("unexpected handshake reply %q", ack.Type))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.connectedAt = time.Now()
	m.backoff.Reset()
	m.state = models.ConnConnected
	observability.SetChannelState(m.state)
	m.mu.Unlock()

	log.Printf("push channel connected session=%s", m.cfg.SessionID)
	observability.IncChannelEvent("lifecycle", "ws_connect")
	m.publishLifecycle("ws_connect", "", time.Now())
	m.notifyState(models.ConnConnected)

	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			m.transportError(conn, gen, err)
			return
		}

		observability.IncChannelEvent("inbound", ev.Type)
		if err := ev.Validate(); err != nil {
			log.Printf("dropping malformed event type=%q: %v", ev.Type, err)
			observability.IncDroppedEvent()
			continue
		}
		m.dispatch(ev)
	}
}

func (m *Manager) dispatch(ev models.Event) {
	m.subMu.RLock()
	entries := make([]subscription, len(m.subs[ev.Type]))
	copy(entries, m.subs[ev.Type])
	m.subMu.RUnlock()

	for _, entry := range entries {
		entry.fn(ev)
	}
}

// transportError tears down a live connection and schedules exactly one
// reconnect. Stale read loops from an older connection are ignored.
func (m *Manager) transportError(conn Conn, gen int, err error) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = models.ConnDisconnected
	observability.SetChannelState(m.state)
	connectedAt := m.connectedAt
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	_ = conn.Close()
	log.Printf("push channel dropped: %v", err)
	observability.IncChannelEvent("lifecycle", "ws_error")
	m.publishLifecycle("ws_error", err.Error(), connectedAt)
	m.notifyState(models.ConnDisconnected)
}

// connectFailed handles a failed dial or handshake while CONNECTING.
func (m *Manager) connectFailed(err error) {
	m.mu.Lock()
	if m.closed || m.state != models.ConnConnecting {
		m.mu.Unlock()
		return
	}
	m.state = models.ConnDisconnected
	observability.SetChannelState(m.state)
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	log.Printf("push channel connect failed: %v", err)
	m.notifyState(models.ConnDisconnected)
}

func (m *Manager) authRejected() {
	m.mu.Lock()
	m.terminal = true
	m.cancelReconnectLocked()
	m.state = models.ConnDisconnected
	observability.SetChannelState(m.state)
	m.mu.Unlock()

	log.Printf("push channel handshake rejected, giving up")
	m.publishLifecycle("ws_error", ErrAuthRejected.Error(), time.Now())
	m.notifyState(models.ConnDisconnected)

	m.subMu.RLock()
	handlers := make([]func(error), len(m.authSubs))
	copy(handlers, m.authSubs)
	m.subMu.RUnlock()
	for _, h := range handlers {
		h(ErrAuthRejected)
	}
}

func (m *Manager) scheduleReconnectLocked() {
	m.cancelReconnectLocked()
	delay := m.backoff.NextBackOff()
	observability.IncReconnect()
	m.reconnectTimer = time.AfterFunc(delay, m.retry)
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.closed || m.terminal || m.state != models.ConnDisconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.state = models.ConnConnecting
	observability.SetChannelState(m.state)
	m.mu.Unlock()

	m.notifyState(models.ConnConnecting)
	go m.dial()
}

func (m *Manager) notifyState(state models.ConnState) {
	m.subMu.RLock()
	handlers := make([]func(models.ConnState), len(m.stateSubs))
	copy(handlers, m.stateSubs)
	m.subMu.RUnlock()

	for _, h := range handlers {
		h(state)
	}
}

func (m *Manager) publishLifecycle(event, reason string, since time.Time) {
	payload := observability.ChannelEventPayload{
		SessionID: m.cfg.SessionID,
		UserID:    m.cfg.UserID,
		Event:     event,
		State:     string(m.State()),
		Reason:    reason,
		UptimeMS:  time.Since(since).Milliseconds(),
	}
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders("", ""))
}
