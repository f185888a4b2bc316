// Package delivery is the façade the rest of the product calls: it accepts
// send requests, drives the reconciler's optimistic-insert/confirm/rollback
// cycle, and keeps open conversations fresh whether push delivery is
// healthy or silently degraded.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/reconcile"
	"chat-core/internal/typing"
	"chat-core/internal/upstream"
)

var (
	ErrEmptyMessage        = errors.New("message content is empty")
	ErrConversationNotOpen = errors.New("conversation is not open")
)

// SendError wraps a failed submission and carries the trimmed content back
// to the caller so the input field can be repopulated instead of lost.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Channel is the slice of the connection manager the orchestrator needs.
type Channel interface {
	Send(ev models.Event)
	Subscribe(kind string, h func(models.Event)) func()
	OnStateChange(h func(models.ConnState))
	State() models.ConnState
}

type view struct {
	rec         *reconcile.Reconciler
	unsubscribe func()

	// sendMu serializes sends per conversation: a second send while one is
	// outstanding queues behind it, it is never dropped or reordered.
	sendMu sync.Mutex

	// fetchMu orders backstop fetches: late results from a superseded fetch
	// are discarded rather than applied.
	fetchMu     sync.Mutex
	fetchSeq    int64
	lastApplied int64
}

// Orchestrator owns the set of open conversation views for one session.
type Orchestrator struct {
	selfID       string
	history      upstream.History
	submit       upstream.Submitter
	ch           Channel
	tracker      *typing.Tracker
	pageSize     int
	pollInterval time.Duration

	mu    sync.Mutex
	views map[string]*view
}

// New wires the orchestrator to the channel: remote typing signals feed the
// tracker, and every transition to CONNECTED triggers a catch-up fetch for
// all open conversations.
func New(selfID string, history upstream.History, submit upstream.Submitter, ch Channel, tracker *typing.Tracker, pageSize int, pollInterval time.Duration) *Orchestrator {
	o := &Orchestrator{
		selfID:       selfID,
		history:      history,
		submit:       submit,
		ch:           ch,
		tracker:      tracker,
		pageSize:     pageSize,
		pollInterval: pollInterval,
		views:        make(map[string]*view),
	}

	ch.Subscribe(models.EventTypingStart, tracker.OnRemote)
	ch.Subscribe(models.EventTypingStop, tracker.OnRemote)
	ch.OnStateChange(func(state models.ConnState) {
		if state == models.ConnConnected {
			go o.refreshAll(context.Background())
		}
	})
	return o
}

// Open loads the initial history page for a conversation and attaches it to
// the push channel. Opening an already-open conversation is a no-op.
func (o *Orchestrator) Open(ctx context.Context, conversationID string) error {
	o.mu.Lock()
	if _, ok := o.views[conversationID]; ok {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	ctx, span := otel.Tracer("chat-core/delivery").Start(ctx, "conversation.open",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	rec := reconcile.New(conversationID, o.selfID, o.history, o.pageSize)
	if err := rec.LoadInitial(ctx); err != nil {
		return err
	}

	v := &view{rec: rec}
	v.unsubscribe = o.ch.Subscribe(models.EventMessageCreated, func(ev models.Event) {
		if ev.ConversationID != conversationID || ev.Message == nil {
			return
		}
		rec.OnPush(*ev.Message)
	})

	o.mu.Lock()
	if _, ok := o.views[conversationID]; ok {
		// Lost the race against a concurrent Open; keep the first view.
		o.mu.Unlock()
		v.unsubscribe()
		return nil
	}
	o.views[conversationID] = v
	o.mu.Unlock()
	return nil
}

// Close detaches a conversation view, dropping its subscriptions and typing
// state so nothing fires against a torn-down reconciler.
func (o *Orchestrator) Close(conversationID string) {
	o.mu.Lock()
	v, ok := o.views[conversationID]
	delete(o.views, conversationID)
	o.mu.Unlock()

	if !ok {
		return
	}
	v.unsubscribe()
	o.tracker.Forget(conversationID)
}

// Messages returns the reconciled sequence for an open conversation.
func (o *Orchestrator) Messages(conversationID string) ([]models.Message, error) {
	v, ok := o.view(conversationID)
	if !ok {
		return nil, ErrConversationNotOpen
	}
	return v.rec.Messages(), nil
}

// Send submits a message. Content empty after trimming is rejected before
// any network call. On failure the optimistic entry is rolled back and the
// trimmed content is returned inside a *SendError; retrying is the caller's
// decision, never automatic, to avoid duplicate sends.
func (o *Orchestrator) Send(ctx context.Context, conversationID, content string) (models.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return models.Message{}, ErrEmptyMessage
	}

	v, ok := o.view(conversationID)
	if !ok {
		return models.Message{}, ErrConversationNotOpen
	}

	ctx, span := otel.Tracer("chat-core/delivery").Start(ctx, "message.send",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	v.sendMu.Lock()
	defer v.sendMu.Unlock()

	o.tracker.LocalStop(conversationID)
	handle := v.rec.SendOptimistic(trimmed)

	serverMsg, err := o.submit.Submit(ctx, conversationID, o.selfID, trimmed)
	if err != nil {
		v.rec.Rollback(handle)
		observability.IncSendFailure()
		return models.Message{}, &SendError{Content: trimmed, Err: err}
	}

	v.rec.Confirm(handle, serverMsg)

	// Echo to other sessions of this user. Pure optimization: the
	// submission service is the source of truth, so a silent failure here
	// costs nothing.
	o.ch.Send(models.Event{
		Type:           models.EventMessageCreated,
		ConversationID: conversationID,
		Message:        &serverMsg,
	})
	return serverMsg, nil
}

// EnsureFresh pulls the latest history page and merges it into the open
// view. Results of a fetch superseded by a newer one for the same
// conversation are discarded, last writer wins by request sequence.
func (o *Orchestrator) EnsureFresh(ctx context.Context, conversationID string) error {
	v, ok := o.view(conversationID)
	if !ok {
		return ErrConversationNotOpen
	}

	v.fetchMu.Lock()
	v.fetchSeq++
	seq := v.fetchSeq
	v.fetchMu.Unlock()

	msgs, _, err := o.history.Messages(ctx, conversationID, 1, o.pageSize)
	if err != nil {
		observability.IncPollError()
		return fmt.Errorf("backstop fetch: %w", err)
	}

	v.fetchMu.Lock()
	if seq < v.lastApplied {
		v.fetchMu.Unlock()
		return nil
	}
	v.lastApplied = seq
	v.fetchMu.Unlock()

	v.rec.MergeFetched(msgs)
	return nil
}

// Typing reports the users currently typing in a conversation.
func (o *Orchestrator) Typing(conversationID string) []models.TypingState {
	return o.tracker.Active(conversationID)
}

// StartTyping forwards a debounced local typing signal.
func (o *Orchestrator) StartTyping(conversationID string) {
	o.tracker.LocalStart(conversationID)
}

// StopTyping forwards an immediate local stop signal.
func (o *Orchestrator) StopTyping(conversationID string) {
	o.tracker.LocalStop(conversationID)
}

// ConnectionState reports the push channel state.
func (o *Orchestrator) ConnectionState() models.ConnState {
	return o.ch.State()
}

// Run drives the fixed-interval backstop poll until the context is
// cancelled. Fetch errors are soft: logged and retried on the next tick.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshAll(ctx)
		}
	}
}

func (o *Orchestrator) refreshAll(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.views))
	for id := range o.views {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.EnsureFresh(ctx, id); err != nil && !errors.Is(err, ErrConversationNotOpen) {
			log.Printf("backstop fetch failed conversation=%s: %v", id, err)
		}
	}
}

func (o *Orchestrator) view(conversationID string) (*view, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.views[conversationID]
	return v, ok
}
