// Package reconcile owns the ordered, deduplicated message sequence of one
// open conversation, merging the initial history page, backstop fetches and
// live push events into a single view, and folding optimistic local sends
// into their server-confirmed counterparts.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/upstream"
)

// Pending is the handle returned by SendOptimistic, used to later confirm
// or roll back the optimistic entry. At most one pending entry exists per
// handle.
type Pending struct {
	LocalID string

	content     string
	confirmedID string
}

type entry struct {
	msg models.Message
	seq int
}

// Reconciler is safe for concurrent use; every mutation of the sequence is
// serialized behind one mutex, and the mutex is never held across a network
// call.
type Reconciler struct {
	conversationID string
	selfID         string
	history        upstream.History
	pageSize       int

	mu      sync.Mutex
	entries []entry
	index   map[string]struct{}
	pending map[string]*Pending
	nextSeq int
}

// New constructs an empty reconciler for one conversation.
func New(conversationID, selfID string, history upstream.History, pageSize int) *Reconciler {
	return &Reconciler{
		conversationID: conversationID,
		selfID:         selfID,
		history:        history,
		pageSize:       pageSize,
		index:          make(map[string]struct{}),
		pending:        make(map[string]*Pending),
	}
}

// ConversationID returns the conversation this reconciler owns.
func (r *Reconciler) ConversationID() string {
	return r.conversationID
}

// LoadInitial fetches the first history page and replaces the sequence
// wholesale. This is the only replace operation; everything else merges.
func (r *Reconciler) LoadInitial(ctx context.Context) error {
	msgs, _, err := r.history.Messages(ctx, r.conversationID, 1, r.pageSize)
	if err != nil {
		return fmt.Errorf("load initial page: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = r.entries[:0]
	r.index = make(map[string]struct{}, len(msgs))
	r.pending = make(map[string]*Pending)
	r.nextSeq = 0
	for _, msg := range msgs {
		if _, ok := r.index[msg.ID]; ok {
			observability.IncMergeDuplicate()
			continue
		}
		r.insertSortedLocked(msg)
		observability.IncMergedMessage("initial")
	}
	return nil
}

// MergeFetched folds a history page from a backstop poll or post-reconnect
// catch-up into the sequence. Known identifiers are ignored; missing ones
// are inserted at their sorted position. Pending local entries are never
// touched, even when the fetch does not know about them yet.
func (r *Reconciler) MergeFetched(msgs []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range msgs {
		if _, ok := r.index[msg.ID]; ok {
			observability.IncMergeDuplicate()
			continue
		}
		r.insertSortedLocked(msg)
		observability.IncMergedMessage("fetch")
	}
}

// OnPush applies one live message.created event. Identical to MergeFetched
// for a single message, except that a push authored by the local user may be
// the echo of an in-flight optimistic send: in that case the pending entry
// is replaced in place instead of a second entry being inserted, which
// handles the push-beats-submission-response race.
func (r *Reconciler) OnPush(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[msg.ID]; ok {
		observability.IncMergeDuplicate()
		// The server record may have arrived via a backstop fetch while an
		// optimistic copy of the same send is still pending; fold that copy
		// away so a later Confirm cannot duplicate it.
		if msg.SenderID == r.selfID {
			if handle := r.matchPendingLocked(msg.Content); handle != nil {
				r.dropPendingLocked(handle, msg.ID)
			}
		}
		return
	}

	if msg.SenderID == r.selfID {
		if handle := r.matchPendingLocked(msg.Content); handle != nil {
			r.replacePendingLocked(handle, msg)
			observability.IncMergedMessage("push")
			return
		}
	}

	r.insertSortedLocked(msg)
	observability.IncMergedMessage("push")
}

// SendOptimistic appends a pending message with a temporary identifier and
// the local time, returning the handle for Confirm or Rollback.
func (r *Reconciler) SendOptimistic(content string) *Pending {
	handle := &Pending{
		LocalID: "local-" + uuid.NewString(),
		content: content,
	}
	msg := models.Message{
		ID:             handle.LocalID,
		ConversationID: r.conversationID,
		SenderID:       r.selfID,
		Content:        content,
		Type:           models.MessageTypeText,
		Pending:        true,
		CreatedAt:      time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertSortedLocked(msg)
	r.pending[handle.LocalID] = handle
	return handle
}

// Confirm swaps the pending entry's identifier and timestamp for the
// server-assigned values, in place. Idempotent: if a push echo already
// replaced the entry, a confirm for the same server identifier is a no-op.
func (r *Reconciler) Confirm(handle *Pending, serverMsg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handle.confirmedID != "" {
		if handle.confirmedID != serverMsg.ID {
			// Different server identity than the folded echo; treat the
			// submission response as authoritative and merge it in.
			if _, ok := r.index[serverMsg.ID]; !ok {
				r.insertSortedLocked(serverMsg)
			}
		}
		return
	}
	if _, ok := r.index[serverMsg.ID]; ok {
		// A backstop fetch already delivered the server record. Replacing
		// the pending entry would leave the same identifier in the sequence
		// twice, so the pending copy is removed instead.
		r.dropPendingLocked(handle, serverMsg.ID)
		return
	}
	r.replacePendingLocked(handle, serverMsg)
}

// Rollback removes the pending entry entirely; used when the submission
// call fails outright. A rollback after confirmation is a no-op.
func (r *Reconciler) Rollback(handle *Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handle.confirmedID != "" {
		return
	}
	delete(r.pending, handle.LocalID)
	delete(r.index, handle.LocalID)
	for i, e := range r.entries {
		if e.msg.ID == handle.LocalID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Messages returns a snapshot of the sequence, sorted ascending by
// effective timestamp.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg
	}
	return out
}

// HasPending reports whether any optimistic entry awaits confirmation.
func (r *Reconciler) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}

func (r *Reconciler) insertSortedLocked(msg models.Message) {
	e := entry{msg: msg, seq: r.nextSeq}
	r.nextSeq++

	// Ties on timestamp keep insertion order.
	pos := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].msg.CreatedAt.After(msg.CreatedAt)
	})
	r.entries = append(r.entries, entry{})
	copy(r.entries[pos+1:], r.entries[pos:])
	r.entries[pos] = e
	r.index[msg.ID] = struct{}{}
}

// dropPendingLocked removes a pending entry whose server record is already
// present in the sequence, marking the handle confirmed against that record
// so Confirm and Rollback both become no-ops.
func (r *Reconciler) dropPendingLocked(handle *Pending, serverID string) {
	handle.confirmedID = serverID
	delete(r.pending, handle.LocalID)
	delete(r.index, handle.LocalID)
	for i, e := range r.entries {
		if e.msg.ID == handle.LocalID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// matchPendingLocked finds the oldest unconfirmed optimistic entry with the
// given content. Content plus author is the only correlation available for
// a push echo that races the submission response.
func (r *Reconciler) matchPendingLocked(content string) *Pending {
	var best *Pending
	bestSeq := -1
	for _, handle := range r.pending {
		if handle.content != content || handle.confirmedID != "" {
			continue
		}
		for _, e := range r.entries {
			if e.msg.ID == handle.LocalID {
				if bestSeq == -1 || e.seq < bestSeq {
					best = handle
					bestSeq = e.seq
				}
				break
			}
		}
	}
	return best
}

// replacePendingLocked rewrites the pending entry with the server record,
// keeping its slot, then restores timestamp order with a stable sort so no
// other entry visibly moves.
func (r *Reconciler) replacePendingLocked(handle *Pending, serverMsg models.Message) {
	for i := range r.entries {
		if r.entries[i].msg.ID != handle.LocalID {
			continue
		}
		delete(r.index, handle.LocalID)
		serverMsg.Pending = false
		r.entries[i].msg = serverMsg
		r.index[serverMsg.ID] = struct{}{}
		handle.confirmedID = serverMsg.ID
		delete(r.pending, handle.LocalID)

		sort.SliceStable(r.entries, func(a, b int) bool {
			return r.entries[a].msg.CreatedAt.Before(r.entries[b].msg.CreatedAt)
		})
		return
	}
}
