package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// liveSub is one subscriber's bounded mailbox. Buffered channels only —
// nothing here ever blocks the appending goroutine.
type liveSub struct {
	ch     chan models.Event
	closed bool
}

// Hub multiplexes one append path per task to any number of live SSE
// subscribers, replaying persisted history before tailing live events so
// a client that connects mid-investigation sees the full timeline
// (§4.2 "replay-then-tail"). Grounded on tarsy's ConnectionManager
// (pkg/events/manager.go) snapshot-then-send discipline, re-expressed
// over a bounded per-subscriber channel instead of a single WebSocket
// connection's outbound queue.
type Hub struct {
	store Store
	relay *NotifyRelay

	mu   sync.Mutex
	subs map[string]map[string]*liveSub // taskID -> subID -> sub

	bufferDepth int
}

// NewHub returns a Hub backed by store, using depth as the bounded
// channel size for every subscriber (DefaultBufferDepth if depth <= 0).
func NewHub(store Store, depth int) *Hub {
	if depth <= 0 {
		depth = DefaultBufferDepth
	}
	return &Hub{
		store:       store,
		subs:        make(map[string]map[string]*liveSub),
		bufferDepth: depth,
	}
}

// AttachRelay wires a cross-replica NotifyRelay so local appends are
// mirrored to other replicas and remote appends are delivered to this
// replica's local subscribers. Optional: a Hub with no relay works
// correctly for a single-replica deployment.
func (h *Hub) AttachRelay(relay *NotifyRelay) {
	h.relay = relay
}

// Append persists evt for taskID and broadcasts it to every live
// subscriber. A subscriber whose buffer is full is dropped: it receives
// a best-effort stream_lag event on its channel, after which the
// channel is closed. The persisted log itself is never affected by a
// slow subscriber (§4.2). If a relay is attached, the append is also
// published for other replicas' subscribers to pick up.
func (h *Hub) Append(ctx context.Context, taskID string, evt models.Event) error {
	if err := h.store.AppendEvent(ctx, taskID, evt); err != nil {
		return err
	}

	h.deliverLocal(taskID, evt)

	if h.relay != nil {
		if err := h.relay.Publish(ctx, taskID, evt); err != nil {
			slog.Warn("events: relay publish failed, remote replicas may miss this event", "task_id", taskID, "error", err)
		}
	}
	return nil
}

// deliverLocal broadcasts evt to this replica's subscribers only,
// without touching the store. Used both by Append (for the appending
// replica) and by NotifyRelay.dispatch (for every other replica).
func (h *Hub) deliverLocal(taskID string, evt models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs[taskID] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropLocked(taskID, id, sub)
		}
	}
}

// dropLocked marks sub as overflowed and closes its channel after
// enqueuing a stream_lag marker. The channel is necessarily full at
// this point, so the oldest buffered event is discarded to make room —
// the persisted store already has it, and the client is expected to
// reconnect and replay rather than trust the live channel's backlog.
// Caller holds h.mu.
func (h *Hub) dropLocked(taskID, subID string, sub *liveSub) {
	slog.Warn("events: subscriber buffer overflow, dropping", "task_id", taskID, "sub_id", subID)
	sub.closed = true
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- models.Event{Kind: StreamLagKind}:
	default:
	}
	close(sub.ch)
	delete(h.subs[taskID], subID)
}

// ReplayThenTail registers subID as a live subscriber for taskID and
// returns the persisted history followed by a channel that yields
// further live events. Registration happens before the persisted
// history is fetched, and the subscriber is added to the broadcast set
// under the same lock that reads the store — no append ordered after
// registration can be missed, and the caller is responsible for
// deduplicating by sequence number against the replayed tail if an
// append lands between the store read and registration (tarsy's
// ConnectionManager.handleCatchup documents the same race and resolves
// it the same way: the channel may repeat the last replayed event).
func (h *Hub) ReplayThenTail(ctx context.Context, taskID, subID string) ([]models.Event, <-chan models.Event, error) {
	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[string]*liveSub)
	}
	sub := &liveSub{ch: make(chan models.Event, h.bufferDepth)}
	h.subs[taskID][subID] = sub
	h.mu.Unlock()

	history, err := h.store.ReplayEvents(ctx, taskID)
	if err != nil {
		h.Unsubscribe(taskID, subID)
		return nil, nil, err
	}
	return history, sub.ch, nil
}

// Unsubscribe removes subID from taskID's live set and closes its
// channel, if still open. Safe to call more than once.
func (h *Hub) Unsubscribe(taskID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[taskID][subID]
	if !ok {
		return
	}
	delete(h.subs[taskID], subID)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// SubscriberCount reports how many live subscribers taskID currently
// has, for metrics and tests.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
