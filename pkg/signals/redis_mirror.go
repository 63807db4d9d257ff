package signals

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror best-effort-publishes approval resolutions to a shared
// Redis instance so a second process (e.g. an API replica other than the
// one the sub-agent's worker runs on) can observe a decision without
// waiting on the in-process channel. It is strictly a mirror, not the
// system of record — see DESIGN.md Open Question (b): the in-memory
// ApprovalTable on the deciding process is authoritative, this is only
// a convenience channel for cross-replica HTTP fan-out.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror wraps an existing redis client. A nil client is valid
// and turns every method into a no-op, so callers can construct a
// RedisMirror unconditionally and skip wiring Redis in single-replica
// deployments.
func NewRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix}
}

type approvalEvent struct {
	TraceID  string   `json:"trace_id"`
	CallID   string   `json:"call_id"`
	Decision Decision `json:"decision"`
}

// PublishResolution mirrors a resolved approval decision to Redis pub/sub
// so other replicas watching the same trace can react. Failures are
// logged, not propagated — the authoritative resolution already happened
// in-process.
func (m *RedisMirror) PublishResolution(ctx context.Context, traceID, callID string, decision Decision) {
	if m.client == nil {
		return
	}
	payload, err := json.Marshal(approvalEvent{TraceID: traceID, CallID: callID, Decision: decision})
	if err != nil {
		slog.Warn("redis mirror: marshal approval event", "error", err)
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.client.Publish(publishCtx, m.channel(traceID), payload).Err(); err != nil {
		slog.Warn("redis mirror: publish approval event", "trace_id", traceID, "error", err)
	}
}

// Subscribe returns a channel of Decisions observed for traceID/callID
// via Redis pub/sub, for a replica that did not itself register the
// pending approval. Caller must cancel ctx to stop the goroutine.
func (m *RedisMirror) Subscribe(ctx context.Context, traceID, callID string) <-chan Decision {
	out := make(chan Decision, 1)
	if m.client == nil {
		close(out)
		return out
	}
	sub := m.client.Subscribe(ctx, m.channel(traceID))
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev approvalEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if ev.CallID == callID {
					out <- ev.Decision
					return
				}
			}
		}
	}()
	return out
}

func (m *RedisMirror) channel(traceID string) string {
	return m.prefix + ":approval:" + traceID
}
