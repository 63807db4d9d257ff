// Package events implements the persisted append-only event log and its
// SSE replay-then-tail transport (§4.2). A per-task Hub multiplexes one
// append path to any number of live subscribers with a bounded buffer
// per subscriber; an optional cross-process NotifyListener mirrors
// appends over Postgres LISTEN/NOTIFY so a subscriber attached to a
// different replica than the one running the task's worker still
// receives live events.
package events

// StreamLagKind is the terminal event kind sent to a subscriber whose
// buffer overflowed, per §4.2: "the subscriber is dropped with a
// terminal stream_lag event on its channel; the persisted log is
// unaffected and the client may reconnect via replay."
const StreamLagKind = "stream_lag"

// DefaultBufferDepth is the recommended minimum bounded-buffer depth
// from §4.2 ("recommended depth ≥ 16, tunable per event volume").
const DefaultBufferDepth = 16

// TaskChannel returns the NOTIFY/broadcast channel name for one task's
// events, mirroring tarsy's SessionChannel helper.
func TaskChannel(taskID string) string {
	return "task:" + taskID
}
