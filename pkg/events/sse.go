package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// terminalKinds are the event kinds that end a task's live stream; once
// one is written the handler closes the connection rather than waiting
// on ctx.Done().
var terminalKinds = map[models.EventKind]bool{
	models.EventKindInvestigationComplete:   true,
	models.EventKindInvestigationCancelled:  true,
	models.EventKindError:                   true,
}

// ServeTaskStream is a gin handler implementing the replay-then-tail SSE
// transport for one task (§4.2). Grounded on legator's handleEventsSSE /
// handleSSEStream http.Flusher pattern (routes.go), re-expressed over
// *gin.Context and wired to Hub.ReplayThenTail instead of a global event
// bus, since each task owns its own ordered log.
func ServeTaskStream(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		if taskID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
			return
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		subID := uuid.NewString()
		history, live, err := hub.ReplayThenTail(c.Request.Context(), taskID, subID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer hub.Unsubscribe(taskID, subID)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		for _, evt := range history {
			if !writeEvent(c.Writer, flusher, evt) {
				return
			}
			if terminalKinds[evt.Kind] {
				return
			}
		}

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case evt, ok := <-live:
				if !ok {
					return
				}
				if !writeEvent(c.Writer, flusher, evt) {
					return
				}
				if terminalKinds[evt.Kind] {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, evt models.Event) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("events: marshal SSE payload", "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
