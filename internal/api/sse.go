package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/great12/internal/tracker"
)

// handleEvents streams a snapshot event on connect and after every store
// change. A client that falls behind receives only the latest snapshot.
func handleEvents(t Tracker, heartbeat time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		updates := make(chan tracker.Snapshot, 1)
		unsubscribe := t.Subscribe(func(s tracker.Snapshot) {
			for {
				select {
				case updates <- s:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		})
		defer unsubscribe()

		last := t.Snapshot()
		writeSSE(c.Writer, "snapshot", last)
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case snap := <-updates:
				if snap.Version <= last.Version {
					continue
				}
				last = snap
				writeSSE(c.Writer, "snapshot", snap)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
