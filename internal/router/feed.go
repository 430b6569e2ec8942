package router

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const feedHeartbeat = 15 * time.Second

// streamFeed 以 server-sent events 推送已提交的变更，客户端断开即退订。
func (h *handlers) streamFeed(c *gin.Context) {
	sub := h.Hub.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(feedHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case change, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
