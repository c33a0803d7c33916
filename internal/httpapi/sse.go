package httpapi

import (
	"net/http"
	"time"

	ginsse "github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 30 * time.Second

// openSSE writes the headers spec §6 requires for every streaming
// endpoint and flushes them immediately so proxies don't buffer the
// response waiting for a first body byte.
func openSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

// sendSSE encodes one named event via gin-contrib/sse directly (rather
// than gin.Context.SSEvent) so the dependency is exercised by name, and
// flushes so the client sees it immediately.
func sendSSE(c *gin.Context, event string, data any) bool {
	if err := ginsse.Encode(c.Writer, ginsse.Event{Event: event, Data: data}); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
