package mcpengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/gin-gonic/gin"
)

// heartbeatInterval is the SSE keep-alive cadence (spec §4.G "Heartbeat: an
// SSE comment every 15 s").
const heartbeatInterval = 15 * time.Second

// SSEHandler implements the 2024-11-05 SSE transport: GET /sse opens the
// stream, POST /messages delivers client frames (spec §4.G).
type SSEHandler struct {
	engine       *Engine
	serviceScope func(c *gin.Context) string
}

func NewSSEHandler(engine *Engine, serviceScope func(c *gin.Context) string) *SSEHandler {
	return &SSEHandler{engine: engine, serviceScope: serviceScope}
}

// Open handles GET /sse (or /api/{svc}/sse): mints a session, emits the
// `endpoint` event, then owns the connection as its single writer until
// the client disconnects.
func (h *SSEHandler) Open(c *gin.Context) {
	scope := h.serviceScope(c)
	session := h.engine.Store.Create(TransportSSE, scope)
	defer h.engine.Store.Close(session.ID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	endpointURL := fmt.Sprintf("%s?session_id=%s", messagesPath(scope), session.ID)
	writeSSEEvent(c.Writer, "endpoint", endpointURL)
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			session.cancelAll()
			obslog.FromContext(ctx).Info("sse session closed", "session", session.ID)
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ":\n\n")
			c.Writer.Flush()
		case frame := <-session.outgoing:
			writeSSEEvent(c.Writer, "message", string(frame.payload))
			c.Writer.Flush()
		}
	}
}

func messagesPath(scope string) string {
	if scope == "" {
		return "/messages"
	}
	return "/api/" + scope + "/messages"
}

func writeSSEEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// Post handles POST /messages?session_id=...: validates the session,
// dispatches the frame, and pushes the response onto the session's SSE
// stream (spec §4.G). Returns 202 Accepted immediately per the transport's
// decoupled request/response shape.
func (h *SSEHandler) Post(c *gin.Context) {
	sessionID := c.Query("session_id")
	session, ok := h.engine.Store.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session expired or unknown"})
		return
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)

	// The request context ends when Post returns; the dispatch keeps its
	// values but not its cancellation, and is cancelled through the session.
	go h.dispatchAndPush(context.WithoutCancel(c.Request.Context()), session, &req)
}

func (h *SSEHandler) dispatchAndPush(ctx context.Context, session *Session, req *Request) {
	resp := h.engine.Handle(ctx, session, req)
	if resp == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		obslog.FromContext(ctx).Error("failed to marshal mcp response", "err", err)
		return
	}
	session.enqueue(raw, true)
}
