package mcpengine

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamableHandler implements the 2025-03-26 stateless transport: one
// JSON-RPC request per POST /mcp, answered synchronously (spec §4.G).
// Each call gets its own throwaway session so tools/call can still use the
// engine's cancellation/session plumbing without persisting any state
// across requests.
type StreamableHandler struct {
	engine       *Engine
	serviceScope func(c *gin.Context) string
}

func NewStreamableHandler(engine *Engine, serviceScope func(c *gin.Context) string) *StreamableHandler {
	return &StreamableHandler{engine: engine, serviceScope: serviceScope}
}

func (h *StreamableHandler) Handle(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := h.serviceScope(c)
	session := h.engine.Store.Create(TransportStreamableHTTP, scope)
	defer h.engine.Store.Close(session.ID)

	if sid := c.GetHeader("Mcp-Session-Id"); sid != "" {
		c.Header("Mcp-Session-Id", sid)
	}

	resp := h.engine.Handle(c.Request.Context(), session, &req)
	if resp == nil {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, resp)
}
