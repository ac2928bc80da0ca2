package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/mcpengine"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter assembles the single gin.Engine every inbound connection
// passes through: it reproduces proxy.Classify's three-way split (admin /
// MCP / plain proxy) as gin routes instead of a manual switch, so each
// surface keeps its own middleware stack (spec §4.E step 2).
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger)

	s.admin.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sseHandler := mcpengine.NewSSEHandler(s.engine, rootScope)
	streamHandler := mcpengine.NewStreamableHandler(s.engine, rootScope)
	r.GET("/sse", sseHandler.Open)
	r.POST("/messages", sseHandler.Post)
	r.POST("/mcp", streamHandler.Handle)

	scopedSSE := mcpengine.NewSSEHandler(s.engine, serviceScopeParam)
	scopedStream := mcpengine.NewStreamableHandler(s.engine, serviceScopeParam)
	r.GET("/api/:service/sse", scopedSSE.Open)
	r.POST("/api/:service/messages", scopedSSE.Post)
	r.POST("/api/:service/mcp", scopedStream.Handle)

	r.NoRoute(s.proxyFallthrough)
	return r
}

func rootScope(c *gin.Context) string { return "" }

func serviceScopeParam(c *gin.Context) string { return c.Param("service") }

// proxyFallthrough handles every path gin's own routes didn't claim: plain
// proxy traffic, per proxy.Classify (admin and MCP paths are always
// claimed above, so only KindPlainProxy reaches here in practice).
func (s *Server) proxyFallthrough(c *gin.Context) {
	if proxy.Classify(c.Request.URL.Path) != proxy.KindPlainProxy {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching route"})
		return
	}

	resp, err := s.core.Forward(c.Request.Context(), c.Request)
	if err != nil {
		s.metrics.ObserveRequest(c.Request.URL.Path, "error")
		respondProxyError(c, err)
		return
	}
	defer resp.Body.Close()

	s.metrics.ObserveRequest(c.Request.URL.Path, statusClass(resp.StatusCode))
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func requestLogger(c *gin.Context) {
	c.Next()
	log := obslog.FromContext(c.Request.Context())
	if len(c.Errors) > 0 {
		log.Warn("request completed with errors", "path", c.Request.URL.Path, "status", c.Writer.Status(), "errors", c.Errors.String())
		return
	}
	log.Debug("request completed",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
	)
}

func respondProxyError(c *gin.Context, err error) {
	c.JSON(gwerrors.HTTPStatus(err), gin.H{"error": err.Error()})
}
