// Package admin implements component H: the REST surface over the
// Registry (spec §4.H) — resource CRUD, batch mutation, validate-only,
// and reload endpoints, authenticated by an optional x-api-key.
package admin

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/gin-gonic/gin"
)

// Server binds gin routes to a Registry, plus callbacks for the two
// rebuild/reload operations that fall outside the Registry's own surface
// (tool-index / route rebuild and full config reparse).
type Server struct {
	Registry     *registry.Registry
	APIKey       string
	ReloadType   func(c *gin.Context, resourceType registry.ResourceType) error
	ReloadConfig func(c *gin.Context, configPath string) error
}

func NewServer(reg *registry.Registry, apiKey string) *Server {
	return &Server{Registry: reg, APIKey: apiKey}
}

// Register attaches every admin route under group (usually the root
// router group, since /admin is matched by path, not by a gin subrouter
// mount point, to keep Proxy Core's own classification in sync).
func (s *Server) Register(r gin.IRouter) {
	g := r.Group("/admin", s.authMiddleware)
	g.GET("", s.dashboard)
	g.GET("/resources", s.stats)
	g.GET("/resources/:type", s.list)
	g.GET("/resources/:type/:id", s.get)
	g.POST("/resources/:type/:id", s.create)
	g.PUT("/resources/:type/:id", s.replace)
	g.DELETE("/resources/:type/:id", s.delete)
	g.POST("/validate/:type/:id", s.validate)
	g.POST("/batch", s.batch)
	g.POST("/reload/:type", s.reloadType)
	g.POST("/reload/config", s.reloadConfig)
}

func (s *Server) authMiddleware(c *gin.Context) {
	if s.APIKey == "" {
		c.Next()
		return
	}
	if c.GetHeader("x-api-key") != s.APIKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid x-api-key"})
		return
	}
	c.Next()
}

// dashboard returns a minimal JSON capability document; the admin UI's
// static files are out of scope (spec.md §1).
func (s *Server) dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "accesspoint-gateway admin",
		"version":  "1.0.0",
		"resources": registry.StatsOrder,
	})
}

func (s *Server) stats(c *gin.Context) {
	stats := s.Registry.Stats()
	total := 0
	// A Go map is encoded with sorted keys, so the stats object is written
	// key by key in registry.StatsOrder instead.
	var ordered bytes.Buffer
	ordered.WriteByte('{')
	for i, t := range registry.StatsOrder {
		st := stats[t]
		if i > 0 {
			ordered.WriteByte(',')
		}
		key, _ := json.Marshal(string(t))
		val, _ := json.Marshal(st)
		ordered.Write(key)
		ordered.WriteByte(':')
		ordered.Write(val)
		total += st.Count
	}
	ordered.WriteByte('}')
	c.JSON(http.StatusOK, gin.H{"stats": json.RawMessage(ordered.Bytes()), "total_resources": total})
}

func (s *Server) list(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	c.JSON(http.StatusOK, s.Registry.List(t))
}

func (s *Server) get(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	id := c.Param("id")
	v, err := s.Registry.Get(t, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) create(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	id := c.Param("id")
	value, err := decodeValue(c, t, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.Registry.Create(c.Request.Context(), t, id, value); err != nil {
		respondError(c, err)
		return
	}
	respondMutation(c, http.StatusOK, t, id, "created")
}

func (s *Server) replace(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	id := c.Param("id")
	value, err := decodeValue(c, t, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.Registry.Update(c.Request.Context(), t, id, value); err != nil {
		respondError(c, err)
		return
	}
	respondMutation(c, http.StatusOK, t, id, "replaced")
}

func (s *Server) delete(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	id := c.Param("id")
	if err := s.Registry.Delete(c.Request.Context(), t, id); err != nil {
		respondError(c, err)
		return
	}
	respondMutation(c, http.StatusOK, t, id, "deleted")
}

func (s *Server) validate(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	id := c.Param("id")
	value, err := decodeValue(c, t, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.Registry.Validate(t, id, value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// batchRequestOp is the wire shape of one op inside a POST /admin/batch body.
type batchRequestOp struct {
	Kind         registry.OpKind        `json:"kind"`
	ResourceType registry.ResourceType  `json:"resource_type"`
	ID           string                 `json:"id"`
	Value        map[string]any         `json:"value,omitempty"`
}

type batchRequest struct {
	Ops    []batchRequestOp `json:"ops"`
	DryRun bool             `json:"dry_run"`
}

func (s *Server) batch(c *gin.Context) {
	var body batchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ops := make([]registry.Op, 0, len(body.Ops))
	for _, o := range body.Ops {
		var value any
		if o.Kind != registry.OpDelete {
			v, err := decodeTypedValue(o.ResourceType, o.ID, o.Value)
			if err != nil {
				respondError(c, err)
				return
			}
			value = v
		}
		ops = append(ops, registry.Op{Kind: o.Kind, ResourceType: o.ResourceType, ID: o.ID, Value: value})
	}

	if err := s.Registry.Batch(c.Request.Context(), ops, body.DryRun); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "batch applied", "ops": len(ops)})
}

func (s *Server) reloadType(c *gin.Context) {
	t := registry.ResourceType(c.Param("type"))
	if s.ReloadType == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "nothing to reload"})
		return
	}
	if err := s.ReloadType(c, t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "reloaded", "resource_type": t})
}

func (s *Server) reloadConfig(c *gin.Context) {
	var body struct {
		ConfigPath string `json:"config_path"`
	}
	_ = c.ShouldBindJSON(&body)
	if s.ReloadConfig == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "nothing to reload"})
		return
	}
	if err := s.ReloadConfig(c, body.ConfigPath); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "config reloaded"})
}

func respondMutation(c *gin.Context, status int, t registry.ResourceType, id, verb string) {
	c.JSON(status, gin.H{
		"success":       true,
		"message":       verb,
		"resource_type": t,
		"resource_id":   id,
		"timestamp":     registry.NowJS(),
	})
}

func respondError(c *gin.Context, err error) {
	ge, ok := gwerrors.As(err)
	status := gwerrors.HTTPStatus(err)
	if !ok {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"error": ge.Message, "kind": ge.Kind}
	if ge.Field != "" {
		body["field"] = ge.Field
		body["detail"] = ge.Detail
	}
	if len(ge.References) > 0 {
		body["references"] = ge.References
	}
	c.JSON(status, body)
}
