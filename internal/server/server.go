// Package server wires components A through J into one running process:
// it builds the Registry, starts the derived-index listeners, compiles the
// initial MCP tool set into Routes, and serves the admin, proxy and MCP
// transport surfaces behind one gin.Engine (spec §2 data-flow diagram).
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/accesspoint/gateway/internal/admin"
	"github.com/accesspoint/gateway/internal/config"
	"github.com/accesspoint/gateway/internal/configwatch"
	"github.com/accesspoint/gateway/internal/mcpengine"
	"github.com/accesspoint/gateway/internal/observability"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/plugin"
	"github.com/accesspoint/gateway/internal/proxy"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/accesspoint/gateway/internal/router"
	"github.com/accesspoint/gateway/internal/tlsmatch"
	"github.com/accesspoint/gateway/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// idleSweepInterval is how often the session store is swept for sessions
// past spec §3's McpSession idle timeout.
const idleSweepInterval = 30 * time.Second

// Server owns every long-lived subsystem of one gateway process.
type Server struct {
	cfg     *config.Config
	log     obslog.Logger
	reg     *registry.Registry
	router  *router.Manager
	up      *upstream.Manager
	tools   *mcpengine.Manager
	tlsMgr  *tlsmatch.Manager
	store   *mcpengine.Store
	engine  *mcpengine.Engine
	core    *proxy.Core
	admin   *admin.Server
	metrics *observability.Metrics

	ginEngine  *gin.Engine
	httpServer *http.Server
	tlsServer  *http.Server

	configPath string

	cleanupMu sync.Mutex
	cleanups  []func()
}

// New builds every subsystem and performs the one-time bootstrap
// compilation of MCP tool routes into the initial snapshot (resolving, at
// this single call site, the Route-synchronisation step that
// mcpengine.Manager's listener deliberately defers).
func New(ctx context.Context, cfg *config.Config, configPath string) (*Server, error) {
	log := obslog.SetupLogger(cfg.LogLevel, cfg.LogJSON, false)
	ctx = obslog.ContextWithLogger(ctx, log)

	reg := registry.New()

	bootSnap := cfg.ToSnapshot()
	_, mcpRoutes, _ := mcpengine.BuildToolIndex(ctx, bootSnap)
	for _, rt := range mcpRoutes {
		bootSnap.Routes[rt.ID] = rt
	}

	if err := reg.LoadSnapshot(ctx, bootSnap); err != nil {
		return nil, fmt.Errorf("loading initial configuration: %w", err)
	}

	upMgr := upstream.NewManager(ctx)
	routerMgr := router.NewManager(reg.Snapshot())
	toolsMgr := mcpengine.NewManager(ctx, reg.Snapshot())
	tlsMgr := tlsmatch.NewManager(reg.Snapshot())
	reg.AddListener(upMgr)
	reg.AddListener(routerMgr)
	reg.AddListener(toolsMgr)
	reg.AddListener(tlsMgr)
	// Prime the upstream pools for the snapshot that was published before
	// these listeners were registered.
	upMgr.OnPublish(ctx, reg.Snapshot(), registry.StatsOrder)

	plugins := plugin.NewRegistry(&plugin.LoggingPlugin{})
	core := proxy.NewCore(reg, routerMgr, upMgr, plugins)
	store := mcpengine.NewStore()
	mcpEngine := mcpengine.NewEngine(store, toolsMgr, core)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	adminSrv := admin.NewServer(reg, cfg.AdminAPIKey)

	s := &Server{
		cfg:        cfg,
		log:        log,
		reg:        reg,
		router:     routerMgr,
		up:         upMgr,
		tools:      toolsMgr,
		tlsMgr:     tlsMgr,
		store:      store,
		engine:     mcpEngine,
		core:       core,
		admin:      adminSrv,
		metrics:    metrics,
		configPath: configPath,
	}
	adminSrv.ReloadType = s.reloadResourceType
	adminSrv.ReloadConfig = s.reloadConfig

	s.ginEngine = s.buildRouter()
	return s, nil
}

// reloadResourceType recompiles the MCP tool index and merges freshly
// compiled Routes for every McpService, used by POST /admin/reload/mcp_services.
func (s *Server) reloadResourceType(c *gin.Context, resourceType registry.ResourceType) error {
	ctx := c.Request.Context()
	if resourceType != registry.TypeMcpService {
		return nil
	}
	snap := s.reg.Snapshot().Clone()
	_, mcpRoutes, err := mcpengine.BuildToolIndex(ctx, snap)
	if err != nil {
		return err
	}
	for _, rt := range mcpRoutes {
		snap.Routes[rt.ID] = rt
	}
	return s.reg.LoadSnapshot(ctx, snap)
}

// reloadConfig reparses the on-disk configuration file wholesale.
func (s *Server) reloadConfig(c *gin.Context, configPath string) error {
	ctx := c.Request.Context()
	path := configPath
	if path == "" {
		path = s.configPath
	}
	if path == "" {
		return fmt.Errorf("no configuration file path known to reload")
	}
	cfg, err := config.Initialize(ctx, nil, config.NewYAMLProvider(path))
	if err != nil {
		return err
	}
	snap := cfg.ToSnapshot()
	_, mcpRoutes, _ := mcpengine.BuildToolIndex(ctx, snap)
	for _, rt := range mcpRoutes {
		snap.Routes[rt.ID] = rt
	}
	return s.reg.LoadSnapshot(ctx, snap)
}

func (s *Server) RegisterCleanup(fn func()) {
	if fn == nil {
		return
	}
	s.cleanupMu.Lock()
	s.cleanups = append(s.cleanups, fn)
	s.cleanupMu.Unlock()
}

func (s *Server) runCleanups() {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()
	for _, fn := range s.cleanups {
		fn()
	}
}

// Run starts the HTTP listener plus every background loop (idle-session
// sweep, config file watch) and blocks until ctx is cancelled or a
// termination signal arrives, then shuts everything down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = obslog.ContextWithLogger(ctx, s.log)

	go s.sweepIdleSessions(ctx)

	if s.configPath != "" {
		watcher, err := configwatch.New(s.configPath, s.reg)
		if err != nil {
			s.log.Warn("config file watch disabled", "path", s.configPath, "err", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.ginEngine,
	}

	errChan := make(chan error, 2)
	go func() {
		s.log.Info("gateway listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	// A TLS listener is only started when tls_port is configured; SSL
	// resources otherwise still feed the admin plane and the TLS matcher's
	// derived index, they just aren't served over an actual TLS port.
	if s.cfg.TLSPort != 0 {
		tlsAddr := fmt.Sprintf(":%d", s.cfg.TLSPort)
		s.tlsServer = &http.Server{
			Addr:      tlsAddr,
			Handler:   s.ginEngine,
			TLSConfig: &tls.Config{GetCertificate: s.tlsMgr.GetCertificate},
		}
		go func() {
			s.log.Info("gateway tls listening", "addr", tlsAddr)
			if err := s.tlsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errChan <- err
				return
			}
			errChan <- nil
		}()
	}

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			s.runCleanups()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	if s.tlsServer != nil {
		if tlsErr := s.tlsServer.Shutdown(shutdownCtx); err == nil {
			err = tlsErr
		}
	}
	s.runCleanups()
	return err
}

func (s *Server) sweepIdleSessions(ctx context.Context) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.store.SweepIdle(ctx, mcpengine.DefaultIdleTimeout)
		}
	}
}
