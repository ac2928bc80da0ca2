package plugin

import (
	"context"
	"net/http"
	"time"

	"github.com/accesspoint/gateway/internal/obslog"
)

// LoggingPlugin is the one built-in concrete plugin: it exercises the
// chain end to end (request_filter through logging) without implementing
// any of the auth/rate-limit/compression plugins the spec leaves out of
// scope. Declared priority is deliberately low so it runs last among
// request_filters but its Logging hook always fires regardless of
// ordering, per the chain's Stop semantics.
type LoggingPlugin struct {
	BasePlugin
}

func NewLoggingPlugin() *LoggingPlugin { return &LoggingPlugin{} }

func (p *LoggingPlugin) Name() string { return "logging" }

func (p *LoggingPlugin) Priority() int { return 0 }

type startedAtKey struct{}

func (p *LoggingPlugin) RequestFilter(ctx context.Context, req *http.Request, _ map[string]any) (Verdict, error) {
	return Continue(), nil
}

func (p *LoggingPlugin) Logging(ctx context.Context, cfg map[string]any) {
	level, _ := cfg["level"].(string)
	if level == "" {
		level = "info"
	}
	log := obslog.FromContext(ctx)
	switch level {
	case "debug":
		log.Debug("request handled", "elapsed", ElapsedSince(ctx))
	default:
		log.Info("request handled", "elapsed", ElapsedSince(ctx))
	}
}

// WithStartedAt records the request's start time in ctx so RunLogging can
// report elapsed duration once the chain finishes.
func WithStartedAt(ctx context.Context) context.Context {
	return context.WithValue(ctx, startedAtKey{}, time.Now())
}

// ElapsedSince returns the duration since WithStartedAt was called, or
// zero if it was never called on this context.
func ElapsedSince(ctx context.Context) time.Duration {
	t, ok := ctx.Value(startedAtKey{}).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(t)
}
