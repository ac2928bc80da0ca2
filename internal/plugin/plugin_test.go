package plugin

import (
	"context"
	"net/http"
	"testing"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlugin struct {
	BasePlugin
	name      string
	priority  int
	stop      bool
	filterLog *[]string
	logLog    *[]string
}

func (p *recordingPlugin) Name() string  { return p.name }
func (p *recordingPlugin) Priority() int { return p.priority }

func (p *recordingPlugin) RequestFilter(ctx context.Context, req *http.Request, cfg map[string]any) (Verdict, error) {
	*p.filterLog = append(*p.filterLog, p.name)
	if p.stop {
		return Stop(&StoppedResponse{StatusCode: 403}), nil
	}
	return Continue(), nil
}

func (p *recordingPlugin) Logging(ctx context.Context, cfg map[string]any) {
	*p.logLog = append(*p.logLog, p.name)
}

func TestChain_PriorityOrder(t *testing.T) {
	var filterLog, logLog []string
	low := &recordingPlugin{name: "low", priority: 1, filterLog: &filterLog, logLog: &logLog}
	high := &recordingPlugin{name: "high", priority: 10, filterLog: &filterLog, logLog: &logLog}
	reg := NewRegistry(low, high)

	route := &registry.Route{Plugins: map[string]map[string]any{
		"low":  {},
		"high": {},
	}}
	chain := reg.Build(nil, nil, route)

	_, err := chain.RunRequestFilter(context.Background(), &http.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, filterLog)
}

func TestChain_RouteOverridesServiceOverridesGlobal(t *testing.T) {
	var filterLog, logLog []string
	globalStop := &recordingPlugin{name: "gate", priority: 5, stop: true, filterLog: &filterLog, logLog: &logLog}
	routeAllow := &recordingPlugin{name: "gate", priority: 5, stop: false, filterLog: &filterLog, logLog: &logLog}
	reg := NewRegistry(globalStop)
	_ = routeAllow // same name "gate" at route scope below overrides the global binding

	global := &registry.GlobalRule{Plugins: map[string]map[string]any{"gate": {}}}
	route := &registry.Route{Plugins: map[string]map[string]any{"gate": {"allow": true}}}

	// The route-level entry's config replaces the global entry's config under
	// the same name; the plugin instance itself is looked up by name in reg2,
	// where the allowing variant is registered.
	reg2 := NewRegistry(routeAllow)
	chain := reg2.Build(global, nil, route)

	v, err := chain.RunRequestFilter(context.Background(), &http.Request{})
	require.NoError(t, err)
	assert.False(t, v.Stopped)
	require.Len(t, chain.bound, 1)
	assert.Equal(t, true, chain.bound[0].config["allow"])
	_ = reg
}

func TestChain_StopSkipsRemainingFiltersButLoggingStillRuns(t *testing.T) {
	var filterLog, logLog []string
	first := &recordingPlugin{name: "first", priority: 10, stop: true, filterLog: &filterLog, logLog: &logLog}
	second := &recordingPlugin{name: "second", priority: 1, filterLog: &filterLog, logLog: &logLog}
	reg := NewRegistry(first, second)

	route := &registry.Route{Plugins: map[string]map[string]any{"first": {}, "second": {}}}
	chain := reg.Build(nil, nil, route)

	v, err := chain.RunRequestFilter(context.Background(), &http.Request{})
	require.NoError(t, err)
	assert.True(t, v.Stopped)
	assert.Equal(t, []string{"first"}, filterLog, "second's request_filter must not run after Stop")

	chain.RunLogging(context.Background())
	assert.ElementsMatch(t, []string{"first", "second"}, logLog, "logging runs for every bound plugin even after Stop")
}

func TestChain_UnknownPluginNameIgnored(t *testing.T) {
	reg := NewRegistry()
	route := &registry.Route{Plugins: map[string]map[string]any{"nope": {}}}
	chain := reg.Build(nil, nil, route)

	v, err := chain.RunRequestFilter(context.Background(), &http.Request{})
	require.NoError(t, err)
	assert.False(t, v.Stopped)
}
