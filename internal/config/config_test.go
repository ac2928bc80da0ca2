package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsOnly(t *testing.T) {
	cfg, err := Initialize(context.Background(), nil, NewDefaultProvider())
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
}

func TestInitialize_EnvOverridesDefault(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9090")
	cfg, err := Initialize(context.Background(), nil, NewDefaultProvider(), NewEnvProvider())
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestInitialize_CLIOverridesEnv(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9090")
	cfg, err := Initialize(context.Background(), nil,
		NewDefaultProvider(), NewEnvProvider(), NewCLIProvider(CLIFlags{Port: 7000, HasPort: true}))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestInitialize_YAMLOverridesEnvButNotCLI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0o644))

	t.Setenv("GATEWAY_PORT", "9090")
	cfg, err := Initialize(context.Background(), nil,
		NewDefaultProvider(), NewEnvProvider(), NewYAMLProvider(path))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)

	cfg, err = Initialize(context.Background(), nil,
		NewDefaultProvider(), NewEnvProvider(), NewYAMLProvider(path), NewCLIProvider(CLIFlags{Port: 7000, HasPort: true}))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestInitialize_YAMLLoadsArrayShapedResourceCollections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
port: 8081
upstreams:
  - id: up1
    nodes:
      127.0.0.1:9001: 1
    type: RoundRobin
    scheme: http
    pass_host: node
services:
  - id: svc1
    upstream_id: up1
routes:
  - id: route1
    uri: /widgets
    service_id: svc1
global_rules:
  - id: global1
    plugins: {}
ssls:
  - id: ssl1
    cert: cert.pem
    key: key.pem
    snis: ["example.com"]
mcps:
  - id: mcp1
    path: openapi.yaml
    upstream_id: up1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Initialize(context.Background(), nil, NewDefaultProvider(), NewYAMLProvider(path))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	require.Contains(t, cfg.Upstreams, "up1")
	assert.EqualValues(t, 1, cfg.Upstreams["up1"].Nodes["127.0.0.1:9001"])
	require.Contains(t, cfg.Services, "svc1")
	assert.Equal(t, "up1", cfg.Services["svc1"].UpstreamID)
	require.Contains(t, cfg.Routes, "route1")
	assert.Equal(t, "/widgets", cfg.Routes["route1"].URI)
	require.Contains(t, cfg.GlobalRules, "global1")
	require.Contains(t, cfg.SSLs, "ssl1")
	assert.Equal(t, []string{"example.com"}, cfg.SSLs["ssl1"].SNIs)
	require.Contains(t, cfg.McpServices, "mcp1")
	assert.Equal(t, "openapi.yaml", cfg.McpServices["mcp1"].Path)
}

func TestApplyShorthand_SynthesizesSingleUpstreamAndMcpService(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.ApplyShorthand("openapi.yaml", "127.0.0.1:9000", 5000))

	assert.Len(t, cfg.Upstreams, 1)
	assert.Len(t, cfg.McpServices, 1)
	assert.Equal(t, 5000, cfg.Port)

	for _, m := range cfg.McpServices {
		assert.Equal(t, "openapi.yaml", m.Path)
	}
}

func TestApplyShorthand_RequiresFileAndUpstream(t *testing.T) {
	cfg := defaultConfig()
	assert.Error(t, cfg.ApplyShorthand("", "127.0.0.1:9000", 0))
	assert.Error(t, cfg.ApplyShorthand("openapi.yaml", "", 0))
}
