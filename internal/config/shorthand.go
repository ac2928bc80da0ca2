package config

import (
	"fmt"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/google/uuid"
)

// ApplyShorthand synthesizes a single-McpService config from the CLI
// shorthand (`-f/--file OPENAPI -p/--port -u/--upstream`): one Upstream
// pointed at upstreamAddr, one McpService wrapping the OpenAPI document at
// openapiPath, and the port override, all wired together without
// requiring a full YAML config file.
func (c *Config) ApplyShorthand(openapiPath, upstreamAddr string, port int) error {
	if openapiPath == "" || upstreamAddr == "" {
		return fmt.Errorf("shorthand mode requires both --file and --upstream")
	}

	upstreamID := "shorthand-" + uuid.NewString()[:8]
	c.Upstreams[upstreamID] = &registry.Upstream{
		ID:       upstreamID,
		Nodes:    map[string]uint{upstreamAddr: 1},
		Type:     registry.BalancerRoundRobin,
		Scheme:   registry.SchemeHTTP,
		PassHost: registry.PassHostPass,
		Timeout:  registry.DefaultTimeout(),
	}

	mcpID := "shorthand"
	c.McpServices[mcpID] = &registry.McpService{
		ID:         mcpID,
		UpstreamID: upstreamID,
		Path:       openapiPath,
	}

	if port > 0 {
		c.Port = port
	}
	return nil
}
