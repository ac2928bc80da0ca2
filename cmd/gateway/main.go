// Command gateway runs the accesspoint gateway: an MCP protocol engine,
// request router and live configuration plane fronting arbitrary HTTP/JSON
// upstreams (spec.md §1).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/accesspoint/gateway/internal/config"
	"github.com/accesspoint/gateway/internal/server"
	"github.com/spf13/cobra"
)

func main() {
	cmd := createRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return 1
}

// cliError carries the exit code a failure should produce: 1 for a
// configuration problem, 2 for a listener bind failure.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func createRootCommand() *cobra.Command {
	var configFile, openapiFile, upstreamAddr string
	var port int
	var logLevel string

	root := &cobra.Command{
		Use:   "accesspoint-gateway",
		Short: "Exposes HTTP/JSON APIs as Model Context Protocol tool servers",
		Long: `accesspoint-gateway is a reverse proxy that speaks both plain HTTP and
the Model Context Protocol: it compiles OpenAPI documents into MCP tool
descriptors, routes tool calls and plain requests to load-balanced
upstream pools, and exposes a live, hot-reloadable configuration plane.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGateway(cmd.Context(), configFile, openapiFile, upstreamAddr, port, logLevel)
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "path to the gateway YAML configuration file")
	root.Flags().StringVarP(&openapiFile, "file", "f", "", "OpenAPI document to expose as a single MCP service (shorthand mode)")
	root.Flags().StringVarP(&upstreamAddr, "upstream", "u", "", "upstream host:port for shorthand mode, required with --file")
	root.Flags().IntVarP(&port, "port", "p", 0, "listener port, overrides config and GATEWAY_PORT")
	root.Flags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error")

	return root
}

func runGateway(ctx context.Context, configFile, openapiFile, upstreamAddr string, port int, logLevel string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sources := []config.Source{
		config.NewDefaultProvider(),
		config.NewEnvProvider(),
	}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	if port > 0 || logLevel != "" {
		sources = append(sources, config.NewCLIProvider(config.CLIFlags{
			Port:     port,
			HasPort:  port > 0,
			LogLevel: logLevel,
		}))
	}

	cfg, err := config.Initialize(ctx, nil, sources...)
	if err != nil {
		return &cliError{code: 1, err: fmt.Errorf("loading configuration: %w", err)}
	}

	if openapiFile != "" || upstreamAddr != "" {
		if err := cfg.ApplyShorthand(openapiFile, upstreamAddr, port); err != nil {
			return &cliError{code: 1, err: fmt.Errorf("shorthand configuration: %w", err)}
		}
	}

	srv, err := server.New(ctx, cfg, configFile)
	if err != nil {
		return &cliError{code: 1, err: fmt.Errorf("starting gateway: %w", err)}
	}

	if err := srv.Run(ctx); err != nil {
		return &cliError{code: 2, err: fmt.Errorf("gateway listener failed: %w", err)}
	}
	return nil
}
