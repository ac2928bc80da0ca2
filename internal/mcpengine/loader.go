package mcpengine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// loadOpenAPIDocument fetches and parses the OpenAPI document an McpService
// points at: a local file path or an http(s):// URL, JSON or YAML
// (spec §6 "auto-detects JSON vs YAML").
func loadOpenAPIDocument(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	if isRemote(path) {
		u, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("parsing openapi url %q: %w", path, err)
		}
		doc, err := loader.LoadFromURI(u)
		if err != nil {
			return nil, fmt.Errorf("loading openapi document from %q: %w", path, err)
		}
		return doc, nil
	}

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading openapi document from %q: %w", path, err)
	}
	return doc, nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
