// Package openapi implements component F: it turns a parsed OpenAPI 3.x
// document into a list of MCP tool descriptors plus a list of internal
// Routes, per spec §4.F. Document parsing itself is out of scope and is
// delegated to kin-openapi, which the core only ever reads the already
// resolved openapi3.T object model from; Swagger/OpenAPI 2.0 documents are
// not converted and are not accepted.
package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/getkin/kin-openapi/openapi3"
)

// ParamKind classifies one OpenAPI parameter (or the body) for
// Tool.Binding.ParameterMap (spec §4.F "parameter_map records classification").
type ParamKind string

const (
	ParamPath   ParamKind = "path"
	ParamQuery  ParamKind = "query"
	ParamHeader ParamKind = "header"
	ParamCookie ParamKind = "cookie"
	ParamBody   ParamKind = "body"
)

// ParamBinding records where one tool-argument property came from.
type ParamBinding struct {
	Name   string
	Kind   ParamKind
	Schema map[string]any
}

// Binding is the private metadata a compiled Tool carries for call-time
// HTTP synthesis (spec §4.F, §4.G).
type Binding struct {
	McpServiceID string
	OperationID  string
	Method       string
	URITemplate  string
	ParameterMap []ParamBinding
}

// Tool is one MCP tool descriptor compiled from an OpenAPI operation.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Required    []string
	Binding     Binding
}

// Compile transforms doc into tool descriptors and internal Routes bound
// to mcpServiceID, which all resolve to upstreamID at the router level
// (spec §4.F).
func Compile(doc *openapi3.T, mcpServiceID, upstreamID string) ([]Tool, []*registry.Route, error) {
	if doc == nil || doc.Paths == nil {
		return nil, nil, fmt.Errorf("openapi document has no paths")
	}

	var tools []Tool
	var routes []*registry.Route

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys) // deterministic compile order regardless of map iteration

	for _, path := range keys {
		item := paths[path]
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			tool := compileOperation(method, path, op, mcpServiceID)
			tools = append(tools, tool)

			routeID := fmt.Sprintf("mcp:%s:%s", mcpServiceID, tool.Binding.OperationID)
			routes = append(routes, &registry.Route{
				ID:          routeID,
				URI:         toRoutePattern(path),
				Methods:     []string{method},
				UpstreamID:  upstreamID,
				OperationID: tool.Binding.OperationID,
			})
		}
	}
	return tools, routes, nil
}

// toRoutePattern rewrites an OpenAPI `/widgets/{id}` path into the
// router's own pattern syntax, which is already `{name}`-compatible.
func toRoutePattern(path string) string { return path }

func compileOperation(method, path string, op *openapi3.Operation, mcpServiceID string) Tool {
	opID := op.OperationID
	if opID == "" {
		opID = method + sanitisePath(path)
	}

	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = opID
	}

	properties := map[string]any{}
	var required []string
	var paramMap []ParamBinding

	for _, ref := range op.Parameters {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		schema := schemaToMap(p.Schema)
		properties[p.Name] = schema
		kind := ParamKind(p.In)
		paramMap = append(paramMap, ParamBinding{Name: p.Name, Kind: kind, Schema: schema})
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		mergeRequestBody(op.RequestBody.Value, properties, &required, &paramMap)
	}

	inputSchema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	return Tool{
		Name:        opID,
		Description: description,
		InputSchema: inputSchema,
		Required:    required,
		Binding: Binding{
			McpServiceID: mcpServiceID,
			OperationID:  opID,
			Method:       strings.ToUpper(method),
			URITemplate:  path,
			ParameterMap: paramMap,
		},
	}
}

// mergeRequestBody implements the body-merge rule of spec §4.F: inlined
// under its own object properties when the body schema is itself an
// object and there's no name collision with an existing parameter, else
// nested under a "body" key.
func mergeRequestBody(rb *openapi3.RequestBody, properties map[string]any, required *[]string, paramMap *[]ParamBinding) {
	media := rb.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return
	}
	schema := media.Schema.Value
	bodySchema := schemaToMap(media.Schema)

	if isObjectSchema(schema) && !collidesWithExisting(schema, properties) {
		for name, propRef := range schema.Properties {
			properties[name] = schemaToMap(propRef)
			paramBinding := ParamBinding{Name: name, Kind: ParamBody, Schema: properties[name].(map[string]any)}
			*paramMap = append(*paramMap, paramBinding)
		}
		*required = append(*required, schema.Required...)
		return
	}

	properties["body"] = bodySchema
	*paramMap = append(*paramMap, ParamBinding{Name: "body", Kind: ParamBody, Schema: bodySchema})
	if rb.Required {
		*required = append(*required, "body")
	}
}

func isObjectSchema(s *openapi3.Schema) bool {
	if s.Type != nil && len(*s.Type) > 0 {
		return (*s.Type)[0] == "object"
	}
	return len(s.Properties) > 0
}

func collidesWithExisting(s *openapi3.Schema, properties map[string]any) bool {
	for name := range s.Properties {
		if _, exists := properties[name]; exists {
			return true
		}
	}
	return false
}

func schemaToMap(ref *openapi3.SchemaRef) map[string]any {
	if ref == nil || ref.Value == nil {
		return map[string]any{}
	}
	s := ref.Value
	out := map[string]any{}
	if s.Type != nil && len(*s.Type) > 0 {
		out["type"] = (*s.Type)[0]
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	return out
}

func sanitisePath(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch {
		case r == '/':
			b.WriteByte('_')
		case r == '{' || r == '}':
			// drop braces, keep the param name itself
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
