package mcpengine

import (
	"encoding/json"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Request is one JSON-RPC 2.0 frame from the client. ID is nil for
// notifications (initialized, notifications/cancelled).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *Request) isNotification() bool { return r.ID == nil }

// Response is one JSON-RPC 2.0 reply frame.
type Response struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *RPCError     `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func newResult(id any, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func newError(id any, err error) *Response {
	code := gwerrors.JSONRPCCode(err)
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: err.Error()}}
}

// InitializeResult is the payload returned from an `initialize` call
// (spec §4.G).
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DefaultProtocolVersion is the MCP revision this engine speaks (spec §4.G
// SSE transport section names 2024-11-05). initialize always answers with
// it on both transports; the client's declared protocol version is not
// echoed back.
const DefaultProtocolVersion = "2024-11-05"

// ToolsListResult is the payload returned from `tools/list`. Tool
// descriptors reuse the shared wire vocabulary's mcp.Tool type (spec §4.F's
// schema is built as a *jsonschema.Schema, not a bare map) instead of a
// hand-rolled struct.
type ToolsListResult struct {
	Tools      []*mcp.Tool `json:"tools"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

// schemaFromMap converts the map[string]any assembled by the OpenAPI
// compiler into a typed *jsonschema.Schema via a JSON round-trip, since the
// compiler's map keys already follow JSON-Schema vocabulary.
func schemaFromMap(m map[string]any) *jsonschema.Schema {
	raw, err := json.Marshal(m)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return &s
}

// ContentBlock is one element of a CallToolResult's content array (spec
// §4.G "content: [{type: 'text', text: body}]").
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the payload returned from `tools/call`.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// CallToolParams is the parsed `params` of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CancelParams is the parsed params of a notifications/cancelled frame.
type CancelParams struct {
	RequestID any `json:"requestId"`
}
