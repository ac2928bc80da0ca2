package mcpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/openapi"
	"github.com/accesspoint/gateway/internal/proxy"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Forwarder is the subset of proxy.Core the engine needs to synthesise and
// issue a tool call's HTTP sub-request. Declared as an interface so engine
// tests can substitute a fake without building a full Core.
type Forwarder interface {
	Forward(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Forwarder = (*proxy.Core)(nil)

// Engine binds the session store and tool index to JSON-RPC dispatch
// (spec §4.G).
type Engine struct {
	Store   *Store
	Tools   *Manager
	Forward Forwarder
}

func NewEngine(store *Store, tools *Manager, forward Forwarder) *Engine {
	return &Engine{Store: store, Tools: tools, Forward: forward}
}

// Handle dispatches one JSON-RPC request within session, returning the
// Response to send, or nil for a notification that produces no reply.
func (e *Engine) Handle(ctx context.Context, session *Session, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return e.handleInitialize(session, req)
	case "initialized":
		session.mu.Lock()
		session.initialized = true
		session.mu.Unlock()
		return nil
	case "tools/list":
		return e.handleToolsList(session, req)
	case "tools/call":
		return e.handleToolsCall(ctx, session, req)
	case "ping":
		return newResult(req.ID, map[string]any{})
	case "notifications/cancelled":
		e.handleCancel(session, req)
		return nil
	default:
		if req.isNotification() {
			return nil
		}
		return newError(req.ID, gwerrors.Newf(gwerrors.KindToolNotFound, "unknown method %q", req.Method))
	}
}

func (e *Engine) handleInitialize(session *Session, req *Request) *Response {
	var params struct {
		Capabilities map[string]any `json:"capabilities"`
	}
	_ = json.Unmarshal(req.Params, &params)
	session.mu.Lock()
	session.ClientCapabilities = params.Capabilities
	session.mu.Unlock()

	return newResult(req.ID, InitializeResult{
		ProtocolVersion: DefaultProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
		ServerInfo:      ServerInfo{Name: "accesspoint-gateway", Version: "1.0.0"},
	})
}

func (e *Engine) handleToolsList(session *Session, req *Request) *Response {
	idx := e.Tools.Current()
	var compiled []*CompiledTool
	if session.serviceScope != "" {
		compiled = idx.ListForService(session.serviceScope)
	} else {
		compiled = idx.ListRoot()
	}

	tools := make([]*mcp.Tool, 0, len(compiled))
	for _, ct := range compiled {
		name := ct.Name
		if session.serviceScope == "" {
			name = rootNameFor(idx, ct)
		}
		tools = append(tools, &mcp.Tool{
			Name:        name,
			Description: ct.Description,
			InputSchema: schemaFromMap(ct.InputSchema),
		})
	}
	return newResult(req.ID, ToolsListResult{Tools: tools})
}

func rootNameFor(idx *ToolIndex, ct *CompiledTool) string {
	for name, v := range idx.byRootName {
		if v == ct {
			return name
		}
	}
	return ct.Name
}

func (e *Engine) handleToolsCall(ctx context.Context, session *Session, req *Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, gwerrors.Newf(gwerrors.KindInvalidParams, "malformed tools/call params: %v", err))
	}

	tool, ok := e.Tools.Current().Resolve(session.serviceScope, params.Name)
	if !ok {
		return newError(req.ID, gwerrors.Newf(gwerrors.KindToolNotFound, "unknown tool %q", params.Name))
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	session.registerPending(req.ID, cancel)
	defer session.resolvePending(req.ID)

	httpReq, err := synthesizeRequest(callCtx, tool, params.Arguments)
	if err != nil {
		return newError(req.ID, gwerrors.Wrap(gwerrors.KindInvalidParams, err, "building tool sub-request"))
	}

	resp, err := e.Forward.Forward(callCtx, httpReq)
	if err != nil {
		return newResult(req.ID, CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	return newResult(req.ID, CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: string(body)}},
		IsError: resp.StatusCode >= 400,
	})
}

func (e *Engine) handleCancel(session *Session, req *Request) {
	var params CancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return
	}
	session.cancelPending(params.RequestID)
}

// synthesizeRequest fills the tool's uri_template from path-classified
// arguments, assembles the query string from query-classified arguments,
// sets headers, attaches the body, per spec §4.F "At call time...".
func synthesizeRequest(ctx context.Context, tool *CompiledTool, args map[string]any) (*http.Request, error) {
	path := tool.Binding.URITemplate
	query := url.Values{}
	headers := http.Header{}
	var bodyArgs map[string]any

	classified := map[string]openapi.ParamKind{}
	for _, p := range tool.Binding.ParameterMap {
		classified[p.Name] = p.Kind
	}

	for name, val := range args {
		kind, known := classified[name]
		if !known {
			kind = openapi.ParamBody
		}
		switch kind {
		case openapi.ParamPath:
			path = strings.ReplaceAll(path, "{"+name+"}", fmt.Sprint(val))
		case openapi.ParamQuery:
			query.Set(name, fmt.Sprint(val))
		case openapi.ParamHeader:
			headers.Set(name, fmt.Sprint(val))
		case openapi.ParamCookie:
			headers.Add("Cookie", fmt.Sprintf("%s=%v", name, val))
		default:
			if bodyArgs == nil {
				bodyArgs = map[string]any{}
			}
			bodyArgs[name] = val
		}
	}

	var body io.Reader
	if len(bodyArgs) > 0 {
		raw, err := json.Marshal(bodyArgs)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
		headers.Set("Content-Type", "application/json")
	}

	req, err := http.NewRequestWithContext(ctx, tool.Binding.Method, path, body)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query.Encode()
	req.Header = headers
	return req, nil
}
