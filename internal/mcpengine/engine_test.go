package mcpengine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/accesspoint/gateway/internal/openapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForwarder struct {
	lastReq *http.Request
	status  int
	body    string
}

func (f *fakeForwarder) Forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.lastReq = req
	return &http.Response{StatusCode: f.status, Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func toolIndexWithOneTool() *ToolIndex {
	idx := &ToolIndex{byRootName: map[string]*CompiledTool{}, byService: map[string][]*CompiledTool{}}
	ct := &CompiledTool{
		Tool: openapi.Tool{
			Name:        "getWidget",
			Description: "fetch a widget",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}}},
			Binding: openapi.Binding{
				McpServiceID: "svc1",
				OperationID:  "getWidget",
				Method:       "GET",
				URITemplate:  "/widgets/{id}",
				ParameterMap: []openapi.ParamBinding{{Name: "id", Kind: openapi.ParamPath}},
			},
		},
		ServiceID: "svc1",
	}
	idx.byRootName["getWidget"] = ct
	idx.byService["svc1"] = []*CompiledTool{ct}
	return idx
}

func newTestEngine(fwd Forwarder) *Engine {
	store := NewStore()
	mgr := &Manager{idx: toolIndexWithOneTool()}
	return NewEngine(store, mgr, fwd)
}

func TestInitialize_ReturnsProtocolVersionAndCapabilities(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200})
	session := e.Store.Create(TransportStreamableHTTP, "")

	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})
	require.NotNil(t, resp)
	result, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, DefaultProtocolVersion, result.ProtocolVersion)
}

func TestToolsList_ReturnsCompiledTool(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200})
	session := e.Store.Create(TransportStreamableHTTP, "")

	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", ID: float64(1), Method: "tools/list"})
	require.NotNil(t, resp)
	result, ok := resp.Result.(ToolsListResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "getWidget", result.Tools[0].Name)
}

// TestToolsCall_MCPRoundTrip implements the MCP-round-trip property: a
// tools/call with a valid arguments object produces the HTTP sub-request a
// direct curl of the operation would produce.
func TestToolsCall_MCPRoundTrip(t *testing.T) {
	fwd := &fakeForwarder{status: 200, body: `{"id":10,"name":"doggie","status":"available"}`}
	e := newTestEngine(fwd)
	session := e.Store.Create(TransportStreamableHTTP, "")

	params, _ := json.Marshal(CallToolParams{Name: "getWidget", Arguments: map[string]any{"id": "10"}})
	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", ID: float64(2), Method: "tools/call", Params: params})
	require.NotNil(t, resp)

	require.NotNil(t, fwd.lastReq)
	assert.Equal(t, "/widgets/10", fwd.lastReq.URL.Path)
	assert.Equal(t, "GET", fwd.lastReq.Method)

	result, ok := resp.Result.(CallToolResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Contains(t, result.Content[0].Text, "doggie")
	assert.False(t, result.IsError)
}

func TestToolsCall_UnknownToolReturnsToolNotFound(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200})
	session := e.Store.Create(TransportStreamableHTTP, "")

	params, _ := json.Marshal(CallToolParams{Name: "nope"})
	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", ID: float64(3), Method: "tools/call", Params: params})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestPing_ReturnsEmptyResult(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200})
	session := e.Store.Create(TransportStreamableHTTP, "")
	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", ID: float64(4), Method: "ping"})
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
}

func TestUnknownMethod_ReturnsMethodNotFound(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200})
	session := e.Store.Create(TransportStreamableHTTP, "")
	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", ID: float64(5), Method: "bogus"})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestInitializedNotification_ProducesNoResponse(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200})
	session := e.Store.Create(TransportStreamableHTTP, "")
	resp := e.Handle(context.Background(), session, &Request{JSONRPC: "2.0", Method: "initialized"})
	assert.Nil(t, resp)
}

// TestCancel_AbortsPendingToolCall checks that notifications/cancelled
// cancels the context of a pending tool call registered on the session
// under the same request id.
func TestCancel_AbortsPendingToolCall(t *testing.T) {
	e := newTestEngine(&fakeForwarder{status: 200, body: "{}"})
	session := e.Store.Create(TransportStreamableHTTP, "")

	ctx, cancel := context.WithCancel(context.Background())
	session.registerPending(float64(9), cancel)

	params, _ := json.Marshal(CancelParams{RequestID: float64(9)})
	e.handleCancel(session, &Request{Method: "notifications/cancelled", Params: params})

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected cancellation to fire")
	}
}
