package openapi

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDoc(t *testing.T, raw string) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromData([]byte(raw))
	require.NoError(t, err)
	return doc
}

const minimalDoc = `
openapi: 3.0.0
info: {title: t, version: "1"}
paths:
  /widgets/{id}:
    get:
      operationId: getWidget
      parameters:
        - name: id
          in: path
          required: true
          schema: {type: string}
      responses: {"200": {description: ok}}
  /widgets:
    post:
      summary: create a widget
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              properties:
                name: {type: string}
              required: [name]
      responses: {"200": {description: ok}}
`

func TestCompile_NamesFromOperationID(t *testing.T) {
	doc := loadDoc(t, minimalDoc)
	tools, routes, err := Compile(doc, "svc1", "up1")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Len(t, routes, 2)

	var names []string
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	assert.Contains(t, names, "getWidget")
}

func TestCompile_DescriptionFallback(t *testing.T) {
	doc := loadDoc(t, minimalDoc)
	tools, _, err := Compile(doc, "svc1", "up1")
	require.NoError(t, err)
	for _, tl := range tools {
		if tl.Name == "post_widgets" || tl.Binding.Method == "POST" {
			assert.Equal(t, "create a widget", tl.Description)
		}
	}
}

func TestCompile_PathParamBecomesProperty(t *testing.T) {
	doc := loadDoc(t, minimalDoc)
	tools, _, err := Compile(doc, "svc1", "up1")
	require.NoError(t, err)
	for _, tl := range tools {
		if tl.Name == "getWidget" {
			props := tl.InputSchema["properties"].(map[string]any)
			assert.Contains(t, props, "id")
			assert.Contains(t, tl.Required, "id")
		}
	}
}

func TestCompile_BodyInlinedWhenObjectNoCollision(t *testing.T) {
	doc := loadDoc(t, minimalDoc)
	tools, _, err := Compile(doc, "svc1", "up1")
	require.NoError(t, err)
	for _, tl := range tools {
		if tl.Binding.Method == "POST" {
			props := tl.InputSchema["properties"].(map[string]any)
			assert.Contains(t, props, "name", "object body properties should be inlined, not nested under 'body'")
			assert.NotContains(t, props, "body")
		}
	}
}

func TestCompile_RouteIDsMatchMcpServiceConvention(t *testing.T) {
	doc := loadDoc(t, minimalDoc)
	_, routes, err := Compile(doc, "svc1", "up1")
	require.NoError(t, err)
	for _, r := range routes {
		assert.Contains(t, r.ID, "mcp:svc1:")
		assert.Equal(t, "up1", r.UpstreamID)
	}
}
