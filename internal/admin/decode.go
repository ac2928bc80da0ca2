package admin

import (
	"encoding/json"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/gin-gonic/gin"
)

// decodeValue reads the request body and decodes it into the concrete
// resource type addressed by t, stamping id onto the decoded value so a
// caller cannot smuggle a mismatched id through the JSON body.
func decodeValue(c *gin.Context, t registry.ResourceType, id string) (any, error) {
	raw, err := readBody(c)
	if err != nil {
		return nil, err
	}
	return decodeTypedValue(t, id, raw)
}

func decodeTypedValue(t registry.ResourceType, id string, raw map[string]any) (any, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindValidationFailed, err, "re-encoding request body")
	}

	switch t {
	case registry.TypeUpstream:
		v := &registry.Upstream{}
		if err := json.Unmarshal(body, v); err != nil {
			return nil, decodeErr(t, id, err)
		}
		v.ID = id
		return v, nil
	case registry.TypeService:
		v := &registry.Service{}
		if err := json.Unmarshal(body, v); err != nil {
			return nil, decodeErr(t, id, err)
		}
		v.ID = id
		return v, nil
	case registry.TypeRoute:
		v := &registry.Route{}
		if err := json.Unmarshal(body, v); err != nil {
			return nil, decodeErr(t, id, err)
		}
		v.ID = id
		return v, nil
	case registry.TypeGlobalRule:
		v := &registry.GlobalRule{}
		if err := json.Unmarshal(body, v); err != nil {
			return nil, decodeErr(t, id, err)
		}
		v.ID = id
		return v, nil
	case registry.TypeSSL:
		v := &registry.SSL{}
		if err := json.Unmarshal(body, v); err != nil {
			return nil, decodeErr(t, id, err)
		}
		v.ID = id
		return v, nil
	case registry.TypeMcpService:
		v := &registry.McpService{}
		if err := json.Unmarshal(body, v); err != nil {
			return nil, decodeErr(t, id, err)
		}
		v.ID = id
		return v, nil
	default:
		return nil, gwerrors.Newf(gwerrors.KindValidationFailed, "unknown resource type %q", t)
	}
}

func readBody(c *gin.Context) (map[string]any, error) {
	var raw map[string]any
	if c.Request.ContentLength == 0 {
		return map[string]any{}, nil
	}
	if err := c.ShouldBindJSON(&raw); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindValidationFailed, err, "decoding request body")
	}
	return raw, nil
}

func decodeErr(t registry.ResourceType, id string, cause error) error {
	return &gwerrors.Error{
		Kind:    gwerrors.KindValidationFailed,
		Message: "malformed resource body",
		Field:   string(t) + "/" + id,
		Detail:  cause.Error(),
		Cause:   cause,
	}
}
