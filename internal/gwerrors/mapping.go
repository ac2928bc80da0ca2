package gwerrors

import "net/http"

// HTTPStatus implements the admin/proxy HTTP surface of spec §7.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfigParse, KindValidationFailed, KindInvalidParams:
		return http.StatusBadRequest
	case KindNotFound, KindNoRoute, KindToolNotFound, KindSessionExpired:
		return http.StatusNotFound
	case KindAlreadyExists, KindInUse:
		return http.StatusConflict
	case KindNoHealthyUpstream:
		return http.StatusServiceUnavailable
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamConnect:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// JSON-RPC 2.0 reserved and gateway-specific error codes (spec §4.G, §7).
const (
	RPCCodeParseError     = -32700
	RPCCodeInvalidRequest = -32600
	RPCCodeMethodNotFound = -32601
	RPCCodeInvalidParams  = -32602
	RPCCodeInternalError  = -32603
)

// JSONRPCCode maps a gateway error Kind onto a JSON-RPC error code.
func JSONRPCCode(err error) int {
	switch KindOf(err) {
	case KindToolNotFound:
		return RPCCodeMethodNotFound
	case KindNotFound, KindInvalidParams, KindValidationFailed:
		return RPCCodeInvalidParams
	default:
		return RPCCodeInternalError
	}
}
