package transport

import (
	"net/http"

	"github.com/getmockd/mcpgate/pkg/httputil"
	"github.com/getmockd/mcpgate/pkg/mcp"
)

// Error reasons carried in the "data.reason" field of HTTP-level failures.
const (
	ReasonSessionRequired = "session_required"
	ReasonSessionNotFound = "session_not_found"
	ReasonSessionLimit    = "session_limit"
	ReasonStreamConflict  = "stream_conflict"
	ReasonRateLimited     = "rate_limited"
	ReasonParseError      = "parse_error"
	ReasonBodyTooLarge    = "body_too_large"
	ReasonInternalError   = "internal_error"
)

func writeSessionRequired(w http.ResponseWriter) {
	httputil.WriteRPCError(w, http.StatusBadRequest, mcp.ErrCodeSessionRequired, "Session required", ReasonSessionRequired)
}

func writeSessionNotFound(w http.ResponseWriter) {
	httputil.WriteRPCError(w, http.StatusNotFound, mcp.ErrCodeSessionNotFound, "Session not found", ReasonSessionNotFound)
}

func writeSessionLimit(w http.ResponseWriter) {
	httputil.WriteRPCError(w, http.StatusServiceUnavailable, mcp.ErrCodeSessionLimit, "Session limit reached", ReasonSessionLimit)
}

func writeStreamConflict(w http.ResponseWriter) {
	httputil.WriteRPCError(w, http.StatusConflict, mcp.ErrCodeStreamConflict, "Stream already open", ReasonStreamConflict)
}

func writeParseError(w http.ResponseWriter, rpcErr *mcp.JSONRPCError) {
	httputil.WriteRPCError(w, http.StatusBadRequest, rpcErr.Code, rpcErr.Message, ReasonParseError)
}

func writeBodyTooLarge(w http.ResponseWriter) {
	httputil.WriteRPCError(w, http.StatusRequestEntityTooLarge, mcp.ErrCodeInvalidRequest, "Request body too large", ReasonBodyTooLarge)
}

// writeInternalError never exposes the underlying error to the client.
func writeInternalError(w http.ResponseWriter) {
	httputil.WriteRPCError(w, http.StatusInternalServerError, mcp.ErrCodeInternalError, "Internal error", ReasonInternalError)
}

// WriteRateLimited answers a throttled request.
func WriteRateLimited(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteRPCError(w, http.StatusTooManyRequests, mcp.ErrCodeRateLimited, "Too many requests", ReasonRateLimited)
}
