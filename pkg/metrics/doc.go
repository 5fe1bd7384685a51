// Package metrics provides Prometheus metrics for mcpgate.
//
// Collectors live on a *Metrics value created with New, so tests and multiple
// servers in one process never share global state. Every method is safe to
// call on a nil *Metrics, which lets components treat metrics as optional.
//
// # Metrics
//
//   - mcpgate_token_refresh_total: token exchanges (labels: result = ok, error)
//   - mcpgate_sessions_active: live MCP sessions
//   - mcpgate_sessions_created_total: sessions created since start
//   - mcpgate_http_requests_total: inbound MCP endpoint requests (labels: method, code)
//   - mcpgate_api_requests_total: outbound backing API calls (labels: code)
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	mux.Handle("/metrics", m.Handler())
package metrics
