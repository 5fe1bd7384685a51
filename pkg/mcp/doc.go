// Package mcp implements the Model Context Protocol engine for mcpgate.
//
// A Server is created once per process and holds the tool registry and the
// authenticated backing API client. Server.NewEngine builds one Engine per
// client session; the Engine owns the session's protocol state and speaks
// JSON-RPC 2.0 through Handle, with server-initiated notifications queued
// on Outbound.
//
// # Protocol Version
//
// This implementation follows MCP protocol version 2025-06-18 and accepts
// the versions listed in SupportedProtocolVersions.
//
// # Methods
//
//   - initialize, notifications/initialized, ping
//   - tools/list, tools/call
//   - logging/setLevel
//
// # Tools
//
//   - get_resource: fetch one JSON document from the backing API
//   - list_resources: paginated listing, with notifications/progress when the
//     call carries _meta.progressToken
//   - api_status: base URL and credential freshness, never the token
//
// # Transports
//
// Streamable HTTP is served by package transport. StdioServer runs a single
// engine over newline-delimited stdin/stdout.
package mcp
