// Package id provides identifier generation for mcpgate.
//
// Two formats are used:
//
//   - Session: random UUIDv4 values used as MCP session ids. They are handed
//     to clients in the Mcp-Session-Id header and must not be guessable, so
//     they are drawn from crypto/rand.
//   - Request: ULIDs attached to every inbound HTTP request for log
//     correlation. They sort by creation time, which keeps access logs easy to
//     scan.
package id
