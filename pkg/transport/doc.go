// Package transport exposes MCP sessions over the Streamable HTTP transport.
//
// A single endpoint accepts three verbs. POST carries client JSON-RPC
// messages and, when the body is an initialize request without a session
// header, creates the session. GET attaches a server-sent events stream that
// relays server-initiated messages. DELETE terminates the session.
//
// The session id travels in the Mcp-Session-Id header.
package transport
