// Package session tracks the live MCP sessions of one server process.
//
// A Registry maps opaque session ids to Sessions. Each Session owns exactly
// one Conn, the protocol engine bound to that client. The registry only
// stores sessions; deciding when one ends is left to the transport, which
// watches Conn.Done and calls Remove.
package session
