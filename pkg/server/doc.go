// Package server runs the mcpgate HTTP listener: the MCP endpoint, a health
// probe and the Prometheus scrape endpoint behind a shared middleware chain.
package server
