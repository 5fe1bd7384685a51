// Package cli implements the mcpgate command line: serve, stdio, token and
// version.
package cli
