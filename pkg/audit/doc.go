// Package audit records a JSON-lines trail of gateway activity: sessions
// opening and closing, and every tool call with its outcome. Entries carry
// the request and trace ids so they can be joined with the access log.
package audit
