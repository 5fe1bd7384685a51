package mcp

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/mcpgate/pkg/credential"
)

// fakeAPI answers GetJSON from a function and records every call.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	respond func(path string, query url.Values) (string, error)
}

type apiCall struct {
	Path  string
	Query url.Values
}

func (f *fakeAPI) GetJSON(_ context.Context, path string, query url.Values, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Path: path, Query: query})
	f.mu.Unlock()

	body, err := f.respond(path, query)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), out)
}

func (f *fakeAPI) BaseURL() string { return "https://api.example.com/v1" }

func (f *fakeAPI) lastCall() apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeCreds struct{ status credential.Status }

func (f fakeCreds) Status() credential.Status { return f.status }

func staticAPI(body string) *fakeAPI {
	return &fakeAPI{respond: func(string, url.Values) (string, error) { return body, nil }}
}

// call sends one request through the engine and decodes the response.
func call(t *testing.T, e *Engine, id int, method string, params any) *JSONRPCResponse {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	out, err := e.Handle(context.Background(), data)
	require.NoError(t, err)
	require.NotNil(t, out, "request %s must produce a response", method)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	return &resp
}

// notify sends one notification and asserts there is no response.
func notify(t *testing.T, e *Engine, method string) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	require.NoError(t, err)
	out, err := e.Handle(context.Background(), data)
	require.NoError(t, err)
	require.Nil(t, out)
}

func initParams() map[string]any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	}
}

// readyEngine returns an engine past the initialize handshake.
func readyEngine(t *testing.T, s *Server) *Engine {
	t.Helper()
	e := s.NewEngine()
	t.Cleanup(func() { _ = e.Close() })

	resp := call(t, e, 1, MethodInitialize, initParams())
	require.Nil(t, resp.Error)
	notify(t, e, MethodInitialized)
	require.Equal(t, SessionStateReady, e.State())
	return e
}

// toolText runs a tool and returns its text content.
func toolText(t *testing.T, e *Engine, name string, args map[string]any, meta map[string]any) (string, bool) {
	t.Helper()
	params := map[string]any{"name": name, "arguments": args}
	if meta != nil {
		params["_meta"] = meta
	}
	resp := call(t, e, 99, MethodToolsCall, params)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result ToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	return result.Content[0].Text, result.IsError
}

func nextOutbound(t *testing.T, e *Engine) map[string]any {
	t.Helper()
	select {
	case msg := <-e.Outbound():
		var m map[string]any
		require.NoError(t, json.Unmarshal(msg, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("no outbound message")
		return nil
	}
}
