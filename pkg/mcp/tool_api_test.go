package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mcpgate/pkg/apiclient"
	"github.com/getmockd/mcpgate/pkg/credential"
)

func TestGetResource(t *testing.T) {
	t.Parallel()

	api := staticAPI(`{"id":42,"name":"widget"}`)
	e := readyEngine(t, NewServer(api))

	text, isErr := toolText(t, e, "get_resource", map[string]any{
		"path":  "/widgets/42",
		"query": map[string]any{"expand": "owner"},
	}, nil)
	assert.False(t, isErr)
	assert.JSONEq(t, `{"id":42,"name":"widget"}`, text)

	last := api.lastCall()
	assert.Equal(t, "/widgets/42", last.Path)
	assert.Equal(t, "owner", last.Query.Get("expand"))
}

func TestGetResource_MissingPath(t *testing.T) {
	t.Parallel()

	e := readyEngine(t, NewServer(staticAPI(`{}`)))
	text, isErr := toolText(t, e, "get_resource", map[string]any{}, nil)
	assert.True(t, isErr)
	assert.Equal(t, "path is required", text)
}

func TestGetResource_Select(t *testing.T) {
	t.Parallel()

	api := staticAPI(`{"items":[{"id":1,"tags":["a"]},{"id":2,"tags":[]}],"total":2}`)
	e := readyEngine(t, NewServer(api))

	text, isErr := toolText(t, e, "get_resource", map[string]any{
		"path":   "/widgets",
		"select": "$.items[*].id",
	}, nil)
	assert.False(t, isErr)
	assert.JSONEq(t, `[1,2]`, text)

	text, isErr = toolText(t, e, "get_resource", map[string]any{
		"path":   "/widgets",
		"select": "$.missing",
	}, nil)
	assert.False(t, isErr)
	assert.JSONEq(t, `[]`, text)
}

func TestGetResource_InvalidSelect(t *testing.T) {
	t.Parallel()

	api := staticAPI(`{}`)
	e := readyEngine(t, NewServer(api))

	text, isErr := toolText(t, e, "get_resource", map[string]any{
		"path":   "/widgets",
		"select": "$.items[",
	}, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "invalid select expression")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.calls, "a bad expression must not reach the API")
}

func TestUnknownTool(t *testing.T) {
	t.Parallel()

	e := readyEngine(t, NewServer(staticAPI(`{}`)))
	text, isErr := toolText(t, e, "drop_tables", nil, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "tool not found")
}

func TestListResources_PageMath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		args         map[string]any
		wantOffset   string
		wantLimit    string
		wantPage     int
		wantPageSize int
	}{
		{"defaults", map[string]any{}, "0", "20", 1, 20},
		{"third page", map[string]any{"page": 3, "page_size": 10}, "20", "10", 3, 10},
		{"page size clamped high", map[string]any{"page_size": 1000}, "0", "100", 1, 100},
		{"page size clamped low", map[string]any{"page": 2, "page_size": 0}, "1", "1", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := staticAPI(`[]`)
			e := readyEngine(t, NewServer(api))

			args := map[string]any{"path": "/widgets"}
			for k, v := range tt.args {
				args[k] = v
			}
			text, isErr := toolText(t, e, "list_resources", args, nil)
			require.False(t, isErr, text)

			last := api.lastCall()
			assert.Equal(t, tt.wantOffset, last.Query.Get("offset"))
			assert.Equal(t, tt.wantLimit, last.Query.Get("limit"))

			var result ListResourcesResult
			require.NoError(t, json.Unmarshal([]byte(text), &result))
			assert.Equal(t, tt.wantPage, result.Page)
			assert.Equal(t, tt.wantPageSize, result.PageSize)
		})
	}
}

func TestListResources_InvalidPage(t *testing.T) {
	t.Parallel()

	e := readyEngine(t, NewServer(staticAPI(`[]`)))
	text, isErr := toolText(t, e, "list_resources", map[string]any{"path": "/w", "page": 0}, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "page must be between")
}

func TestListResources_HasMore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		args     map[string]any
		wantLen  int
		wantMore bool
		wantNext *int
	}{
		{
			name:     "full page without total",
			body:     `[1,2]`,
			args:     map[string]any{"page_size": 2},
			wantLen:  2,
			wantMore: true,
			wantNext: ptr(2),
		},
		{
			name:    "short page",
			body:    `[1]`,
			args:    map[string]any{"page_size": 2},
			wantLen: 1,
		},
		{
			name:    "envelope with total reached",
			body:    `{"items":[5,6],"total":6}`,
			args:    map[string]any{"page": 3, "page_size": 2},
			wantLen: 2,
		},
		{
			name:     "data envelope with more",
			body:     `{"data":[1,2],"total_count":10}`,
			args:     map[string]any{"page_size": 2},
			wantLen:  2,
			wantMore: true,
			wantNext: ptr(2),
		},
		{
			name:     "whole collection cut locally",
			body:     `{"items":[1,2,3,4,5],"total":5}`,
			args:     map[string]any{"page": 2, "page_size": 2},
			wantLen:  2,
			wantMore: true,
			wantNext: ptr(3),
		},
		{
			name:    "whole collection past the end",
			body:    `{"items":[1,2,3],"total":3}`,
			args:    map[string]any{"page": 5, "page_size": 2},
			wantLen: 0,
		},
		{
			name:     "limit ignored is truncated",
			body:     `[1,2,3,4,5]`,
			args:     map[string]any{"page": 2, "page_size": 2},
			wantLen:  2,
			wantMore: true,
			wantNext: ptr(3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := readyEngine(t, NewServer(staticAPI(tt.body)))
			args := map[string]any{"path": "/w"}
			for k, v := range tt.args {
				args[k] = v
			}
			text, isErr := toolText(t, e, "list_resources", args, nil)
			require.False(t, isErr, text)

			var result ListResourcesResult
			require.NoError(t, json.Unmarshal([]byte(text), &result))
			assert.Len(t, result.Items, tt.wantLen)
			assert.Equal(t, tt.wantMore, result.HasMore)
			assert.Equal(t, tt.wantNext, result.NextPage)
		})
	}
}

func TestPaginate_OffsetHonouredLimitIgnored(t *testing.T) {
	t.Parallel()

	// The upstream applied offset=10 but returned everything after it.
	var items []json.RawMessage
	for i := 10; i < 30; i++ {
		items = append(items, json.RawMessage(strconv.Itoa(i)))
	}

	result := paginate(items, 2, 10, nil)
	require.Len(t, result.Items, 10)
	assert.Equal(t, "10", string(result.Items[0]))
	assert.Equal(t, "19", string(result.Items[9]))
	assert.True(t, result.HasMore)
	assert.Nil(t, result.Total)
	assert.Equal(t, ptr(3), result.NextPage)
}

func TestPaginate_WholeCollection(t *testing.T) {
	t.Parallel()

	var items []json.RawMessage
	for i := 0; i < 25; i++ {
		items = append(items, json.RawMessage(strconv.Itoa(i)))
	}
	total := len(items)

	result := paginate(items, 3, 10, &total)
	require.Len(t, result.Items, 5)
	assert.Equal(t, "20", string(result.Items[0]))
	assert.False(t, result.HasMore)
	assert.Nil(t, result.NextPage)
}

func TestListResources_UnexpectedShape(t *testing.T) {
	t.Parallel()

	e := readyEngine(t, NewServer(staticAPI(`{"widgets":[]}`)))
	text, isErr := toolText(t, e, "list_resources", map[string]any{"path": "/w"}, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "unexpected list response")
}

func TestListResources_Progress(t *testing.T) {
	t.Parallel()

	e := readyEngine(t, NewServer(staticAPI(`[1,2,3]`)))
	_, isErr := toolText(t, e, "list_resources", map[string]any{"path": "/w"}, map[string]any{"progressToken": "tok-abc"})
	require.False(t, isErr)

	first := nextOutbound(t, e)
	assert.Equal(t, MethodProgress, first["method"])
	params := first["params"].(map[string]any)
	assert.Equal(t, "tok-abc", params["progressToken"])
	assert.Equal(t, float64(0), params["progress"])

	second := nextOutbound(t, e)
	params = second["params"].(map[string]any)
	assert.Equal(t, float64(1), params["progress"])
	assert.Equal(t, float64(1), params["total"])
}

func TestListResources_NoProgressWithoutToken(t *testing.T) {
	t.Parallel()

	e := readyEngine(t, NewServer(staticAPI(`[]`)))
	_, isErr := toolText(t, e, "list_resources", map[string]any{"path": "/w"}, nil)
	require.False(t, isErr)
	assert.Empty(t, e.Outbound())
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewServer(staticAPI(`{}`), WithCredentialStatus(fakeCreds{status: credential.Status{
		Cached:    true,
		Fresh:     true,
		ExpiresAt: expires,
	}}))
	e := readyEngine(t, s)

	text, isErr := toolText(t, e, "api_status", nil, nil)
	require.False(t, isErr)

	var result APIStatusResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "https://api.example.com/v1", result.BaseURL)
	assert.True(t, result.Cached)
	assert.True(t, result.Fresh)
	assert.Equal(t, "2030-01-01T00:00:00Z", result.ExpiresAt)
}

func TestToolErrors_AreShortMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "auth expired",
			err:  &apiclient.APIError{StatusCode: http.StatusUnauthorized, AuthExpired: true, Body: "secret body"},
			want: "rejected the credentials",
		},
		{
			name: "token endpoint failure",
			err:  &credential.AuthFetchError{StatusCode: http.StatusBadRequest, Body: "secret body"},
			want: "token endpoint returned 400",
		},
		{
			name: "upstream status",
			err:  &apiclient.APIError{StatusCode: http.StatusNotFound, Message: "widget not found"},
			want: "API returned 404: widget not found",
		},
		{
			name: "unreachable",
			err:  &apiclient.APIError{ErrorCode: apiclient.CodeConnectionError, Message: "dial tcp: refused"},
			want: "the API is unreachable",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeAPI{respond: func(string, url.Values) (string, error) { return "", tt.err }}
			e := readyEngine(t, NewServer(api))

			text, isErr := toolText(t, e, "get_resource", map[string]any{"path": "/w/1"}, nil)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
			assert.NotContains(t, text, "secret body")
		})
	}
}

func TestToolFailure_LogsToClient(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{respond: func(string, url.Values) (string, error) { return "", errors.New("boom") }}
	e := readyEngine(t, NewServer(api))

	_, isErr := toolText(t, e, "get_resource", map[string]any{"path": "/w/1"}, nil)
	require.True(t, isErr)

	msg := nextOutbound(t, e)
	assert.Equal(t, MethodLogMessage, msg["method"])
	params := msg["params"].(map[string]any)
	assert.Equal(t, "warning", params["level"])
	assert.Equal(t, "get_resource", params["logger"])
}

func TestToolRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	r := NewToolRegistry()
	before := len(r.List())
	r.Register(&Tool{Definition: ToolDefinition{Name: "api_status", Description: "custom"}})

	assert.Len(t, r.List(), before)
	assert.Equal(t, "custom", r.Get("api_status").Definition.Description)
}

func ptr(n int) *int { return &n }
