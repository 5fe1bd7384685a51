package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ohler55/ojg/jp"
)

// =============================================================================
// Backing API Handlers
// =============================================================================

// handleGetResource fetches one JSON document.
func handleGetResource(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	path := getString(call.Args, "path", "")
	if path == "" {
		return ToolResultError("path is required"), nil
	}

	var sel jp.Expr
	if s := getString(call.Args, "select", ""); s != "" {
		expr, err := jp.ParseString(s)
		if err != nil {
			return ToolResultErrorf("invalid select expression: %v", err), nil
		}
		sel = expr
	}

	var raw json.RawMessage
	if err := call.Server.api.GetJSON(ctx, path, toValues(getStringMap(call.Args, "query")), &raw); err != nil {
		return nil, err
	}
	if sel == nil {
		return ToolResultText(string(raw)), nil
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ToolResultErrorf("response from %s is not JSON", path), nil
	}
	matches := sel.Get(doc)
	if matches == nil {
		matches = []interface{}{}
	}
	return ToolResultJSON(matches)
}

// handleListResources fetches one page of a collection.
func handleListResources(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	path := getString(call.Args, "path", "")
	if path == "" {
		return ToolResultError("path is required"), nil
	}

	page := getInt(call.Args, "page", 1)
	if page < 1 || page > maxPage {
		return ToolResultErrorf("page must be between 1 and %d", maxPage), nil
	}
	pageSize := clampPageSize(getInt(call.Args, "page_size", DefaultPageSize))
	offset := (page - 1) * pageSize

	query := toValues(getStringMap(call.Args, "query"))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(pageSize))

	call.Progress(0, 1, fmt.Sprintf("fetching page %d", page))

	var raw json.RawMessage
	if err := call.Server.api.GetJSON(ctx, path, query, &raw); err != nil {
		return nil, err
	}

	items, total, err := decodePage(raw)
	if err != nil {
		return ToolResultErrorf("unexpected list response from %s: %v", path, err), nil
	}
	result := paginate(items, page, pageSize, total)

	call.Progress(1, 1, fmt.Sprintf("fetched %d items", len(result.Items)))
	return ToolResultJSON(result)
}

// handleAPIStatus reports on the API client and cached credential.
func handleAPIStatus(_ context.Context, call *ToolCall) (*ToolResult, error) {
	result := &APIStatusResult{}
	if call.Server.api != nil {
		result.BaseURL = call.Server.api.BaseURL()
	}
	if call.Server.creds != nil {
		st := call.Server.creds.Status()
		result.Cached = st.Cached
		result.Fresh = st.Fresh
		result.Refreshing = st.Refreshing
		if !st.ExpiresAt.IsZero() {
			result.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	return ToolResultJSON(result)
}

// clampPageSize bounds n to [1, MaxPageSize].
func clampPageSize(n int) int {
	return min(max(n, 1), MaxPageSize)
}

func toValues(m map[string]string) url.Values {
	q := make(url.Values, len(m))
	for k, v := range m {
		q.Set(k, v)
	}
	return q
}

// decodePage accepts a bare JSON array or an object wrapping the array in
// items, data or results, optionally with a total count.
func decodePage(raw json.RawMessage) ([]json.RawMessage, *int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, errors.New("empty body")
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, err
		}
		return items, nil, nil
	}

	var envelope struct {
		Items      []json.RawMessage `json:"items"`
		Data       []json.RawMessage `json:"data"`
		Results    []json.RawMessage `json:"results"`
		Total      *int              `json:"total"`
		TotalCount *int              `json:"total_count"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, err
	}

	total := envelope.Total
	if total == nil {
		total = envelope.TotalCount
	}
	switch {
	case envelope.Items != nil:
		return envelope.Items, total, nil
	case envelope.Data != nil:
		return envelope.Data, total, nil
	case envelope.Results != nil:
		return envelope.Results, total, nil
	}
	return nil, nil, errors.New("no items, data or results array")
}

// paginate builds the page result. An upstream that returns more than
// pageSize items ignored limit. If total shows the response is the whole
// collection the page is cut locally; otherwise offset was honoured and the
// response is truncated.
func paginate(items []json.RawMessage, page, pageSize int, total *int) *ListResourcesResult {
	offset := (page - 1) * pageSize

	var hasMore bool
	switch {
	case len(items) > pageSize && total != nil && *total == len(items):
		all := len(items)
		if offset >= all {
			items = nil
		} else {
			items = items[offset:min(offset+pageSize, all)]
		}
		hasMore = offset+pageSize < all
	case len(items) > pageSize:
		items = items[:pageSize]
		hasMore = true
	case total != nil:
		hasMore = offset+len(items) < *total
	default:
		hasMore = len(items) == pageSize
	}

	if items == nil {
		items = []json.RawMessage{}
	}
	result := &ListResourcesResult{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  hasMore,
	}
	if hasMore {
		next := page + 1
		result.NextPage = &next
	}
	return result
}
