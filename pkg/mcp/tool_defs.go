package mcp

// Page size bounds for list_resources.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxPage         = 1 << 20
)

// allToolDefinitions returns all tool definitions in display order.
func allToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		defGetResource,
		defListResources,
		defAPIStatus,
	}
}

var queryProperty = map[string]interface{}{
	"type":                 "object",
	"description":          "Query string parameters to send with the request",
	"additionalProperties": map[string]interface{}{"type": "string"},
}

var defGetResource = ToolDefinition{
	Name:        "get_resource",
	Description: "Fetch a single JSON resource from the backing API. The path is relative to the configured API base URL, e.g. /projects/42.",
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Resource path relative to the API base URL",
			},
			"query": queryProperty,
			"select": map[string]interface{}{
				"type":        "string",
				"description": "Optional JSONPath expression, e.g. $.items[*].id. When set, the matching values are returned as a JSON array instead of the whole document.",
			},
		},
		"required": []string{"path"},
	},
}

var defListResources = ToolDefinition{
	Name: "list_resources",
	Description: `List a collection from the backing API one page at a time.

Pages are 1-based. The request carries offset=(page-1)*page_size and limit=page_size.
The result has items, page, page_size, has_more and next_page; call again with next_page until has_more is false.`,
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Collection path relative to the API base URL",
			},
			"page": map[string]interface{}{
				"type":        "integer",
				"description": "Page number, starting at 1",
				"minimum":     1,
				"default":     1,
			},
			"page_size": map[string]interface{}{
				"type":        "integer",
				"description": "Items per page (1-100)",
				"minimum":     1,
				"maximum":     MaxPageSize,
				"default":     DefaultPageSize,
			},
			"query": queryProperty,
		},
		"required": []string{"path"},
	},
}

var defAPIStatus = ToolDefinition{
	Name:        "api_status",
	Description: "Report the backing API base URL and whether a valid access token is currently cached. Never returns the token itself.",
	InputSchema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	},
}
