package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/getmockd/mcpgate/pkg/apiclient"
	"github.com/getmockd/mcpgate/pkg/credential"
	"github.com/getmockd/mcpgate/pkg/logging"
)

// ToolCall is one tools/call invocation.
type ToolCall struct {
	Name string
	Args map[string]interface{}

	// ProgressToken is the client's _meta.progressToken, or nil.
	ProgressToken interface{}

	Engine *Engine
	Server *Server
}

// Progress sends notifications/progress when the client asked for it.
func (c *ToolCall) Progress(progress, total float64, message string) {
	if c.ProgressToken == nil || c.Engine == nil {
		return
	}
	c.Engine.Notify(ProgressNotification(c.ProgressToken, progress, total, message))
}

// ToolHandler is the signature for tool execution functions.
type ToolHandler func(ctx context.Context, call *ToolCall) (*ToolResult, error)

// Tool represents a registered MCP tool.
type Tool struct {
	Definition ToolDefinition
	Handler    ToolHandler
}

// ToolRegistry manages all registered MCP tools.
// Tools are stored in a slice to preserve registration order for tools/list.
type ToolRegistry struct {
	tools  []*Tool
	byName map[string]*Tool
}

// NewToolRegistry creates a new tool registry and registers all built-in tools.
func NewToolRegistry() *ToolRegistry {
	r := &ToolRegistry{
		tools:  make([]*Tool, 0, 4),
		byName: make(map[string]*Tool, 4),
	}
	r.registerBuiltinTools()
	return r
}

// registerBuiltinTools registers the backing API tools.
func (r *ToolRegistry) registerBuiltinTools() {
	handlers := map[string]ToolHandler{
		"get_resource":   handleGetResource,
		"list_resources": handleListResources,
		"api_status":     handleAPIStatus,
	}

	// Register in definition order for stable tools/list output.
	for _, def := range allToolDefinitions() {
		handler, ok := handlers[def.Name]
		if !ok {
			continue
		}
		r.Register(&Tool{
			Definition: def,
			Handler:    handler,
		})
	}
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *ToolRegistry) Register(tool *Tool) {
	if existing, ok := r.byName[tool.Definition.Name]; ok {
		*existing = *tool
		return
	}
	r.tools = append(r.tools, tool)
	r.byName[tool.Definition.Name] = tool
}

// Get retrieves a tool by name.
func (r *ToolRegistry) Get(name string) *Tool {
	return r.byName[name]
}

// List returns all tool definitions in registration order.
func (r *ToolRegistry) List() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// Execute runs the named tool. Failures become error results.
func (r *ToolRegistry) Execute(ctx context.Context, call *ToolCall) *ToolResult {
	tool := r.byName[call.Name]
	if tool == nil {
		return ToolResultError("tool not found: " + call.Name)
	}
	if call.Args == nil {
		call.Args = map[string]interface{}{}
	}

	result, err := tool.Handler(ctx, call)
	if err != nil {
		log := logging.Nop()
		if call.Server != nil {
			log = call.Server.log
		}
		log.Warn("tool failed", "tool", call.Name, logging.KeyError, err)
		if call.Engine != nil {
			call.Engine.LogToClient("warning", call.Name, describeError(err))
		}
		return ToolResultError(describeError(err))
	}
	return result
}

// describeError turns a tool failure into a short message for the client.
// Credentials and raw upstream bodies are never included.
func describeError(err error) string {
	var afe *credential.AuthFetchError
	if errors.As(err, &afe) {
		if afe.StatusCode != 0 {
			return fmt.Sprintf("could not obtain API credentials (token endpoint returned %d)", afe.StatusCode)
		}
		return "could not obtain API credentials (token endpoint unreachable)"
	}

	if errors.Is(err, apiclient.ErrAuthExpired) {
		return "the API rejected the credentials even after a refresh; check the configured key and secret"
	}

	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.ErrorCode == apiclient.CodeConnectionError:
			return "the API is unreachable"
		case apiErr.StatusCode != 0:
			return fmt.Sprintf("API returned %d: %s", apiErr.StatusCode, apiErr.Error())
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "the API call timed out"
	}
	return err.Error()
}

// =============================================================================
// Argument extraction helpers
// =============================================================================

func getString(args map[string]interface{}, key, defaultVal string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

func getInt(args map[string]interface{}, key string, defaultVal int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return defaultVal
}

func getStringMap(args map[string]interface{}, key string) map[string]string {
	if v, ok := args[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			result := make(map[string]string)
			for k, val := range m {
				switch x := val.(type) {
				case string:
					result[k] = x
				case float64, bool:
					result[k] = fmt.Sprint(x)
				}
			}
			return result
		}
	}
	return nil
}
