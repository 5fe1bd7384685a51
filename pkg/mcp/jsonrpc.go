package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies an inbound JSON-RPC message.
type Kind int

const (
	// KindRequest is a method call carrying an id.
	KindRequest Kind = iota
	// KindNotification is a method call without an id.
	KindNotification
	// KindResponse is a client's reply to a server-initiated request.
	KindResponse
)

// inbound is any JSON-RPC message before classification.
type inbound struct {
	JSONRPCRequest
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Classify parses one inbound message. Batches are rejected.
// For KindResponse the returned request is nil.
func Classify(data []byte) (Kind, *JSONRPCRequest, *JSONRPCError) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0, nil, ParseError("empty body")
	}
	if trimmed[0] == '[' {
		return 0, nil, InvalidRequestError("batch requests are not supported")
	}

	var msg inbound
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return 0, nil, ParseError(err.Error())
	}

	if msg.Method == "" && (len(msg.Result) > 0 || len(msg.Error) > 0) {
		if msg.JSONRPC != "2.0" {
			return 0, nil, InvalidRequestError("jsonrpc must be \"2.0\"")
		}
		return KindResponse, nil, nil
	}

	req := msg.JSONRPCRequest
	if err := ValidateRequest(&req); err != nil {
		return 0, nil, err
	}
	if req.IsNotification() {
		return KindNotification, &req, nil
	}
	return KindRequest, &req, nil
}

// IsInitializeRequest reports whether data is an initialize request.
func IsInitializeRequest(data []byte) (bool, *JSONRPCError) {
	kind, req, err := Classify(data)
	if err != nil {
		return false, err
	}
	return kind == KindRequest && req.Method == MethodInitialize, nil
}

// ValidateRequest validates a JSON-RPC request.
func ValidateRequest(req *JSONRPCRequest) *JSONRPCError {
	if req.JSONRPC != "2.0" {
		return InvalidRequestError("jsonrpc must be \"2.0\"")
	}

	if req.Method == "" {
		return InvalidRequestError("method is required")
	}

	return nil
}

// NewNotification creates a new JSON-RPC notification.
func NewNotification(method string, params interface{}) *JSONRPCNotification {
	return &JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}

// ProgressNotification creates a notifications/progress message.
func ProgressNotification(token interface{}, progress, total float64, message string) *JSONRPCNotification {
	return NewNotification(MethodProgress, &ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// LogMessageNotification creates a notifications/message log entry.
func LogMessageNotification(level, logger string, data interface{}) *JSONRPCNotification {
	return NewNotification(MethodLogMessage, &LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// UnmarshalParamsRequired unmarshals required request params.
func UnmarshalParamsRequired[T any](params json.RawMessage) (*T, *JSONRPCError) {
	if len(params) == 0 {
		return nil, InvalidParamsError("params required")
	}

	var result T
	if err := json.Unmarshal(params, &result); err != nil {
		return nil, InvalidParamsError(err.Error())
	}
	return &result, nil
}

// ToolResultText creates a text content tool result.
func ToolResultText(text string) *ToolResult {
	return &ToolResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: text,
			},
		},
	}
}

// ToolResultJSON creates a JSON content tool result.
func ToolResultJSON(data interface{}) (*ToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return ToolResultText(string(jsonBytes)), nil
}

// ToolResultError creates an error tool result.
func ToolResultError(message string) *ToolResult {
	return &ToolResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: message,
			},
		},
		IsError: true,
	}
}

// ToolResultErrorf creates a formatted error tool result.
func ToolResultErrorf(format string, args ...interface{}) *ToolResult {
	return ToolResultError(fmt.Sprintf(format, args...))
}
