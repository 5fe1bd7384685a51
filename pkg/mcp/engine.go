package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/mcpgate/pkg/audit"
	"github.com/getmockd/mcpgate/pkg/logging"
)

// MCP method names.
const (
	MethodInitialize        = "initialize"
	MethodInitialized       = "notifications/initialized"
	MethodInitializedLegacy = "initialized"
	MethodCancelled         = "notifications/cancelled"
	MethodPing              = "ping"
	MethodToolsList         = "tools/list"
	MethodToolsCall         = "tools/call"
	MethodSetLevel          = "logging/setLevel"
	MethodProgress          = "notifications/progress"
	MethodLogMessage        = "notifications/message"
)

// ErrClosed is returned by Handle once the engine has been closed.
var ErrClosed = errors.New("mcp: engine closed")

// SessionState represents the lifecycle state of one engine.
type SessionState int

const (
	// SessionStateNew is the state before initialize.
	SessionStateNew SessionState = iota
	// SessionStateInitialized is after initialize, before the initialized notification.
	SessionStateInitialized
	// SessionStateReady is the state where tools are available.
	SessionStateReady
	// SessionStateClosed is terminal.
	SessionStateClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionStateNew:
		return "new"
	case SessionStateInitialized:
		return "initialized"
	case SessionStateReady:
		return "ready"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// logLevels ranks the MCP logging levels (RFC 5424 severities).
var logLevels = map[string]int{
	"debug":     0,
	"info":      1,
	"notice":    2,
	"warning":   3,
	"error":     4,
	"critical":  5,
	"alert":     6,
	"emergency": 7,
}

// Engine is the protocol state of one MCP session. It implements
// session.Conn: the transport feeds it inbound messages through Handle and
// drains server-initiated messages from Outbound.
type Engine struct {
	server *Server
	log    *slog.Logger

	mu              sync.RWMutex
	state           SessionState
	protocolVersion string
	clientInfo      ClientInfo
	logLevel        string

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newEngine(s *Server) *Engine {
	return &Engine{
		server:   s,
		log:      s.log,
		state:    SessionStateNew,
		logLevel: "info",
		outbound: make(chan []byte, s.outboundBuffer),
		done:     make(chan struct{}),
	}
}

// Handle processes one inbound JSON-RPC message and returns the encoded
// response, or nil for notifications and client responses.
func (e *Engine) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	select {
	case <-e.done:
		return nil, ErrClosed
	default:
	}

	kind, req, perr := Classify(msg)
	if perr != nil {
		return json.Marshal(ErrorResponse(nil, perr))
	}
	if kind == KindResponse {
		// No server-initiated requests are outstanding; replies are dropped.
		return nil, nil
	}

	result, rpcErr := e.dispatch(ctx, req)

	if kind == KindNotification {
		if rpcErr != nil {
			e.log.Debug("notification rejected", logging.KeyMethod, req.Method, logging.KeyError, rpcErr)
		}
		return nil, nil
	}
	if rpcErr != nil {
		return json.Marshal(ErrorResponse(req.ID, rpcErr))
	}
	return json.Marshal(SuccessResponse(req.ID, result))
}

// Outbound yields encoded server-initiated notifications.
func (e *Engine) Outbound() <-chan []byte {
	return e.outbound
}

// Done is closed when the engine shuts down.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close shuts the engine down. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = SessionStateClosed
		e.mu.Unlock()
		close(e.done)
	})
	return nil
}

// State returns the current lifecycle state.
func (e *Engine) State() SessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ClientInfo returns what the client reported in initialize.
func (e *Engine) ClientInfo() ClientInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clientInfo
}

// ProtocolVersion returns the negotiated protocol version.
func (e *Engine) ProtocolVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.protocolVersion
}

// LogLevel returns the minimum level of notifications/message sent to the client.
func (e *Engine) LogLevel() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logLevel
}

// Notify queues a notification for the push stream. It never blocks: when
// the queue is full or the engine is closed the notification is dropped and
// false is returned.
func (e *Engine) Notify(notif *JSONRPCNotification) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	data, err := json.Marshal(notif)
	if err != nil {
		e.log.Error("failed to marshal notification", logging.KeyMethod, notif.Method, logging.KeyError, err)
		return false
	}

	select {
	case e.outbound <- data:
		return true
	default:
		e.log.Warn("outbound queue full, dropping notification", logging.KeyMethod, notif.Method)
		return false
	}
}

// LogToClient sends a notifications/message if level is at or above the
// level the client asked for.
func (e *Engine) LogToClient(level, logger string, data interface{}) bool {
	rank, ok := logLevels[level]
	if !ok || rank < logLevels[e.LogLevel()] {
		return false
	}
	return e.Notify(LogMessageNotification(level, logger, data))
}

// dispatch routes the request to the appropriate handler.
func (e *Engine) dispatch(ctx context.Context, req *JSONRPCRequest) (interface{}, *JSONRPCError) {
	switch req.Method {
	// Lifecycle methods
	case MethodInitialize:
		return e.handleInitialize(req.Params)
	case MethodInitialized, MethodInitializedLegacy:
		return e.handleInitialized()
	case MethodCancelled:
		return nil, nil
	case MethodPing:
		return map[string]interface{}{}, nil

	// Tool methods
	case MethodToolsList:
		return e.handleToolsList()
	case MethodToolsCall:
		return e.handleToolsCall(ctx, req.Params)

	// Logging
	case MethodSetLevel:
		return e.handleSetLevel(req.Params)

	default:
		return nil, MethodNotFoundError(req.Method)
	}
}

// handleInitialize handles the initialize request.
func (e *Engine) handleInitialize(params json.RawMessage) (interface{}, *JSONRPCError) {
	initParams, err := UnmarshalParamsRequired[InitializeParams](params)
	if err != nil {
		return nil, err
	}

	if !IsProtocolVersionSupported(initParams.ProtocolVersion) {
		return nil, ProtocolVersionError(initParams.ProtocolVersion)
	}

	e.mu.Lock()
	if e.state != SessionStateNew {
		e.mu.Unlock()
		return nil, InvalidRequestError("session already initialized")
	}
	e.protocolVersion = initParams.ProtocolVersion
	e.clientInfo = initParams.ClientInfo
	e.state = SessionStateInitialized
	e.mu.Unlock()

	e.log.Info("session initialized",
		"client", initParams.ClientInfo.Name,
		"client_version", initParams.ClientInfo.Version,
		"protocol", initParams.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: initParams.ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:   &ToolsCapability{ListChanged: false},
			Logging: &LoggingCapability{},
		},
		ServerInfo:   e.server.info,
		Instructions: e.server.instructions,
	}, nil
}

// handleInitialized handles the initialized notification.
func (e *Engine) handleInitialized() (interface{}, *JSONRPCError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != SessionStateInitialized {
		return nil, NotInitializedError()
	}
	e.state = SessionStateReady
	return nil, nil
}

// handleToolsList returns the list of available tools.
func (e *Engine) handleToolsList() (interface{}, *JSONRPCError) {
	if e.State() != SessionStateReady {
		return nil, NotInitializedError()
	}

	return &ToolsListResult{
		Tools: e.server.tools.List(),
	}, nil
}

// handleToolsCall executes a tool.
func (e *Engine) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, *JSONRPCError) {
	if e.State() != SessionStateReady {
		return nil, NotInitializedError()
	}

	callParams, err := UnmarshalParamsRequired[ToolCallParams](params)
	if err != nil {
		return nil, err
	}
	if callParams.Name == "" {
		return nil, InvalidParamsError("name is required")
	}

	call := &ToolCall{
		Name:   callParams.Name,
		Args:   callParams.Arguments,
		Engine: e,
		Server: e.server,
	}
	if callParams.Meta != nil {
		call.ProgressToken = callParams.Meta.ProgressToken
	}

	start := time.Now()
	result := e.server.tools.Execute(ctx, call)

	entry := audit.FromContext(ctx, audit.EventToolCalled)
	entry.Tool = call.Name
	entry.Client = e.ClientInfo().Name
	entry.DurationMs = time.Since(start).Milliseconds()
	entry.IsError = result == nil || result.IsError
	if err := e.server.audit.Log(entry); err != nil {
		e.log.Warn("audit write failed", logging.KeyError, err)
	}

	// Tool errors are returned in the result, not as JSON-RPC errors.
	return result, nil
}

// handleSetLevel handles logging/setLevel.
func (e *Engine) handleSetLevel(params json.RawMessage) (interface{}, *JSONRPCError) {
	if e.State() == SessionStateNew {
		return nil, NotInitializedError()
	}

	p, err := UnmarshalParamsRequired[SetLevelParams](params)
	if err != nil {
		return nil, err
	}
	if _, ok := logLevels[p.Level]; !ok {
		return nil, InvalidParamsError("unknown level " + p.Level)
	}

	e.mu.Lock()
	e.logLevel = p.Level
	e.mu.Unlock()
	return map[string]interface{}{}, nil
}
