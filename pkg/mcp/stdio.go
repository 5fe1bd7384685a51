package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/getmockd/mcpgate/pkg/logging"
)

// maxStdioMessage is the longest newline-delimited message accepted on stdin.
const maxStdioMessage = 10 * 1024 * 1024

// StdioServer runs one MCP session over stdin/stdout (newline-delimited
// JSON-RPC). Notifications from the engine are written to stdout between
// responses.
//
// Usage in an MCP client config:
//
//	{
//	  "mcpServers": {
//	    "mcpgate": {
//	      "command": "mcpgate",
//	      "args": ["stdio"]
//	    }
//	  }
//	}
type StdioServer struct {
	server *Server
	reader io.Reader
	writer io.Writer
	log    *slog.Logger
	mu     sync.Mutex
}

// NewStdioServer creates a new stdio MCP server.
func NewStdioServer(server *Server) *StdioServer {
	return &StdioServer{
		server: server,
		reader: os.Stdin,
		writer: os.Stdout,
		log:    logging.Nop(),
	}
}

// SetLogger sets the logger. Logs must go to stderr to avoid interfering
// with the protocol on stdout.
func (s *StdioServer) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// SetIO overrides the default stdin/stdout for testing.
func (s *StdioServer) SetIO(reader io.Reader, writer io.Writer) {
	s.reader = reader
	s.writer = writer
}

// Run serves until EOF on stdin, ctx is cancelled, or a read error.
func (s *StdioServer) Run(ctx context.Context) error {
	s.log.Info("MCP stdio server starting",
		"version", ServerVersion,
		"protocol", ProtocolVersion,
	)

	engine := s.server.NewEngine()
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		s.relay(ctx, engine)
	}()
	defer func() {
		_ = engine.Close()
		<-relayDone
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		readErr <- s.scan(ctx, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("stdin read error: %w", err)
			}
			s.log.Info("MCP stdio server stopped (EOF)")
			return nil
		case line := <-lines:
			s.log.Debug("received", "message", string(line))
			resp, err := engine.Handle(ctx, line)
			if err != nil {
				return fmt.Errorf("handling message: %w", err)
			}
			if resp != nil {
				s.writeLine(resp)
			}
		}
	}
}

// scan feeds non-empty lines to out until EOF.
func (s *StdioServer) scan(ctx context.Context, out chan<- []byte) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioMessage)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// relay writes engine notifications to stdout until the engine or ctx ends.
func (s *StdioServer) relay(ctx context.Context, engine *Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-engine.Done():
			return
		case msg := <-engine.Outbound():
			s.writeLine(msg)
		}
	}
}

// writeLine writes one message followed by a newline.
func (s *StdioServer) writeLine(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("sending", "message", string(data))

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := s.writer.Write(line); err != nil {
		s.log.Error("failed to write response", logging.KeyError, err)
	}
}
