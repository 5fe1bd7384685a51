package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/getmockd/mcpgate/internal/id"
	"github.com/getmockd/mcpgate/pkg/audit"
	"github.com/getmockd/mcpgate/pkg/httputil"
	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/mcp"
	"github.com/getmockd/mcpgate/pkg/metrics"
	"github.com/getmockd/mcpgate/pkg/session"
)

// Header names used by the transport.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "Mcp-Protocol-Version"
)

// DefaultMaxBodyBytes limits POST bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 4 << 20

// ConnFactory builds the protocol engine for a new session.
type ConnFactory func() session.Conn

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = logging.Component(log, "transport") }
}

// WithMetrics records session and request counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAudit records session lifecycle events to l.
func WithAudit(l audit.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.audit = l
		}
	}
}

// WithMaxBodyBytes limits POST bodies. Non-positive values keep the default.
func WithMaxBodyBytes(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBody = n
		}
	}
}

// Dispatcher routes Streamable HTTP requests to sessions.
type Dispatcher struct {
	registry *session.Registry
	newConn  ConnFactory
	maxBody  int64
	log      *slog.Logger
	metrics  *metrics.Metrics
	audit    audit.Logger

	watchers sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once
}

// New creates a dispatcher over registry. newConn is called once per
// initialize request.
func New(registry *session.Registry, newConn ConnFactory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		newConn:  newConn,
		maxBody:  DefaultMaxBodyBytes,
		log:      logging.Nop(),
		audit:    audit.NoOpLogger{},
		stopping: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher owns.
func (d *Dispatcher) Registry() *session.Registry {
	return d.registry
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := httputil.NewStatusRecorder(w)
	defer func() { d.metrics.HTTPRequest(r.Method, rec.Status) }()

	switch r.Method {
	case http.MethodPost:
		d.handlePost(rec, r)
	case http.MethodGet:
		d.handleStream(rec, r)
	case http.MethodDelete:
		d.handleDelete(rec, r)
	default:
		rec.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(rec, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Dispatcher) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBodyTooLarge(w)
			return
		}
		d.requestLog(r).Debug("reading request body failed", logging.KeyError, err)
		writeParseError(w, mcp.ParseError("failed to read request body"))
		return
	}

	isInit, rpcErr := mcp.IsInitializeRequest(body)
	if rpcErr != nil {
		writeParseError(w, rpcErr)
		return
	}

	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		if !isInit {
			writeSessionRequired(w)
			return
		}
		d.initiate(w, r, body)
		return
	}

	sess, err := d.lookup(sid)
	if err != nil {
		writeSessionNotFound(w)
		return
	}
	d.deliver(w, r, sess, body)
}

// initiate creates a session for an initialize request and answers it.
func (d *Dispatcher) initiate(w http.ResponseWriter, r *http.Request, body []byte) {
	log := d.requestLog(r)

	conn := d.newConn()
	sess, err := d.registry.Create(conn)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, session.ErrLimitReached) {
			log.Warn("session rejected", logging.KeyError, err)
			writeSessionLimit(w)
			return
		}
		log.Error("creating session failed", logging.KeyError, err)
		writeInternalError(w)
		return
	}
	d.metrics.SessionOpened()
	d.watch(sess)

	ctx := session.ContextWithID(r.Context(), sess.ID)
	d.record(audit.FromContext(ctx, audit.EventSessionCreated))

	log = log.With(logging.KeySessionID, sess.ID)
	resp, err := conn.Handle(ctx, body)
	if err != nil {
		log.Error("initialize failed", logging.KeyError, err)
		d.terminate(sess, "initialize failed")
		writeInternalError(w)
		return
	}
	if isErrorResponse(resp) {
		// A rejected initialize leaves nothing to continue.
		d.terminate(sess, "initialize rejected")
		httputil.WriteRawJSON(w, http.StatusOK, resp)
		return
	}

	log.Info("session created")
	w.Header().Set(HeaderSessionID, sess.ID)
	httputil.WriteRawJSON(w, http.StatusOK, resp)
}

// deliver hands a payload to an existing session.
func (d *Dispatcher) deliver(w http.ResponseWriter, r *http.Request, sess *session.Session, body []byte) {
	sess.BeginRequest()
	resp, err := sess.Conn.Handle(session.ContextWithID(r.Context(), sess.ID), body)
	sess.EndRequest()
	if err != nil {
		select {
		case <-sess.Conn.Done():
			writeSessionNotFound(w)
		default:
			d.requestLog(r).Error("handling message failed",
				logging.KeySessionID, sess.ID, logging.KeyError, err)
			writeInternalError(w)
		}
		return
	}
	if resp == nil {
		httputil.WriteAccepted(w)
		return
	}
	httputil.WriteRawJSON(w, http.StatusOK, resp)
}

func (d *Dispatcher) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		writeSessionRequired(w)
		return
	}
	sess, err := d.lookup(sid)
	if err != nil {
		writeSessionNotFound(w)
		return
	}

	d.terminate(sess, "terminated by client")
	httputil.WriteNoContent(w)
}

// watch removes the session once its connection closes, whoever closed it.
func (d *Dispatcher) watch(sess *session.Session) {
	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()
		<-sess.Conn.Done()
		d.release(sess.ID, "connection closed")
	}()
}

// terminate closes the session's connection and removes it regardless of
// the Close outcome.
func (d *Dispatcher) terminate(sess *session.Session, reason string) {
	if err := sess.Conn.Close(); err != nil {
		d.log.Warn("closing session failed", logging.KeySessionID, sess.ID, logging.KeyError, err)
	}
	d.release(sess.ID, reason)
}

// release removes sid from the registry. Only the first removal counts.
func (d *Dispatcher) release(sid, reason string) {
	if d.registry.Remove(sid) == nil {
		return
	}
	d.metrics.SessionClosed()
	d.log.Info("session closed", logging.KeySessionID, sid, "reason", reason)
	d.record(audit.Entry{Event: audit.EventSessionClosed, SessionID: sid, Reason: reason})
}

func (d *Dispatcher) record(entry audit.Entry) {
	if err := d.audit.Log(entry); err != nil {
		d.log.Warn("audit write failed", logging.KeyError, err)
	}
}

// CloseStreams ends every open push stream. It is safe to call more than
// once and is meant to run when the HTTP server starts shutting down, since
// open streams would otherwise keep their connections busy.
func (d *Dispatcher) CloseStreams() {
	d.stopOnce.Do(func() { close(d.stopping) })
}

// Shutdown ends all push streams, closes every session and waits for the
// lifecycle watchers to finish.
func (d *Dispatcher) Shutdown() {
	d.CloseStreams()
	for _, sess := range d.registry.RemoveAll() {
		if err := sess.Conn.Close(); err != nil {
			d.log.Warn("closing session failed", logging.KeySessionID, sess.ID, logging.KeyError, err)
		}
		d.metrics.SessionClosed()
		d.record(audit.Entry{Event: audit.EventSessionClosed, SessionID: sess.ID, Reason: "shutdown"})
	}
	d.watchers.Wait()
}

// lookup finds sid, rejecting ids that could not have come from the
// registry without consulting it.
func (d *Dispatcher) lookup(sid string) (*session.Session, error) {
	if !id.IsSession(sid) {
		return nil, session.ErrNotFound
	}
	return d.registry.Lookup(sid)
}

func (d *Dispatcher) requestLog(r *http.Request) *slog.Logger {
	if rid := httputil.RequestID(r.Context()); rid != "" {
		return d.log.With(logging.KeyRequestID, rid)
	}
	return d.log
}

func isErrorResponse(resp []byte) bool {
	var msg struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(resp, &msg); err != nil {
		return false
	}
	return len(msg.Error) > 0 && string(msg.Error) != "null"
}
