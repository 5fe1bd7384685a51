package transport

import (
	"net/http"

	"github.com/tmaxmax/go-sse"

	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/session"
)

// eventMessage is the SSE event type carrying JSON-RPC messages.
const eventMessage = "message"

func (d *Dispatcher) handleStream(w http.ResponseWriter, r *http.Request) {
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
	if !sess.ClaimStream() {
		writeStreamConflict(w)
		return
	}
	defer sess.ReleaseStream()

	log := d.requestLog(r).With(logging.KeySessionID, sid)

	stream, err := sse.Upgrade(w, r)
	if err != nil {
		log.Error("upgrading push stream failed", logging.KeyError, err)
		writeInternalError(w)
		return
	}
	if err := stream.Flush(); err != nil {
		log.Debug("flushing push stream failed", logging.KeyError, err)
		return
	}

	sess.Touch()
	log.Debug("push stream opened")
	reason := d.relay(r, sess, stream)
	log.Debug("push stream closed", "reason", reason)
}

// relay forwards outbound messages until the stream has to end and reports
// why it ended.
func (d *Dispatcher) relay(r *http.Request, sess *session.Session, stream *sse.Session) string {
	for {
		select {
		case <-r.Context().Done():
			return "client disconnected"
		case <-sess.Conn.Done():
			return "session closed"
		case <-d.stopping:
			return "server shutting down"
		case data := <-sess.Conn.Outbound():
			msg := sse.Message{Type: sse.Type(eventMessage)}
			msg.AppendData(string(data))
			if err := stream.Send(&msg); err != nil {
				return "send failed: " + err.Error()
			}
			if err := stream.Flush(); err != nil {
				return "flush failed: " + err.Error()
			}
			sess.Touch()
		}
	}
}
