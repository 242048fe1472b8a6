// Package ws is the boundary adapter: it upgrades browser connections,
// frames named JSON events in both directions, and serves the credential
// and health HTTP endpoints.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/logging"
	"github.com/dmitrijs2005/dropwire/internal/server/abuse"
	"github.com/dmitrijs2005/dropwire/internal/server/audit"
	"github.com/dmitrijs2005/dropwire/internal/server/ratelimit"
	"github.com/dmitrijs2005/dropwire/internal/server/signaling"
	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for both directions: a named event and its
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventConnected tells a fresh endpoint its server-assigned id.
const EventConnected = "connected"

// Connected is the first event on every accepted connection.
type Connected struct {
	EndpointID string `json:"endpointId"`
}

// Adapter accepts endpoint connections and shuttles events between the
// wire and the signaling service.
type Adapter struct {
	svc         *signaling.Service
	guard       *abuse.Guard
	connLimiter *ratelimit.Limiter
	log         *audit.Log
	logger      logging.Logger
	upgrader    websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

func NewAdapter(svc *signaling.Service, guard *abuse.Guard, connLimiter *ratelimit.Limiter, log *audit.Log, logger logging.Logger, clientURL string) *Adapter {
	return &Adapter{
		svc:         svc,
		guard:       guard,
		connLimiter: connLimiter,
		log:         log,
		logger:      logger.With("module", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == clientURL
			},
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// CloseAll terminates every live endpoint connection. Part of graceful
// shutdown: the listener has already stopped accepting by the time this
// runs.
func (a *Adapter) CloseAll() {
	a.connsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.connsMu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.Close()
	}
}

func (a *Adapter) trackConn(c *websocket.Conn) {
	a.connsMu.Lock()
	a.conns[c] = struct{}{}
	a.connsMu.Unlock()
}

func (a *Adapter) untrackConn(c *websocket.Conn) {
	a.connsMu.Lock()
	delete(a.conns, c)
	a.connsMu.Unlock()
}

// wsSink serializes writes to one websocket connection.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: event, Data: data})
}

// HandleWS is the endpoint connection handler. The abuse guard is
// consulted first, then the connection limiter; a refused connection gets
// a best-effort error event before the socket closes.
func (a *Adapter) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	verdict := a.guard.TrackConnect(ip)
	if !verdict.Allowed {
		message := "Too many connections"
		if verdict.Blocked {
			minutes := int(verdict.RetryAfter.Minutes()) + 1
			message = fmt.Sprintf("Blocked, try again in %d minutes", minutes)
		}
		a.rejectConnection(w, r, message)
		return
	}

	if d := a.connLimiter.Check(ip); !d.Allowed {
		a.guard.MarkSuspicious(ip, "connection_rate_limited")
		a.guard.TrackDisconnect(ip)
		a.rejectConnection(w, r, "Too many connections, slow down")
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug(ctx, "upgrade failed", "ip", ip, "error", err)
		a.guard.TrackDisconnect(ip)
		return
	}

	a.trackConn(conn)
	defer a.untrackConn(conn)

	endpointID, err := common.MakeRandHexString(16)
	if err != nil {
		a.logger.Error(ctx, "endpoint id generation failed", "error", err)
		a.guard.TrackDisconnect(ip)
		conn.Close()
		return
	}
	sink := &wsSink{conn: conn}
	ep := a.svc.Hub().AddEndpoint(endpointID, ip, sink)

	a.log.Record(audit.Entry{
		Level: audit.LevelInfo, Event: "endpoint_connected",
		EndpointID: endpointID, IP: ip,
	})

	if err := sink.Send(EventConnected, Connected{EndpointID: endpointID}); err != nil {
		a.logger.Debug(ctx, "connected event delivery failed", "endpoint", endpointID)
	}

	a.readLoop(ctx, conn, ep)

	// Multiplexer state is torn down before the abuse guard hears about
	// the disconnect. Teardown must finish even when the request context
	// is already done.
	a.svc.HandleDisconnect(context.Background(), ep)
	a.guard.TrackDisconnect(ip)
	conn.Close()
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, ep *signaling.Endpoint) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug(ctx, "read error", "endpoint", ep.ID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.guard.MarkSuspicious(ep.IP, "malformed_frame")
			continue
		}

		a.dispatch(ctx, ep, env)
	}
}

// dispatch routes one inbound event into the state machine. Every handler
// runs behind a recover boundary: an unexpected panic answers
// request-shaped events with an opaque internal error and drops relay
// events without a reply.
func (a *Adapter) dispatch(ctx context.Context, ep *signaling.Endpoint, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error(ctx, "event handler panic", "event", env.Event, "endpoint", ep.ID, "panic", rec)
			if env.Event != signaling.EventSignal {
				_ = ep.Send(signaling.EventError, signaling.ErrorEvent{Message: "Internal server error"})
			}
		}
	}()

	switch env.Event {
	case signaling.EventUploadInit:
		var req signaling.UploadInit
		if err := json.Unmarshal(env.Data, &req); err != nil {
			_ = ep.Send(signaling.EventError, signaling.ErrorEvent{Message: "Malformed payload"})
			return
		}
		a.svc.HandleUploadInit(ctx, ep, req)

	case signaling.EventJoinRoom:
		var req signaling.JoinRoom
		if err := json.Unmarshal(env.Data, &req); err != nil {
			_ = ep.Send(signaling.EventError, signaling.ErrorEvent{Message: "Malformed payload"})
			return
		}
		a.svc.HandleJoinRoom(ctx, ep, req)

	case signaling.EventSignal:
		var req signaling.Signal
		if err := json.Unmarshal(env.Data, &req); err != nil {
			a.guard.MarkSuspicious(ep.IP, "malformed_frame")
			return
		}
		a.svc.HandleSignal(ctx, ep, req)

	case signaling.EventCancelTransfer:
		var req signaling.CancelTransfer
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		a.svc.HandleCancel(ctx, ep, req)

	case signaling.EventTransferComplete:
		var req signaling.TransferComplete
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		a.svc.HandleComplete(ctx, ep, req)

	default:
		_ = ep.Send(signaling.EventError, signaling.ErrorEvent{Message: "Unknown event: " + env.Event})
	}
}

// rejectConnection upgrades just long enough to deliver an error event,
// then closes. Falling back to a plain HTTP error when the upgrade fails.
func (a *Adapter) rejectConnection(w http.ResponseWriter, r *http.Request, message string) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, message, http.StatusTooManyRequests)
		return
	}
	sink := &wsSink{conn: conn}
	_ = sink.Send(signaling.EventError, signaling.ErrorEvent{Message: message})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
	conn.Close()
}

// clientIP prefers the first X-Forwarded-For hop (the service runs behind
// a TLS-terminating proxy), falling back to the socket peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
