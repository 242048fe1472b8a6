package signaling

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/dropwire/internal/logging"
	"github.com/dmitrijs2005/dropwire/internal/server/abuse"
	"github.com/dmitrijs2005/dropwire/internal/server/audit"
)

// Router relays opaque negotiation payloads between the two endpoints of a
// room. Every misrouted message is dropped without a reply: answering
// would tell a scanner which sessions and endpoints exist. The payload is
// never inspected.
type Router struct {
	hub    *Hub
	guard  *abuse.Guard
	log    *audit.Log
	logger logging.Logger
}

func NewRouter(hub *Hub, guard *abuse.Guard, log *audit.Log, logger logging.Logger) *Router {
	return &Router{
		hub:    hub,
		guard:  guard,
		log:    log,
		logger: logger.With("module", "router"),
	}
}

// Relay forwards data from the endpoint to targetID inside sessionID's
// room. The three membership checks fail independently, each as a silent
// drop that raises a suspicious event for the source IP.
func (r *Router) Relay(from *Endpoint, targetID, sessionID string, data json.RawMessage) {
	if !r.hub.InRoom(sessionID, from.ID) {
		r.drop(from, sessionID, "signal_outside_room")
		return
	}

	target, ok := r.hub.Endpoint(targetID)
	if !ok {
		r.drop(from, sessionID, "signal_target_disconnected")
		return
	}

	if !r.hub.InRoom(sessionID, targetID) {
		r.drop(from, sessionID, "signal_target_outside_room")
		return
	}

	if err := target.Send(EventSignal, SignalOut{From: from.ID, Data: data}); err != nil {
		r.logger.Debug(context.Background(), "signal delivery failed", "target", targetID, "error", err)
	}
}

func (r *Router) drop(from *Endpoint, sessionID, reason string) {
	r.log.Security(reason, from.ID, sessionID, from.IP, nil)
	r.guard.MarkSuspicious(from.IP, reason)
}
