// Package handlers implements the dispatch.Handler registrations
// spec.md §4.3 names: CircuitError forwarding (the worked example)
// and the network echo/heartbeat handlers of §6.
//
// Grounded on network/connectionmanager.go's DispatchMessage switch,
// which routes each inbound message type to the subsystem that owns
// it (topology transmogrifier, acceptor dispatcher, var dispatcher,
// ...) — the same routing-by-type responsibility this package's
// Handlers implement for Splinter's message set.
package handlers

import (
	"encoding/json"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/dispatch"
	"splinterd.io/server/routing"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/wire"
)

// CircuitError is the payload CircuitErrorHandler forwards (spec.md
// §4.3's worked example).
type CircuitError struct {
	CircuitName   splinterid.CircuitId `json:"circuit_name"`
	ServiceId     splinterid.ServiceId `json:"service_id"`
	Error         string               `json:"error"`
	ErrorMessage  string               `json:"error_message"`
	CorrelationId string               `json:"correlation_id"`
}

// CircuitErrorHandler implements spec.md §4.3's worked example:
//  1. look up the service; drop (warn) if the routing table has no
//     entry for it — there is nobody to forward to.
//  2. if the service is local, forward to its local peer token pair;
//     if unset, drop it, log a warning and return an Internal error —
//     structurally impossible, surfaced as such.
//  3. otherwise resolve both ends' peer auth tokens under the
//     circuit's authorization_type and send to PeerTokenPair{remote,
//     local}.
type CircuitErrorHandler struct {
	table     *routing.Table
	localNode splinterid.NodeId
	logger    log.Logger
}

func NewCircuitErrorHandler(table *routing.Table, localNode splinterid.NodeId, logger log.Logger) *CircuitErrorHandler {
	return &CircuitErrorHandler{table: table, localNode: localNode, logger: logger}
}

func (h *CircuitErrorHandler) MatchType() wire.MessageType { return wire.CircuitErrorMessage }

func (h *CircuitErrorHandler) Handle(ctx dispatch.Context, sender dispatch.Sender) error {
	var ce CircuitError
	if err := json.Unmarshal(ctx.RawData, &ce); err != nil {
		return splerr.NewDispatchError(splerr.DeserializationError, err)
	}

	svc, ok := h.table.GetService(ce.CircuitName, ce.ServiceId)
	if !ok {
		h.logger.Log("msg", "dropping circuit error: no routing entry", "circuit", ce.CircuitName, "service", ce.ServiceId)
		return nil
	}

	if svc.NodeId == h.localNode {
		if svc.LocalPeerIds == nil {
			// Structurally impossible: a locally-hosted service always has
			// a local peer token pair set by the time it can receive
			// traffic. Logged, not panicked, per spec.md §4.3.
			h.logger.Log("msg", "dropping circuit error: local_peer_id unset for locally-hosted service", "circuit", ce.CircuitName, "service", ce.ServiceId)
			return splerr.NewInternal("local_peer_id unset for locally-hosted service "+string(ce.ServiceId), nil)
		}
		return h.forward(*svc.LocalPeerIds, ctx.RawData, sender)
	}

	circuit, ok := h.table.GetCircuit(ce.CircuitName)
	if !ok {
		h.logger.Log("msg", "dropping circuit error: circuit not found", "circuit", ce.CircuitName)
		return nil
	}
	targetNode, ok := h.table.GetNode(svc.NodeId)
	if !ok {
		h.logger.Log("msg", "dropping circuit error: target node not found", "node", svc.NodeId)
		return nil
	}
	localNode, ok := h.table.GetNode(h.localNode)
	if !ok {
		return splerr.NewInternal("local node missing from routing table", nil)
	}

	remoteToken, err := targetNode.GetPeerAuthToken(circuit.AuthorizationType)
	if err != nil {
		return err
	}
	localToken, err := localNode.GetPeerAuthToken(circuit.AuthorizationType)
	if err != nil {
		return err
	}

	return h.forward(splinterid.PeerTokenPair{Remote: remoteToken, Local: localToken}, ctx.RawData, sender)
}

func (h *CircuitErrorHandler) forward(pair splinterid.PeerTokenPair, payload []byte, sender dispatch.Sender) error {
	if err := sender.Send(pair, payload); err != nil {
		return splerr.NewDispatchError(splerr.NetworkSendError, err)
	}
	return nil
}
