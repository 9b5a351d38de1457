package scabbard

import (
	"splinterd.io/server/dispatch"
	"splinterd.io/server/model"
	"splinterd.io/server/routing"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/wire"
)

// TableSender implements Sender by resolving (circuit, to) through the
// routing table and framing the message the same way
// handlers.CircuitErrorHandler resolves and forwards a CircuitError:
// local service → local peer token pair, remote service → both ends'
// PeerAuthTokens under the circuit's authorization_type.
type TableSender struct {
	table     *routing.Table
	localNode splinterid.NodeId
	mesh      dispatch.Sender
}

func NewTableSender(table *routing.Table, localNode splinterid.NodeId, mesh dispatch.Sender) *TableSender {
	return &TableSender{table: table, localNode: localNode, mesh: mesh}
}

func (t *TableSender) SendConsensusMessage(circuit splinterid.CircuitId, from, to splinterid.ServiceId, msg model.ConsensusMessage) error {
	payload, err := model.EncodeScabbardEnvelope(model.ScabbardEnvelope{
		CircuitId: circuit,
		ServiceId: to,
		From:      from,
		Message:   msg,
	})
	if err != nil {
		return splerr.NewDispatchError(splerr.SerializationError, err)
	}
	framed, err := wire.EncodeEnvelope(wire.Envelope{Type: wire.ScabbardConsensusMessage, Payload: payload})
	if err != nil {
		return splerr.NewDispatchError(splerr.SerializationError, err)
	}

	svc, ok := t.table.GetService(circuit, to)
	if !ok {
		return splerr.NewInvalidState("no routing entry for service "+string(to), nil)
	}

	if svc.NodeId == t.localNode {
		if svc.LocalPeerIds == nil {
			return splerr.NewInternal("local_peer_id unset for locally-hosted service "+string(to), nil)
		}
		return t.send(*svc.LocalPeerIds, framed)
	}

	circuitRec, ok := t.table.GetCircuit(circuit)
	if !ok {
		return splerr.NewInvalidState("circuit not found: "+string(circuit), nil)
	}
	targetNode, ok := t.table.GetNode(svc.NodeId)
	if !ok {
		return splerr.NewInvalidState("target node not found: "+string(svc.NodeId), nil)
	}
	localNode, ok := t.table.GetNode(t.localNode)
	if !ok {
		return splerr.NewInternal("local node missing from routing table", nil)
	}

	remoteToken, err := targetNode.GetPeerAuthToken(circuitRec.AuthorizationType)
	if err != nil {
		return err
	}
	localToken, err := localNode.GetPeerAuthToken(circuitRec.AuthorizationType)
	if err != nil {
		return err
	}
	return t.send(splinterid.PeerTokenPair{Remote: remoteToken, Local: localToken}, framed)
}

func (t *TableSender) send(pair splinterid.PeerTokenPair, payload []byte) error {
	if err := t.mesh.Send(pair, payload); err != nil {
		return splerr.NewDispatchError(splerr.NetworkSendError, err)
	}
	return nil
}
