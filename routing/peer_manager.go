package routing

import (
	mapset "github.com/deckarep/golang-set"

	"splinterd.io/server/splinterid"
)

// PeerManager tracks which node ids currently have a live mesh
// connection, independent of the routing Table's durable circuit
// membership. Nothing in this module calls its methods: the dispatcher
// sends without consulting it, and cmd/splinterd records live
// connections in its own connTracker.
//
// Grounded on consistenthash/cache.go's resolver-backed cache shape,
// generalized from "resolve hash codes for a VarUUId" to "is this
// node currently reachable" — a much smaller surface, since Splinter
// routes by explicit node id rather than consistent hashing.
type PeerManager struct {
	connected mapset.Set
}

func NewPeerManager() *PeerManager {
	return &PeerManager{connected: mapset.NewSet()}
}

func (p *PeerManager) MarkConnected(nodeId splinterid.NodeId) {
	p.connected.Add(nodeId)
}

func (p *PeerManager) MarkDisconnected(nodeId splinterid.NodeId) {
	p.connected.Remove(nodeId)
}

func (p *PeerManager) IsConnected(nodeId splinterid.NodeId) bool {
	return p.connected.Contains(nodeId)
}

// ConnectedCount reports how many distinct nodes are currently
// marked connected.
func (p *PeerManager) ConnectedCount() int {
	return p.connected.Cardinality()
}

// Intersects reports whether any of nodeIds is currently connected.
func (p *PeerManager) Intersects(nodeIds []splinterid.NodeId) bool {
	other := mapset.NewSet()
	for _, id := range nodeIds {
		other.Add(id)
	}
	return p.connected.Intersect(other).Cardinality() > 0
}
