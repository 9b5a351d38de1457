// Package routing implements the directory the dispatcher consults on
// every inbound message (spec.md §4.2): service-id, node-id and
// circuit-id lookups, plus the writer-side mutation operations the
// admin circuit lifecycle applies once a proposal is accepted.
//
// Grounded on configuration/topology.go's clone-on-write Topology (a
// snapshot struct swapped wholesale rather than mutated in place) and
// consistenthash/cache.go's ConsistentHashCache (a resolver-backed
// cache keyed by an opaque id, with explicit Add/Remove/Get).
package routing

import (
	"github.com/viney-shih/go-lock"

	"splinterd.io/server/model"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
)

// CircuitNode is the routing table's view of a mesh peer: its
// endpoints and, for Challenge-authorized circuits, its public key
// (spec.md §4.2).
type CircuitNode struct {
	NodeId    splinterid.NodeId
	Endpoints []string
	PublicKey string
}

// GetPeerAuthToken yields the PeerAuthToken appropriate for authType,
// failing if Challenge is requested but the node has no public key on
// file (spec.md §4.2).
func (n CircuitNode) GetPeerAuthToken(authType model.AuthorizationType) (splinterid.PeerAuthToken, error) {
	switch authType {
	case model.AuthorizationTrust:
		return splinterid.TrustToken(n.NodeId), nil
	case model.AuthorizationChallenge:
		if n.PublicKey == "" {
			return splinterid.PeerAuthToken{}, splerr.NewInvalidState("node has no public key for Challenge auth: "+string(n.NodeId), nil)
		}
		return splinterid.ChallengeToken(n.PublicKey), nil
	default:
		return splinterid.PeerAuthToken{}, splerr.NewUnsetField("authorization_type")
	}
}

// Service is the routing entry for one circuit/service pair: which
// node hosts it, and — if that node is the local node — the locally
// bound peer token pair a CircuitError can be forwarded through
// directly (spec.md §4.3's CircuitError handler, step 2).
type Service struct {
	CircuitId    splinterid.CircuitId
	ServiceId    splinterid.ServiceId
	NodeId       splinterid.NodeId
	LocalPeerIds *splinterid.PeerTokenPair
}

// Table is the RW-disciplined routing directory (spec.md §4.2).
// Writes take the write lock and may update existing service entries
// in place; readers get copies of Service, CircuitNode and Circuit
// values, so they never see a write half-applied.
type Table struct {
	mu       lock.RWMutex
	services map[splinterid.FullyQualifiedServiceId]*Service
	nodes    map[splinterid.NodeId]CircuitNode
	circuits map[splinterid.CircuitId]*model.Circuit
}

func NewTable() *Table {
	return &Table{
		mu:       lock.NewCASMutex(),
		services: make(map[splinterid.FullyQualifiedServiceId]*Service),
		nodes:    make(map[splinterid.NodeId]CircuitNode),
		circuits: make(map[splinterid.CircuitId]*model.Circuit),
	}
}

func (t *Table) GetService(circuit splinterid.CircuitId, service splinterid.ServiceId) (*Service, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.services[splinterid.FullyQualifiedServiceId{CircuitId: circuit, ServiceId: service}]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (t *Table) GetNode(nodeId splinterid.NodeId) (CircuitNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[nodeId]
	return n, ok
}

func (t *Table) GetCircuit(circuitId splinterid.CircuitId) (*model.Circuit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.circuits[circuitId]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// AddCircuit installs circuit and its member nodes atomically: a
// reader never observes a circuit whose member nodes aren't yet
// resolvable (spec.md §4.4's "proposal application is atomic").
func (t *Table) AddCircuit(id splinterid.CircuitId, circuit *model.Circuit, nodes []CircuitNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *circuit
	t.circuits[id] = &cp
	for _, n := range nodes {
		t.nodes[n.NodeId] = n
	}
	for _, svc := range circuit.Roster {
		key := splinterid.FullyQualifiedServiceId{CircuitId: id, ServiceId: svc.ServiceId}
		// AllowedNodes' first (and, for non-Scabbard service types,
		// only) entry is the node hosting this service, per
		// model.SplinterService's own grounding: binding it here is
		// what makes CircuitError local/remote forwarding resolvable
		// for any circuit installed through the real admin pipeline.
		var hostNode splinterid.NodeId
		if len(svc.AllowedNodes) > 0 {
			hostNode = svc.AllowedNodes[0]
		}
		if existing, exists := t.services[key]; exists {
			existing.NodeId = hostNode
		} else {
			t.services[key] = &Service{CircuitId: id, ServiceId: svc.ServiceId, NodeId: hostNode}
		}
	}
}

// RemoveCircuit deletes circuit id and every service entry scoped to
// it, leaving node entries (which may be shared across circuits)
// untouched.
func (t *Table) RemoveCircuit(id splinterid.CircuitId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.circuits, id)
	for key := range t.services {
		if key.CircuitId == id {
			delete(t.services, key)
		}
	}
}

// AddService installs or replaces a service's routing entry.
func (t *Table) AddService(id splinterid.FullyQualifiedServiceId, nodeId splinterid.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.services[id]
	if !ok {
		t.services[id] = &Service{CircuitId: id.CircuitId, ServiceId: id.ServiceId, NodeId: nodeId}
		return
	}
	existing.NodeId = nodeId
}

// SetLocalPeerId records the peer token pair a service uses when it
// is hosted on the local node, so CircuitError forwarding never has
// to resolve auth tokens for messages addressed to ourselves (spec.md
// §4.3, step 2).
func (t *Table) SetLocalPeerId(id splinterid.FullyQualifiedServiceId, pair splinterid.PeerTokenPair) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	svc, ok := t.services[id]
	if !ok {
		return splerr.NewInvalidState("no routing entry for service "+string(id.ServiceId), nil)
	}
	p := pair
	svc.LocalPeerIds = &p
	return nil
}
