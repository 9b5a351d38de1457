package routing

import (
	"testing"

	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

func sampleCircuit(t *testing.T) *model.Circuit {
	t.Helper()
	return &model.Circuit{
		CircuitId: "alpha-bravo",
		Roster: []model.SplinterService{
			{ServiceId: "abcd", ServiceType: "echo", AllowedNodes: []splinterid.NodeId{"n1"}},
		},
		Members:           []splinterid.NodeId{"n1", "n2"},
		AuthorizationType: model.AuthorizationTrust,
		Persistence:       model.PersistenceAny,
		Durability:        model.DurabilityNoDurability,
		Routes:            model.RouteAny,
		ManagementType:    "test",
		CircuitVersion:    1,
		Status:            model.CircuitStatusActive,
	}
}

func TestAddCircuitInstallsServicesAndNodes(t *testing.T) {
	tbl := NewTable()
	c := sampleCircuit(t)
	tbl.AddCircuit(c.CircuitId, c, []CircuitNode{
		{NodeId: "n1", Endpoints: []string{"n1:8044"}},
		{NodeId: "n2", Endpoints: []string{"n2:8044"}},
	})

	got, ok := tbl.GetCircuit(c.CircuitId)
	if !ok || got.CircuitId != c.CircuitId {
		t.Fatalf("expected circuit to be retrievable, got %+v ok=%v", got, ok)
	}

	svc, ok := tbl.GetService(c.CircuitId, "abcd")
	if !ok {
		t.Fatal("expected service entry for abcd")
	}
	if svc.CircuitId != c.CircuitId {
		t.Fatalf("unexpected service circuit id %v", svc.CircuitId)
	}
	if svc.NodeId != "n1" {
		t.Fatalf("expected service to be bound to its roster's allowed_nodes[0] (n1), got %v", svc.NodeId)
	}

	node, ok := tbl.GetNode("n1")
	if !ok || node.NodeId != "n1" {
		t.Fatalf("expected node n1 to be retrievable, got %+v ok=%v", node, ok)
	}
}

func TestGetCircuitReturnsCloneNotSharedPointer(t *testing.T) {
	tbl := NewTable()
	c := sampleCircuit(t)
	tbl.AddCircuit(c.CircuitId, c, nil)

	got, _ := tbl.GetCircuit(c.CircuitId)
	got.DisplayName = "mutated"

	got2, _ := tbl.GetCircuit(c.CircuitId)
	if got2.DisplayName == "mutated" {
		t.Fatal("AddCircuit must snapshot the circuit, not share the caller's pointer")
	}
}

func TestRemoveCircuitDropsOnlyItsServices(t *testing.T) {
	tbl := NewTable()
	c1 := sampleCircuit(t)
	c2 := sampleCircuit(t)
	c2.CircuitId = "gamma-delta"
	c2.Roster[0].ServiceId = "wxyz"

	tbl.AddCircuit(c1.CircuitId, c1, nil)
	tbl.AddCircuit(c2.CircuitId, c2, nil)

	tbl.RemoveCircuit(c1.CircuitId)

	if _, ok := tbl.GetCircuit(c1.CircuitId); ok {
		t.Fatal("expected c1 to be removed")
	}
	if _, ok := tbl.GetService(c1.CircuitId, "abcd"); ok {
		t.Fatal("expected c1's service to be removed")
	}
	if _, ok := tbl.GetCircuit(c2.CircuitId); !ok {
		t.Fatal("expected c2 to remain")
	}
	if _, ok := tbl.GetService(c2.CircuitId, "wxyz"); !ok {
		t.Fatal("expected c2's service to remain")
	}
}

func TestSetLocalPeerIdRequiresExistingService(t *testing.T) {
	tbl := NewTable()
	id := splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}
	err := tbl.SetLocalPeerId(id, splinterid.PeerTokenPair{})
	if err == nil {
		t.Fatal("expected error for unknown service")
	}

	c := sampleCircuit(t)
	tbl.AddCircuit(c.CircuitId, c, nil)
	if err := tbl.SetLocalPeerId(id, splinterid.PeerTokenPair{Local: splinterid.TrustToken("self")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc, _ := tbl.GetService(c.CircuitId, "abcd")
	if svc.LocalPeerIds == nil || svc.LocalPeerIds.Local.NodeId != "self" {
		t.Fatalf("expected local peer id to be set, got %+v", svc.LocalPeerIds)
	}
}

func TestCircuitNodeGetPeerAuthToken(t *testing.T) {
	node := CircuitNode{NodeId: "n1", PublicKey: "pubkey-bytes"}

	trust, err := node.GetPeerAuthToken(model.AuthorizationTrust)
	if err != nil || trust.NodeId != "n1" {
		t.Fatalf("expected trust token for n1, got %+v err=%v", trust, err)
	}

	challenge, err := node.GetPeerAuthToken(model.AuthorizationChallenge)
	if err != nil || challenge.PublicKey != "pubkey-bytes" {
		t.Fatalf("expected challenge token with public key, got %+v err=%v", challenge, err)
	}

	noKeyNode := CircuitNode{NodeId: "n2"}
	if _, err := noKeyNode.GetPeerAuthToken(model.AuthorizationChallenge); err == nil {
		t.Fatal("expected error for Challenge auth with no public key")
	}
}

func TestPeerManagerConnectivity(t *testing.T) {
	pm := NewPeerManager()
	pm.MarkConnected("n1")
	pm.MarkConnected("n2")

	if !pm.IsConnected("n1") {
		t.Fatal("expected n1 connected")
	}
	if pm.ConnectedCount() != 2 {
		t.Fatalf("expected 2 connected peers, got %d", pm.ConnectedCount())
	}
	if !pm.Intersects([]splinterid.NodeId{"n2", "n3"}) {
		t.Fatal("expected intersection with n2")
	}

	pm.MarkDisconnected("n1")
	if pm.IsConnected("n1") {
		t.Fatal("expected n1 disconnected")
	}
}
