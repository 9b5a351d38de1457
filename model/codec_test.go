package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"splinterd.io/server/splinterid"
)

func sampleCircuit() *Circuit {
	return &Circuit{
		CircuitId: "alpha-bravo",
		Roster: []SplinterService{
			{ServiceId: "abcd", ServiceType: "echo", AllowedNodes: []splinterid.NodeId{"123"}},
		},
		Members:           []splinterid.NodeId{"123", "345"},
		AuthorizationType: AuthorizationTrust,
		Persistence:       PersistenceAny,
		Durability:        DurabilityNoDurability,
		Routes:            RouteAny,
		ManagementType:    "test",
		CircuitVersion:    1,
		Status:            CircuitStatusActive,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := sampleCircuit()
	data, err := Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDefaultsVersionAndStatus(t *testing.T) {
	c := sampleCircuit()
	c.CircuitVersion = 1
	c.Status = CircuitStatusActive
	data, err := Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CircuitVersion != 1 {
		t.Fatalf("expected default circuit_version 1, got %d", got.CircuitVersion)
	}
	if got.Status != CircuitStatusActive {
		t.Fatalf("expected default status Active, got %v", got.Status)
	}
}

func TestCircuitValidateRejectsUnsetFields(t *testing.T) {
	c := sampleCircuit()
	c.Durability = DurabilityUnset
	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error for unset durability")
	}
	if name, ok := UnsetFieldName(err); !ok || name != "durability" {
		t.Fatalf("expected unset field 'durability', got %v (ok=%v)", name, ok)
	}
}

func TestCircuitValidateRejectsNonMemberAllowedNode(t *testing.T) {
	c := sampleCircuit()
	c.Roster[0].AllowedNodes = []splinterid.NodeId{"999"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for non-member allowed node")
	}
}

func TestCircuitHashStableUnderRosterOrder(t *testing.T) {
	c1 := sampleCircuit()
	c1.Roster = append(c1.Roster, SplinterService{ServiceId: "wxyz", ServiceType: "echo"})

	c2 := sampleCircuit()
	c2.Roster = []SplinterService{
		{ServiceId: "wxyz", ServiceType: "echo"},
		{ServiceId: "abcd", ServiceType: "echo", AllowedNodes: []splinterid.NodeId{"123"}},
	}

	if c1.Hash() != c2.Hash() {
		t.Fatal("expected circuit hash to be independent of roster ordering")
	}
}
