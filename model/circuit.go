// Package model holds the circuit/proposal/service entities of
// spec.md §3, independent of how they're transported or stored.
// Grounded on configuration/topology.go's Topology/Root clone-on-write
// value types.
package model

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"splinterd.io/server/splinterid"
)

// AuthorizationType mirrors splinterid.AuthTokenKind but also carries
// the UNSET sentinel a wire Circuit may arrive with (spec.md §4.4).
type AuthorizationType int

const (
	AuthorizationUnset AuthorizationType = iota
	AuthorizationTrust
	AuthorizationChallenge
)

// PersistenceType, DurabilityType and RouteType each carry a single
// meaningful variant plus an UNSET sentinel. spec.md §9 explicitly
// says: preserve the variants for forward compatibility, don't guess
// at further meaning.
type PersistenceType int

const (
	PersistenceUnset PersistenceType = iota
	PersistenceAny
)

type DurabilityType int

const (
	DurabilityUnset DurabilityType = iota
	DurabilityNoDurability
)

type RouteType int

const (
	RouteUnset RouteType = iota
	RouteAny
)

// CircuitStatus. UNSET_CIRCUIT_STATUS defaults to Active on ingest
// (spec.md §4.4 invariant).
type CircuitStatus int

const (
	CircuitStatusUnset CircuitStatus = iota
	CircuitStatusActive
	CircuitStatusDisbanded
	CircuitStatusAbandoned
)

// SplinterNode is a member node's directory entry (spec.md §3).
type SplinterNode struct {
	NodeId    splinterid.NodeId
	Endpoints []string // ordered; first is preferred
	PublicKey string    // hex-encoded; empty if unset
}

// GetPeerAuthToken yields the PeerAuthToken appropriate for authType.
// Challenge requires a public key; its absence is the caller's bug,
// not the node's (spec.md §4.2).
func (n SplinterNode) GetPeerAuthToken(authType AuthorizationType) (splinterid.PeerAuthToken, error) {
	switch authType {
	case AuthorizationTrust:
		return splinterid.TrustToken(n.NodeId), nil
	case AuthorizationChallenge:
		if n.PublicKey == "" {
			return splinterid.PeerAuthToken{}, fmt.Errorf("node %s has no public key but circuit requires Challenge auth", n.NodeId)
		}
		return splinterid.ChallengeToken(n.PublicKey), nil
	default:
		return splinterid.PeerAuthToken{}, fmt.Errorf("cannot derive peer auth token for unset authorization type")
	}
}

// SplinterService is an addressable endpoint on a circuit (spec.md §3).
type SplinterService struct {
	ServiceId    splinterid.ServiceId
	ServiceType  string
	AllowedNodes []splinterid.NodeId
	Arguments    []KV // ordered
}

type KV struct {
	Key   string
	Value string
}

// Circuit is the named, authorized overlay of services (spec.md §3).
type Circuit struct {
	CircuitId           splinterid.CircuitId
	Roster              []SplinterService // set semantics keyed by ServiceId; kept ordered for stable encoding
	Members             []splinterid.NodeId
	AuthorizationType   AuthorizationType
	Persistence         PersistenceType
	Durability          DurabilityType
	Routes              RouteType
	ManagementType      string
	ApplicationMetadata []byte
	Comments            string
	DisplayName         string
	CircuitVersion      uint32
	Status              CircuitStatus
}

// Validate checks the invariants named in spec.md §3/§4.4's CreateCircuit
// validation rules, returning the first violation found.
func (c *Circuit) Validate() error {
	if !splinterid.IsValidCircuitId(string(c.CircuitId)) {
		return fmt.Errorf("circuit id %q does not match the circuit grammar", c.CircuitId)
	}
	if c.AuthorizationType == AuthorizationUnset {
		return unsetFieldErr("authorization_type")
	}
	if c.Persistence == PersistenceUnset {
		return unsetFieldErr("persistence")
	}
	if c.Durability == DurabilityUnset {
		return unsetFieldErr("durability")
	}
	if c.Routes == RouteUnset {
		return unsetFieldErr("routes")
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("circuit %s has no members", c.CircuitId)
	}

	members := make(map[splinterid.NodeId]struct{}, len(c.Members))
	for _, m := range c.Members {
		members[m] = struct{}{}
	}

	seenServiceIds := make(map[splinterid.ServiceId]struct{}, len(c.Roster))
	for _, svc := range c.Roster {
		if !splinterid.IsValidServiceId(string(svc.ServiceId)) {
			return fmt.Errorf("service id %q does not match the service grammar", svc.ServiceId)
		}
		if _, dup := seenServiceIds[svc.ServiceId]; dup {
			return fmt.Errorf("duplicate service id %q within circuit %s", svc.ServiceId, c.CircuitId)
		}
		seenServiceIds[svc.ServiceId] = struct{}{}
		for _, n := range svc.AllowedNodes {
			if _, ok := members[n]; !ok {
				return fmt.Errorf("service %s allowed_nodes references non-member node %s", svc.ServiceId, n)
			}
		}
	}

	if c.AuthorizationType == AuthorizationChallenge {
		// Every member must carry a public key; this is checked by
		// the caller against the member SplinterNode directory, since
		// Circuit itself doesn't carry node public keys.
	}

	return nil
}

type unsetFieldError struct{ name string }

func (e unsetFieldError) Error() string { return fmt.Sprintf("unset field: %s", e.name) }

func unsetFieldErr(name string) error { return unsetFieldError{name: name} }

// UnsetFieldName recovers the field name from an error produced by
// Validate, for callers that want to map it onto splerr.UnsetField
// without this package importing splerr (keeps model dependency-free).
func UnsetFieldName(err error) (string, bool) {
	if ufe, ok := err.(unsetFieldError); ok {
		return ufe.name, true
	}
	return "", false
}

// Hash computes the stable digest used as CircuitProposal.circuit_hash
// (spec.md §4.4 invariant): a SHA-256 over the canonical encoding.
func (c *Circuit) Hash() [32]byte {
	h := sha256.New()
	h.Write([]byte(c.CircuitId))
	h.Write([]byte{0})

	roster := append([]SplinterService(nil), c.Roster...)
	sort.Slice(roster, func(i, j int) bool { return roster[i].ServiceId < roster[j].ServiceId })
	for _, svc := range roster {
		h.Write([]byte(svc.ServiceId))
		h.Write([]byte(svc.ServiceType))
		nodes := append([]splinterid.NodeId(nil), svc.AllowedNodes...)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		for _, n := range nodes {
			h.Write([]byte(n))
		}
		for _, kv := range svc.Arguments {
			h.Write([]byte(kv.Key))
			h.Write([]byte(kv.Value))
		}
	}

	members := append([]splinterid.NodeId(nil), c.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	for _, m := range members {
		h.Write([]byte(m))
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(c.AuthorizationType))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(c.Persistence))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(c.Durability))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(c.Routes))
	h.Write(buf[:])
	h.Write(c.ApplicationMetadata)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
