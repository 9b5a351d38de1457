// Package splinterid defines Splinter's identifier types and grammars
// (spec.md §3, §6). It is a leaf package: nothing here depends on
// mesh, routing, admin or scabbard.
package splinterid

import (
	"fmt"
	"regexp"
)

// NodeId identifies a node. Short, opaque, human-assigned.
type NodeId string

func (n NodeId) String() string { return string(n) }

// ConnectionId is allocated by the mesh reactor on Add (spec.md §4.1).
// It has no meaning outside the reactor that issued it.
type ConnectionId uint64

func (c ConnectionId) String() string { return fmt.Sprintf("conn-%d", uint64(c)) }

var (
	circuitIdPattern = regexp.MustCompile(`^[A-Za-z0-9]{5}-[A-Za-z0-9]{5}$`)
	serviceIdPattern = regexp.MustCompile(`^[A-Za-z0-9]{4}$`)
)

// CircuitId is an 11-char string: two base62 groups of 5 joined by '-'.
type CircuitId string

// IsValidCircuitId reports whether id matches the circuit grammar
// (spec.md §3, §6, §8 universal quantification).
func IsValidCircuitId(id string) bool {
	return circuitIdPattern.MatchString(id)
}

func (c CircuitId) Valid() bool { return IsValidCircuitId(string(c)) }

func (c CircuitId) String() string { return string(c) }

// ServiceId is a 4-char base62 string.
type ServiceId string

// IsValidServiceId reports whether id matches the service grammar.
func IsValidServiceId(id string) bool {
	return serviceIdPattern.MatchString(id)
}

func (s ServiceId) Valid() bool { return IsValidServiceId(string(s)) }

func (s ServiceId) String() string { return string(s) }

// FullyQualifiedServiceId is (circuit_id, service_id) — the key used
// throughout the routing table and Scabbard (spec.md §3).
type FullyQualifiedServiceId struct {
	CircuitId CircuitId
	ServiceId ServiceId
}

func (f FullyQualifiedServiceId) String() string {
	return fmt.Sprintf("%s::%s", f.CircuitId, f.ServiceId)
}

// AuthTokenKind distinguishes the two PeerAuthToken variants.
type AuthTokenKind int

const (
	AuthTrust AuthTokenKind = iota
	AuthChallenge
)

func (k AuthTokenKind) String() string {
	if k == AuthTrust {
		return "trust"
	}
	return "challenge"
}

// PeerAuthToken is the credential that authorizes a directed link
// (spec.md §3). Exactly one of NodeId/PublicKey is meaningful,
// selected by Kind.
type PeerAuthToken struct {
	Kind      AuthTokenKind
	NodeId    NodeId
	PublicKey string // hex-encoded; empty unless Kind == AuthChallenge
}

func TrustToken(node NodeId) PeerAuthToken {
	return PeerAuthToken{Kind: AuthTrust, NodeId: node}
}

func ChallengeToken(publicKey string) PeerAuthToken {
	return PeerAuthToken{Kind: AuthChallenge, PublicKey: publicKey}
}

func (t PeerAuthToken) String() string {
	switch t.Kind {
	case AuthTrust:
		return "trust:" + string(t.NodeId)
	case AuthChallenge:
		return "challenge:" + t.PublicKey
	default:
		return "unknown-auth-token"
	}
}

func (t PeerAuthToken) Equal(o PeerAuthToken) bool {
	return t.Kind == o.Kind && t.NodeId == o.NodeId && t.PublicKey == o.PublicKey
}

// PeerTokenPair is the identity of a directed authenticated link and
// the key used by the mesh's connection map (spec.md §3).
type PeerTokenPair struct {
	Remote PeerAuthToken
	Local  PeerAuthToken
}

func (p PeerTokenPair) String() string {
	return fmt.Sprintf("%s->%s", p.Remote, p.Local)
}

func (p PeerTokenPair) Equal(o PeerTokenPair) bool {
	return p.Remote.Equal(o.Remote) && p.Local.Equal(o.Local)
}

// Key returns a comparable value suitable for use as a map key; Go
// structs of only comparable fields are already usable directly, this
// exists purely for readability at call sites that build connection
// maps (mirrors the teacher's habit of using RMId directly as a map
// key in ConnectionManager.rmToServer).
func (p PeerTokenPair) Key() PeerTokenPair { return p }
