package model

import (
	"splinterd.io/server/splinterid"
)

// ProposalType enumerates the mutation kinds a CircuitProposal can
// carry (spec.md §3).
type ProposalType int

const (
	ProposalCreate ProposalType = iota
	ProposalUpdateRoster
	ProposalAddNode
	ProposalRemoveNode
	ProposalDisband
)

func (p ProposalType) String() string {
	switch p {
	case ProposalCreate:
		return "Create"
	case ProposalUpdateRoster:
		return "UpdateRoster"
	case ProposalAddNode:
		return "AddNode"
	case ProposalRemoveNode:
		return "RemoveNode"
	case ProposalDisband:
		return "Disband"
	default:
		return "Unknown"
	}
}

// Vote is Accept or Reject (spec.md §3).
type Vote int

const (
	VoteAccept Vote = iota
	VoteReject
)

func (v Vote) String() string {
	if v == VoteAccept {
		return "Accept"
	}
	return "Reject"
}

// VoteRecord is one member's vote on a proposal (spec.md §3).
type VoteRecord struct {
	PublicKey   []byte
	Vote        Vote
	VoterNodeId splinterid.NodeId
}

// CircuitProposal is a pending circuit mutation awaiting votes
// (spec.md §3). Votes is conceptually a set keyed by VoterNodeId; at
// most one vote per voter is the invariant enforced by admin.Service,
// not by this type (CircuitProposal itself is a plain value).
type CircuitProposal struct {
	ProposalType     ProposalType
	CircuitId        splinterid.CircuitId
	CircuitHash      [32]byte
	Circuit          *Circuit
	Votes            []VoteRecord
	Requester        []byte // requester's public key bytes
	RequesterNodeId  splinterid.NodeId
}

// HasVoteFrom reports whether voter already appears in Votes, backing
// the "at most one vote per (voter_node_id)" invariant.
func (p *CircuitProposal) HasVoteFrom(voter splinterid.NodeId) bool {
	for _, v := range p.Votes {
		if v.VoterNodeId == voter {
			return true
		}
	}
	return false
}

// AllAccepted reports whether every required voter has voted Accept.
// For Create, the requester itself is excluded from the requirement
// (spec.md §4.4); for every other proposal type all members must vote.
func (p *CircuitProposal) AllAccepted(requiredVoters []splinterid.NodeId) bool {
	accepted := make(map[splinterid.NodeId]struct{}, len(p.Votes))
	for _, v := range p.Votes {
		if v.Vote == VoteAccept {
			accepted[v.VoterNodeId] = struct{}{}
		}
	}
	for _, voter := range requiredVoters {
		if p.ProposalType == ProposalCreate && voter == p.RequesterNodeId {
			continue
		}
		if _, ok := accepted[voter]; !ok {
			return false
		}
	}
	return true
}

// AnyRejected reports whether any member has voted Reject, which
// terminates the proposal immediately (spec.md §4.4).
func (p *CircuitProposal) AnyRejected() bool {
	for _, v := range p.Votes {
		if v.Vote == VoteReject {
			return true
		}
	}
	return false
}

// AdminEventKind tags an AdminServiceEvent (spec.md §3).
type AdminEventKind int

const (
	EventProposalSubmitted AdminEventKind = iota
	EventProposalVote
	EventProposalAccepted
	EventProposalRejected
	EventCircuitReady
	EventCircuitDisbanded
)

func (k AdminEventKind) String() string {
	switch k {
	case EventProposalSubmitted:
		return "ProposalSubmitted"
	case EventProposalVote:
		return "ProposalVote"
	case EventProposalAccepted:
		return "ProposalAccepted"
	case EventProposalRejected:
		return "ProposalRejected"
	case EventCircuitReady:
		return "CircuitReady"
	case EventCircuitDisbanded:
		return "CircuitDisbanded"
	default:
		return "Unknown"
	}
}

// AdminServiceEvent is emitted to subscribers as the proposal state
// machine progresses (spec.md §3, §4.4).
type AdminServiceEvent struct {
	Kind          AdminEventKind
	Proposal      *CircuitProposal
	RequesterKey  []byte // optional; present for ProposalSubmitted/Vote
	Index         uint64 // always 0: admin.Service neither numbers nor persists events (see SPEC_FULL.md supplemental CircuitEventRecord)
}
