package adminapi

import (
	"splinterd.io/server/model"
)

// SubmitProposalRequest wraps the proposal a client wants admitted
// into the lifecycle state machine (admin.Service.Submit).
type SubmitProposalRequest struct {
	Proposal *model.CircuitProposal
}

type SubmitProposalResponse struct {
	Accepted bool
}

// VoteRequest casts one member's vote on a pending proposal
// (admin.Service.Vote).
type VoteRequest struct {
	CircuitHash [32]byte
	Voter       string
	Vote        model.Vote
	PublicKey   []byte
}

type VoteResponse struct {
	Accepted bool
}

type GetCircuitRequest struct {
	CircuitId string
}

type GetCircuitResponse struct {
	Circuit *model.Circuit
	Found   bool
}

type ListProposalsRequest struct{}

// ProposalSummary is the wire-friendly projection of a CircuitProposal
// — SPEC_FULL.md's operator surface has no use for vote public keys,
// only the proposal type and the vote count.
type ProposalSummary struct {
	CircuitHash  [32]byte
	CircuitId    string
	ProposalType string
	VoteCount    int
}

type ListProposalsResponse struct {
	Proposals []ProposalSummary
}

type StreamEventsRequest struct{}

// AdminEvent is the wire projection of model.AdminServiceEvent pushed
// to StreamEvents subscribers.
type AdminEvent struct {
	Kind        string
	CircuitId   string
	CircuitHash [32]byte
	Index       uint64
}

func toEvent(ev model.AdminServiceEvent) AdminEvent {
	out := AdminEvent{Kind: ev.Kind.String(), Index: ev.Index}
	if ev.Proposal != nil {
		out.CircuitId = string(ev.Proposal.CircuitId)
		out.CircuitHash = ev.Proposal.CircuitHash
	}
	return out
}

func toSummary(p *model.CircuitProposal) ProposalSummary {
	return ProposalSummary{
		CircuitHash:  p.CircuitHash,
		CircuitId:    string(p.CircuitId),
		ProposalType: p.ProposalType.String(),
		VoteCount:    len(p.Votes),
	}
}
