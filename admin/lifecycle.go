// Package admin implements Splinter's circuit-lifecycle proposal/vote
// protocol (spec.md §4.4): Proposed -> Voting -> Accepted/Rejected ->
// Ready, applied atomically to the routing table and durable store,
// with subscriber notification on every transition.
//
// Grounded on topologytransmogrifier/topologytransmogrifier.go's
// setTarget/setActiveTopology/installTopology (version-gated proposal
// acceptance, atomic install with subscriber callbacks run via
// EnqueueFuncAsync) and paxos/acceptor.go's explicit
// currentState/init/start state-machine idiom, here simplified to a
// state enum since a proposal's state space is much smaller than an
// Acceptor's.
package admin

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/go-kit/kit/log"

	"splinterd.io/server/model"
	"splinterd.io/server/routing"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/status"
)

// ProposalState is the lifecycle position of one CircuitProposal.
type ProposalState int

const (
	StateProposed ProposalState = iota
	StateVoting
	StateAccepted
	StateRejected
	StateReady
)

func (s ProposalState) String() string {
	switch s {
	case StateProposed:
		return "Proposed"
	case StateVoting:
		return "Voting"
	case StateAccepted:
		return "Accepted"
	case StateRejected:
		return "Rejected"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Store is the durable side of proposal application (spec.md §4.4:
// "routing-table mutation and store commit succeed or both roll
// back"). admin/store.PostgresStore implements this.
type Store interface {
	SaveProposal(p *model.CircuitProposal, state ProposalState) error
	CommitCircuit(circuit *model.Circuit) error
	// MarkDisbanded records circuitId's durable status as Disbanded.
	// Kept separate from CommitCircuit (which writes a whole Circuit
	// payload) because a Disband proposal carries no fresh Circuit to
	// write — the store still owes spec.md §4.4 its commit, just of a
	// status transition rather than a payload replacement.
	MarkDisbanded(circuitId splinterid.CircuitId) error
}

// Subscriber receives every AdminServiceEvent the lifecycle emits.
// Subscribers run on the caller's goroutine synchronously during
// Submit/Vote — spec.md names no async contract here, and this keeps
// ordering trivially correct; callers needing async delivery should
// buffer inside their own Subscriber implementation.
type Subscriber interface {
	OnAdminEvent(ev model.AdminServiceEvent)
}

type proposalEntry struct {
	proposal *model.CircuitProposal
	state    ProposalState
	voted    mapset.Set // set of splinterid.NodeId that have voted
}

// Service is the circuit lifecycle state machine keyed by
// circuit_hash (spec.md §4.4's "per proposal, identified by
// circuit_hash").
type Service struct {
	mu          sync.Mutex
	table       *routing.Table
	store       Store
	logger      log.Logger
	proposals   map[[32]byte]*proposalEntry
	subscribers []Subscriber
}

func NewService(table *routing.Table, store Store, logger log.Logger) *Service {
	return &Service{
		table:     table,
		store:     store,
		logger:    logger,
		proposals: make(map[[32]byte]*proposalEntry),
	}
}

func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Unsubscribe removes sub so it stops receiving future events; callers
// that subscribe for the lifetime of one request (adminapi's
// StreamEvents) must call this on return or the subscriber list grows
// without bound.
func (s *Service) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subscribers {
		if existing == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// ListProposals returns every proposal currently in Proposed or Voting
// state, for read paths outside the vote protocol itself (adminapi's
// ListProposals RPC). Not one of spec.md's named operations.
func (s *Service) ListProposals() []*model.CircuitProposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CircuitProposal, 0, len(s.proposals))
	for _, entry := range s.proposals {
		out = append(out, entry.proposal)
	}
	return out
}

func (s *Service) emit(ev model.AdminServiceEvent) {
	for _, sub := range s.subscribers {
		sub.OnAdminEvent(ev)
	}
}

// Submit validates circuit (for Create proposals) and enters the
// Proposed state, emitting ProposalSubmitted to every subscriber on
// this node (spec.md §4.4).
func (s *Service) Submit(p *model.CircuitProposal) error {
	if p.ProposalType == model.ProposalCreate {
		if err := p.Circuit.Validate(); err != nil {
			return err
		}
		if p.Circuit.AuthorizationType == model.AuthorizationChallenge {
			for _, member := range p.Circuit.Members {
				node, ok := s.table.GetNode(member)
				if !ok || node.PublicKey == "" {
					return splerr.NewInvalidArgument("members", "every member must have a public_key under Challenge authorization")
				}
			}
		}
	}

	s.mu.Lock()
	if _, exists := s.proposals[p.CircuitHash]; exists {
		s.mu.Unlock()
		return splerr.NewInvalidState("a proposal for this circuit_hash is already pending", nil)
	}
	entry := &proposalEntry{proposal: p, state: StateProposed, voted: mapset.NewSet()}
	s.proposals[p.CircuitHash] = entry
	s.mu.Unlock()

	if err := s.store.SaveProposal(p, StateProposed); err != nil {
		return err
	}

	s.emit(model.AdminServiceEvent{Kind: model.EventProposalSubmitted, Proposal: p, RequesterKey: p.Requester})
	return nil
}

// Vote records voter's Accept/Reject for the proposal identified by
// circuitHash. A second vote from the same node is a protocol error
// (spec.md §4.4).
func (s *Service) Vote(circuitHash [32]byte, voter splinterid.NodeId, vote model.Vote, publicKey []byte) error {
	s.mu.Lock()
	entry, ok := s.proposals[circuitHash]
	if !ok {
		s.mu.Unlock()
		return splerr.NewInvalidState("no pending proposal for this circuit_hash", nil)
	}
	if entry.state != StateProposed && entry.state != StateVoting {
		s.mu.Unlock()
		return splerr.NewInvalidState("proposal is no longer accepting votes", nil)
	}
	if entry.voted.Contains(voter) {
		s.mu.Unlock()
		return splerr.NewInvalidArgument("voter_node_id", "node has already voted on this proposal")
	}
	entry.voted.Add(voter)
	entry.proposal.Votes = append(entry.proposal.Votes, model.VoteRecord{PublicKey: publicKey, Vote: vote, VoterNodeId: voter})
	entry.state = StateVoting
	proposal := entry.proposal
	s.mu.Unlock()

	if err := s.store.SaveProposal(proposal, StateVoting); err != nil {
		return err
	}
	s.emit(model.AdminServiceEvent{Kind: model.EventProposalVote, Proposal: proposal, RequesterKey: publicKey})

	if proposal.AnyRejected() {
		return s.reject(circuitHash)
	}
	if proposal.AllAccepted(proposal.Circuit.Members) {
		return s.accept(circuitHash)
	}
	return nil
}

func (s *Service) reject(circuitHash [32]byte) error {
	s.mu.Lock()
	entry, ok := s.proposals[circuitHash]
	if !ok {
		s.mu.Unlock()
		return splerr.NewInvalidState("no pending proposal for this circuit_hash", nil)
	}
	entry.state = StateRejected
	proposal := entry.proposal
	delete(s.proposals, circuitHash)
	s.mu.Unlock()

	if err := s.store.SaveProposal(proposal, StateRejected); err != nil {
		return err
	}
	s.emit(model.AdminServiceEvent{Kind: model.EventProposalRejected, Proposal: proposal})
	return nil
}

// accept applies the proposal's mutation atomically: the routing
// table and the durable store either both succeed or neither is
// mutated from the caller's perspective (spec.md §4.4). The routing
// table's own mutation methods (AddCircuit/RemoveCircuit) take whole
// snapshots, so a failed store commit simply means we never call
// them — there is nothing to roll back.
func (s *Service) accept(circuitHash [32]byte) error {
	s.mu.Lock()
	entry, ok := s.proposals[circuitHash]
	if !ok {
		s.mu.Unlock()
		return splerr.NewInvalidState("no pending proposal for this circuit_hash", nil)
	}
	entry.state = StateAccepted
	proposal := entry.proposal
	s.mu.Unlock()

	if err := s.store.SaveProposal(proposal, StateAccepted); err != nil {
		return err
	}
	s.emit(model.AdminServiceEvent{Kind: model.EventProposalAccepted, Proposal: proposal})

	if err := s.applyMutation(proposal); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.proposals, circuitHash)
	s.mu.Unlock()

	readyKind := model.EventCircuitReady
	if proposal.ProposalType == model.ProposalDisband {
		readyKind = model.EventCircuitDisbanded
	}
	s.emit(model.AdminServiceEvent{Kind: readyKind, Proposal: proposal})
	return nil
}

// Status reports one line per pending proposal, grounded on
// paxos/acceptor.go's Status (Emit per notable field, Fork per
// sub-component — here one Fork per pending proposal since each is
// independent of the others).
func (s *Service) Status(sc *status.StatusConsumer) {
	s.mu.Lock()
	entries := make([]*proposalEntry, 0, len(s.proposals))
	for _, e := range s.proposals {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sc.Emit(fmt.Sprintf("Admin: %d proposal(s) pending", len(entries)))
	for _, e := range entries {
		child := sc.Fork()
		child.Emit(fmt.Sprintf("%v (%v): state=%v votes=%d", e.proposal.CircuitId, e.proposal.ProposalType, e.state, len(e.proposal.Votes)))
		child.Join()
	}
	sc.Join()
}

func (s *Service) applyMutation(proposal *model.CircuitProposal) error {
	if proposal.ProposalType == model.ProposalDisband {
		if err := s.store.MarkDisbanded(proposal.CircuitId); err != nil {
			return err
		}
		s.table.RemoveCircuit(proposal.CircuitId)
		return nil
	}

	if err := s.store.CommitCircuit(proposal.Circuit); err != nil {
		return err
	}

	nodes := make([]routing.CircuitNode, 0, len(proposal.Circuit.Members))
	for _, m := range proposal.Circuit.Members {
		if existing, ok := s.table.GetNode(m); ok {
			nodes = append(nodes, existing)
		} else {
			nodes = append(nodes, routing.CircuitNode{NodeId: m})
		}
	}
	s.table.AddCircuit(proposal.CircuitId, proposal.Circuit, nodes)
	return nil
}
