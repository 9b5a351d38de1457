package model

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"splinterd.io/server/splinterid"
)

// ScabbardServiceType is the SplinterService.ServiceType value naming
// a roster entry that runs the 2PC core (spec.md §4.5), grounded on
// libscabbard's SCABBARD_SERVICE_TYPE constant ("scabbard:v3").
const ScabbardServiceType = "scabbard:v3"

// ScabbardServiceStatus is a Scabbard v3 service's lifecycle stage
// (spec.md §4.5 glossary: Prepared, Finalized, Retired).
type ScabbardServiceStatus int

const (
	ScabbardPrepared ScabbardServiceStatus = iota
	ScabbardFinalized
	ScabbardRetired
)

func (s ScabbardServiceStatus) String() string {
	switch s {
	case ScabbardPrepared:
		return "Prepared"
	case ScabbardFinalized:
		return "Finalized"
	case ScabbardRetired:
		return "Retired"
	default:
		return "Unknown"
	}
}

// ScabbardService is the durable record behind one circuit/service
// pair running the 2PC core (spec.md §4.5: "ScabbardService").
type ScabbardService struct {
	CircuitId splinterid.CircuitId
	ServiceId splinterid.ServiceId
	Status    ScabbardServiceStatus
	Peers     []splinterid.ServiceId
}

// Coordinator returns the lexicographically-smallest service id among
// the service's peers and itself (spec.md §4.5: "Each service is
// either coordinator ... or participant").
func (s *ScabbardService) Coordinator() splinterid.ServiceId {
	smallest := s.ServiceId
	for _, p := range s.Peers {
		if p < smallest {
			smallest = p
		}
	}
	return smallest
}

func (s *ScabbardService) IsCoordinator() bool {
	return s.Coordinator() == s.ServiceId
}

// ConsensusState is a 2PC context's current stage (spec.md §4.5
// glossary). Voted and Aborted are folded into WaitingForDecision and
// Decided respectively: the transition rules in §4.5 never address a
// participant that has voted but isn't waiting for a decision, nor an
// Aborted outcome distinct from Decided carrying DecisionAbort — so
// this implementation tracks the decision value (DecisionNone,
// DecisionCommit, DecisionAbort) alongside a 4-value state instead of
// enumerating all six textual names.
type ConsensusState int

const (
	StateIdle ConsensusState = iota
	StateVoting
	StateWaitingForDecision
	StateDecided
)

func (s ConsensusState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateVoting:
		return "Voting"
	case StateWaitingForDecision:
		return "WaitingForDecision"
	case StateDecided:
		return "Decided"
	default:
		return "Unknown"
	}
}

// Decision is the terminal outcome of one 2PC epoch.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionCommit
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionCommit:
		return "Commit"
	case DecisionAbort:
		return "Abort"
	default:
		return "None"
	}
}

// ConsensusContext is the durable 2PC state for one service
// (spec.md §4.5 glossary: "ConsensusContext (2PC)").
type ConsensusContext struct {
	Epoch           uint64
	Coordinator     splinterid.ServiceId
	Participants    []splinterid.ServiceId
	State           ConsensusState
	Decision        Decision
	LastCommitEpoch uint64
	Alarm           int64 // absolute unix seconds, 0 = unset

	// PendingValue is the value a coordinator is voting on in the
	// current epoch; empty once Decided.
	PendingValue []byte
	// Votes records yes/no VoteResponses received this epoch, keyed
	// by participant (coordinator role only).
	Votes map[splinterid.ServiceId]bool
	// Acks records DecisionAcks received this epoch, keyed by
	// participant (coordinator role only).
	Acks map[splinterid.ServiceId]bool
	// Remembered maps a past epoch to its decision, so a participant
	// can answer a late DecisionRequest(E') idempotently.
	Remembered map[uint64]Decision
}

func NewConsensusContext(coordinator splinterid.ServiceId, participants []splinterid.ServiceId) *ConsensusContext {
	return &ConsensusContext{
		Coordinator:  coordinator,
		Participants: participants,
		State:        StateIdle,
		Remembered:   make(map[uint64]Decision),
	}
}

// AllVotedYes reports whether every participant voted yes this epoch.
func (c *ConsensusContext) AllVotedYes() bool {
	if len(c.Votes) < len(c.Participants) {
		return false
	}
	for _, p := range c.Participants {
		if !c.Votes[p] {
			return false
		}
	}
	return true
}

// AnyVotedNo reports whether any participant has voted no this epoch.
func (c *ConsensusContext) AnyVotedNo() bool {
	for _, p := range c.Participants {
		if yes, voted := c.Votes[p]; voted && !yes {
			return true
		}
	}
	return false
}

// AllAcked reports whether every participant has acked the decision.
func (c *ConsensusContext) AllAcked() bool {
	if len(c.Acks) < len(c.Participants) {
		return false
	}
	for _, p := range c.Participants {
		if !c.Acks[p] {
			return false
		}
	}
	return true
}

// MessageKind tags a TwoPhaseCommitMessage (spec.md §4.5).
type MessageKind int

const (
	MsgVoteRequest MessageKind = iota
	MsgVoteResponse
	MsgCommit
	MsgAbort
	MsgDecisionRequest
	MsgDecisionAck
)

func (k MessageKind) String() string {
	switch k {
	case MsgVoteRequest:
		return "VoteRequest"
	case MsgVoteResponse:
		return "VoteResponse"
	case MsgCommit:
		return "Commit"
	case MsgAbort:
		return "Abort"
	case MsgDecisionRequest:
		return "DecisionRequest"
	case MsgDecisionAck:
		return "DecisionAck"
	default:
		return "Unknown"
	}
}

// ConsensusMessage is one wire-level 2PC message (spec.md §4.5):
// VoteRequest(epoch,value), VoteResponse(epoch,yes/no), Commit(epoch),
// Abort(epoch), DecisionRequest(epoch), DecisionAck(epoch).
type ConsensusMessage struct {
	Kind  MessageKind
	Epoch uint64
	Value []byte // VoteRequest only
	Yes   bool   // VoteResponse only
}

// ConsensusEvent is one entry in a service's event log
// (add_consensus_event / list_ready_events / mark_event_executed).
type ConsensusEvent struct {
	Index   uint64
	From    splinterid.ServiceId
	Message ConsensusMessage
}

// ScabbardEnvelope addresses a ConsensusMessage to a (circuit,
// service) pair and names its sender, the routing information
// CIRCUIT_ERROR_MESSAGE carries inline as JSON fields (spec.md §4.3)
// and this message carries the same way, gob-encoded (spec.md §6:
// "ScabbardMessage::ConsensusMessage(bytes)").
type ScabbardEnvelope struct {
	CircuitId splinterid.CircuitId
	ServiceId splinterid.ServiceId
	From      splinterid.ServiceId
	Message   ConsensusMessage
}

// EncodeScabbardEnvelope serializes a ScabbardEnvelope for the wire.
func EncodeScabbardEnvelope(e ScabbardEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return nil, fmt.Errorf("model: encode scabbard envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeScabbardEnvelope is the inverse of EncodeScabbardEnvelope.
func DecodeScabbardEnvelope(data []byte) (ScabbardEnvelope, error) {
	var e ScabbardEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return ScabbardEnvelope{}, fmt.Errorf("model: decode scabbard envelope: %w", err)
	}
	return e, nil
}

// EncodeConsensusMessage serializes a ConsensusMessage for the
// ScabbardMessage::ConsensusMessage(bytes) wire payload (spec.md §6),
// the same gob-over-bytes.Buffer convention Encode/Decode use for
// Circuit.
func EncodeConsensusMessage(m ConsensusMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&m); err != nil {
		return nil, fmt.Errorf("model: encode consensus message: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeConsensusMessage is the inverse of EncodeConsensusMessage.
func DecodeConsensusMessage(data []byte) (ConsensusMessage, error) {
	var m ConsensusMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return ConsensusMessage{}, fmt.Errorf("model: decode consensus message: %w", err)
	}
	return m, nil
}
