// Package scabbard implements the Scabbard v3 per-service two-phase-commit
// core (spec.md §4.5): a durable, event-sourced coordinator/participant
// state machine driven by timer alarms rather than synchronous RPC.
//
// Grounded on paxos/acceptor.go's explicit-state-struct shape
// (acceptorReceiveBallots / acceptorWriteToDisk / ... chained by
// nextState), generalized from the teacher's fixed five-state paxos
// acceptor pipeline to 2PC's four states (Idle, Voting,
// WaitingForDecision, Decided) and from "vote on an outcome" to
// "vote on a coordinator-proposed value."
package scabbard

import (
	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

// Outbound is one message this engine wants sent to a peer.
type Outbound struct {
	To      splinterid.ServiceId
	Message model.ConsensusMessage
}

// Clock supplies alarm durations; a real clock in production, a fixed
// stub in tests (engine.go itself never calls time.Now directly so
// Apply stays a pure function of (context, events, now)).
type Clock struct {
	CoordinatorTimeout int64 // seconds
	DecisionTimeout    int64 // seconds
}

// Apply derives the next ConsensusContext from the current one plus a
// batch of pending events, in order, and returns the outbound messages
// to send as a result. It is pure: same (ctx, self, events, now)
// always yields the same (next, outbound) (spec.md §8: "replaying all
// events from epoch 0 yields the same final state").
func Apply(ctx *model.ConsensusContext, self splinterid.ServiceId, events []model.ConsensusEvent, now int64, clock Clock) (*model.ConsensusContext, []Outbound) {
	next := cloneContext(ctx)
	var outbound []Outbound

	isCoordinator := next.Coordinator == self

	for _, ev := range events {
		msg := ev.Message
		switch msg.Kind {
		case model.MsgVoteRequest:
			if isCoordinator {
				continue // coordinator never receives its own broadcast
			}
			out := applyVoteRequest(next, ev.From, msg, now, clock)
			outbound = append(outbound, out...)

		case model.MsgVoteResponse:
			if !isCoordinator || next.State != model.StateVoting || msg.Epoch != next.Epoch {
				continue
			}
			if next.Votes == nil {
				next.Votes = make(map[splinterid.ServiceId]bool)
			}
			next.Votes[ev.From] = msg.Yes
			if !msg.Yes {
				outbound = append(outbound, decide(next, model.DecisionAbort, now, clock)...)
			} else if next.AllVotedYes() {
				outbound = append(outbound, decide(next, model.DecisionCommit, now, clock)...)
			}

		case model.MsgCommit, model.MsgAbort:
			decision := model.DecisionCommit
			if msg.Kind == model.MsgAbort {
				decision = model.DecisionAbort
			}
			if isCoordinator {
				continue // coordinator never receives its own broadcast
			}
			applyDecision(next, msg.Epoch, decision)
			outbound = append(outbound, Outbound{To: ev.From, Message: model.ConsensusMessage{Kind: model.MsgDecisionAck, Epoch: msg.Epoch}})

		case model.MsgDecisionAck:
			if !isCoordinator || next.State != model.StateDecided || msg.Epoch != next.Epoch {
				continue
			}
			if next.Acks == nil {
				next.Acks = make(map[splinterid.ServiceId]bool)
			}
			next.Acks[ev.From] = true
			if next.AllAcked() {
				advanceEpoch(next)
			}

		case model.MsgDecisionRequest:
			if isCoordinator {
				if msg.Epoch == next.Epoch && next.State == model.StateDecided {
					outbound = append(outbound, Outbound{To: ev.From, Message: decisionMessage(next.Decision, next.Epoch)})
				}
				continue
			}
			if d, ok := remembered(next, msg.Epoch); ok {
				outbound = append(outbound, Outbound{To: ev.From, Message: decisionMessage(d, msg.Epoch)})
			}
		}
	}

	return next, outbound
}

// Tick runs the alarm-driven half of the state machine: timeouts,
// retransmission, and kicking off a fresh epoch (spec.md §4.5
// "Coordinator transitions" 1, 3, 5 and "Participant transitions" 3).
func Tick(ctx *model.ConsensusContext, self splinterid.ServiceId, now int64, pendingValue []byte, clock Clock) (*model.ConsensusContext, []Outbound) {
	next := cloneContext(ctx)
	isCoordinator := next.Coordinator == self
	var outbound []Outbound

	// Idle + a freshly queued value kicks off a new round immediately,
	// regardless of whether an alarm was previously armed.
	if isCoordinator && next.State == model.StateIdle && len(pendingValue) > 0 {
		next.PendingValue = pendingValue
		return next, broadcastVoteRequest(next, now, clock)
	}

	if next.Alarm == 0 || next.Alarm > now {
		return next, outbound
	}

	switch {
	case isCoordinator && next.State == model.StateVoting:
		// vote_timeout elapsed with an incomplete ballot: abort.
		outbound = append(outbound, decide(next, model.DecisionAbort, now, clock)...)

	case isCoordinator && next.State == model.StateDecided:
		// retransmit until every participant has acked.
		msg := decisionMessage(next.Decision, next.Epoch)
		for _, p := range next.Participants {
			if !next.Acks[p] {
				outbound = append(outbound, Outbound{To: p, Message: msg})
			}
		}
		next.Alarm = now + clock.CoordinatorTimeout

	case isCoordinator && next.State == model.StateIdle:
		next.Alarm = 0

	case !isCoordinator && next.State == model.StateWaitingForDecision:
		outbound = append(outbound, Outbound{To: next.Coordinator, Message: model.ConsensusMessage{Kind: model.MsgDecisionRequest, Epoch: next.Epoch}})
		next.Alarm = now + clock.DecisionTimeout

	default:
		next.Alarm = 0
	}

	return next, outbound
}

func applyVoteRequest(next *model.ConsensusContext, from splinterid.ServiceId, msg model.ConsensusMessage, now int64, clock Clock) []Outbound {
	if msg.Epoch < next.Epoch {
		return nil // stale retransmit of an epoch we've already moved past
	}
	yes := votePredicate(msg.Value)
	next.Epoch = msg.Epoch
	next.State = model.StateWaitingForDecision
	next.Alarm = now + clock.DecisionTimeout
	return []Outbound{{To: from, Message: model.ConsensusMessage{Kind: model.MsgVoteResponse, Epoch: msg.Epoch, Yes: yes}}}
}

// votePredicate is the participant's local accept/reject rule over a
// proposed value. Every value is accepted: Splinter's 2PC safety
// property is about durability and ordering, not content validation
// (content validation belongs to the service type sitting above
// Scabbard, out of this package's scope).
func votePredicate(value []byte) bool {
	return true
}

// decide moves the coordinator into Decided(E) and arms the
// retransmission alarm: spec.md §4.5 step 2/3 calls this "unset
// alarm" (the vote_timeout alarm is indeed cleared) but step 5 then
// requires retransmitting Commit/Abort on alarm until every
// participant acks, so a fresh alarm is armed in the same breath.
func decide(next *model.ConsensusContext, decision model.Decision, now int64, clock Clock) []Outbound {
	next.State = model.StateDecided
	next.Decision = decision
	next.Remembered[next.Epoch] = decision
	next.Acks = make(map[splinterid.ServiceId]bool)
	next.Alarm = now + clock.CoordinatorTimeout
	msg := decisionMessage(decision, next.Epoch)
	out := make([]Outbound, 0, len(next.Participants))
	for _, p := range next.Participants {
		out = append(out, Outbound{To: p, Message: msg})
	}
	return out
}

func broadcastVoteRequest(next *model.ConsensusContext, now int64, clock Clock) []Outbound {
	next.State = model.StateVoting
	next.Votes = make(map[splinterid.ServiceId]bool)
	next.Alarm = now + clock.CoordinatorTimeout
	msg := model.ConsensusMessage{Kind: model.MsgVoteRequest, Epoch: next.Epoch, Value: next.PendingValue}
	out := make([]Outbound, 0, len(next.Participants))
	for _, p := range next.Participants {
		out = append(out, Outbound{To: p, Message: msg})
	}
	return out
}

func applyDecision(next *model.ConsensusContext, epoch uint64, decision model.Decision) {
	if d, ok := next.Remembered[epoch]; ok && d == decision {
		return // idempotent: identical Commit(E)/Abort(E) applied twice is a no-op
	}
	next.Remembered[epoch] = decision
	if epoch == next.Epoch {
		next.LastCommitEpoch = epoch
		next.Epoch = epoch + 1
		next.State = model.StateIdle
		next.Decision = model.DecisionNone
		next.PendingValue = nil
		next.Alarm = 0
	}
}

func advanceEpoch(next *model.ConsensusContext) {
	next.LastCommitEpoch = next.Epoch
	next.Epoch++
	next.State = model.StateIdle
	next.Decision = model.DecisionNone
	next.PendingValue = nil
	next.Votes = nil
	next.Acks = nil
	next.Alarm = 0
}

func remembered(next *model.ConsensusContext, epoch uint64) (model.Decision, bool) {
	if epoch > next.LastCommitEpoch {
		return model.DecisionNone, false
	}
	d, ok := next.Remembered[epoch]
	return d, ok
}

func decisionMessage(d model.Decision, epoch uint64) model.ConsensusMessage {
	kind := model.MsgCommit
	if d == model.DecisionAbort {
		kind = model.MsgAbort
	}
	return model.ConsensusMessage{Kind: kind, Epoch: epoch}
}

func cloneContext(ctx *model.ConsensusContext) *model.ConsensusContext {
	next := *ctx
	next.Participants = append([]splinterid.ServiceId(nil), ctx.Participants...)
	next.Votes = cloneBoolMap(ctx.Votes)
	next.Acks = cloneBoolMap(ctx.Acks)
	next.Remembered = make(map[uint64]model.Decision, len(ctx.Remembered))
	for k, v := range ctx.Remembered {
		next.Remembered[k] = v
	}
	if ctx.PendingValue != nil {
		next.PendingValue = append([]byte(nil), ctx.PendingValue...)
	}
	return &next
}

func cloneBoolMap(m map[splinterid.ServiceId]bool) map[splinterid.ServiceId]bool {
	if m == nil {
		return nil
	}
	out := make(map[splinterid.ServiceId]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
