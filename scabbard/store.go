package scabbard

import (
	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

// Store is the Scabbard durable layer (spec.md §4.5): services, 2PC
// contexts, events and alarms. Every operation that touches more than
// one underlying table is documented at the concrete implementation
// as executing in a single transaction (spec.md §4.4/§5 atomicity
// rule, generalized to this store).
type Store interface {
	GetService(circuit splinterid.CircuitId, service splinterid.ServiceId) (*model.ScabbardService, bool, error)
	UpdateService(svc *model.ScabbardService) error
	// ListServices enumerates every known service, for the
	// supervisor's startup/notification reconciliation scan (spec.md
	// §4.6) — not one of spec.md's named operations, same rationale as
	// GetConsensusContext below.
	ListServices() ([]model.ScabbardService, error)

	AddConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error
	UpdateConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error
	// GetConsensusContext is not one of spec.md's named operations but
	// is required to load "the current context" the timer's firing
	// description assumes; every concrete Store backs it with the same
	// row update_consensus_context writes.
	GetConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId) (*model.ConsensusContext, bool, error)

	AddConsensusEvent(circuit splinterid.CircuitId, service splinterid.ServiceId, ev model.ConsensusEvent) error
	ListReadyEvents(circuit splinterid.CircuitId, service splinterid.ServiceId) ([]model.ConsensusEvent, error)
	MarkEventExecuted(circuit splinterid.CircuitId, service splinterid.ServiceId, index uint64) error

	GetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId) (int64, bool, error)
	SetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId, at int64) error
	UnsetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId) error
	// ListDueAlarms scans every armed alarm and returns those <= now.
	// Not one of spec.md's named operations, but required by the
	// Timer's TimerFilter contract (spec.md §4.6: "asks each filter for
	// services that are due").
	ListDueAlarms(now int64) ([]DueAlarm, error)
}

// DueAlarm identifies one (circuit, service) whose stored alarm has
// reached or passed a given instant.
type DueAlarm struct {
	Circuit splinterid.CircuitId
	Service splinterid.ServiceId
}

// Sender delivers one outbound 2PC message to a peer service, bound
// to the owning circuit's authorization (spec.md §4.5: "emits any
// outbound messages via a MessageSender bound to the circuit's
// authorization").
type Sender interface {
	SendConsensusMessage(circuit splinterid.CircuitId, from, to splinterid.ServiceId, msg model.ConsensusMessage) error
}

// AlarmWaker wakes the timer for one service, used by the inbound
// message handler after recording an event (spec.md §4.5: "...then
// wakes the timer alarm for the service").
type AlarmWaker interface {
	WakeUp(circuit splinterid.CircuitId, service splinterid.ServiceId)
}
