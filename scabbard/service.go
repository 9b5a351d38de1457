package scabbard

import (
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/dispatch"
	server "splinterd.io/server"
	"splinterd.io/server/model"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/status"
	"splinterd.io/server/wire"
)

// key identifies one running 2PC context.
type key struct {
	circuit splinterid.CircuitId
	service splinterid.ServiceId
}

// Service wires the pure Apply/Tick engine to a durable Store and a
// Sender, and guarantees a given (circuit, service) is never run by
// two goroutines at once (spec.md §4.6: "a single service is never
// executed concurrently with itself (per-service mutex)"), whether
// the caller is the inbound-message handler or the timer.
//
// Grounded on paxos/acceptor.go's Acceptor (one object per txn, state
// transitions applied under its own control) generalized to one
// Service fronting many (circuit, service) contexts instead of one
// Acceptor per TxnId.
type Service struct {
	store  Store
	sender Sender
	logger log.Logger
	clock  Clock

	mu    sync.Mutex
	locks map[key]*sync.Mutex
}

func NewService(store Store, sender Sender, logger log.Logger, clock Clock) *Service {
	return &Service{
		store:  store,
		sender: sender,
		logger: logger,
		clock:  clock,
		locks:  make(map[key]*sync.Mutex),
	}
}

func (s *Service) lockFor(k key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// Finalize installs the service record and an Idle consensus context,
// arming an immediate alarm if this node is coordinator (spec.md
// §4.5: "A finalized service schedules an immediate alarm (on the
// coordinator only) so the first epoch can begin without waiting for
// external stimulus").
func (s *Service) Finalize(svc *model.ScabbardService, now int64) error {
	k := key{svc.CircuitId, svc.ServiceId}
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	svc.Status = model.ScabbardFinalized
	if err := s.store.UpdateService(svc); err != nil {
		return err
	}

	ctx := model.NewConsensusContext(svc.Coordinator(), svc.Peers)
	if ctx.Coordinator == svc.ServiceId {
		ctx.Alarm = now
	}
	if err := s.store.AddConsensusContext(svc.CircuitId, svc.ServiceId, ctx); err != nil {
		return err
	}
	return s.store.SetAlarm(svc.CircuitId, svc.ServiceId, ctx.Alarm)
}

// Deliver translates one inbound TwoPhaseCommitMessage into a stored
// event and wakes the service's alarm (spec.md §4.5: "Inbound messages
// are not applied synchronously..."). It does not mutate the
// consensus context itself; Tick does.
func (s *Service) Deliver(circuit splinterid.CircuitId, service splinterid.ServiceId, from splinterid.ServiceId, msg model.ConsensusMessage, waker AlarmWaker) error {
	k := key{circuit, service}
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	if err := s.store.AddConsensusEvent(circuit, service, model.ConsensusEvent{From: from, Message: msg}); err != nil {
		return err
	}
	if waker != nil {
		waker.WakeUp(circuit, service)
	}
	return nil
}

// Tick is the per-service handler the Timer invokes when a service's
// alarm is due: load context + pending events, derive the next
// context, persist it, mark events executed, and send outbound
// messages (spec.md §4.5).
func (s *Service) Tick(circuit splinterid.CircuitId, service splinterid.ServiceId, now int64, pendingValue []byte) error {
	k := key{circuit, service}
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	ctx, ok, err := s.store.GetConsensusContext(circuit, service)
	if err != nil {
		return err
	}
	if !ok {
		return splerr.NewInvalidState("no consensus context for service", nil)
	}

	events, err := s.store.ListReadyEvents(circuit, service)
	if err != nil {
		return err
	}

	next, outbound := Apply(ctx, service, events, now, s.clock)
	if len(events) == 0 {
		// No events pending; this firing was purely alarm-driven
		// (timeout / retransmit / kickoff). Run Tick's alarm logic too.
		next, outbound = Tick(next, service, now, pendingValue, s.clock)
	}

	if err := s.store.UpdateConsensusContext(circuit, service, next); err != nil {
		return err
	}
	for _, ev := range events {
		if err := s.store.MarkEventExecuted(circuit, service, ev.Index); err != nil {
			return err
		}
	}
	if next.Alarm == 0 {
		if err := s.store.UnsetAlarm(circuit, service); err != nil {
			return err
		}
	} else if err := s.store.SetAlarm(circuit, service, next.Alarm); err != nil {
		return err
	}

	for _, ob := range outbound {
		if err := s.sender.SendConsensusMessage(circuit, service, ob.To, ob.Message); err != nil {
			server.CheckWarn(splerr.NewDispatchError(splerr.NetworkSendError, err), s.logger)
		}
	}
	return nil
}

// Status reports per-service consensus state, grounded on
// paxos/acceptor.go's Status: one line with the tracked-service count,
// then one forked child line per service.
func (s *Service) Status(sc *status.StatusConsumer) {
	services, err := s.store.ListServices()
	if err != nil {
		sc.Emit(fmt.Sprintf("Scabbard: failed to list services: %v", err))
		sc.Join()
		return
	}
	sc.Emit(fmt.Sprintf("Scabbard: %d service(s) tracked", len(services)))
	for _, svc := range services {
		child := sc.Fork()
		child.Emit(fmt.Sprintf("%v/%v: status=%v peers=%d", svc.CircuitId, svc.ServiceId, svc.Status, len(svc.Peers)))
		child.Join()
	}
	sc.Join()
}

// InboundHandler adapts Service.Deliver to dispatch.Handler for
// wire.ScabbardConsensusMessage frames (spec.md §6).
type InboundHandler struct {
	Service *Service
	Waker   AlarmWaker
}

func (h *InboundHandler) MatchType() wire.MessageType { return wire.ScabbardConsensusMessage }

func (h *InboundHandler) Handle(ctx dispatch.Context, sender dispatch.Sender) error {
	env, err := model.DecodeScabbardEnvelope(ctx.RawData)
	if err != nil {
		return splerr.NewDispatchError(splerr.DeserializationError, err)
	}
	return h.Service.Deliver(env.CircuitId, env.ServiceId, env.From, env.Message, h.Waker)
}
