// Package supervisor implements spec.md §4.6's crash-recovery scan:
// watch scabbard service lifecycle notifications, and on startup and
// on every notification rescan the store for contexts whose alarm is
// overdue or whose last event is unexecuted, re-arming the timer for
// each.
//
// Grounded on topologytransmogrifier.go's maybeTick (a single pending
// task re-entered on notification, never run concurrently with
// itself) generalized from "one topology change task" to "rescan
// every scabbard service," and on the stats.configPublisherMsg retry
// idiom (server.BinaryBackoffEngine.Advance/After on failure) for
// backing off a reconcile pass that keeps failing. The notification
// queue itself is an actorkit.Mailbox (Notify enqueues a closure, Run
// drains it on its own owner goroutine) rather than a bare channel of
// Notification values, since every notification resolves to "run
// reconcileWithBackoff" regardless of payload.
package supervisor

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"

	server "splinterd.io/server"
	"splinterd.io/server/internal/actorkit"
	"splinterd.io/server/scabbard"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/timer"
)

// LifecycleEvent names why a notification fired; logging only, since
// a reconcile pass is always a full rescan regardless of cause
// (spec.md §4.6).
type LifecycleEvent int

const (
	ServiceFinalized LifecycleEvent = iota
	ServiceRetired
)

func (e LifecycleEvent) String() string {
	switch e {
	case ServiceFinalized:
		return "finalized"
	case ServiceRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Notification is one lifecycle event pushed onto Supervisor's channel.
type Notification struct {
	Circuit splinterid.CircuitId
	Service splinterid.ServiceId
	Event   LifecycleEvent
}

// Supervisor watches scabbard service lifecycle notifications and
// reconciles the Store against the Timer on startup and on
// notification (spec.md §4.6).
type Supervisor struct {
	store  scabbard.Store
	tm     *timer.Timer
	logger log.Logger

	mailbox *actorkit.Mailbox
	rng     *rand.Rand
	backoff *server.BinaryBackoffEngine
}

// NewSupervisor builds a Supervisor over store, waking due services
// through tm.
func NewSupervisor(store scabbard.Store, tm *timer.Timer, logger log.Logger) *Supervisor {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Supervisor{
		store:   store,
		tm:      tm,
		logger:  logger,
		mailbox: actorkit.NewMailbox(256),
		rng:     rng,
		backoff: server.NewBinaryBackoffEngine(rng, server.SupervisorBackoffBase, server.SupervisorBackoffCap),
	}
}

// Notify pushes a lifecycle event without blocking the caller. A full
// mailbox drops the notification and logs: every reconcile pass is a
// full rescan, so a dropped notification costs at most one scan
// cycle's latency, never correctness (the next Notify or the next
// timer sweep catches what this one would have). The enqueued closure
// shares s.backoff with every other reconcile pass, so a run of
// failures keeps backing off further regardless of which notification
// triggered each attempt.
func (s *Supervisor) Notify(n Notification) {
	ok := s.mailbox.EnqueueFuncAsync(func() {
		server.DebugLog(s.logger, "debug", "supervisor reconciling", "circuit", n.Circuit, "service", n.Service, "event", n.Event.String())
		s.reconcileWithBackoff(s.backoff)
	})
	if !ok {
		s.logger.Log("msg", "supervisor notification mailbox full, dropping", "circuit", string(n.Circuit), "service", string(n.Service), "event", n.Event.String())
	}
}

// Run reconciles once immediately, then again for every enqueued
// Notify, until ctx is cancelled (spec.md §4.6, §5's shutdown
// contract: "any component accepts a shutdown signal"). Run itself
// owns s.mailbox's draining goroutine; it selects directly on the
// Mailbox's channel rather than handing the loop to actorkit.Spawn, so
// ctx cancellation can interrupt it at any point between messages.
func (s *Supervisor) Run(ctx context.Context) {
	s.reconcileWithBackoff(s.backoff)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.mailbox.Chan():
			msg.Exec()
		}
	}
}

func (s *Supervisor) reconcileWithBackoff(backoff *server.BinaryBackoffEngine) {
	if err := s.reconcile(); err != nil {
		s.logger.Log("msg", "supervisor reconcile failed, backing off", "error", err)
		backoff.Advance()
		backoff.After(func() { s.Notify(Notification{}) })
		return
	}
	backoff.Shrink(0)
}

// reconcile wakes every service whose alarm is overdue, plus every
// service with at least one unexecuted event (crash recovery: a
// process that died between AddConsensusEvent and the Tick that would
// have consumed it leaves an event sitting with no alarm guaranteed to
// be due).
func (s *Supervisor) reconcile() error {
	now := time.Now().Unix()

	due, err := s.store.ListDueAlarms(now)
	if err != nil {
		return err
	}
	woken := make(map[splinterid.CircuitId]map[splinterid.ServiceId]bool)
	wake := func(circuit splinterid.CircuitId, service splinterid.ServiceId) {
		if woken[circuit] == nil {
			woken[circuit] = make(map[splinterid.ServiceId]bool)
		}
		if woken[circuit][service] {
			return
		}
		woken[circuit][service] = true
		s.tm.WakeUp(scabbard.TimerServiceType, circuit, service)
	}
	for _, d := range due {
		wake(d.Circuit, d.Service)
	}

	services, err := s.store.ListServices()
	if err != nil {
		return err
	}
	for _, svc := range services {
		events, err := s.store.ListReadyEvents(svc.CircuitId, svc.ServiceId)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			wake(svc.CircuitId, svc.ServiceId)
		}
	}
	return nil
}
