// Package timer implements the service-type-agnostic alarm scheduler
// spec.md §4.6 describes: a fixed sweep interval plus an explicit
// wake_up escape hatch, handlers run on a bounded worker pool with
// per-service ordering.
//
// Grounded on txnengine/varmanager.go's tw *tw.TimerWheel +
// ScheduleCallback/beat/beater trio (schedule one callback, start a
// beater goroutine only while something is pending, advance the wheel
// from the beater) and txnengine/vardispatcher.go's keyed executor for
// running the handler itself.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	tw "github.com/msackman/gotimerwheel"

	"splinterd.io/server/dispatch"
	"splinterd.io/server/splinterid"
)

// ServiceType names one family of timer-driven services (e.g.
// scabbard's 2PC contexts). A Timer may own filters/factories for
// several types at once.
type ServiceType string

// DueService identifies one (circuit, service) whose stored alarm has
// reached or passed the instant a Filter was asked about.
type DueService struct {
	Circuit splinterid.CircuitId
	Service splinterid.ServiceId
}

// Filter finds the services of one ServiceType that are due.
type Filter interface {
	Type() ServiceType
	Due(now int64) ([]DueService, error)
}

// HandlerFactory runs one due service to completion. Unlike its name
// in spec.md ("constructs a handler per service"), this reuses a
// single stateless factory per ServiceType rather than allocating a
// handler object per call, since every concrete service (scabbard.
// Service) is already safe to invoke repeatedly.
type HandlerFactory interface {
	Type() ServiceType
	Handle(circuit splinterid.CircuitId, service splinterid.ServiceId, now int64) error
}

// Timer owns a registry of (Filter, HandlerFactory) pairs keyed by
// ServiceType, a recurring sweep, and an explicit WakeUp path, per
// spec.md §4.6. Handlers run on a bounded dispatch.Pool so a single
// service is never run by more than one worker at a time (the pool's
// own per-service mutex discipline inside Service provides the
// stronger "never concurrent with itself" guarantee; the pool just
// bounds total parallelism).
type Timer struct {
	pool     *dispatch.Pool
	interval time.Duration
	logger   log.Logger
	now      func() int64

	mu        sync.Mutex
	filters   map[ServiceType]Filter
	factories map[ServiceType]HandlerFactory

	wheel            *tw.TimerWheel
	beaterTerminator chan struct{}
}

// NewTimer builds a Timer that sweeps every interval. Handlers run on
// pool; logger receives filter/handler failures (handlers are run
// best-effort, same as dispatch.Dispatcher's unregistered-type drops).
func NewTimer(pool *dispatch.Pool, interval time.Duration, logger log.Logger) *Timer {
	return &Timer{
		pool:      pool,
		interval:  interval,
		logger:    logger,
		now:       func() int64 { return time.Now().Unix() },
		filters:   make(map[ServiceType]Filter),
		factories: make(map[ServiceType]HandlerFactory),
		wheel:     tw.NewTimerWheel(time.Now(), 25*time.Millisecond),
	}
}

// Register installs the (Filter, HandlerFactory) pair for one
// ServiceType. Registering a second pair for an already-registered
// type replaces it.
func (t *Timer) Register(filter Filter, factory HandlerFactory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filters[filter.Type()] = filter
	t.factories[factory.Type()] = factory
}

// ForType returns a Waker bound to typ, so callers that only know
// about their own ServiceType (e.g. an inbound message handler) can
// wake a service without reaching into Timer's full registry.
func (t *Timer) ForType(typ ServiceType) *Waker {
	return &Waker{timer: t, typ: typ}
}

// Waker adapts Timer.WakeUp to the single-ServiceType shape consumers
// like scabbard.AlarmWaker expect.
type Waker struct {
	timer *Timer
	typ   ServiceType
}

func (w *Waker) WakeUp(circuit splinterid.CircuitId, service splinterid.ServiceId) {
	w.timer.WakeUp(w.typ, circuit, service)
}

// Start arms the first recurring sweep. Safe to call once per Timer.
func (t *Timer) Start() {
	t.scheduleSweep()
}

func (t *Timer) scheduleSweep() {
	t.scheduleCallback(t.interval, func() {
		t.scanAll()
		t.scheduleSweep()
	})
}

// scheduleCallback arms fun to fire after interval, starting the
// beater goroutine if none is currently running.
func (t *Timer) scheduleCallback(interval time.Duration, fun func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.wheel.ScheduleEventIn(interval, tw.Event(fun)); err != nil {
		t.logger.Log("msg", "failed to schedule timer event", "error", err)
		return
	}
	if t.beaterTerminator == nil {
		t.beaterTerminator = make(chan struct{})
		go t.beat(t.beaterTerminator)
	}
}

func (t *Timer) beat(terminate chan struct{}) {
	for {
		time.Sleep(25 * time.Millisecond)
		select {
		case <-terminate:
			return
		default:
		}
		t.mu.Lock()
		t.wheel.AdvanceTo(time.Now(), 32)
		empty := t.wheel.IsEmpty()
		if empty && t.beaterTerminator == terminate {
			close(t.beaterTerminator)
			t.beaterTerminator = nil
		}
		t.mu.Unlock()
		if empty {
			return
		}
	}
}

func (t *Timer) scanAll() {
	now := t.now()
	t.mu.Lock()
	filters := make([]Filter, 0, len(t.filters))
	for _, f := range t.filters {
		filters = append(filters, f)
	}
	t.mu.Unlock()

	for _, f := range filters {
		due, err := f.Due(now)
		if err != nil {
			t.logger.Log("msg", "timer filter failed", "type", string(f.Type()), "error", err)
			continue
		}
		for _, d := range due {
			t.run(f.Type(), d.Circuit, d.Service, now)
		}
	}
}

func (t *Timer) run(typ ServiceType, circuit splinterid.CircuitId, service splinterid.ServiceId, now int64) {
	t.mu.Lock()
	factory, ok := t.factories[typ]
	t.mu.Unlock()
	if !ok {
		return
	}
	key := []byte(string(circuit) + "/" + string(service))
	t.pool.WithExecutor(context.Background(), key, func() {
		if err := factory.Handle(circuit, service, now); err != nil {
			t.logger.Log("msg", "timer handler failed", "type", string(typ), "circuit", string(circuit), "service", string(service), "error", err)
		}
	})
}

// WakeUp runs typ's handler for (circuit, service) immediately,
// outside the regular sweep (spec.md §4.6's explicit
// "wake_up(service_type, service_id)").
func (t *Timer) WakeUp(typ ServiceType, circuit splinterid.CircuitId, service splinterid.ServiceId) {
	t.run(typ, circuit, service, t.now())
}
