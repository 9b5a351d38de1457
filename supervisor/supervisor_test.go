package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/dispatch"
	"splinterd.io/server/internal/actorkit"
	"splinterd.io/server/model"
	"splinterd.io/server/scabbard"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/timer"
)

type fakeStore struct {
	mu       sync.Mutex
	services []model.ScabbardService
	due      []scabbard.DueAlarm
	events   map[splinterid.ServiceId][]model.ConsensusEvent
}

func (f *fakeStore) GetService(splinterid.CircuitId, splinterid.ServiceId) (*model.ScabbardService, bool, error) {
	return nil, false, nil
}
func (f *fakeStore) UpdateService(*model.ScabbardService) error { return nil }
func (f *fakeStore) ListServices() ([]model.ScabbardService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services, nil
}
func (f *fakeStore) AddConsensusContext(splinterid.CircuitId, splinterid.ServiceId, *model.ConsensusContext) error {
	return nil
}
func (f *fakeStore) UpdateConsensusContext(splinterid.CircuitId, splinterid.ServiceId, *model.ConsensusContext) error {
	return nil
}
func (f *fakeStore) GetConsensusContext(splinterid.CircuitId, splinterid.ServiceId) (*model.ConsensusContext, bool, error) {
	return nil, false, nil
}
func (f *fakeStore) AddConsensusEvent(splinterid.CircuitId, splinterid.ServiceId, model.ConsensusEvent) error {
	return nil
}
func (f *fakeStore) ListReadyEvents(circuit splinterid.CircuitId, service splinterid.ServiceId) ([]model.ConsensusEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[service], nil
}
func (f *fakeStore) MarkEventExecuted(splinterid.CircuitId, splinterid.ServiceId, uint64) error { return nil }
func (f *fakeStore) GetAlarm(splinterid.CircuitId, splinterid.ServiceId) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) SetAlarm(splinterid.CircuitId, splinterid.ServiceId, int64) error { return nil }
func (f *fakeStore) UnsetAlarm(splinterid.CircuitId, splinterid.ServiceId) error      { return nil }
func (f *fakeStore) ListDueAlarms(now int64) ([]scabbard.DueAlarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

type recordingFactory struct {
	mu   sync.Mutex
	runs []splinterid.ServiceId
	done chan struct{}
}

func (f *recordingFactory) Type() timer.ServiceType { return scabbard.TimerServiceType }
func (f *recordingFactory) Handle(circuit splinterid.CircuitId, service splinterid.ServiceId, now int64) error {
	f.mu.Lock()
	f.runs = append(f.runs, service)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return nil
}

type passthroughFilter struct{ store scabbard.Store }

func (p *passthroughFilter) Type() timer.ServiceType { return scabbard.TimerServiceType }
func (p *passthroughFilter) Due(now int64) ([]timer.DueService, error) {
	due, err := p.store.ListDueAlarms(now)
	if err != nil {
		return nil, err
	}
	out := make([]timer.DueService, len(due))
	for i, d := range due {
		out[i] = timer.DueService{Circuit: d.Circuit, Service: d.Service}
	}
	return out, nil
}

func TestReconcileWakesOverdueAlarmsAndUnexecutedEvents(t *testing.T) {
	store := &fakeStore{
		services: []model.ScabbardService{
			{CircuitId: "alpha-bravo", ServiceId: "s0"},
			{CircuitId: "alpha-bravo", ServiceId: "s1"},
		},
		due: []scabbard.DueAlarm{{Circuit: "alpha-bravo", Service: "s0"}},
		events: map[splinterid.ServiceId][]model.ConsensusEvent{
			"s1": {{Index: 1}},
		},
	}
	pool := dispatch.NewPool(2, 8)
	tm := timer.NewTimer(pool, time.Hour, log.NewNopLogger())
	factory := &recordingFactory{done: make(chan struct{}, 4)}
	tm.Register(&passthroughFilter{store: store}, factory)

	sup := NewSupervisor(store, tm, log.NewNopLogger())
	if err := sup.reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	deadline := time.After(time.Second)
	for len(factory.runs) < 2 {
		select {
		case <-factory.done:
		case <-deadline:
			t.Fatalf("timed out, only woke %v", factory.runs)
		}
	}
	woke := map[splinterid.ServiceId]bool{}
	factory.mu.Lock()
	for _, s := range factory.runs {
		woke[s] = true
	}
	factory.mu.Unlock()
	if !woke["s0"] || !woke["s1"] {
		t.Fatalf("expected both s0 (overdue alarm) and s1 (unexecuted event) woken, got %v", factory.runs)
	}
}

func TestNotifyDropsWhenChannelFull(t *testing.T) {
	store := &fakeStore{}
	pool := dispatch.NewPool(1, 1)
	tm := timer.NewTimer(pool, time.Hour, log.NewNopLogger())
	sup := NewSupervisor(store, tm, log.NewNopLogger())
	sup.mailbox = actorkit.NewMailbox(1) // nothing drains this mailbox in this test

	sup.Notify(Notification{Service: "s0"})
	sup.Notify(Notification{Service: "s1"}) // mailbox full, dropped not blocked
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	pool := dispatch.NewPool(1, 1)
	tm := timer.NewTimer(pool, time.Hour, log.NewNopLogger())
	sup := NewSupervisor(store, tm, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(doneCh)
	}()
	cancel()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
