package scabbard

import (
	"sync"

	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

// memStore is an in-memory Store used only by this package's tests;
// the durable implementation lives in scabbard/store.
type memStore struct {
	mu        sync.Mutex
	services  map[key]*model.ScabbardService
	contexts  map[key]*model.ConsensusContext
	events    map[key][]model.ConsensusEvent
	nextIndex map[key]uint64
	alarms    map[key]int64
}

func newMemStore() *memStore {
	return &memStore{
		services:  make(map[key]*model.ScabbardService),
		contexts:  make(map[key]*model.ConsensusContext),
		events:    make(map[key][]model.ConsensusEvent),
		nextIndex: make(map[key]uint64),
		alarms:    make(map[key]int64),
	}
}

func (m *memStore) GetService(circuit splinterid.CircuitId, service splinterid.ServiceId) (*model.ScabbardService, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[key{circuit, service}]
	return svc, ok, nil
}

func (m *memStore) UpdateService(svc *model.ScabbardService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *svc
	m.services[key{svc.CircuitId, svc.ServiceId}] = &cp
	return nil
}

func (m *memStore) ListServices() ([]model.ScabbardService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ScabbardService, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, *svc)
	}
	return out, nil
}

func (m *memStore) AddConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[key{circuit, service}] = ctx
	return nil
}

func (m *memStore) UpdateConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[key{circuit, service}] = ctx
	return nil
}

func (m *memStore) GetConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId) (*model.ConsensusContext, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[key{circuit, service}]
	if !ok {
		return nil, false, nil
	}
	return ctx, true, nil
}

func (m *memStore) AddConsensusEvent(circuit splinterid.CircuitId, service splinterid.ServiceId, ev model.ConsensusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{circuit, service}
	ev.Index = m.nextIndex[k]
	m.nextIndex[k]++
	m.events[k] = append(m.events[k], ev)
	return nil
}

func (m *memStore) ListReadyEvents(circuit splinterid.CircuitId, service splinterid.ServiceId) ([]model.ConsensusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ConsensusEvent(nil), m.events[key{circuit, service}]...), nil
}

func (m *memStore) MarkEventExecuted(circuit splinterid.CircuitId, service splinterid.ServiceId, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{circuit, service}
	remaining := m.events[k][:0]
	for _, ev := range m.events[k] {
		if ev.Index != index {
			remaining = append(remaining, ev)
		}
	}
	m.events[k] = remaining
	return nil
}

func (m *memStore) GetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[key{circuit, service}]
	return a, ok, nil
}

func (m *memStore) SetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms[key{circuit, service}] = at
	return nil
}

func (m *memStore) UnsetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alarms, key{circuit, service})
	return nil
}

func (m *memStore) ListDueAlarms(now int64) ([]DueAlarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []DueAlarm
	for k, at := range m.alarms {
		if at != 0 && at <= now {
			due = append(due, DueAlarm{Circuit: k.circuit, Service: k.service})
		}
	}
	return due, nil
}

type memSender struct {
	mu  sync.Mutex
	log []sentMsg
}

type sentMsg struct {
	circuit splinterid.CircuitId
	from    splinterid.ServiceId
	to      splinterid.ServiceId
	msg     model.ConsensusMessage
}

func (s *memSender) SendConsensusMessage(circuit splinterid.CircuitId, from, to splinterid.ServiceId, msg model.ConsensusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, sentMsg{circuit, from, to, msg})
	return nil
}

func (s *memSender) sentTo(to splinterid.ServiceId) []model.ConsensusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConsensusMessage
	for _, m := range s.log {
		if m.to == to {
			out = append(out, m.msg)
		}
	}
	return out
}
