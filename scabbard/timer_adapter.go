package scabbard

import (
	"splinterd.io/server/splinterid"
	"splinterd.io/server/timer"
)

// TimerServiceType is the ServiceType scabbard registers with a
// timer.Timer (spec.md §4.6's "set of (TimerFilter, TimerHandlerFactory)
// pairs", one pair per service type).
const TimerServiceType timer.ServiceType = "scabbard"

// TimerFilter backs timer.Filter by asking the Store which (circuit,
// service) alarms are due.
type TimerFilter struct {
	Store Store
}

func (f *TimerFilter) Type() timer.ServiceType { return TimerServiceType }

func (f *TimerFilter) Due(now int64) ([]timer.DueService, error) {
	due, err := f.Store.ListDueAlarms(now)
	if err != nil {
		return nil, err
	}
	out := make([]timer.DueService, len(due))
	for i, d := range due {
		out[i] = timer.DueService{Circuit: d.Circuit, Service: d.Service}
	}
	return out, nil
}

// TimerHandlerFactory backs timer.HandlerFactory by invoking
// Service.Tick with no new pending value: a sweep- or alarm-driven
// firing never introduces a fresh proposal value. Service.Tick's
// pendingValue argument is the only way one enters, and no caller in
// this module outside the tests passes one.
type TimerHandlerFactory struct {
	Service *Service
}

func (f *TimerHandlerFactory) Type() timer.ServiceType { return TimerServiceType }

func (f *TimerHandlerFactory) Handle(circuit splinterid.CircuitId, service splinterid.ServiceId, now int64) error {
	return f.Service.Tick(circuit, service, now, nil)
}
