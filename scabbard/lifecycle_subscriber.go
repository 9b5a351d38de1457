package scabbard

import (
	"time"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

// LifecycleSubscriber bridges admin's circuit lifecycle to Scabbard's
// 2PC startup. admin.Service emits EventCircuitReady once a proposal's
// routing-table/store mutation is committed (spec.md §4.4), but
// nothing on that path knows Scabbard exists; without a subscriber
// reacting to it, a roster's ScabbardService entries are installed in
// routing but never finalized, and 2PC never starts. This type is that
// handoff: for every roster entry naming model.ScabbardServiceType
// hosted on the local node, it builds the ScabbardService record and
// finalizes it (spec.md §4.5).
//
// Implements admin.Subscriber structurally; kept in this package
// rather than admin's so admin never has to import scabbard.
type LifecycleSubscriber struct {
	Service   *Service
	LocalNode splinterid.NodeId
	Logger    log.Logger

	// OnFinalized, if set, runs after each successful Finalize. Used by
	// cmd/splinterd to nudge supervisor.Supervisor without this package
	// importing supervisor, which already imports scabbard.
	OnFinalized func(circuit splinterid.CircuitId, service splinterid.ServiceId)

	now func() int64
}

// NewLifecycleSubscriber builds a LifecycleSubscriber finalizing
// services on service's behalf for circuits hosting localNode.
func NewLifecycleSubscriber(service *Service, localNode splinterid.NodeId, logger log.Logger) *LifecycleSubscriber {
	return &LifecycleSubscriber{
		Service:   service,
		LocalNode: localNode,
		Logger:    logger,
		now:       func() int64 { return time.Now().Unix() },
	}
}

// OnAdminEvent finalizes this circuit's locally-hosted Scabbard
// services on EventCircuitReady; every other event kind is ignored.
func (l *LifecycleSubscriber) OnAdminEvent(ev model.AdminServiceEvent) {
	if ev.Kind != model.EventCircuitReady {
		return
	}
	circuit := ev.Proposal.Circuit

	var peers []splinterid.ServiceId
	for _, svc := range circuit.Roster {
		if svc.ServiceType == model.ScabbardServiceType {
			peers = append(peers, svc.ServiceId)
		}
	}
	if len(peers) == 0 {
		return
	}

	for _, svc := range circuit.Roster {
		if svc.ServiceType != model.ScabbardServiceType || !hostsNode(svc.AllowedNodes, l.LocalNode) {
			continue
		}
		record := &model.ScabbardService{
			CircuitId: circuit.CircuitId,
			ServiceId: svc.ServiceId,
			Peers:     otherPeers(peers, svc.ServiceId),
		}
		if err := l.Service.Finalize(record, l.now()); err != nil {
			l.Logger.Log("msg", "failed to finalize scabbard service", "circuit", circuit.CircuitId, "service", svc.ServiceId, "error", err)
			continue
		}
		if l.OnFinalized != nil {
			l.OnFinalized(circuit.CircuitId, svc.ServiceId)
		}
	}
}

func hostsNode(allowed []splinterid.NodeId, node splinterid.NodeId) bool {
	for _, n := range allowed {
		if n == node {
			return true
		}
	}
	return false
}

func otherPeers(all []splinterid.ServiceId, self splinterid.ServiceId) []splinterid.ServiceId {
	out := make([]splinterid.ServiceId, 0, len(all))
	for _, id := range all {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
