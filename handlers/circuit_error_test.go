package handlers

import (
	"encoding/json"
	"testing"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/dispatch"
	"splinterd.io/server/model"
	"splinterd.io/server/routing"
	"splinterd.io/server/splinterid"
)

type fakeSender struct {
	sentTo  splinterid.PeerTokenPair
	sentMsg []byte
	called  bool
	err     error
}

func (f *fakeSender) Send(peer splinterid.PeerTokenPair, payload []byte) error {
	f.called = true
	f.sentTo = peer
	f.sentMsg = payload
	return f.err
}

func sampleErrorCtx(t *testing.T, circuitId splinterid.CircuitId, serviceId splinterid.ServiceId) dispatch.Context {
	t.Helper()
	ce := CircuitError{CircuitName: circuitId, ServiceId: serviceId, Error: "boom", ErrorMessage: "it broke", CorrelationId: "c1"}
	data, err := json.Marshal(ce)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return dispatch.Context{RawData: data}
}

func TestCircuitErrorDropsWhenServiceUnknown(t *testing.T) {
	tbl := routing.NewTable()
	h := NewCircuitErrorHandler(tbl, "node-1", log.NewNopLogger())
	sender := &fakeSender{}

	err := h.Handle(sampleErrorCtx(t, "alpha-bravo", "abcd"), sender)
	if err != nil {
		t.Fatalf("expected drop (nil error), got %v", err)
	}
	if sender.called {
		t.Fatal("expected no send for unknown service")
	}
}

func TestCircuitErrorForwardsLocally(t *testing.T) {
	tbl := routing.NewTable()
	circuit := &model.Circuit{
		CircuitId:         "alpha-bravo",
		Roster:            []model.SplinterService{{ServiceId: "abcd", ServiceType: "echo"}},
		Members:           []splinterid.NodeId{"node-1"},
		AuthorizationType: model.AuthorizationTrust,
		Persistence:       model.PersistenceAny,
		Durability:        model.DurabilityNoDurability,
		Routes:            model.RouteAny,
		ManagementType:    "t",
		CircuitVersion:    1,
		Status:            model.CircuitStatusActive,
	}
	tbl.AddCircuit(circuit.CircuitId, circuit, []routing.CircuitNode{{NodeId: "node-1"}})
	tbl.AddService(splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}, "node-1")
	if err := tbl.SetLocalPeerId(splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}, splinterid.PeerTokenPair{Local: splinterid.TrustToken("local-svc")}); err != nil {
		t.Fatalf("set local peer id: %v", err)
	}

	h := NewCircuitErrorHandler(tbl, "node-1", log.NewNopLogger())
	sender := &fakeSender{}

	err := h.Handle(sampleErrorCtx(t, "alpha-bravo", "abcd"), sender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sender.called {
		t.Fatal("expected local forward to send")
	}
	if sender.sentTo.Local.NodeId != "local-svc" {
		t.Fatalf("expected forward to local peer id, got %+v", sender.sentTo)
	}
}

func TestCircuitErrorDropsWhenLocalPeerIdUnset(t *testing.T) {
	tbl := routing.NewTable()
	circuit := &model.Circuit{
		CircuitId:         "alpha-bravo",
		Roster:            []model.SplinterService{{ServiceId: "abcd", ServiceType: "echo"}},
		Members:           []splinterid.NodeId{"node-1"},
		AuthorizationType: model.AuthorizationTrust,
		Persistence:       model.PersistenceAny,
		Durability:        model.DurabilityNoDurability,
		Routes:            model.RouteAny,
		ManagementType:    "t",
		CircuitVersion:    1,
		Status:            model.CircuitStatusActive,
	}
	tbl.AddCircuit(circuit.CircuitId, circuit, []routing.CircuitNode{{NodeId: "node-1"}})
	tbl.AddService(splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}, "node-1")

	h := NewCircuitErrorHandler(tbl, "node-1", log.NewNopLogger())
	sender := &fakeSender{}

	err := h.Handle(sampleErrorCtx(t, "alpha-bravo", "abcd"), sender)
	if err == nil {
		t.Fatal("expected an Internal error for unset local_peer_id")
	}
	if sender.called {
		t.Fatal("expected no send")
	}
}

func TestCircuitErrorForwardsRemotely(t *testing.T) {
	tbl := routing.NewTable()
	circuit := &model.Circuit{
		CircuitId:         "alpha-bravo",
		Roster:            []model.SplinterService{{ServiceId: "abcd", ServiceType: "echo"}},
		Members:           []splinterid.NodeId{"node-1", "node-2"},
		AuthorizationType: model.AuthorizationTrust,
		Persistence:       model.PersistenceAny,
		Durability:        model.DurabilityNoDurability,
		Routes:            model.RouteAny,
		ManagementType:    "t",
		CircuitVersion:    1,
		Status:            model.CircuitStatusActive,
	}
	tbl.AddCircuit(circuit.CircuitId, circuit, []routing.CircuitNode{{NodeId: "node-1"}, {NodeId: "node-2"}})
	tbl.AddService(splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}, "node-2")

	h := NewCircuitErrorHandler(tbl, "node-1", log.NewNopLogger())
	sender := &fakeSender{}

	err := h.Handle(sampleErrorCtx(t, "alpha-bravo", "abcd"), sender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sender.called {
		t.Fatal("expected remote forward to send")
	}
	if sender.sentTo.Remote.NodeId != "node-2" || sender.sentTo.Local.NodeId != "node-1" {
		t.Fatalf("expected PeerTokenPair{remote:node-2,local:node-1}, got %+v", sender.sentTo)
	}
}

func TestCircuitErrorPropagatesNetworkSendError(t *testing.T) {
	tbl := routing.NewTable()
	circuit := &model.Circuit{
		CircuitId:         "alpha-bravo",
		Roster:            []model.SplinterService{{ServiceId: "abcd", ServiceType: "echo"}},
		Members:           []splinterid.NodeId{"node-1"},
		AuthorizationType: model.AuthorizationTrust,
		Persistence:       model.PersistenceAny,
		Durability:        model.DurabilityNoDurability,
		Routes:            model.RouteAny,
		ManagementType:    "t",
		CircuitVersion:    1,
		Status:            model.CircuitStatusActive,
	}
	tbl.AddCircuit(circuit.CircuitId, circuit, []routing.CircuitNode{{NodeId: "node-1"}})
	tbl.AddService(splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}, "node-1")
	tbl.SetLocalPeerId(splinterid.FullyQualifiedServiceId{CircuitId: "alpha-bravo", ServiceId: "abcd"}, splinterid.PeerTokenPair{Local: splinterid.TrustToken("local-svc")})

	h := NewCircuitErrorHandler(tbl, "node-1", log.NewNopLogger())
	sender := &fakeSender{err: errSendFailed}

	err := h.Handle(sampleErrorCtx(t, "alpha-bravo", "abcd"), sender)
	if err == nil {
		t.Fatal("expected NetworkSendError to propagate")
	}
}

var errSendFailed = &sendFailure{}

type sendFailure struct{}

func (*sendFailure) Error() string { return "send failed" }
