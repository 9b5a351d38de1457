package scabbard

import (
	"strings"
	"testing"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/status"
)

type recordingWaker struct {
	woken []key
}

func (w *recordingWaker) WakeUp(circuit splinterid.CircuitId, service splinterid.ServiceId) {
	w.woken = append(w.woken, key{circuit, service})
}

func newTestService() (*Service, *memStore, *memSender) {
	st := newMemStore()
	sender := &memSender{}
	svc := NewService(st, sender, log.NewNopLogger(), testClock)
	return svc, st, sender
}

func TestFinalizeArmsImmediateAlarmForCoordinatorOnly(t *testing.T) {
	svc, st, _ := newTestService()

	coordinator := &model.ScabbardService{CircuitId: "alpha-bravo", ServiceId: "s0", Peers: []splinterid.ServiceId{"s1", "s2"}}
	if err := svc.Finalize(coordinator, 42); err != nil {
		t.Fatalf("finalize coordinator: %v", err)
	}
	ctx, ok, _ := st.GetConsensusContext("alpha-bravo", "s0")
	if !ok || ctx.Alarm != 42 {
		t.Fatalf("expected coordinator alarm armed at 42, got %+v ok=%v", ctx, ok)
	}

	participant := &model.ScabbardService{CircuitId: "alpha-bravo", ServiceId: "s1", Peers: []splinterid.ServiceId{"s0", "s2"}}
	if err := svc.Finalize(participant, 42); err != nil {
		t.Fatalf("finalize participant: %v", err)
	}
	ctx, ok, _ = st.GetConsensusContext("alpha-bravo", "s1")
	if !ok || ctx.Alarm != 0 {
		t.Fatalf("expected participant alarm unset, got %+v ok=%v", ctx, ok)
	}
}

func TestDeliverStoresEventAndWakesAlarm(t *testing.T) {
	svc, st, _ := newTestService()
	coordinator := &model.ScabbardService{CircuitId: "alpha-bravo", ServiceId: "s0", Peers: []splinterid.ServiceId{"s1"}}
	svc.Finalize(coordinator, 0)

	waker := &recordingWaker{}
	msg := model.ConsensusMessage{Kind: model.MsgVoteResponse, Epoch: 0, Yes: true}
	if err := svc.Deliver("alpha-bravo", "s0", "s1", msg, waker); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	events, _ := st.ListReadyEvents("alpha-bravo", "s0")
	if len(events) != 1 || events[0].Message.Kind != model.MsgVoteResponse {
		t.Fatalf("expected one stored VoteResponse event, got %+v", events)
	}
	if len(waker.woken) != 1 {
		t.Fatalf("expected alarm wake, got %d", len(waker.woken))
	}
}

func TestTickCoordinatorKickoffAndFullRound(t *testing.T) {
	svc, st, sender := newTestService()
	circuit := splinterid.CircuitId("alpha-bravo")
	coordinator := &model.ScabbardService{CircuitId: circuit, ServiceId: "s0", Peers: []splinterid.ServiceId{"s1", "s2"}}
	svc.Finalize(coordinator, 0)

	if err := svc.Tick(circuit, "s0", 0, []byte("v")); err != nil {
		t.Fatalf("tick kickoff: %v", err)
	}
	ctx, _, _ := st.GetConsensusContext(circuit, "s0")
	if ctx.State != model.StateVoting {
		t.Fatalf("expected Voting after kickoff tick, got %v", ctx.State)
	}
	if len(sender.sentTo("s1")) != 1 || len(sender.sentTo("s2")) != 1 {
		t.Fatalf("expected one VoteRequest to each participant")
	}

	waker := &recordingWaker{}
	svc.Deliver(circuit, "s0", "s1", model.ConsensusMessage{Kind: model.MsgVoteResponse, Epoch: 0, Yes: true}, waker)
	svc.Deliver(circuit, "s0", "s2", model.ConsensusMessage{Kind: model.MsgVoteResponse, Epoch: 0, Yes: true}, waker)

	if err := svc.Tick(circuit, "s0", 0, nil); err != nil {
		t.Fatalf("tick process votes: %v", err)
	}
	ctx, _, _ = st.GetConsensusContext(circuit, "s0")
	if ctx.State != model.StateDecided || ctx.Decision != model.DecisionCommit {
		t.Fatalf("expected Decided(commit), got %v/%v", ctx.State, ctx.Decision)
	}

	events, _ := st.ListReadyEvents(circuit, "s0")
	if len(events) != 0 {
		t.Fatalf("expected events marked executed, got %d remaining", len(events))
	}
}

func TestInboundHandlerRoutesToDeliver(t *testing.T) {
	svc, _, _ := newTestService()
	coordinator := &model.ScabbardService{CircuitId: "alpha-bravo", ServiceId: "s0", Peers: []splinterid.ServiceId{"s1"}}
	svc.Finalize(coordinator, 0)

	h := &InboundHandler{Service: svc, Waker: &recordingWaker{}}
	if h.MatchType().String() != "SCABBARD_CONSENSUS_MESSAGE" {
		t.Fatalf("unexpected MatchType: %v", h.MatchType())
	}
}

func TestStatusEmitsOneLinePerTrackedService(t *testing.T) {
	svc, _, _ := newTestService()
	coordinator := &model.ScabbardService{CircuitId: "alpha-bravo", ServiceId: "s0", Peers: []splinterid.ServiceId{"s1"}}
	if err := svc.Finalize(coordinator, 0); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	sc := status.NewStatusConsumer()
	svc.Status(sc)
	out := sc.Wait()

	if !strings.Contains(out, "1 service(s) tracked") {
		t.Fatalf("expected service count line, got %q", out)
	}
	if !strings.Contains(out, "alpha-bravo/s0") {
		t.Fatalf("expected per-service line, got %q", out)
	}
}
