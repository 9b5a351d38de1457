package dispatch

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"splinterd.io/server/splinterid"
	"splinterd.io/server/wire"
)

// envelopeBytes builds the type-tag+payload bytes Dispatch expects —
// the post-length-prefix-stripped form the reactor hands to callers,
// mirroring what wire.DecodeEnvelope consumes.
func envelopeBytes(typ wire.MessageType, payload []byte) []byte {
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(typ))
	copy(buf[2:], payload)
	return buf
}

type echoHandler struct {
	mu      sync.Mutex
	handled [][]byte
	done    chan struct{}
	want    int
}

func (h *echoHandler) MatchType() wire.MessageType { return wire.NetworkEcho }

func (h *echoHandler) Handle(ctx Context, sender Sender) error {
	h.mu.Lock()
	h.handled = append(h.handled, ctx.RawData)
	n := len(h.handled)
	h.mu.Unlock()
	if n == h.want {
		close(h.done)
	}
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *recordingSender) Send(peer splinterid.PeerTokenPair, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	pool := NewPool(4, 16)
	defer pool.Shutdown()
	d := NewDispatcher(pool, log.NewNopLogger())

	h := &echoHandler{done: make(chan struct{}), want: 1}
	d.Register(h)

	frame := envelopeBytes(wire.NetworkEcho, []byte("ping"))

	ok := d.Dispatch(context.Background(), []byte("peer-key"), splinterid.PeerTokenPair{}, frame, &recordingSender{})
	if !ok {
		t.Fatal("expected Dispatch to enqueue successfully")
	}

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	if string(h.handled[0]) != "ping" {
		t.Fatalf("expected payload ping, got %q", h.handled[0])
	}
}

func TestDispatchDropsUnregisteredType(t *testing.T) {
	pool := NewPool(2, 16)
	defer pool.Shutdown()
	d := NewDispatcher(pool, log.NewNopLogger())

	frame := envelopeBytes(wire.HeartbeatRequest, nil)

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), []byte("k"), splinterid.PeerTokenPair{}, frame, &recordingSender{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch of unregistered type should not hang")
	}
}

func TestPoolRoutesSameKeyToSameExecutor(t *testing.T) {
	pool := NewPool(8, 64)
	defer pool.Shutdown()

	key := []byte{0, 0, 0, 0, 0, 0, 0, 42}
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		pool.WithExecutor(context.Background(), key, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected strict FIFO order for a single key, got %v at position %d (order=%v)", v, i, order)
		}
	}
}
