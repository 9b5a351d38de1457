package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

type fakeResolver struct {
	mu     sync.Mutex
	nodes  map[splinterid.NodeId]model.SplinterNode
	fetchN int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{nodes: make(map[splinterid.NodeId]model.SplinterNode)}
}

func (f *fakeResolver) FetchNode(ctx context.Context, id splinterid.NodeId) (model.SplinterNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchN++
	n, ok := f.nodes[id]
	if !ok {
		return model.SplinterNode{}, errNotFound
	}
	return n, nil
}

func (f *fakeResolver) UpsertNode(ctx context.Context, node model.SplinterNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node.NodeId] = node
	return nil
}

var errNotFound = errNotFoundType{}

type errNotFoundType struct{}

func (errNotFoundType) Error() string { return "node not found" }

func TestGetResolvesOnceThenServesFromCache(t *testing.T) {
	resolver := newFakeResolver()
	resolver.nodes["n1"] = model.SplinterNode{NodeId: "n1", Endpoints: []string{"10.0.0.1:8044"}}
	cache := NewCache(resolver, time.Hour)

	node, err := cache.Get(context.Background(), "n1")
	if err != nil || node.NodeId != "n1" {
		t.Fatalf("get: %v %+v", err, node)
	}
	if _, err := cache.Get(context.Background(), "n1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if resolver.fetchN != 1 {
		t.Fatalf("expected one resolver fetch, got %d", resolver.fetchN)
	}
}

func TestGetReResolvesAfterTTLExpiry(t *testing.T) {
	resolver := newFakeResolver()
	resolver.nodes["n1"] = model.SplinterNode{NodeId: "n1"}
	cache := NewCache(resolver, time.Millisecond)

	if _, err := cache.Get(context.Background(), "n1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := cache.Get(context.Background(), "n1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if resolver.fetchN != 2 {
		t.Fatalf("expected two resolver fetches after expiry, got %d", resolver.fetchN)
	}
}

func TestPutRefreshesCacheWithoutAFetch(t *testing.T) {
	resolver := newFakeResolver()
	cache := NewCache(resolver, time.Hour)

	node := model.SplinterNode{NodeId: "n1", Endpoints: []string{"10.0.0.2:8044"}}
	if err := cache.Put(context.Background(), node); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := cache.Get(context.Background(), "n1")
	if err != nil || got.Endpoints[0] != "10.0.0.2:8044" {
		t.Fatalf("expected cached node from Put, got %+v err=%v", got, err)
	}
	if resolver.fetchN != 0 {
		t.Fatalf("expected no fetch after Put pre-populated the cache, got %d", resolver.fetchN)
	}
}

func TestInvalidateForcesReResolve(t *testing.T) {
	resolver := newFakeResolver()
	resolver.nodes["n1"] = model.SplinterNode{NodeId: "n1"}
	cache := NewCache(resolver, time.Hour)

	cache.Get(context.Background(), "n1")
	cache.Invalidate("n1")
	cache.Get(context.Background(), "n1")
	if resolver.fetchN != 2 {
		t.Fatalf("expected invalidate to force a second fetch, got %d", resolver.fetchN)
	}
}

func TestNodeDocumentRoundTrip(t *testing.T) {
	n := model.SplinterNode{NodeId: "n1", Endpoints: []string{"a", "b"}, PublicKey: "abcd"}
	doc := fromModel(n)
	got := doc.toModel()
	if got.NodeId != n.NodeId || len(got.Endpoints) != 2 || got.PublicKey != n.PublicKey {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
