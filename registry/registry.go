// Package registry implements the TTL-bearing node directory cache
// SPEC_FULL.md §3 names as NodeRegistryEntry: a cached copy of
// SplinterNode kept close to the peer manager so a restarted node can
// dial known peers without waiting on a full directory replay.
//
// Grounded on consistenthash/cache.go's ConsistentHashCache: an
// in-memory map keyed by id, resolve-on-miss through a dedicated
// Resolver type rather than a raw driver handle, explicit
// Add/Remove-shaped mutators. Generalized here with an explicit TTL
// per entry (the teacher's cache lives for the process, this one must
// expire so a changed directory entry is eventually observed) and the
// Resolver backed by a mongo collection instead of
// consistenthash.Resolver's hash-code service.
package registry

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"splinterd.io/server/model"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
)

// Resolver fetches and upserts one node's directory document. Cache
// depends on this interface, not on *mongo.Collection directly, the
// same separation consistenthash.ConsistentHashCache draws between
// itself and its Resolver.
type Resolver interface {
	FetchNode(ctx context.Context, id splinterid.NodeId) (model.SplinterNode, error)
	UpsertNode(ctx context.Context, node model.SplinterNode) error
}

type cacheEntry struct {
	node    model.SplinterNode
	expires time.Time
}

// Cache is the read-through TTL cache fronting a Resolver.
type Cache struct {
	resolver Resolver
	ttl      time.Duration

	mu      sync.Mutex
	entries map[splinterid.NodeId]cacheEntry
}

func NewCache(resolver Resolver, ttl time.Duration) *Cache {
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		entries:  make(map[splinterid.NodeId]cacheEntry),
	}
}

// Get returns id's directory entry, resolving through the Resolver on
// a cache miss or an expired entry.
func (c *Cache) Get(ctx context.Context, id splinterid.NodeId) (model.SplinterNode, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if ok && time.Now().Before(e.expires) {
		return e.node, nil
	}

	node, err := c.resolver.FetchNode(ctx, id)
	if err != nil {
		return model.SplinterNode{}, err
	}
	c.store(node)
	return node, nil
}

// Put upserts node through the Resolver and refreshes its cache entry
// (SPEC_FULL.md: "TTL-refreshed from the routing table's authoritative
// state").
func (c *Cache) Put(ctx context.Context, node model.SplinterNode) error {
	if err := c.resolver.UpsertNode(ctx, node); err != nil {
		return err
	}
	c.store(node)
	return nil
}

func (c *Cache) store(node model.SplinterNode) {
	c.mu.Lock()
	c.entries[node.NodeId] = cacheEntry{node: node, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops id from the in-process cache only; the next Get
// re-resolves through the Resolver.
func (c *Cache) Invalidate(id splinterid.NodeId) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// MongoResolver implements Resolver over a mongo-driver collection,
// one document per node keyed by node_id.
type MongoResolver struct {
	collection *mongo.Collection
}

func NewMongoResolver(collection *mongo.Collection) *MongoResolver {
	return &MongoResolver{collection: collection}
}

type nodeDocument struct {
	NodeId    string   `bson:"_id"`
	Endpoints []string `bson:"endpoints"`
	PublicKey string   `bson:"public_key"`
}

func fromModel(n model.SplinterNode) nodeDocument {
	return nodeDocument{NodeId: string(n.NodeId), Endpoints: n.Endpoints, PublicKey: n.PublicKey}
}

func (d nodeDocument) toModel() model.SplinterNode {
	return model.SplinterNode{NodeId: splinterid.NodeId(d.NodeId), Endpoints: d.Endpoints, PublicKey: d.PublicKey}
}

func (r *MongoResolver) FetchNode(ctx context.Context, id splinterid.NodeId) (model.SplinterNode, error) {
	var doc nodeDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return model.SplinterNode{}, splerr.NewInvalidArgument("unknown node "+string(id), nil)
		}
		return model.SplinterNode{}, splerr.NewResourceTemporarilyUnavailable("resolve node from registry", err)
	}
	return doc.toModel(), nil
}

func (r *MongoResolver) UpsertNode(ctx context.Context, node model.SplinterNode) error {
	doc := fromModel(node)
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.NodeId}, doc, opts); err != nil {
		return splerr.NewResourceTemporarilyUnavailable("upsert node registry entry", err)
	}
	return nil
}
