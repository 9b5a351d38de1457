package mesh

import (
	"github.com/go-kit/kit/log"

	"splinterd.io/server/splinterid"
)

// Incoming is the bounded shared inbound channel view handed to
// callers outside this package, matching spec.md §4.1's
// `incoming.recv() -> InternalEnvelope`.
type Incoming struct {
	ch <-chan InternalEnvelope
}

// Recv blocks until an envelope is available. A Shutdown envelope, or
// a closed channel, both signal the reactor has stopped.
func (in Incoming) Recv() (InternalEnvelope, bool) {
	env, ok := <-in.ch
	return env, ok
}

// MeshHandle is the public facade spec.md §4.1 names: Control (Add /
// Remove / Shutdown) plus the Incoming channel, separated from the
// Reactor's internals so callers cannot reach into the connection map.
type MeshHandle struct {
	reactor *Reactor
}

func NewMeshHandle(cfg Config, logger log.Logger) *MeshHandle {
	return &MeshHandle{reactor: NewReactor(cfg, logger)}
}

func (m *MeshHandle) Add(conn Conn, remoteAuth, localAuth splinterid.PeerAuthToken) (splinterid.ConnectionId, error) {
	return m.reactor.Add(conn, remoteAuth, localAuth)
}

func (m *MeshHandle) Remove(id splinterid.ConnectionId) error {
	return m.reactor.Remove(id)
}

func (m *MeshHandle) Shutdown() {
	m.reactor.Shutdown()
}

func (m *MeshHandle) Incoming() Incoming {
	return Incoming{ch: m.reactor.incoming}
}

// Send enqueues payload for id without blocking; returns ErrFull if
// the outbound queue has no spare capacity.
func (m *MeshHandle) Send(id splinterid.ConnectionId, payload []byte) error {
	return m.reactor.sendTo(id, payload, false)
}

// SendBlocking enqueues payload for id, blocking until space is
// available (spec.md §4.1: "or blocks (bounded, capacity from config)").
func (m *MeshHandle) SendBlocking(id splinterid.ConnectionId, payload []byte) error {
	return m.reactor.sendTo(id, payload, true)
}
