// Package mesh implements Splinter's connection reactor (spec.md §4.1):
// a single owner goroutine that exclusively mutates the connection
// map, fed by per-connection reader/writer goroutines whose channel
// sends/receives provide the readiness-polling and back-pressure
// behavior spec.md describes in terms of an epoll-style event loop.
//
// Grounded on network/connectionmanager.go's ConnectionManager (one
// owner goroutine draining a query channel, `servers`/`rmToServer`
// maps mutated only there) and network/connection.go's per-connection
// enqueueQuery/state-machine shape.
package mesh

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-kit/kit/log"
	cc "github.com/msackman/chancell"

	server "splinterd.io/server"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/wire"
)

// ErrFull is returned by a non-blocking Send when a connection's
// outbound queue has no spare capacity (spec.md §4.1).
var ErrFull = errors.New("mesh: outbound queue full")

// ErrNotFound is returned by Remove for an unknown ConnectionId.
var ErrNotFound = errors.New("mesh: connection not found")

// Conn is the minimal byte-stream contract the reactor needs; a
// transport.Transport's Conn field (a net.Conn) satisfies it, and tests
// can supply an in-memory net.Pipe-backed fake.
type Conn interface {
	io.ReadWriteCloser
}

// InternalEnvelope is what Incoming.Recv() yields (spec.md §4.1).
type InternalEnvelope struct {
	ConnectionId splinterid.ConnectionId
	Bytes        []byte
	Shutdown     bool
}

type controlMsg struct {
	add      *addRequest
	remove   *removeRequest
	shutdown bool
}

type addRequest struct {
	conn       Conn
	remoteAuth splinterid.PeerAuthToken
	localAuth  splinterid.PeerAuthToken
	reply      chan addReply
}

type addReply struct {
	id  splinterid.ConnectionId
	err error
}

type removeRequest struct {
	id    splinterid.ConnectionId
	reply chan removeReply
}

type removeReply struct {
	entry *connEntry
	err   error
}

type connEntry struct {
	id         splinterid.ConnectionId
	conn       Conn
	remoteAuth splinterid.PeerAuthToken
	localAuth  splinterid.PeerAuthToken
	outbound   chan []byte
	closeOnce  sync.Once
	closed     chan struct{}
}

func (e *connEntry) close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.conn.Close()
	})
}

// Reactor is the single-threaded connection multiplexer of spec.md §4.1.
// The control port is a chancell-managed query channel, the same
// resizable-cell/tail pattern network/connection.go's enqueueQuery
// uses, so a full control queue reports back-pressure to the caller
// (WithCell returning false) instead of silently blocking forever.
type Reactor struct {
	logger      log.Logger
	outgoingCap int
	incomingCap int

	queryChan         chan controlMsg
	cellTail          *cc.ChanCellTail
	enqueueQueryInner func(controlMsg, *cc.ChanCell, cc.CurCellConsumer) (bool, cc.CurCellConsumer)

	incoming     chan InternalEnvelope
	nextId       uint64
	done         chan struct{}
	mu           sync.Mutex // guards connections map for read-side helpers only; writer is the reactor goroutine
	connections  map[splinterid.ConnectionId]*connEntry
	shutdownOnce sync.Once
}

// Config bounds the reactor's channel capacities (spec.md §4.1:
// "bounded shared inbound channel", "bounded per-connection channels").
type Config struct {
	IncomingCapacity int
	OutgoingCapacity int
}

func DefaultConfig() Config {
	return Config{IncomingCapacity: 1024, OutgoingCapacity: 256}
}

// NewReactor constructs and starts a Reactor's owner goroutine.
func NewReactor(cfg Config, logger log.Logger) *Reactor {
	r := &Reactor{
		logger:      logger,
		outgoingCap: cfg.OutgoingCapacity,
		incomingCap: cfg.IncomingCapacity,
		incoming:    make(chan InternalEnvelope, cfg.IncomingCapacity),
		done:        make(chan struct{}),
		connections: make(map[splinterid.ConnectionId]*connEntry),
	}

	var head *cc.ChanCellHead
	head, r.cellTail = cc.NewChanCellTail(
		func(n int, cell *cc.ChanCell) {
			queryChan := make(chan controlMsg, n)
			cell.Open = func() { r.queryChan = queryChan }
			cell.Close = func() { close(queryChan) }
			r.enqueueQueryInner = func(msg controlMsg, curCell *cc.ChanCell, cont cc.CurCellConsumer) (bool, cc.CurCellConsumer) {
				if curCell == cell {
					select {
					case queryChan <- msg:
						return true, nil
					default:
						return false, nil
					}
				}
				return false, cont
			}
		})

	go r.run(head)
	return r
}

// enqueueControl pushes msg onto the control cell, matching
// network/connection.go's Connection.enqueueQuery exactly.
func (r *Reactor) enqueueControl(msg controlMsg) bool {
	var f cc.CurCellConsumer
	f = func(cell *cc.ChanCell) (bool, cc.CurCellConsumer) {
		return r.enqueueQueryInner(msg, cell, f)
	}
	return r.cellTail.WithCell(f)
}

// run is the reactor's single owner goroutine. All connection-map
// mutation happens here, satisfying spec.md §5's "All Connection
// mutation happens on this thread."  Control requests are the only
// traffic on this goroutine's select; reads happen in per-connection
// reader goroutines whose channel sends into r.incoming carry no
// per-turn budget (MaxEventsPerTurn is not used), with the Go
// runtime's netpoller multiplexing beneath net.Conn.Read.
func (r *Reactor) run(head *cc.ChanCellHead) {
	var queryChan <-chan controlMsg
	var queryCell *cc.ChanCell
	chanFun := func(cell *cc.ChanCell) { queryChan, queryCell = r.queryChan, cell }
	head.WithCell(chanFun)

	for {
		select {
		case cm, ok := <-queryChan:
			if !ok {
				head.Next(queryCell, chanFun)
				continue
			}
			r.handleControl(cm)
		case <-r.done:
			r.drainControlThenStop(queryChan)
			return
		}
	}
}

// drainControlThenStop fully drains any control requests queued
// before shutdown was requested, then closes every connection. This
// mirrors spec.md §4.1's "Control events are drained fully before
// returning to polling (prevents control starvation)" applied to the
// shutdown path itself.
func (r *Reactor) drainControlThenStop(queryChan <-chan controlMsg) {
	for {
		select {
		case cm, ok := <-queryChan:
			if !ok {
				r.closeAll()
				return
			}
			r.handleControl(cm)
		default:
			r.closeAll()
			return
		}
	}
}

func (r *Reactor) closeAll() {
	r.mu.Lock()
	for _, e := range r.connections {
		e.close()
	}
	r.connections = make(map[splinterid.ConnectionId]*connEntry)
	r.mu.Unlock()
}

func (r *Reactor) handleControl(cm controlMsg) {
	switch {
	case cm.add != nil:
		r.doAdd(cm.add)
	case cm.remove != nil:
		r.doRemove(cm.remove)
	}
}

func (r *Reactor) doAdd(req *addRequest) {
	id := splinterid.ConnectionId(atomic.AddUint64(&r.nextId, 1))
	entry := &connEntry{
		id:         id,
		conn:       req.conn,
		remoteAuth: req.remoteAuth,
		localAuth:  req.localAuth,
		outbound:   make(chan []byte, r.outgoingCap),
		closed:     make(chan struct{}),
	}

	r.mu.Lock()
	r.connections[id] = entry
	r.mu.Unlock()

	go r.readLoop(entry)
	go r.writeLoop(entry)

	req.reply <- addReply{id: id}
}

func (r *Reactor) doRemove(req *removeRequest) {
	r.mu.Lock()
	entry, found := r.connections[req.id]
	if found {
		delete(r.connections, req.id)
	}
	r.mu.Unlock()

	if !found {
		req.reply <- removeReply{err: ErrNotFound}
		return
	}
	entry.close()
	req.reply <- removeReply{entry: entry}
}

// readLoop reads complete frames from entry's connection and pushes
// them onto r.incoming, blocking (and thereby back-pressuring the
// socket read) when the shared inbound channel is full — spec.md
// §4.1: "if the inbound channel would block, the reactor stops
// reading from that connection until space is available." A single
// connection's I/O error removes that connection silently (spec.md
// §4.1 failure semantics): we never log at error level here, only at
// debug, and we never panic.
func (r *Reactor) readLoop(entry *connEntry) {
	var reader wire.FrameReader
	buf := make([]byte, 65536)
	for {
		n, err := entry.conn.Read(buf)
		if n > 0 {
			frames, ferr := reader.Feed(buf[:n])
			for _, f := range frames {
				select {
				case r.incoming <- InternalEnvelope{ConnectionId: entry.id, Bytes: f}:
				case <-entry.closed:
					return
				}
			}
			if ferr != nil {
				server.DebugLog(r.logger, "debug", "msg", "frame decode error, closing connection", "conn", entry.id, "error", ferr)
				r.selfRemove(entry.id)
				return
			}
		}
		if err != nil {
			server.DebugLog(r.logger, "debug", "msg", "connection closed", "conn", entry.id, "error", err)
			r.selfRemove(entry.id)
			return
		}
	}
}

// writeLoop drains entry's outbound queue until it would block,
// matching spec.md §4.1's "on writable readiness it drains its
// outbound queue until would-block" — here, a blocking channel recv
// stands in for the would-block readiness check, and Close() of the
// socket causes Write to fail, also leading to silent removal.
func (r *Reactor) writeLoop(entry *connEntry) {
	for {
		select {
		case payload, ok := <-entry.outbound:
			if !ok {
				return
			}
			if err := wire.WriteFrame(entry.conn, payload); err != nil {
				server.DebugLog(r.logger, "debug", "msg", "write error, closing connection", "conn", entry.id, "error", err)
				r.selfRemove(entry.id)
				return
			}
		case <-entry.closed:
			return
		}
	}
}

// selfRemove is called by a reader/writer goroutine discovering I/O
// failure; it removes the connection the same way an external Remove
// call would, but fires-and-forgets since nobody is waiting on a reply.
func (r *Reactor) selfRemove(id splinterid.ConnectionId) {
	reply := make(chan removeReply, 1)
	if r.enqueueControl(controlMsg{remove: &removeRequest{id: id, reply: reply}}) {
		<-reply
	}
}

// Add registers conn with the reactor and returns its ConnectionId.
func (r *Reactor) Add(conn Conn, remoteAuth, localAuth splinterid.PeerAuthToken) (splinterid.ConnectionId, error) {
	reply := make(chan addReply, 1)
	if !r.enqueueControl(controlMsg{add: &addRequest{conn: conn, remoteAuth: remoteAuth, localAuth: localAuth, reply: reply}}) {
		return 0, splerr.NewInvalidState("reactor is shut down", nil)
	}
	res := <-reply
	return res.id, res.err
}

// Remove deregisters id and closes its connection.
func (r *Reactor) Remove(id splinterid.ConnectionId) error {
	reply := make(chan removeReply, 1)
	if !r.enqueueControl(controlMsg{remove: &removeRequest{id: id, reply: reply}}) {
		return splerr.NewInvalidState("reactor is shut down", nil)
	}
	res := <-reply
	return res.err
}

// Shutdown stops the reactor: it enqueues a terminal envelope on the
// inbound channel and stops the reactor goroutine (spec.md §4.1).
func (r *Reactor) Shutdown() {
	r.shutdownOnce.Do(func() {
		close(r.done)
		select {
		case r.incoming <- InternalEnvelope{Shutdown: true}:
		default:
			// Incoming is full; deliver the terminal envelope as soon
			// as a Recv frees a slot.
			go func() { r.incoming <- InternalEnvelope{Shutdown: true} }()
		}
	})
}

// sendTo enqueues payload on id's outbound queue. blocking selects
// between a bounded wait and immediate ErrFull.
func (r *Reactor) sendTo(id splinterid.ConnectionId, payload []byte, blocking bool) error {
	r.mu.Lock()
	entry, found := r.connections[id]
	r.mu.Unlock()
	if !found {
		return ErrNotFound
	}

	if blocking {
		select {
		case entry.outbound <- payload:
			return nil
		case <-entry.closed:
			return ErrNotFound
		}
	}
	select {
	case entry.outbound <- payload:
		return nil
	case <-entry.closed:
		return ErrNotFound
	default:
		return ErrFull
	}
}

// Connections returns the ids of every currently registered
// connection. Connections are keyed only by ConnectionId here; mapping
// a PeerTokenPair to an id is left to callers (cmd/splinterd's
// connTracker).
func (r *Reactor) Connections() []splinterid.ConnectionId {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]splinterid.ConnectionId, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}

func (r *Reactor) String() string {
	return fmt.Sprintf("Reactor{connections=%d}", len(r.Connections()))
}
