package dispatch

import (
	"context"

	"github.com/go-kit/kit/log"

	server "splinterd.io/server"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/wire"
)

// Context is handed to a Handler alongside the decoded message so it
// can forward the original bytes verbatim (spec.md §4.3: "ctx carries
// the original inbound bytes and type").
type Context struct {
	From    splinterid.PeerTokenPair
	RawType wire.MessageType
	RawData []byte
}

// Sender lets a Handler send bytes to a peer. A failed Send returns
// an error, which handlers wrap as a NetworkSendError DispatchError;
// the (peer, bytes) pair is not attached to it.
type Sender interface {
	Send(peer splinterid.PeerTokenPair, payload []byte) error
}

// Handler decodes and acts on one registered MessageType.
type Handler interface {
	MatchType() wire.MessageType
	Handle(ctx Context, sender Sender) error
}

// Dispatcher routes inbound (PeerTokenPair, envelope) pairs to the
// Handler registered for the envelope's type, on the keyed worker
// pool so all traffic for one peer key is strictly ordered (spec.md
// §4.3, §5).
type Dispatcher struct {
	pool     *Pool
	logger   log.Logger
	handlers map[wire.MessageType]Handler
}

func NewDispatcher(pool *Pool, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		logger:   logger,
		handlers: make(map[wire.MessageType]Handler),
	}
}

// Register installs h for the MessageType it declares via MatchType.
// Registering a second Handler for an already-registered type
// replaces it — callers are expected to register once at startup.
func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.MatchType()] = h
}

// Dispatch decodes frame as an Envelope, looks up its Handler by key,
// and routes it to the pool executor idKey hashes to. Unregistered
// types are dropped with a warning (spec.md §4.3). Decode failures
// surface as DispatchError{DeserializationError}, but since Dispatch
// is itself asynchronous (the work happens inside the pool), decode
// failures are logged rather than returned — callers that need the
// error synchronously should call wire.DecodeEnvelope themselves
// before calling Dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, idKey []byte, from splinterid.PeerTokenPair, frame []byte, sender Sender) bool {
	return d.pool.WithExecutor(ctx, idKey, func() {
		env, err := wire.DecodeEnvelope(frame)
		if err != nil {
			server.CheckWarn(splerr.NewDispatchError(splerr.DeserializationError, err), d.logger)
			return
		}
		h, ok := d.handlers[env.Type]
		if !ok {
			d.logger.Log("msg", "dropping message of unregistered type", "type", env.Type.String())
			return
		}
		hctx := Context{From: from, RawType: env.Type, RawData: env.Payload}
		if err := h.Handle(hctx, sender); err != nil {
			server.CheckWarn(splerr.NewDispatchError(splerr.HandleError, err), d.logger)
		}
	})
}
