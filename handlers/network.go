package handlers

import (
	"github.com/go-kit/kit/log"

	"splinterd.io/server/dispatch"
	"splinterd.io/server/wire"
)

// EchoHandler answers NetworkEcho by sending the same payload back to
// the sender, used for connection liveness probes (spec.md §6).
type EchoHandler struct {
	logger log.Logger
}

func NewEchoHandler(logger log.Logger) *EchoHandler { return &EchoHandler{logger: logger} }

func (h *EchoHandler) MatchType() wire.MessageType { return wire.NetworkEcho }

func (h *EchoHandler) Handle(ctx dispatch.Context, sender dispatch.Sender) error {
	env, err := wire.EncodeEnvelope(wire.Envelope{Type: wire.NetworkEcho, Payload: ctx.RawData})
	if err != nil {
		return err
	}
	return sender.Send(ctx.From, env)
}

// HeartbeatHandler answers HeartbeatRequest with HeartbeatResponse
// (spec.md §6); it carries no payload beyond the envelope type.
type HeartbeatHandler struct {
	logger log.Logger
}

func NewHeartbeatHandler(logger log.Logger) *HeartbeatHandler { return &HeartbeatHandler{logger: logger} }

func (h *HeartbeatHandler) MatchType() wire.MessageType { return wire.HeartbeatRequest }

func (h *HeartbeatHandler) Handle(ctx dispatch.Context, sender dispatch.Sender) error {
	env, err := wire.EncodeEnvelope(wire.Envelope{Type: wire.HeartbeatResponse})
	if err != nil {
		return err
	}
	return sender.Send(ctx.From, env)
}
