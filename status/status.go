// Package status implements the status-tree consumer SPEC_FULL.md's
// ambient stack names: a way for every long-lived component to report
// a human-readable status line on demand without that component
// needing to know who's asking or how the result gets rendered.
//
// Grounded on the StatusConsumer/StatusEmitter usage visible throughout
// the teacher (paxos/acceptor.go's Status, txnengine/vardispatcher.go's
// Status, cmd/goshawkdb/main.go's signalStatus/addStatusEmitter): Emit
// appends a line, Fork hands a child emitter its own sub-consumer, Join
// marks one consumer's subtree complete, and the root's Wait blocks
// until every forked consumer in the tree has Joined before rendering
// indented text. The teacher's own status package implementation isn't
// in the source this module was built from — only its call sites are —
// so this is a fresh implementation of the pattern those call sites
// describe, not a copy of teacher code.
package status

import (
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// StatusConsumer collects Emit lines into an indented tree mirroring a
// StatusEmitter call hierarchy.
type StatusConsumer struct {
	wg *sync.WaitGroup

	mu       sync.Mutex
	lines    []string
	children []*StatusConsumer
	joined   bool
}

// NewStatusConsumer creates the root of a status tree. The caller must
// eventually call Join on it exactly once, after every Fork it handed
// out has itself been Joined (directly or by the emitter it was passed
// to).
func NewStatusConsumer() *StatusConsumer {
	wg := new(sync.WaitGroup)
	wg.Add(1)
	return &StatusConsumer{wg: wg}
}

// Emit appends one line to this consumer's own text, ahead of any
// forked children.
func (sc *StatusConsumer) Emit(line string) {
	sc.mu.Lock()
	sc.lines = append(sc.lines, line)
	sc.mu.Unlock()
}

// Fork returns a child consumer nested one level deeper in the
// rendered tree. The tree's root Wait will not return until the
// returned consumer is Joined.
func (sc *StatusConsumer) Fork() *StatusConsumer {
	sc.wg.Add(1)
	child := &StatusConsumer{wg: sc.wg}
	sc.mu.Lock()
	sc.children = append(sc.children, child)
	sc.mu.Unlock()
	return child
}

// Join marks sc complete. Must be called exactly once per consumer
// (including the root) once its Emit/Fork calls are done; a second
// call is a programmer error and panics, the same way a second
// sync.WaitGroup.Done past zero would.
func (sc *StatusConsumer) Join() {
	sc.mu.Lock()
	if sc.joined {
		sc.mu.Unlock()
		panic("status: StatusConsumer.Join called twice")
	}
	sc.joined = true
	sc.mu.Unlock()
	sc.wg.Done()
}

// Wait blocks until every consumer in the tree rooted at sc has
// Joined, then renders the collected lines as indented text.
func (sc *StatusConsumer) Wait() string {
	sc.wg.Wait()
	var b strings.Builder
	sc.render(&b, 0)
	return b.String()
}

func (sc *StatusConsumer) render(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	sc.mu.Lock()
	lines := append([]string(nil), sc.lines...)
	children := append([]*StatusConsumer(nil), sc.children...)
	sc.mu.Unlock()
	for _, l := range lines {
		b.WriteString(indent)
		b.WriteString(l)
		b.WriteString("\n")
	}
	for _, c := range children {
		c.render(b, depth+1)
	}
}

// StatusEmitter is implemented by components that can describe
// themselves on demand (scabbard.Service, admin.Service).
type StatusEmitter interface {
	Status(sc *StatusConsumer)
}

// Tree is the JSON-marshalable projection of a StatusConsumer's
// subtree, for operator tooling that wants structured status rather
// than the indented text Wait renders.
type Tree struct {
	Lines    []string `json:"lines,omitempty"`
	Children []Tree   `json:"children,omitempty"`
}

func (sc *StatusConsumer) tree() Tree {
	sc.mu.Lock()
	lines := append([]string(nil), sc.lines...)
	children := append([]*StatusConsumer(nil), sc.children...)
	sc.mu.Unlock()

	t := Tree{Lines: lines}
	for _, c := range children {
		t.Children = append(t.Children, c.tree())
	}
	return t
}

// WaitJSON blocks like Wait, but renders the tree as pretty-printed
// JSON rather than indented text, for tooling that wants structured
// status.
func (sc *StatusConsumer) WaitJSON() (string, error) {
	sc.wg.Wait()
	data, err := json.Marshal(sc.tree())
	if err != nil {
		return "", err
	}
	return string(pretty.Pretty(data)), nil
}

// LookupJSON extracts path (gjson dot/array-index syntax, e.g.
// "children.0.lines.0") from a status dump previously produced by
// WaitJSON, for operator tooling that wants one field without
// unmarshaling the whole tree.
func LookupJSON(doc, path string) string {
	return gjson.Get(doc, path).String()
}
