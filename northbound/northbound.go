// Package northbound reconciles declarative BFD configuration with the
// running engine. Each attribute path binds to one callback implementing
// the four-phase commit protocol: every change in a transaction is
// VALIDATEd before any side effect, PREPAREd so resources can be staged
// without committing them, then APPLYed; any failure ABORTs the prepared
// changes in reverse order.
package northbound

import (
	"fmt"
	"log/slog"

	"github.com/c-po/frr/bfd"
)

// Event is the phase a callback is being invoked for.
type Event int

const (
	EventValidate Event = iota
	EventPrepare
	EventApply
	EventAbort
)

func (e Event) String() string {
	switch e {
	case EventValidate:
		return "validate"
	case EventPrepare:
		return "prepare"
	case EventApply:
		return "apply"
	case EventAbort:
		return "abort"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Operation is the kind of change applied to a node.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDestroy
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDestroy:
		return "destroy"
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Resource carries what PREPARE staged into APPLY and ABORT. One field per
// resource kind keeps the staging typed; only session creation stages
// anything today.
type Resource struct {
	Session *bfd.Session
}

// Args is handed to a callback on every phase of its change.
type Args struct {
	Event    Event
	Node     *Node
	Resource *Resource
}

type callbackFunc func(Args) error

// Callbacks binds one attribute path to its phase machines. A nil handler
// means the operation is a no-op for that path.
type Callbacks struct {
	Path    string
	Create  callbackFunc
	Modify  callbackFunc
	Destroy callbackFunc
}

// Northbound dispatches configuration transactions against the BFD engine
// and tracks which running node each session or profile was created from.
type Northbound struct {
	bs        *bfd.Server
	callbacks map[string]*Callbacks // key is schema path
	running   map[string]any        // key is instance path, value *bfd.Session or *bfd.Profile
}

func New(bs *bfd.Server) *Northbound {
	nb := &Northbound{
		bs:        bs,
		callbacks: make(map[string]*Callbacks),
		running:   make(map[string]any),
	}
	nb.registerCallbacks()
	return nb
}

// HasCallbacks reports whether the schema path binds to a callback.
func (nb *Northbound) HasCallbacks(schemaPath string) bool {
	_, ok := nb.callbacks[schemaPath]
	return ok
}

// Running-configuration entry bindings, the "node -> object" map the
// callbacks commit into.

func (nb *Northbound) runningSetEntry(n *Node, v any) {
	nb.running[n.Path()] = v
}

func (nb *Northbound) runningUnsetEntry(n *Node) any {
	p := n.Path()
	v := nb.running[p]
	delete(nb.running, p)
	return v
}

// runningGetEntry walks from n towards the root until a bound entry is
// found, so leaf callbacks resolve the session or profile they belong to.
func (nb *Northbound) runningGetEntry(n *Node) any {
	for cur := n; cur != nil; cur = cur.parent {
		if v, ok := nb.running[cur.Path()]; ok {
			return v
		}
	}
	return nil
}

func (nb *Northbound) runningSession(n *Node) *bfd.Session {
	bs, _ := nb.runningGetEntry(n).(*bfd.Session)
	if bs == nil {
		panic("northbound: no session bound at " + n.Path())
	}
	return bs
}

func (nb *Northbound) runningProfile(n *Node) *bfd.Profile {
	bp, _ := nb.runningGetEntry(n).(*bfd.Profile)
	if bp == nil {
		panic("northbound: no profile bound at " + n.Path())
	}
	return bp
}

// Change is one node-level edit inside a transaction.
type Change struct {
	Op   Operation
	Node *Node

	cbs      *Callbacks
	resource Resource
	prepared bool
}

func (c *Change) handler() callbackFunc {
	switch c.Op {
	case OpCreate:
		return c.cbs.Create
	case OpModify:
		return c.cbs.Modify
	case OpDestroy:
		return c.cbs.Destroy
	}
	return nil
}

func (c *Change) invoke(ev Event) error {
	h := c.handler()
	if h == nil {
		return nil
	}
	return h(Args{Event: ev, Node: c.Node, Resource: &c.resource})
}

// Transaction is one candidate configuration commit. The host enqueues
// changes in document order and commits; transactions never interleave.
type Transaction struct {
	nb      *Northbound
	changes []*Change
}

func (nb *Northbound) NewTransaction() *Transaction {
	return &Transaction{nb: nb}
}

// Add enqueues a change. Nodes whose schema path has no registered
// callback are silently skipped.
func (t *Transaction) Add(op Operation, node *Node) {
	cbs := t.nb.callbacks[node.SchemaPath()]
	if cbs == nil {
		return
	}
	t.changes = append(t.changes, &Change{Op: op, Node: node, cbs: cbs})
}

// Len returns the number of effective changes in the transaction.
func (t *Transaction) Len() int {
	return len(t.changes)
}

// Commit drives the whole change set through the phase protocol. On any
// error the transaction is rolled back and no configuration state changes;
// the returned error carries the failing path and reason.
func (t *Transaction) Commit() error {
	// Validation runs across the full set before any side effect.
	for _, c := range t.changes {
		if err := c.invoke(EventValidate); err != nil {
			return fmt.Errorf("validate %s %s: %w", c.Op, c.Node.Path(), err)
		}
	}

	for i, c := range t.changes {
		if err := c.invoke(EventPrepare); err != nil {
			t.abort(i)
			return fmt.Errorf("prepare %s %s: %w", c.Op, c.Node.Path(), err)
		}
		c.prepared = true
	}

	for _, c := range t.changes {
		if err := c.invoke(EventApply); err != nil {
			t.abort(len(t.changes))
			return fmt.Errorf("apply %s %s: %w", c.Op, c.Node.Path(), err)
		}
	}
	return nil
}

// abort unwinds the first n changes in reverse prepare order.
func (t *Transaction) abort(n int) {
	for i := n - 1; i >= 0; i-- {
		c := t.changes[i]
		if !c.prepared {
			continue
		}
		if err := c.invoke(EventAbort); err != nil {
			slog.Warn("northbound: abort failed", "op", c.Op, "path", c.Node.Path(), "err", err)
		}
	}
}
