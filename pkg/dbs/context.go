package dbs

import (
	"context"
	"sync/atomic"

	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/events"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// Options carries the session-level toggles DEFINE/OPTION statements
// flip.
type Options struct {
	Force  bool
	Import bool
}

// txnOwner is the single-owner guard a transaction-carrying Context
// shares with every clone derived from it (WithVar, WithNS, ...): it
// holds the attached kvs.Transaction plus an in-use flag set by CAS
// rather than a mutex, so a second acquire of the same owner is a
// programming error (kerr.Unreachable) instead of a silent block.
type txnOwner struct {
	tx     kvs.Transaction
	inUse  int32
}

func (o *txnOwner) acquire() error {
	if !atomic.CompareAndSwapInt32(&o.inUse, 0, 1) {
		return kerr.UnreachableErr("transaction already attached to another context")
	}
	return nil
}

func (o *txnOwner) release() { atomic.StoreInt32(&o.inUse, 0) }

// Context is the per-statement evaluation environment compute() threads
// through every expression. It embeds context.Context for cancellation/
// deadlines and is otherwise immutable: every With*
// method returns a new *Context sharing the parent's vars map under
// copy-on-write: deriving a narrowed view of shared state rather than
// mutating it in place.
type Context struct {
	context.Context

	NS, DB string

	vars    map[string]value.Value
	Catalog *catalog.Catalog
	Broker  *events.Broker
	Options Options

	owner *txnOwner

	// pendingKNN carries a k-NN query vector from crud.go's planning step
	// to indexSource.ThingIterator (see indexsource.go's hnswQuery doc).
	pendingKNN *hnswQuery

	Exec *Executor

	// Scope carries the document-pipeline bindings ($before/$input/
	// $after/$value) while compute() evaluates a field/permission/view
	// expression on behalf of doc.Pipeline or view.Maintainer.
	Scope *doc.Scope

	// stack bounds nested Block/For recursion. It lives on the Context rather
	// than the Executor: a Context tree is only ever walked by the one session
	// task that owns it, so one *Stack per session root bounds nesting
	// without a shared counter racing across concurrent sessions.
	stack *Stack
}

// NewContext builds the root Context for one session, unattached to any
// transaction until Attach is called.
func NewContext(parent context.Context, exec *Executor, ns, db string) *Context {
	return &Context{
		Context: parent,
		NS:      ns,
		DB:      db,
		vars:    map[string]value.Value{},
		Catalog: exec.Catalog,
		Broker:  exec.Broker,
		Exec:    exec,
		stack:   NewStack(),
	}
}

// clone returns a shallow copy of c; callers mutate only fields they
// intend to narrow.
func (c *Context) clone() *Context {
	cp := *c
	return &cp
}

// Clone is clone's exported form, used by pkg/session to derive a
// transaction-attached working copy of a session's persisted Context
// without disturbing the session's own reference to it.
func (c *Context) Clone() *Context { return c.clone() }

// WithoutVar returns a derived Context with name unbound, leaving the
// parent's bindings untouched.
func (c *Context) WithoutVar(name string) *Context {
	cp := c.clone()
	next := make(map[string]value.Value, len(c.vars))
	for k, v := range c.vars {
		if k == name {
			continue
		}
		next[k] = v
	}
	cp.vars = next
	return cp
}

// WithVar returns a derived Context binding name to v, leaving the parent's
// bindings untouched.
func (c *Context) WithVar(name string, v value.Value) *Context {
	cp := c.clone()
	next := make(map[string]value.Value, len(c.vars)+1)
	for k, v := range c.vars {
		next[k] = v
	}
	next[name] = v
	cp.vars = next
	return cp
}

// Var resolves a $-prefixed parameter, returning NONE if unbound.
func (c *Context) Var(name string) value.Value {
	if v, ok := c.vars[name]; ok {
		return v
	}
	return value.None()
}

// WithNSDB returns a derived Context scoped to a different namespace/
// database.
func (c *Context) WithNSDB(ns, db string) *Context {
	cp := c.clone()
	cp.NS, cp.DB = ns, db
	return cp
}

// WithScope returns a derived Context carrying sc as the document
// pipeline's current binding, consumed by docEvaluator.Eval when
// resolving $value/$before/$input/$after.
func (c *Context) WithScope(sc doc.Scope) *Context {
	cp := c.clone()
	cp.Scope = &sc
	return cp
}

// WithKNN returns a derived Context carrying a pending k-NN search
// request for the next IterIndex collection against an HNSW index.
func (c *Context) WithKNN(query []float64, k, ef int) *Context {
	cp := c.clone()
	cp.pendingKNN = &hnswQuery{Query: query, K: k, Ef: ef}
	return cp
}

// Attach binds tx as the transaction this Context (and every Context
// cloned from it afterward) issues reads/writes against. Each call wraps
// tx in a fresh owner and acquires it, so the acquire always succeeds:
// Attach does not detect the same handle being attached to another
// Context, nor a Context that already holds an attached transaction.
func (c *Context) Attach(tx kvs.Transaction) error {
	owner := &txnOwner{tx: tx}
	if err := owner.acquire(); err != nil {
		return err
	}
	c.owner = owner
	return nil
}

// Detach releases the transaction so a later Attach can reuse the slot.
func (c *Context) Detach() {
	if c.owner != nil {
		c.owner.release()
	}
}

// Tx returns the attached transaction, or kerr.Unreachable if none is
// attached — every compute() path that touches storage must run inside
// an Executor-opened transaction, so a nil owner here is a bug in the
// executor, not a user-facing condition.
func (c *Context) Tx() (kvs.Transaction, error) {
	if c.owner == nil {
		return nil, kerr.UnreachableErr("no transaction attached to context")
	}
	return c.owner.tx, nil
}
