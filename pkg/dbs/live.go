package dbs

import (
	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/value"
)

// execLive registers a LIVE SELECT and returns the new live query's
// uuid. This implementation matches a live query at
// table granularity (every write to the watched table is offered to every
// live query registered on it) rather than re-evaluating the live SELECT's
// own WHERE/Fields per write.
func (ex *Executor) execLive(ctx *Context, l ast.Live) (value.Value, error) {
	if l.Select == nil || len(l.Select.What) == 0 {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "LIVE SELECT requires a single table source")
	}
	w := l.Select.What[0]
	if w.Kind != ast.WhatTable {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "LIVE SELECT only supports a bare table source")
	}

	id := uuid.New()
	ex.mu.Lock()
	ex.lives[id] = &liveQuery{ID: id, Table: w.Table}
	ex.mu.Unlock()
	metrics.LiveQueriesActive.Inc()

	if ex.Broker != nil {
		ex.Broker.Subscribe(id)
	}
	return value.ID(id), nil
}

// execKill implements the KILL: unsubscribe the live query and drop it from
// the registry. Killing an unknown or already-killed id is a no-op, not an
// error: idempotent delete.
func (ex *Executor) execKill(ctx *Context, k ast.Kill) (value.Value, error) {
	v, err := compute(ctx, k.LiveID)
	if err != nil {
		return value.Value{}, err
	}
	if v.Tag != value.TagUUID {
		return value.Value{}, kerr.New(kerr.InvalidArguments, "KILL requires a uuid")
	}
	ex.mu.Lock()
	_, ok := ex.lives[v.UUID]
	delete(ex.lives, v.UUID)
	ex.mu.Unlock()
	if ok {
		metrics.LiveQueriesActive.Dec()
	}
	if ok && ex.Broker != nil {
		ex.Broker.Unsubscribe(v.UUID)
	}
	return value.None(), nil
}

// execShow implements the SHOW CHANGES (the change-feed read surface): a
// minimal placeholder returning an empty change list, since full change-
// feed persistence is out of this implementation's scope, but the
// statement itself must still execute without error.
func (ex *Executor) execShow(ctx *Context, s ast.Show) (value.Value, error) {
	return value.Arr(), nil
}
