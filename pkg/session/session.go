// Package session implements the Bridge/session API: the
// single entry point callers (an RPC handler, an embedded-mode caller, a
// CLI REPL) use to open sessions, manage their ns/db/variable/auth
// state, and drive queries through pkg/dbs's Executor.
//
// Bridge is one coordinating object wiring the KV store, the event
// broker, and auth/secrets collaborators behind a small set of exported
// methods; it owns sessions, open transactions, and live-query
// ownership.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/dbs"
	"github.com/cuemby/nexus/pkg/events"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/security"
	"github.com/cuemby/nexus/pkg/value"
)

// Parser is the external SQL lexer/parser collaborator. Bridge.Query
// consumes one instance to turn a query string into the []ast.Stmt stream
// pkg/dbs executes; a caller embedding nexus supplies the concrete parser.
type Parser interface {
	Parse(sql string) ([]ast.Stmt, error)
}

// protectedParams mirrors pkg/dbs's own list: a
// caller cannot clobber these via SetVariable either.
var protectedParams = map[string]bool{
	"auth": true, "session": true, "token": true, "this": true,
	"before": true, "after": true, "input": true, "value": true, "parent": true,
}

// AuthState is the per-session authentication result.
type AuthState struct {
	Authenticated bool
	NS, DB        string
	User          string
	Roles         []string
}

// Session is one caller-visible session: its own ns/db, variable bindings,
// and auth state, threaded through a persisted *dbs.Context across
// successive Query calls.
type Session struct {
	ID   uuid.UUID
	ctx  *dbs.Context
	Auth AuthState

	mu sync.Mutex
}

// openTxn is one explicitly-managed transaction, decoupled from the SQL-
// text BEGIN/COMMIT brackets pkg/dbs.Executor.Execute already handles for
// bare query strings.
type openTxn struct {
	ID      uuid.UUID
	Session uuid.UUID
	ctx     *dbs.Context
}

// Bridge is the top-level object a caller constructs once per running
// datastore.
type Bridge struct {
	Catalog *catalog.Catalog
	Store   kvs.Store
	Broker  *events.Broker
	Exec    *dbs.Executor
	Parser  Parser

	auth    *authenticator
	secrets *security.SecretsManager

	mu            sync.RWMutex
	sessions      map[uuid.UUID]*Session
	transactions  map[uuid.UUID]*openTxn
	liveOwners    map[uuid.UUID]uuid.UUID // live query id -> owning session id
	refreshTokens map[string]refreshRecord
}

// Config is the minimal wiring Bridge needs beyond the already-built
// collaborators, following pkg/config.DatastoreConfig's fields for
// default ns/db and the JWT signing secret.
type Config struct {
	DefaultNS, DefaultDB string
	JWTSecret            []byte
}

// NewBridge wires store/catalog/broker into one running datastore.
func NewBridge(cfg Config, store kvs.Store, parser Parser) *Bridge {
	cat := catalog.New()
	broker := events.NewBroker()
	exec := dbs.NewExecutor(store, cat, broker)
	passphrase := string(cfg.JWTSecret)
	if passphrase == "" {
		passphrase = "nexus-dev-signing-secret"
	}
	secrets, err := security.NewSecretsManagerFromPassphrase(passphrase)
	if err != nil {
		// Unreachable: the passphrase above is never empty.
		panic(err)
	}
	return &Bridge{
		Catalog:       cat,
		Store:         store,
		Broker:        broker,
		Exec:          exec,
		Parser:        parser,
		auth:          newAuthenticator(cfg.JWTSecret),
		secrets:       secrets,
		sessions:      map[uuid.UUID]*Session{},
		transactions:  map[uuid.UUID]*openTxn{},
		liveOwners:    map[uuid.UUID]uuid.UUID{},
		refreshTokens: map[string]refreshRecord{},
	}
}

// NewSession opens a session rooted at ns/db (either may be empty until the
// caller issues USE), returning its uuid v7 id.
func (b *Bridge) NewSession(ns, db string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("session: %w", err)
	}
	sess := &Session{
		ID:  id,
		ctx: dbs.NewContext(context.Background(), b.Exec, ns, db),
	}
	b.mu.Lock()
	b.sessions[id] = sess
	b.mu.Unlock()
	return id, nil
}

// CloseSession drops a session and unsubscribes every live query it still
// owns.
func (b *Bridge) CloseSession(id uuid.UUID) {
	b.mu.Lock()
	delete(b.sessions, id)
	for liveID, owner := range b.liveOwners {
		if owner == id {
			delete(b.liveOwners, liveID)
			b.Broker.Unsubscribe(liveID)
		}
	}
	for txnID, tx := range b.transactions {
		if tx.Session == id {
			delete(b.transactions, txnID)
		}
	}
	b.mu.Unlock()
}

func (b *Bridge) session(id uuid.UUID) (*Session, error) {
	b.mu.RLock()
	sess, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return nil, kerr.New(kerr.InvalidArguments, "unknown session %s", id)
	}
	return sess, nil
}

// Use implements the use(session_id, ns?, db?): setting db without ns
// clears db, matching pkg/dbs's USE semantics exactly (Bridge doesn't
// duplicate that logic; it builds a one-off ast.Use and runs it through
// Executor.EvalStatement against the session's persisted Context).
func (b *Bridge) Use(sessionID uuid.UUID, ns, db *string) error {
	sess, err := b.session(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	tx, err := b.Store.Transaction(sess.ctx, kvs.ReadWrite, kvs.Optimistic)
	if err != nil {
		return err
	}
	txCtx := sess.ctx.Clone()
	if err := txCtx.Attach(tx); err != nil {
		tx.Cancel(sess.ctx)
		return err
	}
	_, err = b.Exec.EvalStatement(txCtx, ast.Use{NS: ns, DB: db})
	txCtx.Detach()
	if err != nil {
		tx.Cancel(sess.ctx)
		return err
	}
	if err := tx.Commit(sess.ctx); err != nil {
		return err
	}
	sess.ctx = txCtx
	return nil
}

// SessionNSDB reports a session's current namespace/database, the
// read side of Use, useful for callers (and tests) that need to
// observe a USE statement's effect without re-running a query.
func (b *Bridge) SessionNSDB(id uuid.UUID) (ns, db string, err error) {
	sess, err := b.session(id)
	if err != nil {
		return "", "", err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.ctx.NS, sess.ctx.DB, nil
}

// SetVariable implements the set_variable, rejecting the same protected
// names LET does.
func (b *Bridge) SetVariable(sessionID uuid.UUID, name string, v value.Value) error {
	if protectedParams[name] {
		return kerr.New(kerr.InvalidParam, "$%s is a protected parameter name", name)
	}
	sess, err := b.session(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.ctx = sess.ctx.WithVar(name, v)
	return nil
}

// DropVariable implements the drop_variable.
func (b *Bridge) DropVariable(sessionID uuid.UUID, name string) error {
	sess, err := b.session(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.ctx = sess.ctx.WithoutVar(name)
	return nil
}
