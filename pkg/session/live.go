package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/events"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// recordLiveOwnership binds a freshly registered LIVE query id to the
// session that issued it. Executor.execLive tracks the table it watches;
// Bridge separately tracks which session owns which live id, since
// ownership is session/connection state, not executor state.
func (b *Bridge) recordLiveOwnership(sessionID uuid.UUID, stmts []ast.Stmt, chunks []QueryChunk) {
	for i, stmt := range stmts {
		if _, ok := stmt.(ast.Live); !ok {
			continue
		}
		if i >= len(chunks) || chunks[i].Err != nil {
			continue
		}
		if chunks[i].Result.Tag != value.TagUUID {
			continue
		}
		b.mu.Lock()
		b.liveOwners[chunks[i].Result.UUID] = sessionID
		b.mu.Unlock()
	}
}

// notifyPollInterval is how often Notifications checks for newly
// registered live queries belonging to its session; new live queries
// only need to be picked up, not polled for data (the underlying
// per-live-query channel is itself pushed to by Broker.Publish).
const notifyPollInterval = 200 * time.Millisecond

// Notifications implements the notifications(): a merged stream of every
// Notification produced by live queries the session currently owns. The
// returned cancel func stops the fan-in goroutines; it does not itself KILL
// the underlying live queries.
func (b *Bridge) Notifications(sessionID uuid.UUID) (<-chan events.Notification, func(), error) {
	if _, err := b.session(sessionID); err != nil {
		return nil, nil, err
	}

	out := make(chan events.Notification, 64)
	done := make(chan struct{})

	go func() {
		seen := map[uuid.UUID]bool{}
		var fanins []chan struct{}
		defer func() {
			for _, stop := range fanins {
				close(stop)
			}
		}()
		ticker := time.NewTicker(notifyPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				b.mu.RLock()
				for liveID, owner := range b.liveOwners {
					if owner != sessionID || seen[liveID] {
						continue
					}
					sub, ok := b.Broker.Channel(liveID)
					if !ok {
						continue
					}
					seen[liveID] = true
					stop := make(chan struct{})
					fanins = append(fanins, stop)
					go fanIn(sub, out, stop)
				}
				b.mu.RUnlock()
			}
		}
	}()

	return out, func() { close(done) }, nil
}

func fanIn(sub events.Subscriber, out chan<- events.Notification, stop <-chan struct{}) {
	for {
		select {
		case n, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- n:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

// ExportConfig selects which tables Export streams.
type ExportConfig struct {
	NS, DB string
	Tables []string // empty means every table the catalog knows about
}

// Export streams a minimal SurrealQL-shaped dump: a header per table
// followed by one UPDATE ... CONTENT line per record, in 4 KiB buffered
// writes. The statement text is rendered from Value.String, so replaying
// it is the supplied Parser's concern, not this Bridge's.
func (b *Bridge) Export(w io.Writer, cfg ExportConfig) error {
	tables := cfg.Tables
	if len(tables) == 0 {
		for _, t := range b.Catalog.Tables(cfg.NS, cfg.DB) {
			tables = append(tables, t.Name)
		}
	}

	tx, err := b.Store.Transaction(context.Background(), kvs.ReadOnly, kvs.Optimistic)
	if err != nil {
		return err
	}
	defer tx.Cancel(context.Background())

	bw := bufio.NewWriterSize(w, 4096)
	for _, tb := range tables {
		if _, ok := b.Catalog.Table(cfg.NS, cfg.DB, tb); !ok {
			continue
		}
		if _, err := fmt.Fprintf(bw, "-- table: %s\n", tb); err != nil {
			return err
		}
		begin := keys.RecordKeyPrefix(cfg.NS, cfg.DB, tb)
		end := keys.PrefixUpperBound(keys.TablePrefix(cfg.NS, cfg.DB, tb))
		it, err := tx.Stream(context.Background(), begin, end, 0, kvs.Forward)
		if err != nil {
			return err
		}
		for {
			kv, ok, err := it.Next(context.Background())
			if err != nil {
				it.Close()
				return err
			}
			if !ok {
				break
			}
			doc, err := value.Decode(kv.Value)
			if err != nil {
				it.Close()
				return err
			}
			id := value.Get(doc, value.ParseIdiom("id"))
			if _, err := fmt.Fprintf(bw, "UPDATE %s CONTENT %s;\n", id.String(), doc.String()); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()
	}
	return bw.Flush()
}

// Import reads a byte stream (an Export dump or an equivalent external one)
// in 4 KiB chunks, parses it once fully buffered, and replays it as a
// single query batch under OPTION IMPORT = true. A 4 KiB read chunk size
// bounds how much of the transport buffer is held at once even though the
// parser itself needs the whole document; a streaming parser is an external
// collaborator's concern, not this Bridge's.
func (b *Bridge) Import(sessionID uuid.UUID, r io.Reader) error {
	if _, err := b.session(sessionID); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	var body []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(body) == 0 {
		return nil
	}

	stmts, err := b.Parser.Parse(string(body))
	if err != nil {
		return err
	}
	stmts = append([]ast.Stmt{ast.Option{Name: "IMPORT", Value: true}}, stmts...)
	stmts = append(stmts, ast.Option{Name: "IMPORT", Value: false})

	_, err = b.QueryParsed(sessionID, stmts, nil)
	return err
}
