package bookie

import (
	"strconv"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/liufeiit/bookkeeper/pkg/bookie/completion"
	"github.com/liufeiit/bookkeeper/pkg/bookie/concurrent"
	"github.com/liufeiit/bookkeeper/pkg/bookie/wire"
)

// unknownTxnLogTTL bounds how long the router stays quiet about a given
// unknown txn id after having already warned about it once. A peer that
// replays or double-sends a stale response would otherwise spam the log
// once per repeated frame.
const unknownTxnLogTTL = 30 * time.Second

// router is component E: it builds outbound requests, inserts their
// completion into the table, writes the encoded frame, and — on the
// read side — looks responses up by txn_id and dispatches the
// op-typed handler on the ordered executor (spec.md §4.5).
type router struct {
	peer   PeerAddress
	table  *completion.Table
	disp   concurrent.Dispatcher
	conn   *connection
	cfg    *ClientConfig
	logger Logger

	// unknownTxnWarned tracks txn ids this router has already logged a
	// "dropping response for unknown txn id" warning for, so a peer that
	// keeps re-sending the same stale frame doesn't flood the log.
	unknownTxnWarned *ttlcache.Cache
}

func newRouter(peer PeerAddress, table *completion.Table, disp concurrent.Dispatcher, conn *connection, cfg *ClientConfig) *router {
	warned := ttlcache.NewCache()
	warned.SetTTL(unknownTxnLogTTL)
	return &router{peer: peer, table: table, disp: disp, conn: conn, cfg: cfg, logger: cfg.Logger, unknownTxnWarned: warned}
}

// close releases the router's own resources. It does not touch the
// completion table, dispatcher, or connection — those are owned and
// closed independently by the façade.
func (r *router) close() {
	r.unknownTxnWarned.Close()
}

// buildAndSend inserts pending into the completion table under txnID,
// encodes req, and writes it on conn. On a local write failure the
// pending completion is removed and failed immediately with
// PeerUnavailable — the error_out(key) path of spec.md §4.5 — instead
// of waiting for a timeout that will never be satisfied by a response.
func (r *router) buildAndSend(txnID int64, pending *completion.Pending, req *wire.Request) {
	if !r.table.Insert(txnID, pending) {
		r.logger.Errorf("duplicate transaction id %d, dropping request", txnID)
		return
	}

	if err := r.conn.write(req); err != nil {
		r.errorOut(txnID, PeerUnavailable)
	}
}

// errorOut removes txnID from the table, if still present, and fails
// its completion with kind. A miss (already removed by a response, a
// sweep, or a disconnect) is a silent no-op, matching the table's
// at-most-one-callback invariant.
func (r *router) errorOut(txnID int64, kind ErrorKind) {
	pending, ok := r.table.Remove(txnID)
	if !ok {
		return
	}
	r.deliver(pending, kind, pending.EntryID, nil, "")
}

// onResponse is wired as the connection's onResponse hook. It looks the
// response up by txn_id, and — for unknown ids — logs and drops it
// (spec.md §4.5).
func (r *router) onResponse(resp *wire.Response) {
	header := resp.ResponseHeader()
	pending, ok := r.table.Remove(header.TxnID)
	if !ok {
		key := strconv.FormatInt(header.TxnID, 10)
		if _, alreadyWarned := r.unknownTxnWarned.Get(key); !alreadyWarned {
			r.unknownTxnWarned.Set(key, true)
			r.logger.Warnf("dropping response for unknown txn id %d", header.TxnID)
		}
		return
	}

	switch {
	case resp.Add != nil:
		r.handleAddResponse(pending, resp.Add)
	case resp.Read != nil:
		r.handleReadResponse(pending, resp.Read)
	default:
		r.logger.Errorf("response for txn %d carries no payload", header.TxnID)
	}
}

func (r *router) handleAddResponse(pending *completion.Pending, resp *wire.AddResponse) {
	kind := errorKindForAdd(StatusCode(resp.Status))
	r.deliver(pending, kind, resp.EntryID, nil, string(r.peer))
}

func (r *router) handleReadResponse(pending *completion.Pending, resp *wire.ReadResponse) {
	kind := errorKindForRead(StatusCode(resp.Status))
	var body []byte
	if kind == Ok {
		body = resp.Body
	}
	r.deliver(pending, kind, resp.EntryID, body, string(r.peer))
}

// deliver submits the user callback to the ordered executor, keyed by
// the pending op's ledger_id, and records a latency sample. The sample
// is taken here, before submission; the actual callback invocation
// happens later, whenever the executor (C) admits it.
func (r *router) deliver(pending *completion.Pending, kind ErrorKind, entryID int64, body []byte, peerAddr string) {
	latency := time.Since(pending.StartedAt)
	op := OperationType(pending.OpType)
	if kind == Ok {
		r.cfg.Metrics.RegisterSuccessfulEvent(op, latency)
	} else {
		r.cfg.Metrics.RegisterFailedEvent(op, latency)
	}

	ledgerID := pending.LedgerID
	r.disp.Submit(ledgerID, func() {
		pending.Complete(uint8(kind), entryID, body, peerAddr)
	})
}

// disconnectAll fails every pending completion with PeerUnavailable,
// dispatched on (C) exactly like a real response would be. Wired as
// the connection's onDisconnect hook, and reused verbatim by Close()
// once the connection itself has been torn down.
func (r *router) disconnectAll() {
	for _, pending := range r.table.Drain() {
		r.deliver(pending, PeerUnavailable, pending.EntryID, nil, "")
	}
}
