// Package bookie implements a per-peer RPC client that multiplexes
// asynchronous AddEntry/ReadEntry requests to a single remote bookie
// over one long-lived ordered byte stream (spec.md §1).
package bookie

import (
	"sync"
	"time"

	"github.com/liufeiit/bookkeeper/pkg/bookie/completion"
	"github.com/liufeiit/bookkeeper/pkg/bookie/concurrent"
	"github.com/liufeiit/bookkeeper/pkg/bookie/wire"
)

// WriteCallback is invoked exactly once for every accepted add_entry
// call (spec.md §6).
type WriteCallback func(rc ErrorKind, ledgerID, entryID int64, peer PeerAddress, ctx interface{})

// ReadCallback is invoked exactly once for every accepted read_entry /
// read_entry_and_fence call (spec.md §6).
type ReadCallback func(rc ErrorKind, ledgerID, entryID int64, body []byte, ctx interface{})

// AddOptions carries the flag set an add_entry call may be issued with
// (spec.md §3's "options"). Today it holds only Recovery, but is a
// struct rather than a bare bool so a future flag does not need a new
// method signature.
type AddOptions struct {
	Recovery bool
}

// Client is the façade (component G): the public surface of this
// module. One Client talks to exactly one peer over one connection.
type Client struct {
	peer PeerAddress
	cfg  *ClientConfig

	conn    *connection
	table   *completion.Table
	disp    concurrent.Dispatcher
	router  *router
	sweeper *sweeper

	closed    bool
	closedMu  sync.Mutex
	closeOnce sync.Once
}

// NewClient constructs a Client for addr. The connection is not
// established eagerly — the first request triggers the initial
// connect, per spec.md §4.4.
func NewClient(addr PeerAddress, stream StreamLayer, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stream == nil {
		stream = &TCPStreamLayer{TCPNoDelay: cfg.TCPNoDelay, KeepAlive: cfg.KeepAlive}
	}

	table := completion.New()
	disp := concurrent.NewDispatcher()
	conn := newConnection(addr, stream, cfg)
	r := newRouter(addr, table, disp, conn, cfg)
	sw := newSweeper(table, disp, cfg.TimeoutTaskInterval, cfg.Logger)

	conn.onResponse = r.onResponse
	conn.onDisconnect = func(error) { r.disconnectAll() }
	conn.onIdleTick = sw.SweepNow

	sw.start()

	return &Client{
		peer:    addr,
		cfg:     cfg,
		conn:    conn,
		table:   table,
		disp:    disp,
		router:  r,
		sweeper: sw,
	}, nil
}

func (c *Client) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

// AddEntry appends payload as entryID on ledgerID, authorized by
// masterKey. cb fires exactly once (spec.md §4.5, §8 invariant 1).
func (c *Client) AddEntry(ledgerID int64, masterKey MasterKey, entryID int64, payload []byte, opts AddOptions, cb WriteCallback, ctx interface{}) {
	if c.isClosed() {
		cb(Closed, ledgerID, entryID, "", ctx)
		return
	}

	txnID := NextTxnID()
	startedAt := time.Now()
	pending := &completion.Pending{
		LedgerID:  ledgerID,
		EntryID:   entryID,
		OpType:    wire.OpAdd,
		StartedAt: startedAt,
		Deadline:  startedAt.Add(c.cfg.ReadTimeout),
		Complete: func(kind uint8, reportedEntryID int64, _ []byte, peerAddr string) {
			cb(ErrorKind(kind), ledgerID, reportedEntryID, PeerAddress(peerAddr), ctx)
		},
	}

	flag := wire.AddFlagNone
	if opts.Recovery {
		flag = wire.AddFlagRecoveryAdd
	}
	req := &wire.Request{Add: &wire.AddRequest{
		Header:    wire.Header{Version: LatestProtocolVersion, OpType: wire.OpAdd, TxnID: txnID},
		LedgerID:  ledgerID,
		EntryID:   entryID,
		MasterKey: masterKey,
		Body:      payload,
		Flag:      flag,
	}}

	c.conn.ensureConnected(func(err error) {
		if err != nil {
			c.router.deliver(pending, connectErrorKind(err), entryID, nil, "")
			return
		}
		c.router.buildAndSend(txnID, pending, req)
	})
}

// ReadEntry fetches entryID from ledgerID. Passing LastAddConfirmed as
// entryID asks the peer to resolve "the highest durably-replicated
// entry"; the callback reports back whichever entry id the peer
// actually resolved (spec.md §4.5 "Special read case").
func (c *Client) ReadEntry(ledgerID, entryID int64, cb ReadCallback, ctx interface{}) {
	c.readEntry(ledgerID, entryID, nil, wire.ReadFlagNone, cb, ctx)
}

// ReadEntryAndFence behaves like ReadEntry but sets the fence flag on
// the request, asking the peer to fence ledgerID against further
// appends (spec.md §4.5). masterKey is not sent to the peer: the read
// request carries no master-key field.
func (c *Client) ReadEntryAndFence(ledgerID int64, masterKey MasterKey, entryID int64, cb ReadCallback, ctx interface{}) {
	c.readEntry(ledgerID, entryID, masterKey, wire.ReadFlagFence, cb, ctx)
}

func (c *Client) readEntry(ledgerID, entryID int64, masterKey MasterKey, flag uint8, cb ReadCallback, ctx interface{}) {
	if c.isClosed() {
		cb(Closed, ledgerID, entryID, nil, ctx)
		return
	}

	txnID := NextTxnID()
	startedAt := time.Now()
	pending := &completion.Pending{
		LedgerID:  ledgerID,
		EntryID:   entryID,
		OpType:    wire.OpRead,
		StartedAt: startedAt,
		Deadline:  startedAt.Add(c.cfg.ReadTimeout),
		Complete: func(kind uint8, reportedEntryID int64, body []byte, _ string) {
			cb(ErrorKind(kind), ledgerID, reportedEntryID, body, ctx)
		},
	}

	req := &wire.Request{Read: &wire.ReadRequest{
		Header:   wire.Header{Version: LatestProtocolVersion, OpType: wire.OpRead, TxnID: txnID},
		LedgerID: ledgerID,
		EntryID:  entryID,
		Flag:     flag,
	}}
	_ = masterKey // not sent: wire.ReadRequest has no master-key field

	c.conn.ensureConnected(func(err error) {
		if err != nil {
			c.router.deliver(pending, connectErrorKind(err), entryID, nil, "")
			return
		}
		c.router.buildAndSend(txnID, pending, req)
	})
}

// Close terminates the transport, stops the timeout sweeper, and fails
// every outstanding completion with PeerUnavailable. Idempotent: a
// second call is a no-op (spec.md §4.7).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.conn.close()
		c.router.disconnectAll()
		c.sweeper.stop()
		c.disp.Stop()
		c.router.close()
	})
}

func connectErrorKind(err error) ErrorKind {
	if err == ErrClosed {
		return Closed
	}
	return PeerUnavailable
}
