package bookie

import (
	"testing"
	"time"

	"github.com/liufeiit/bookkeeper/pkg/bookie/completion"
	"github.com/liufeiit/bookkeeper/pkg/bookie/concurrent"
	"github.com/liufeiit/bookkeeper/pkg/bookie/wire"
	"go.uber.org/goleak"
)

func testRouter(t *testing.T) (*router, *completion.Table, concurrent.Dispatcher, *connection) {
	table := completion.New()
	disp := concurrent.NewDispatcher()
	cfg := testConfig()
	conn := newConnection("peer:3181", &pipeStreamLayer{}, cfg)
	return newRouter("peer:3181", table, disp, conn, cfg), table, disp, conn
}

func TestRouter_OnResponseDropsUnknownTxnID(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, table, disp, conn := testRouter(t)
	defer r.close()
	defer conn.close()
	defer disp.Stop()

	// No Insert happened, so this txn id is unknown; onResponse must not
	// panic and must leave the table untouched.
	r.onResponse(&wire.Response{Add: &wire.AddResponse{
		Header: wire.Header{OpType: wire.OpAdd, TxnID: 999},
		Status: uint8(EOK),
	}})

	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d entries", table.Len())
	}
}

func TestRouter_OnResponseDeliversExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, table, disp, conn := testRouter(t)
	defer r.close()
	defer conn.close()
	defer disp.Stop()

	done := make(chan struct{})
	var calls int
	pending := &completion.Pending{
		LedgerID:  1,
		EntryID:   7,
		OpType:    wire.OpAdd,
		StartedAt: time.Now(),
		Deadline:  time.Now().Add(time.Minute),
		Complete: func(status uint8, reportedEntryID int64, body []byte, peerAddr string) {
			calls++
			close(done)
		},
	}
	table.Insert(42, pending)

	resp := &wire.Response{Add: &wire.AddResponse{
		Header:   wire.Header{OpType: wire.OpAdd, TxnID: 42},
		Status:   uint8(EOK),
		LedgerID: 1,
		EntryID:  7,
	}}
	r.onResponse(resp)
	r.onResponse(resp) // duplicate delivery must be a no-op: table.Remove already emptied it

	waitFor(t, done, time.Second, "delivery")
	if calls != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", calls)
	}
}

func TestRouter_ErrorOutIsANoOpOnceAlreadyRemoved(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, table, disp, conn := testRouter(t)
	defer r.close()
	defer conn.close()
	defer disp.Stop()

	pending := &completion.Pending{
		LedgerID: 1,
		EntryID:  1,
		OpType:   wire.OpAdd,
		Deadline: time.Now().Add(time.Minute),
		Complete: func(status uint8, reportedEntryID int64, body []byte, peerAddr string) {
			t.Fatalf("should never run: txn was already removed")
		},
	}
	table.Insert(1, pending)
	table.Remove(1)

	r.errorOut(1, PeerUnavailable) // must not double-fire Complete
}

func TestRouter_DisconnectAllDrainsEveryPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, table, disp, conn := testRouter(t)
	defer r.close()
	defer conn.close()
	defer disp.Stop()

	n := 5
	done := make(chan struct{}, n)
	for i := int64(0); i < int64(n); i++ {
		pending := &completion.Pending{
			LedgerID: i,
			EntryID:  i,
			OpType:   wire.OpAdd,
			Deadline: time.Now().Add(time.Minute),
			Complete: func(status uint8, reportedEntryID int64, body []byte, peerAddr string) {
				if ErrorKind(status) != PeerUnavailable {
					t.Errorf("expected PeerUnavailable, got %s", ErrorKind(status))
				}
				done <- struct{}{}
			},
		}
		table.Insert(i, pending)
	}

	r.disconnectAll()

	for i := 0; i < n; i++ {
		waitFor(t, done, time.Second, "disconnectAll delivery")
	}
	if table.Len() != 0 {
		t.Fatalf("expected table drained, got %d remaining", table.Len())
	}
}
