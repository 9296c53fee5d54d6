package bookie

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/liufeiit/bookkeeper/pkg/bookie/wire"
)

// pipeStreamLayer hands out one side of a net.Pipe per Dial call and
// lets the test drive the other side directly, playing the peer
// without a real socket.
type pipeStreamLayer struct {
	mu     sync.Mutex
	dials  int
	fail   bool
	onDial func(server net.Conn)
}

func (p *pipeStreamLayer) Dial(ctx context.Context, addr PeerAddress, timeout time.Duration) (net.Conn, error) {
	p.mu.Lock()
	fail := p.fail
	p.dials++
	p.mu.Unlock()

	if fail {
		return nil, ErrPeerUnavailable
	}

	client, server := net.Pipe()
	if p.onDial != nil {
		p.onDial(server)
	}
	return client, nil
}

func (p *pipeStreamLayer) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

func (p *pipeStreamLayer) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

// fakePeer plays the remote bookie on one side of a net.Pipe: it reads
// requests and lets the test script responses, or drop the connection,
// under its own control.
type fakePeer struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func newFakePeer(conn net.Conn) *fakePeer {
	return &fakePeer{conn: conn, reader: bufio.NewReader(conn), writer: bufio.NewWriter(conn)}
}

func (f *fakePeer) recv() (*wire.Request, error) {
	return wire.DecodeRequest(f.reader)
}

func (f *fakePeer) reply(resp *wire.Response) error {
	return wire.EncodeResponse(f.writer, resp)
}

func (f *fakePeer) replyAddOK(req *wire.AddRequest) error {
	return f.reply(&wire.Response{Add: &wire.AddResponse{
		Header:   wire.Header{Version: req.Version, OpType: wire.OpAdd, TxnID: req.TxnID},
		Status:   uint8(EOK),
		LedgerID: req.LedgerID,
		EntryID:  req.EntryID,
	}})
}

func (f *fakePeer) replyReadOK(req *wire.ReadRequest, resolvedEntryID int64, body []byte) error {
	return f.reply(&wire.Response{Read: &wire.ReadResponse{
		Header:   wire.Header{Version: req.Version, OpType: wire.OpRead, TxnID: req.TxnID},
		Status:   uint8(EOK),
		LedgerID: req.LedgerID,
		EntryID:  resolvedEntryID,
		Body:     body,
	}})
}

func (f *fakePeer) close() { f.conn.Close() }

func waitFor(t timeoutFataler, ch <-chan struct{}, d time.Duration, msg string) {
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("timed out waiting: %s", msg)
	}
}

type timeoutFataler interface {
	Fatalf(format string, args ...interface{})
}
