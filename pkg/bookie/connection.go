package bookie

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liufeiit/bookkeeper/pkg/bookie/wire"
)

// connState is the connection's lifecycle state (spec.md §4.4).
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// deferredOp is a continuation queued while a connect is
// in flight, run exactly once the attempt resolves (spec.md §3's
// deferred-op queue). err is nil on success, PeerUnavailable-flavored
// on failure.
type deferredOp func(err error)

// ErrPeerUnavailable and ErrClosed are the sentinel errors handed to
// deferred ops and returned from synchronous call sites; they are
// translated to the ErrorKind of the same name by the façade.
var (
	ErrPeerUnavailable = errors.New("bookie: peer unavailable")
	ErrClosed          = errors.New("bookie: client closed")
)

// connection implements the connection state machine (component D). It
// owns exactly one net.Conn at a time and the deferred-op queue that
// backs up while a connect attempt is outstanding.
//
// The state variable and deferred queue share a single mutex. A fast
// path reads state atomically without locking (spec.md §4.4); the slow
// path re-checks under the lock, enqueues if not Connected, and — when
// transitioning out of Disconnected — releases the lock before issuing
// the connect, so the connect listener never runs while the lock is
// held. Draining the deferred queue happens the same way: the queue is
// swapped for a fresh one under the lock, and the old queue's callbacks
// run outside it.
type connection struct {
	addr PeerAddress

	fastState atomic.Int32 // mirrors state for the lock-free peek

	mu       sync.Mutex
	state    connState
	deferred []deferredOp
	conn     net.Conn
	codec    *wire.Codec
	closed   bool

	writeMu sync.Mutex // serializes frame writes from any caller goroutine

	stream      StreamLayer
	dialTimeout time.Duration
	readTimeout time.Duration

	logger Logger

	onResponse   func(*wire.Response)
	onDisconnect func(reason error)
	onIdleTick   func()

	closeOnce sync.Once
}

func newConnection(addr PeerAddress, stream StreamLayer, cfg *ClientConfig) *connection {
	return &connection{
		addr:        addr,
		stream:      stream,
		dialTimeout: cfg.ReadTimeout,
		readTimeout: cfg.ReadTimeout,
		logger:      cfg.Logger,
	}
}

// ensureConnected runs op immediately with a nil error if already
// connected; otherwise queues it to run once the in-flight (or freshly
// initiated) connect attempt resolves.
func (c *connection) ensureConnected(op deferredOp) {
	if connState(c.fastState.Load()) == stateConnected {
		op(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		op(ErrClosed)
		return
	}
	switch c.state {
	case stateConnected:
		c.mu.Unlock()
		op(nil)
		return
	case stateConnecting:
		c.deferred = append(c.deferred, op)
		c.mu.Unlock()
		return
	default: // stateDisconnected
		c.deferred = append(c.deferred, op)
		c.state = stateConnecting
		c.fastState.Store(int32(stateConnecting))
		c.mu.Unlock()
		go c.dial()
		return
	}
}

func (c *connection) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()

	conn, err := c.stream.Dial(ctx, c.addr, c.dialTimeout)
	if err != nil {
		c.logger.Warnf("connect to %s failed: %v", c.addr, err)
		c.failConnect(ErrPeerUnavailable)
		return
	}

	codec := wire.NewCodec(bufio.NewReader(conn), bufio.NewWriter(conn))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.codec = codec
	c.state = stateConnected
	c.fastState.Store(int32(stateConnected))
	pending := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	go c.readLoop(conn, codec)

	for _, op := range pending {
		op(nil)
	}
}

func (c *connection) failConnect(reason error) {
	c.mu.Lock()
	c.state = stateDisconnected
	c.fastState.Store(int32(stateDisconnected))
	pending := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	for _, op := range pending {
		op(reason)
	}
}

// disconnect tears down the current connection (if any) and fails any
// ops still queued. If the connection was actually Connected, it also
// notifies onDisconnect so the caller can fail every outstanding
// completion with PeerUnavailable (spec.md §4.4).
func (c *connection) disconnect(reason error) {
	c.mu.Lock()
	if c.state == stateDisconnected {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == stateConnected
	c.state = stateDisconnected
	c.fastState.Store(int32(stateDisconnected))
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.codec = nil
	pending := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	for _, op := range pending {
		op(ErrPeerUnavailable)
	}

	if wasConnected && c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}

// close is idempotent: repeated calls after the first are no-ops.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.disconnect(ErrClosed)
	})
}

// write encodes and sends req on the current connection. Callers are
// expected to have already confirmed Connected via ensureConnected; a
// write that races a disconnect returns an error the caller treats as a
// local write failure (spec.md §4.5's error_out(key) path).
func (c *connection) write(req *wire.Request) error {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()
	if codec == nil {
		return ErrPeerUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return codec.EncodeRequest(req)
}

// readLoop pumps frames off conn until a fatal decode error or EOF,
// handling the idle-read-timeout case synchronously per spec.md §4.6
// without treating it as a disconnect.
func (c *connection) readLoop(conn net.Conn, codec *wire.Codec) {
	for {
		if c.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		resp, err := codec.DecodeResponse()
		if err != nil {
			if isTimeout(err) {
				if c.onIdleTick != nil {
					c.onIdleTick()
				}
				continue
			}
			if errors.Is(err, wire.ErrFrameTooLarge) {
				c.logger.Error("peer sent an oversized frame, disconnecting")
			} else if errors.Is(err, wire.ErrCorruptFrame) {
				c.logger.Error("peer sent a corrupt frame, disconnecting")
			}
			c.disconnect(err)
			return
		}

		if c.onResponse != nil {
			c.onResponse(resp)
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
