package bookie

import (
	"context"
	"net"
	"time"
)

// StreamLayer is the transport factory collaborator named in spec.md
// §6: it creates a duplex byte channel to a target endpoint and
// supports the socket options a ClientConfig carries. It is consumed
// only through this interface — the socket/network transport
// primitives themselves are out of scope (spec.md §1).
type StreamLayer interface {
	Dial(ctx context.Context, addr PeerAddress, timeout time.Duration) (net.Conn, error)
}

// TCPStreamLayer is the default StreamLayer, dialing a plain TCP
// connection and applying TCPNoDelay/KeepAlive from the ClientConfig.
type TCPStreamLayer struct {
	TCPNoDelay bool
	KeepAlive  bool
}

func (t *TCPStreamLayer) Dial(ctx context.Context, addr PeerAddress, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(t.TCPNoDelay); err != nil {
			conn.Close()
			return nil, err
		}
		if t.KeepAlive {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}
	return conn, nil
}
