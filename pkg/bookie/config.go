package bookie

import (
	"fmt"
	"time"
)

const (
	// maxClientReadTimeout bounds ReadTimeout the way the teacher's
	// ValidateTransportConfiguration bounds its own transport timeout.
	maxClientReadTimeout = 5 * time.Minute

	// MaxFrameLength is the largest payload (in bytes) the frame codec
	// (component A) will decode before surfacing FrameTooLarge.
	MaxFrameLength = 2 * 1024 * 1024 // 2 MiB, spec.md §4.1

	// LatestProtocolVersion is the wire header version this client sends
	// on every request (spec.md §6).
	LatestProtocolVersion uint8 = 0
)

// ClientConfig carries the ambient configuration a Client is
// constructed with: per-request timeout, socket options the transport
// factory should apply, the sweeper's scan period, and the logging and
// metrics collaborators. Modeled on the teacher's
// BaseConfiguration/TransportConfiguration pairing.
type ClientConfig struct {
	// ReadTimeout is both the per-request deadline (spec.md §3,
	// `deadline = started_at + read_timeout`) and the transport's
	// read-timeout used to detect an idle connection (spec.md §4.6).
	ReadTimeout time.Duration

	// TCPNoDelay and KeepAlive are passed through to the transport
	// factory (spec.md §6 consumed interfaces).
	TCPNoDelay bool
	KeepAlive  bool

	// TimeoutTaskInterval is the sweeper's scan period (spec.md §4.6).
	TimeoutTaskInterval time.Duration

	Logger  Logger
	Metrics MetricsSink
}

// DefaultClientConfig returns a ClientConfig with the teacher-style
// sane defaults: a 5s read timeout, TCP_NODELAY on, keep-alive on, and
// a 1s sweep interval.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ReadTimeout:         5 * time.Second,
		TCPNoDelay:          true,
		KeepAlive:           true,
		TimeoutTaskInterval: time.Second,
		Logger:              NewDefaultLogger(),
		Metrics:             NoopMetrics{},
	}
}

// Validate checks a ClientConfig for internal consistency, filling in
// defaults for fields left unset, mirroring
// ValidateTransportConfiguration's pattern of "fix or reject."
func (c *ClientConfig) Validate() error {
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("bookie: read timeout must be positive, got %v", c.ReadTimeout)
	}
	if c.ReadTimeout > maxClientReadTimeout {
		return fmt.Errorf("bookie: read timeout too high %v, max is %v", c.ReadTimeout, maxClientReadTimeout)
	}
	if c.TimeoutTaskInterval <= 0 {
		return fmt.Errorf("bookie: timeout task interval must be positive, got %v", c.TimeoutTaskInterval)
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
	return nil
}
