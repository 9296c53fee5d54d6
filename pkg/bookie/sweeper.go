package bookie

import (
	"sync"
	"time"

	"github.com/liufeiit/bookkeeper/pkg/bookie/completion"
	"github.com/liufeiit/bookkeeper/pkg/bookie/concurrent"
)

// sweeper is component F: a periodic task that scans the completion
// table and fails every entry whose deadline has passed with
// RequestTimeout (spec.md §4.6). It also exposes SweepNow for the
// connection's idle-read-timeout case, which must run the exact same
// sweep synchronously rather than wait for the next tick.
type sweeper struct {
	table    *completion.Table
	disp     concurrent.Dispatcher
	interval time.Duration
	logger   Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newSweeper(table *completion.Table, disp concurrent.Dispatcher, interval time.Duration, logger Logger) *sweeper {
	return &sweeper{
		table:    table,
		disp:     disp,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *sweeper) start() {
	go s.run()
}

func (s *sweeper) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *sweeper) sweepOnce() {
	expired := s.table.Sweep(time.Now())
	for _, pending := range expired {
		s.fail(pending)
	}
}

// SweepNow runs one sweep pass immediately, synchronously with respect
// to the caller — used when the transport reports no bytes received
// within read_timeout (spec.md §4.6).
func (s *sweeper) SweepNow() {
	s.sweepOnce()
}

func (s *sweeper) fail(pending *completion.Pending) {
	s.disp.Submit(pending.LedgerID, func() {
		pending.Complete(uint8(RequestTimeout), pending.EntryID, nil, "")
	})
}

func (s *sweeper) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}
