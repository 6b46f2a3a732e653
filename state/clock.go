package state

import (
	"log/slog"
	"sync"
	"time"
)

var sequenceKey = []byte("ledger/sequence")

// Clock is the service clock: wall-clock seconds plus a monotonically
// increasing ledger sequence persisted across restarts.
type Clock struct {
	mgr    *Manager
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewClock loads the last persisted sequence from mgr.
func NewClock(mgr *Manager, logger *slog.Logger) (*Clock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Clock{mgr: mgr, logger: logger, now: time.Now}
	if _, err := mgr.KVGet(sequenceKey, &c.seq); err != nil {
		return nil, err
	}
	return c, nil
}

// SetNowFunc overrides the wall clock.
func (c *Clock) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.now = now
}

// Now returns the current unix timestamp in seconds.
func (c *Clock) Now() int64 { return c.now().Unix() }

// Sequence returns the last issued ledger sequence.
func (c *Clock) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Next issues the next ledger sequence. A failed write is logged; the value
// is still handed out so that in-flight calls keep a strictly increasing
// order within this process.
func (c *Clock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if err := c.mgr.KVPut(sequenceKey, c.seq); err != nil {
		c.logger.Error("persist ledger sequence", "sequence", c.seq, "error", err)
	}
	return c.seq
}
