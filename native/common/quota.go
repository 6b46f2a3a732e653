package common

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counter for one originator.
type QuotaNow struct {
	ReqCount uint32
	EpochID  uint64
}

// Quota bounds how many calls an originator may make per epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32
	EpochSeconds        uint32
}

// Epoch returns the epoch containing unix timestamp now.
func (q Quota) Epoch(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether addReq more requests fit within the quota. The
// returned QuotaNow reflects the updated counters when the quota is not
// exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}
	return next, nil
}

// QuotaTracker applies a Quota per originator key. Unauthenticated entry
// points such as escrow initialization use it to bound creation spam.
type QuotaTracker struct {
	quota Quota
	nowFn func() int64

	mu    sync.Mutex
	usage map[string]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{
		quota: q,
		nowFn: func() int64 { return time.Now().Unix() },
		usage: make(map[string]QuotaNow),
	}
}

// SetNowFunc overrides the clock for tests.
func (t *QuotaTracker) SetNowFunc(now func() int64) {
	if now != nil {
		t.nowFn = now
	}
}

// Consume records one request for key.
func (t *QuotaTracker) Consume(key string) error {
	if t == nil || t.quota.MaxRequestsPerEpoch == 0 {
		return nil
	}
	epoch := t.quota.Epoch(t.nowFn())
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, epoch, t.usage[key], 1)
	if err != nil {
		return err
	}
	t.usage[key] = next
	for k, v := range t.usage {
		if v.EpochID != epoch {
			delete(t.usage, k)
		}
	}
	return nil
}
