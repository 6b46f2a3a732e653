package common

import (
	"errors"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaOverflow(t *testing.T) {
	prev := QuotaNow{ReqCount: ^uint32(0), EpochID: 3}
	if _, err := CheckQuota(Quota{}, 3, prev, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestQuotaTracker(t *testing.T) {
	now := int64(120)
	tracker := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 60})
	tracker.SetNowFunc(func() int64 { return now })

	for i := 0; i < 2; i++ {
		if err := tracker.Consume("10.0.0.1"); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
	if err := tracker.Consume("10.0.0.1"); !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if err := tracker.Consume("10.0.0.2"); err != nil {
		t.Fatalf("other originator should be unaffected: %v", err)
	}
	now += 60
	if err := tracker.Consume("10.0.0.1"); err != nil {
		t.Fatalf("expected quota reset in next epoch: %v", err)
	}
}

func TestGuard(t *testing.T) {
	pauses := NewPauses(map[string]bool{"Escrow": true})
	if err := Guard(pauses, "escrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	pauses.Set("escrow", false)
	if err := Guard(pauses, "escrow"); err != nil {
		t.Fatalf("expected unpaused, got %v", err)
	}
	if err := Guard(nil, "escrow"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
}
