package escrow

import (
	"errors"
	"math/big"
	"sync"
	"testing"
)

func TestSplitEarningsRoundsTowardProvider(t *testing.T) {
	cases := []struct {
		amount   int64
		fee      uint32
		protocol int64
		platform int64
		provider int64
	}{
		{amount: 100_000_000, fee: 300, protocol: 300_000, platform: 3_000_000, provider: 96_700_000},
		{amount: 333, fee: 300, protocol: 0, platform: 9, provider: 324},
		{amount: 10_000, fee: 0, protocol: 30, platform: 0, provider: 9_970},
		{amount: 1, fee: 9_970, protocol: 0, platform: 0, provider: 1},
		{amount: 10_000, fee: 9_970, protocol: 30, platform: 9_970, provider: 0},
	}
	for _, tc := range cases {
		split, err := SplitEarnings(big.NewInt(tc.amount), tc.fee)
		if err != nil {
			t.Fatalf("split %d@%d: %v", tc.amount, tc.fee, err)
		}
		if split.Protocol.Int64() != tc.protocol || split.Platform.Int64() != tc.platform || split.Provider.Int64() != tc.provider {
			t.Fatalf("split %d@%d = %s/%s/%s", tc.amount, tc.fee, split.Protocol, split.Platform, split.Provider)
		}
		if split.Total().Int64() != tc.amount {
			t.Fatalf("split %d@%d does not conserve value", tc.amount, tc.fee)
		}
	}
}

func TestSplitEarningsRejectsInvalidInput(t *testing.T) {
	if _, err := SplitEarnings(big.NewInt(0), 10); !errors.Is(err, ErrAmountCannotBeZero) {
		t.Fatalf("expected zero amount error, got %v", err)
	}
	if _, err := SplitEarnings(big.NewInt(-1), 10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := SplitEarnings(big.NewInt(1_000), 10_001); !errors.Is(err, ErrInvalidPlatformFee) {
		t.Fatalf("expected invalid platform fee, got %v", err)
	}
	if _, err := SplitEarnings(big.NewInt(10_000), 10_000); !errors.Is(err, ErrInvalidFeeConfiguration) {
		t.Fatalf("expected fee configuration error, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := SplitEarnings(huge, 10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
	wide := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := SplitEarnings(wide, 300); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected multiplication overflow rejection, got %v", err)
	}
}

func TestCodesAreStable(t *testing.T) {
	pinned := map[Code]string{
		1:  "EscrowNotFunded",
		3:  "EscrowAlreadyInitialized",
		6:  "EscrowFullyFunded",
		18: "EscrowNotFound",
		23: "OnlyPlatformAddressExecuteThisFunction",
		36: "EscrowAlreadyInDispute",
		45: "TransferFailed",
	}
	for code, name := range pinned {
		if code.String() != name {
			t.Fatalf("code %d renamed to %s", uint32(code), code.String())
		}
	}
	codes := Codes()
	if len(codes) != 45 {
		t.Fatalf("expected 45 codes, got %d", len(codes))
	}
	for i, code := range codes {
		if uint32(code) != uint32(i+1) {
			t.Fatalf("gap in code numbering at %d", i+1)
		}
	}
	if Code(999).String() != "Code(999)" {
		t.Fatalf("unexpected name for unknown code")
	}
}

func TestErrorMatchingByCode(t *testing.T) {
	err := newError(CodeInvalidMileStoneIndex, "index 9")
	if !errors.Is(err, ErrInvalidMileStoneIndex) {
		t.Fatalf("detail must not break code matching")
	}
	if errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("different codes must not match")
	}
	cause := errors.New("boom")
	wrapped := wrapError(CodeTransferFailed, cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("wrapped cause lost")
	}
	code, ok := CodeOf(wrapped)
	if !ok || code != CodeTransferFailed {
		t.Fatalf("CodeOf = %v, %v", code, ok)
	}
	if _, ok := CodeOf(cause); ok {
		t.Fatalf("plain errors carry no code")
	}
	if wrapped.Error() != "escrow: TransferFailed: boom" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	locks := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("eng")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d", counter)
	}
	if locks.size() != 0 {
		t.Fatalf("unused entries retained: %d", locks.size())
	}
}
