package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"engagement/assets"
	"engagement/core/events"
	"engagement/native/common"
)

type mockState struct {
	mu      sync.Mutex
	escrows map[string]*Escrow
	failPut error
}

func newMockState() *mockState {
	return &mockState{escrows: make(map[string]*Escrow)}
}

func (m *mockState) EscrowGet(_ context.Context, id string) (*Escrow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowPut(_ context.Context, esc *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	var current uint64
	if existing, ok := m.escrows[esc.EngagementID]; ok {
		current = existing.Version
	}
	if esc.Version != current+1 {
		return ErrConcurrentUpdate
	}
	m.escrows[esc.EngagementID] = esc.Clone()
	return nil
}

// testAuthorizer approves every identity unless denied and records calls.
type testAuthorizer struct {
	mu     sync.Mutex
	denied map[[20]byte]bool
	calls  [][20]byte
}

func (a *testAuthorizer) RequireAuth(_ context.Context, identity [20]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, identity)
	if a.denied[identity] {
		return errors.New("signature missing")
	}
	return nil
}

func (a *testAuthorizer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type capturingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (c *capturingEmitter) last() events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

// flakyLedger hides the batch capability of the wrapped ledger and fails the
// transfer with the given ordinal (1-based).
type flakyLedger struct {
	inner  *assets.MemLedger
	failOn int
	count  int
}

func (f *flakyLedger) Balance(ctx context.Context, asset, owner [20]byte) (*big.Int, error) {
	return f.inner.Balance(ctx, asset, owner)
}

func (f *flakyLedger) Transfer(ctx context.Context, asset, from, to [20]byte, amount *big.Int) error {
	f.count++
	if f.count == f.failOn {
		return errors.New("rpc unavailable")
	}
	return f.inner.Transfer(ctx, asset, from, to, amount)
}

func (f *flakyLedger) Allowance(ctx context.Context, asset, owner, spender [20]byte) (*big.Int, error) {
	return f.inner.Allowance(ctx, asset, owner, spender)
}

func (f *flakyLedger) Approve(ctx context.Context, asset, owner, spender [20]byte, amount *big.Int, expiration uint64) error {
	return f.inner.Approve(ctx, asset, owner, spender, amount, expiration)
}

func (f *flakyLedger) VaultAddress(engagementID string) ([20]byte, error) {
	return f.inner.VaultAddress(engagementID)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	testClient   = newTestAddress(0x01)
	testProvider = newTestAddress(0x02)
	testPlatform = newTestAddress(0x03)
	testSigner   = newTestAddress(0x04)
	testResolver = newTestAddress(0x05)
	testProtocol = newTestAddress(0x06)
	testAsset    = newTestAddress(0xA0)
	testStranger = newTestAddress(0xEE)
)

type testEnv struct {
	engine  *Engine
	state   *mockState
	ledger  *assets.MemLedger
	auth    *testAuthorizer
	emitter *capturingEmitter
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:  NewEngine(),
		state:   newMockState(),
		ledger:  assets.NewMemLedger(nil),
		auth:    &testAuthorizer{denied: map[[20]byte]bool{}},
		emitter: &capturingEmitter{},
	}
	env.engine.SetState(env.state)
	env.engine.SetLedger(env.ledger)
	env.engine.SetAuthorizer(env.auth)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return env
}

func testParams(id string, amount int64, feeBps uint32, milestones int) Params {
	ms := make([]Milestone, milestones)
	for i := range ms {
		ms[i] = Milestone{Description: fmt.Sprintf("deliverable %d", i+1), Status: "pending"}
	}
	return Params{
		EngagementID:    id,
		Client:          testClient,
		ServiceProvider: testProvider,
		PlatformAddress: testPlatform,
		ReleaseSigner:   testSigner,
		DisputeResolver: testResolver,
		Amount:          big.NewInt(amount),
		PlatformFee:     feeBps,
		Milestones:      ms,
	}
}

func (env *testEnv) initialize(t *testing.T, p Params) {
	t.Helper()
	if _, err := env.engine.InitializeEscrow(context.Background(), p); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func (env *testEnv) fundFully(t *testing.T, id string, amount int64) {
	t.Helper()
	if err := env.ledger.Mint(testAsset, testSigner, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.FundEscrow(context.Background(), id, testSigner, testAsset, big.NewInt(amount)); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (env *testEnv) flagAll(t *testing.T, id string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		if err := env.engine.ChangeMilestoneFlag(context.Background(), id, i, true, testClient); err != nil {
			t.Fatalf("flag milestone %d: %v", i, err)
		}
	}
}

func (env *testEnv) balance(t *testing.T, owner [20]byte) *big.Int {
	t.Helper()
	bal, err := env.ledger.Balance(context.Background(), testAsset, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) vault(t *testing.T, id string) [20]byte {
	t.Helper()
	vault, err := env.engine.VaultAddress(id)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return vault
}

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
}

func TestDistributeSplitsProtocolPlatformProvider(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-a", 100_000_000, 300, 2))
	env.fundFully(t, "eng-a", 100_000_000)
	env.flagAll(t, "eng-a", 2)

	if err := env.engine.DistributeEscrowEarnings(ctx, "eng-a", testSigner, testAsset, testProtocol); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := env.balance(t, testProtocol); got.Int64() != 300_000 {
		t.Fatalf("protocol fee = %s, want 300000", got)
	}
	if got := env.balance(t, testPlatform); got.Int64() != 3_000_000 {
		t.Fatalf("platform fee = %s, want 3000000", got)
	}
	if got := env.balance(t, testProvider); got.Int64() != 96_700_000 {
		t.Fatalf("provider amount = %s, want 96700000", got)
	}
	if got := env.balance(t, env.vault(t, "eng-a")); got.Sign() != 0 {
		t.Fatalf("vault balance = %s, want 0", got)
	}
	esc, err := env.engine.GetEscrowByID(ctx, "eng-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !esc.Distributed {
		t.Fatalf("expected escrow marked distributed")
	}
	payload, ok := events.Payload(env.emitter.last())
	if !ok || payload.Type != EventTypeEscrowDistributed {
		t.Fatalf("expected distributed event, got %v", env.emitter.types())
	}
	if payload.Attr("provider_amount") != "96700000" || payload.Attr("protocol_fee") != "300000" {
		t.Fatalf("unexpected event attributes %+v", payload.Attributes)
	}
}

func TestFeeConservationAcrossInputs(t *testing.T) {
	amounts := []int64{1, 7, 333, 10_001, 99_999_999, 100_000_000}
	fees := []uint32{0, 1, 250, 300, 9_970}
	for _, amount := range amounts {
		for _, fee := range fees {
			env := newTestEngine(t)
			id := fmt.Sprintf("eng-%d-%d", amount, fee)
			env.initialize(t, testParams(id, amount, fee, 1))
			env.fundFully(t, id, amount)
			env.flagAll(t, id, 1)
			if err := env.engine.DistributeEscrowEarnings(context.Background(), id, testSigner, testAsset, testProtocol); err != nil {
				t.Fatalf("distribute amount=%d fee=%d: %v", amount, fee, err)
			}
			total := new(big.Int).Add(env.balance(t, testProtocol), env.balance(t, testPlatform))
			total.Add(total, env.balance(t, testProvider))
			if total.Int64() != amount {
				t.Fatalf("amount=%d fee=%d paid out %s", amount, fee, total)
			}
		}
	}
}

func TestDepositAboveEscrowAmountRejected(t *testing.T) {
	env := newTestEngine(t)
	env.initialize(t, testParams("eng-b", 1_000, 300, 1))
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(5_000))
	err := env.engine.FundEscrow(context.Background(), "eng-b", testSigner, testAsset, big.NewInt(1_001))
	expectCode(t, err, ErrAmountToDepositGreatherThanEscrowAmount)
	if got := env.balance(t, testSigner); got.Int64() != 5_000 {
		t.Fatalf("signer balance changed: %s", got)
	}
}

func TestPlatformMismatchSkipsAuthorization(t *testing.T) {
	env := newTestEngine(t)
	env.initialize(t, testParams("eng-c", 1_000, 300, 1))
	before := env.auth.callCount()

	p := testParams("eng-c", 2_000, 100, 1)
	p.PlatformAddress = testStranger
	err := env.engine.ChangeEscrowProperties(context.Background(), p)
	expectCode(t, err, ErrOnlyPlatformAddressExecuteThisFunction)
	if env.auth.callCount() != before {
		t.Fatalf("authorization must not be attempted on platform mismatch")
	}
}

func TestResolverSplitsDisputedFunds(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-d", 100_000_000, 300, 2))
	env.fundFully(t, "eng-d", 100_000_000)

	if err := env.engine.ChangeDisputeFlag(ctx, "eng-d", testResolver); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.ResolvingDisputes(ctx, "eng-d", testResolver, testAsset, big.NewInt(40_000_000), big.NewInt(60_000_000)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := env.balance(t, testClient); got.Int64() != 40_000_000 {
		t.Fatalf("client balance = %s", got)
	}
	if got := env.balance(t, testProvider); got.Int64() != 60_000_000 {
		t.Fatalf("provider balance = %s", got)
	}
	if got := env.balance(t, env.vault(t, "eng-d")); got.Sign() != 0 {
		t.Fatalf("vault balance = %s", got)
	}
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-d")
	if !esc.DisputeFlag {
		t.Fatalf("dispute flag must remain set by default")
	}
}

func TestMilestoneIndexOutOfRange(t *testing.T) {
	env := newTestEngine(t)
	env.initialize(t, testParams("eng-e", 1_000, 300, 2))
	err := env.engine.ChangeMilestoneStatus(context.Background(), "eng-e", 10, "done", testProvider)
	expectCode(t, err, ErrInvalidMileStoneIndex)
	err = env.engine.ChangeMilestoneFlag(context.Background(), "eng-e", -1, true, testClient)
	expectCode(t, err, ErrInvalidMileStoneIndex)
}

func TestDistributionRequiresEveryMilestoneFlag(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-p2", 1_000, 300, 3))
	env.fundFully(t, "eng-p2", 1_000)
	for i := 0; i < 2; i++ {
		if err := env.engine.ChangeMilestoneFlag(ctx, "eng-p2", i, true, testClient); err != nil {
			t.Fatalf("flag: %v", err)
		}
	}
	err := env.engine.DistributeEscrowEarnings(ctx, "eng-p2", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrEscrowNotCompleted)

	env.initialize(t, testParams("eng-empty", 1_000, 300, 0))
	err = env.engine.DistributeEscrowEarnings(ctx, "eng-empty", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrNoMileStoneDefined)
}

func TestMilestoneRoleIsolation(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-p3", 1_000, 300, 2))

	for _, caller := range [][20]byte{testClient, testPlatform, testSigner, testResolver, testStranger} {
		err := env.engine.ChangeMilestoneStatus(ctx, "eng-p3", 0, "in progress", caller)
		expectCode(t, err, ErrOnlyServiceProviderChangeMilstoneStatus)
	}
	for _, caller := range [][20]byte{testProvider, testPlatform, testSigner, testResolver, testStranger} {
		err := env.engine.ChangeMilestoneFlag(ctx, "eng-p3", 0, true, caller)
		expectCode(t, err, ErrOnlyClientChangeMilstoneFlag)
	}

	if err := env.engine.ChangeMilestoneStatus(ctx, "eng-p3", 1, "  review ", testProvider); err != nil {
		t.Fatalf("status: %v", err)
	}
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-p3")
	if esc.Milestones[1].Status != "review" || esc.Milestones[0].Status != "pending" {
		t.Fatalf("unexpected milestones %+v", esc.Milestones)
	}
	if esc.Milestones[1].Flag || esc.Milestones[1].Description != "deliverable 2" {
		t.Fatalf("status change touched other fields: %+v", esc.Milestones[1])
	}
}

func TestDisputeFreezesFundingAndDistribution(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-p4", 1_000, 300, 1))
	env.fundFully(t, "eng-p4", 500)
	env.flagAll(t, "eng-p4", 1)
	if err := env.engine.ChangeDisputeFlag(ctx, "eng-p4", testResolver); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(500))
	err := env.engine.FundEscrow(ctx, "eng-p4", testSigner, testAsset, big.NewInt(500))
	expectCode(t, err, ErrEscrowOpenedForDisputeResolution)
	err = env.engine.DistributeEscrowEarnings(ctx, "eng-p4", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrInvalidState)
}

func TestGetEscrowByIDIsStable(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-p5", 1_000, 300, 2))
	first, err := env.engine.GetEscrowByID(ctx, "eng-p5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, _ := env.engine.GetEscrowByID(ctx, "eng-p5")
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("reads differ:\n%s\n%s", a, b)
	}
	first.Milestones[0].Status = "tampered"
	third, _ := env.engine.GetEscrowByID(ctx, "eng-p5")
	if third.Milestones[0].Status != "pending" {
		t.Fatalf("returned record aliases stored state")
	}
	if _, err := env.engine.GetEscrowByID(ctx, "missing"); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInitializeValidation(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	_, err := env.engine.InitializeEscrow(ctx, testParams("eng-zero", 0, 300, 1))
	expectCode(t, err, ErrAmountCannotBeZero)
	_, err = env.engine.InitializeEscrow(ctx, testParams("eng-neg", -5, 300, 1))
	expectCode(t, err, ErrInvalidAmount)
	_, err = env.engine.InitializeEscrow(ctx, testParams("eng-fee", 100, 10_001, 1))
	expectCode(t, err, ErrInvalidPlatformFee)
	_, err = env.engine.InitializeEscrow(ctx, testParams("eng-fee2", 100, 9_999, 1))
	expectCode(t, err, ErrInvalidFeeConfiguration)
	_, err = env.engine.InitializeEscrow(ctx, testParams("   ", 100, 0, 1))
	expectCode(t, err, ErrInvalidEngagementID)

	id, err := env.engine.InitializeEscrow(ctx, testParams(" eng-1 ", 100, 0, 1))
	if err != nil || id != "eng-1" {
		t.Fatalf("initialize returned %q, %v", id, err)
	}
	_, err = env.engine.InitializeEscrow(ctx, testParams("eng-1", 200, 0, 1))
	expectCode(t, err, ErrEscrowAlreadyInitialized)
	if env.auth.callCount() != 0 {
		t.Fatalf("initialize must not require authorization")
	}
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-1")
	if esc.DisputeFlag || esc.Amount.Int64() != 100 || esc.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected stored escrow %+v", esc)
	}
}

func TestFundingAccumulatesUntilFull(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-f", 1_000, 300, 1))
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(2_000))

	for i := 0; i < 2; i++ {
		if err := env.engine.FundEscrow(ctx, "eng-f", testSigner, testAsset, big.NewInt(500)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	if got := env.balance(t, env.vault(t, "eng-f")); got.Int64() != 1_000 {
		t.Fatalf("vault balance = %s", got)
	}
	err := env.engine.FundEscrow(ctx, "eng-f", testSigner, testAsset, big.NewInt(1))
	expectCode(t, err, ErrEscrowFullyFunded)
	if got := env.balance(t, env.vault(t, "eng-f")); got.Int64() != 1_000 {
		t.Fatalf("vault over-funded: %s", got)
	}
}

func TestDepositCappedAtOutstandingAmount(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-cap", 1_000, 300, 1))
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(2_000))

	if err := env.engine.FundEscrow(ctx, "eng-cap", testSigner, testAsset, big.NewInt(900)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	err := env.engine.FundEscrow(ctx, "eng-cap", testSigner, testAsset, big.NewInt(1_000))
	expectCode(t, err, ErrAmountToDepositGreatherThanEscrowAmount)
	err = env.engine.FundEscrow(ctx, "eng-cap", testSigner, testAsset, big.NewInt(101))
	expectCode(t, err, ErrAmountToDepositGreatherThanEscrowAmount)
	if got := env.balance(t, testSigner); got.Int64() != 1_100 {
		t.Fatalf("rejected deposits moved funds: signer holds %s", got)
	}
	if err := env.engine.FundEscrow(ctx, "eng-cap", testSigner, testAsset, big.NewInt(100)); err != nil {
		t.Fatalf("closing deposit: %v", err)
	}
	vault := env.vault(t, "eng-cap")
	if got := env.balance(t, vault); got.Int64() != 1_000 {
		t.Fatalf("vault balance = %s, want 1000", got)
	}

	env.flagAll(t, "eng-cap", 1)
	if err := env.engine.DistributeEscrowEarnings(ctx, "eng-cap", testSigner, testAsset, testProtocol); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := env.balance(t, vault); got.Sign() != 0 {
		t.Fatalf("vault keeps %s after distribution", got)
	}
}

func TestVaultRemainderRecoverableAfterDistribution(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-rem", 1_000, 300, 1))
	env.fundFully(t, "eng-rem", 1_000)
	vault := env.vault(t, "eng-rem")
	// funds sent to the vault outside FundEscrow
	_ = env.ledger.Mint(testAsset, vault, big.NewInt(900))
	env.flagAll(t, "eng-rem", 1)
	if err := env.engine.DistributeEscrowEarnings(ctx, "eng-rem", testSigner, testAsset, testProtocol); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := env.balance(t, vault); got.Int64() != 900 {
		t.Fatalf("vault balance = %s, want 900", got)
	}

	err := env.engine.ChangeEscrowProperties(ctx, testParams("eng-rem", 2_000, 300, 1))
	expectCode(t, err, ErrEscrowAlreadyCompleted)
	err = env.engine.ChangeDisputeFlag(ctx, "eng-rem", testClient)
	expectCode(t, err, ErrOnlyDisputeResolverCanExecuteThisFunction)
	if err := env.engine.ChangeDisputeFlag(ctx, "eng-rem", testResolver); err != nil {
		t.Fatalf("dispute after distribution: %v", err)
	}
	err = env.engine.ResolvingDisputes(ctx, "eng-rem", testResolver, testAsset, big.NewInt(901), big.NewInt(0))
	expectCode(t, err, ErrInsufficientFundsForResolution)
	if err := env.engine.ResolvingDisputes(ctx, "eng-rem", testResolver, testAsset, big.NewInt(900), big.NewInt(0)); err != nil {
		t.Fatalf("resolve remainder: %v", err)
	}
	if got := env.balance(t, vault); got.Sign() != 0 {
		t.Fatalf("vault keeps %s after resolution", got)
	}
	paid := new(big.Int).Add(env.balance(t, testProtocol), env.balance(t, testPlatform))
	paid.Add(paid, env.balance(t, testProvider))
	paid.Add(paid, env.balance(t, testClient))
	if paid.Int64() != 1_900 {
		t.Fatalf("paid out %s of 1900 held", paid)
	}
	err = env.engine.DistributeEscrowEarnings(ctx, "eng-rem", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrInvalidState)
}

func TestChangeMilestoneStatusLoadsBeforeValidatingText(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	long := strings.Repeat("x", MaxMilestoneText+1)
	err := env.engine.ChangeMilestoneStatus(ctx, "missing", 0, long, testProvider)
	expectCode(t, err, ErrEscrowNotFound)

	env.initialize(t, testParams("eng-txt", 1_000, 300, 1))
	err = env.engine.ChangeMilestoneStatus(ctx, "eng-txt", 0, long, testStranger)
	expectCode(t, err, ErrOnlyServiceProviderChangeMilstoneStatus)
	err = env.engine.ChangeMilestoneStatus(ctx, "eng-txt", 0, long, testProvider)
	expectCode(t, err, ErrInvalidMilestone)
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-txt")
	if esc.Milestones[0].Status != "pending" {
		t.Fatalf("rejected status was stored: %q", esc.Milestones[0].Status)
	}
}

func TestFundingPreconditions(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-fp", 1_000, 300, 1))

	err := env.engine.FundEscrow(ctx, "eng-fp", testClient, testAsset, big.NewInt(10))
	expectCode(t, err, ErrOnlySignerCanFundEscrow)
	err = env.engine.FundEscrow(ctx, "eng-fp", testSigner, testAsset, big.NewInt(10))
	expectCode(t, err, ErrSignerInsufficientFunds)
	err = env.engine.FundEscrow(ctx, "eng-fp", testSigner, testAsset, big.NewInt(0))
	expectCode(t, err, ErrAmountCannotBeZero)
	err = env.engine.FundEscrow(ctx, "missing", testSigner, testAsset, big.NewInt(10))
	expectCode(t, err, ErrEscrowNotFound)

	env.auth.denied[testSigner] = true
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(10))
	err = env.engine.FundEscrow(ctx, "eng-fp", testSigner, testAsset, big.NewInt(10))
	expectCode(t, err, ErrUnauthorized)
}

func TestDoubleDistributionRejected(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-dd", 1_000, 300, 1))
	env.fundFully(t, "eng-dd", 1_000)
	env.flagAll(t, "eng-dd", 1)
	if err := env.engine.DistributeEscrowEarnings(ctx, "eng-dd", testSigner, testAsset, testProtocol); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// a stray deposit into the vault must not enable a second payout
	vault := env.vault(t, "eng-dd")
	_ = env.ledger.Mint(testAsset, vault, big.NewInt(1_000))
	err := env.engine.DistributeEscrowEarnings(ctx, "eng-dd", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrEscrowAlreadyCompleted)
	err = env.engine.ChangeMilestoneFlag(ctx, "eng-dd", 0, false, testClient)
	expectCode(t, err, ErrEscrowAlreadyCompleted)
}

func TestDistributionPreconditions(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-dp", 1_000, 300, 1))
	env.flagAll(t, "eng-dp", 1)

	err := env.engine.DistributeEscrowEarnings(ctx, "eng-dp", testClient, testAsset, testProtocol)
	expectCode(t, err, ErrOnlyReleaseSignerCanClaimEarnings)
	err = env.engine.DistributeEscrowEarnings(ctx, "eng-dp", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrEscrowBalanceNotSufficienteToSendEarnings)
}

func TestDistributionRollsBackOnTransferFailure(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	flaky := &flakyLedger{inner: env.ledger}
	env.engine.SetLedger(flaky)
	env.initialize(t, testParams("eng-rb", 100_000, 300, 1))
	env.fundFully(t, "eng-rb", 100_000)
	env.flagAll(t, "eng-rb", 1)

	// the deposit was transfer 1; fail the provider leg (transfer 4)
	flaky.failOn = flaky.count + 3
	err := env.engine.DistributeEscrowEarnings(ctx, "eng-rb", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrTransferFailed)

	if got := env.balance(t, env.vault(t, "eng-rb")); got.Int64() != 100_000 {
		t.Fatalf("vault not restored: %s", got)
	}
	for _, who := range [][20]byte{testProtocol, testPlatform, testProvider} {
		if got := env.balance(t, who); got.Sign() != 0 {
			t.Fatalf("recipient kept funds after rollback: %s", got)
		}
	}
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-rb")
	if esc.Distributed {
		t.Fatalf("failed distribution persisted state")
	}
	for _, typ := range env.emitter.types() {
		if typ == EventTypeEscrowDistributed {
			t.Fatalf("event emitted for failed distribution")
		}
	}
}

func TestStoreFailureRevertsTransfers(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-sf", 1_000, 300, 1))
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(1_000))
	env.state.failPut = errors.New("disk full")

	if err := env.engine.FundEscrow(ctx, "eng-sf", testSigner, testAsset, big.NewInt(400)); err == nil {
		t.Fatalf("expected store failure")
	}
	if got := env.balance(t, testSigner); got.Int64() != 1_000 {
		t.Fatalf("signer not refunded after failed write: %s", got)
	}
	if got := env.balance(t, env.vault(t, "eng-sf")); got.Sign() != 0 {
		t.Fatalf("vault kept deposit after failed write: %s", got)
	}
}

func TestChangeEscrowPropertiesReplacesAndClearsDispute(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-cp", 1_000, 300, 2))
	env.flagAll(t, "eng-cp", 2)
	if err := env.engine.ChangeDisputeFlag(ctx, "eng-cp", testResolver); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	p := testParams("eng-cp", 5_000, 150, 0)
	p.Client = testStranger
	if err := env.engine.ChangeEscrowProperties(ctx, p); err != nil {
		t.Fatalf("change properties: %v", err)
	}
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-cp")
	if esc.DisputeFlag {
		t.Fatalf("dispute flag must be reset")
	}
	if esc.Client != testStranger || esc.Amount.Int64() != 5_000 || esc.PlatformFee != 150 || len(esc.Milestones) != 0 {
		t.Fatalf("properties not replaced: %+v", esc)
	}

	env.auth.denied[testPlatform] = true
	err := env.engine.ChangeEscrowProperties(ctx, testParams("eng-cp", 5_000, 150, 0))
	expectCode(t, err, ErrUnauthorized)
	delete(env.auth.denied, testPlatform)
	err = env.engine.ChangeEscrowProperties(ctx, testParams("eng-cp", 0, 150, 0))
	expectCode(t, err, ErrAmountCannotBeZero)
}

func TestChangeDisputeFlagRestrictedToResolver(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-df", 1_000, 300, 1))
	for _, caller := range [][20]byte{testClient, testProvider, testPlatform, testSigner, testStranger} {
		err := env.engine.ChangeDisputeFlag(ctx, "eng-df", caller)
		expectCode(t, err, ErrOnlyDisputeResolverCanExecuteThisFunction)
	}
	if err := env.engine.ChangeDisputeFlag(ctx, "eng-df", testResolver); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	err := env.engine.ChangeDisputeFlag(ctx, "eng-df", testResolver)
	expectCode(t, err, ErrEscrowAlreadyInDispute)
}

func TestResolvingDisputesPreconditions(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-rd", 1_000, 300, 1))
	env.fundFully(t, "eng-rd", 1_000)

	err := env.engine.ResolvingDisputes(ctx, "eng-rd", testResolver, testAsset, big.NewInt(1), big.NewInt(1))
	expectCode(t, err, ErrEscrowNotInDispute)
	if err := env.engine.ChangeDisputeFlag(ctx, "eng-rd", testResolver); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	err = env.engine.ResolvingDisputes(ctx, "eng-rd", testClient, testAsset, big.NewInt(1), big.NewInt(1))
	expectCode(t, err, ErrOnlyDisputeResolverCanExecuteThisFunction)
	err = env.engine.ResolvingDisputes(ctx, "eng-rd", testResolver, testAsset, big.NewInt(600), big.NewInt(401))
	expectCode(t, err, ErrInsufficientFundsForResolution)
	err = env.engine.ResolvingDisputes(ctx, "eng-rd", testResolver, testAsset, big.NewInt(-1), big.NewInt(0))
	expectCode(t, err, ErrInvalidAmount)

	// partial award leaves the remainder in the vault
	if err := env.engine.ResolvingDisputes(ctx, "eng-rd", testResolver, testAsset, big.NewInt(0), big.NewInt(700)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := env.balance(t, env.vault(t, "eng-rd")); got.Int64() != 300 {
		t.Fatalf("vault remainder = %s", got)
	}
	if got := env.balance(t, testClient); got.Sign() != 0 {
		t.Fatalf("zero award transferred funds: %s", got)
	}
}

func TestClearDisputeOnResolveConfig(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.engine.SetConfig(Config{ClearDisputeOnResolve: true})
	env.initialize(t, testParams("eng-cd", 1_000, 300, 1))
	env.fundFully(t, "eng-cd", 1_000)
	if err := env.engine.ChangeDisputeFlag(ctx, "eng-cd", testResolver); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.ResolvingDisputes(ctx, "eng-cd", testResolver, testAsset, big.NewInt(100), big.NewInt(0)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	esc, _ := env.engine.GetEscrowByID(ctx, "eng-cd")
	if esc.DisputeFlag {
		t.Fatalf("dispute flag should be cleared when configured")
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	env.initialize(t, testParams("eng-pause", 1_000, 300, 1))
	pauses := common.NewPauses(map[string]bool{ModuleName: true})
	env.engine.SetPauses(pauses)

	_, err := env.engine.InitializeEscrow(ctx, testParams("eng-other", 1_000, 300, 1))
	expectCode(t, err, ErrModulePaused)
	err = env.engine.ChangeMilestoneStatus(ctx, "eng-pause", 0, "x", testProvider)
	expectCode(t, err, ErrModulePaused)
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("paused error should wrap common.ErrModulePaused")
	}
	if _, err := env.engine.GetEscrowByID(ctx, "eng-pause"); err != nil {
		t.Fatalf("reads must work while paused: %v", err)
	}
}

func TestVaultsAreIsolatedPerEngagement(t *testing.T) {
	env := newTestEngine(t)
	env.initialize(t, testParams("eng-x", 1_000, 300, 1))
	env.initialize(t, testParams("eng-y", 1_000, 300, 1))
	env.fundFully(t, "eng-x", 1_000)
	if got := env.balance(t, env.vault(t, "eng-y")); got.Sign() != 0 {
		t.Fatalf("funding one engagement credited another: %s", got)
	}
	env.flagAll(t, "eng-y", 1)
	err := env.engine.DistributeEscrowEarnings(context.Background(), "eng-y", testSigner, testAsset, testProtocol)
	expectCode(t, err, ErrEscrowBalanceNotSufficienteToSendEarnings)
}

func TestConcurrentFundingIsSerialised(t *testing.T) {
	env := newTestEngine(t)
	env.initialize(t, testParams("eng-cc", 100, 300, 1))
	_ = env.ledger.Mint(testAsset, testSigner, big.NewInt(1_000))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.engine.FundEscrow(context.Background(), "eng-cc", testSigner, testAsset, big.NewInt(50))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrEscrowFullyFunded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 2 {
		t.Fatalf("expected exactly 2 deposits, got %d", succeeded)
	}
	if got := env.balance(t, env.vault(t, "eng-cc")); got.Int64() != 100 {
		t.Fatalf("vault balance = %s", got)
	}
	if env.engine.locks.size() != 0 {
		t.Fatalf("engagement locks leaked")
	}
}

func TestEventsCarrySequenceAndIdentity(t *testing.T) {
	env := newTestEngine(t)
	env.initialize(t, testParams("eng-ev", 1_000, 300, 1))
	env.fundFully(t, "eng-ev", 1_000)
	got := env.emitter.types()
	want := []string{EventTypeEscrowInitialized, EventTypeEscrowFunded}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected events %v", got)
	}
	payload, _ := events.Payload(env.emitter.last())
	if payload.ID == "" || payload.Sequence != 2 || payload.Timestamp != 1_700_000_000 {
		t.Fatalf("unexpected envelope %+v", payload)
	}
	if payload.Attr("deposit") != "1000" || payload.Attr("vault_balance") != "1000" {
		t.Fatalf("unexpected attributes %+v", payload.Attributes)
	}

	env.engine.SetConfig(Config{EmitReadEvents: true})
	if _, err := env.engine.GetEscrowByID(context.Background(), "eng-ev"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if env.emitter.last().EventType() != EventTypeEscrowRead {
		t.Fatalf("expected read telemetry event")
	}
}
