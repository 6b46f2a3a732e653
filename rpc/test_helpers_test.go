package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"engagement/assets"
	"engagement/auth"
	"engagement/core/events"
	"engagement/crypto"
	"engagement/gateway/middleware"
	"engagement/native/common"
	"engagement/native/escrow"
	"engagement/native/users"
	"engagement/observability/audit"
	"engagement/state"
	"engagement/state/escrows"
	"engagement/state/index"
	userstore "engagement/state/users"
	"engagement/storage"
)

const testHMACSecret = "facade-test-secret"

var (
	tClient   = [20]byte{0x11}
	tProvider = [20]byte{0x22}
	tPlatform = [20]byte{0x33}
	tSigner   = [20]byte{0x44}
	tResolver = [20]byte{0x55}
	tProtocol = [20]byte{0x66}
	tAsset    = [20]byte{0xAA}
)

type testServer struct {
	t      *testing.T
	srv    *Server
	http   *httptest.Server
	ledger *assets.MemLedger
	index  *index.Index
	audit  *audit.SQLiteStore
	bus    *events.Bus
	issuer *auth.Issuer
	engine *escrow.Engine
}

type serverOption func(*ServerConfig)

func withCreateQuota(max uint32) serverOption {
	return func(cfg *ServerConfig) {
		cfg.CreateQuota = common.Quota{MaxRequestsPerEpoch: max, EpochSeconds: 3600}
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mgr := state.NewManager(storage.NewMemDB())
	clock, err := state.NewClock(mgr, nil)
	require.NoError(t, err)
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	ledger := assets.NewMemLedger(clock.Sequence)
	engine := escrow.NewEngine()
	engine.SetState(escrows.NewStore(mgr))
	engine.SetLedger(ledger)
	engine.SetAuthorizer(auth.ContextAuthorizer{})
	engine.SetEmitter(bus)
	engine.SetNowFunc(clock.Now)
	engine.SetSequenceFunc(clock.Next)

	registry := users.NewEngine()
	registry.SetState(userstore.NewStore(mgr))
	registry.SetAuthorizer(auth.ContextAuthorizer{})
	registry.SetEmitter(bus)
	registry.SetNowFunc(clock.Now)
	registry.SetSequenceFunc(clock.Next)

	idx, err := index.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	bus.Handle(ctx, "index", 64, idx.HandleEvent)

	trail, err := audit.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	cfg := ServerConfig{
		Auth: middleware.AuthConfig{Enabled: true, HMACSecret: testHMACSecret, Issuer: "engagementd", Audience: "rpc"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := NewServer(Dependencies{
		Escrow:  engine,
		Users:   registry,
		Tokens:  ledger,
		Index:   idx,
		Emitter: bus,
		Events:  bus,
		Audit:   trail,
		Clock:   clock,
	}, cfg)
	require.NoError(t, err)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	issuer, err := auth.NewIssuer(auth.IssuerConfig{HMACSecret: testHMACSecret, Issuer: "engagementd", Audience: "rpc"})
	require.NoError(t, err)
	return &testServer{t: t, srv: srv, http: httpSrv, ledger: ledger, index: idx, audit: trail, bus: bus, issuer: issuer, engine: engine}
}

func addr(id [20]byte) string { return crypto.FormatIdentity(id) }

func (ts *testServer) token(identity [20]byte) string {
	ts.t.Helper()
	token, err := ts.issuer.Issue(identity)
	require.NoError(ts.t, err)
	return token
}

type rpcReply struct {
	Status int
	Result json.RawMessage
	Error  *struct {
		Code    int       `json:"code"`
		Message string    `json:"message"`
		Data    errorData `json:"data"`
	}
}

// call posts a JSON-RPC request, authenticated as caller when non-nil.
func (ts *testServer) call(caller *[20]byte, method string, params interface{}) rpcReply {
	ts.t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	})
	require.NoError(ts.t, err)
	req, err := http.NewRequest(http.MethodPost, ts.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(*caller))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int       `json:"code"`
			Message string    `json:"message"`
			Data    errorData `json:"data"`
		} `json:"error"`
	}
	require.NoError(ts.t, json.Unmarshal(raw, &envelope), string(raw))
	return rpcReply{Status: resp.StatusCode, Result: envelope.Result, Error: envelope.Error}
}

func (ts *testServer) mustOK(caller *[20]byte, method string, params interface{}) json.RawMessage {
	ts.t.Helper()
	reply := ts.call(caller, method, params)
	if reply.Error != nil {
		ts.t.Fatalf("%s failed: %d %s %+v", method, reply.Error.Code, reply.Error.Message, reply.Error.Data)
	}
	return reply.Result
}

func (ts *testServer) expectError(reply rpcReply, status, code int, name string) {
	ts.t.Helper()
	require.NotNil(ts.t, reply.Error, "expected error %s", name)
	require.Equal(ts.t, status, reply.Status)
	require.Equal(ts.t, code, reply.Error.Code)
	require.Equal(ts.t, name, reply.Error.Data.Name)
}

func escrowDefinition(id string, amount int64, feeBps uint32, milestones int) map[string]interface{} {
	ms := make([]map[string]interface{}, milestones)
	for i := range ms {
		ms[i] = map[string]interface{}{"description": fmt.Sprintf("deliverable %d", i+1), "status": "pending"}
	}
	return map[string]interface{}{
		"id":              id,
		"client":          addr(tClient),
		"serviceProvider": addr(tProvider),
		"platformAddress": addr(tPlatform),
		"amount":          big.NewInt(amount).String(),
		"platformFeeBps":  feeBps,
		"milestones":      ms,
		"releaseSigner":   addr(tSigner),
		"disputeResolver": addr(tResolver),
	}
}

func (ts *testServer) balance(owner [20]byte) string {
	ts.t.Helper()
	var result tokenAmountResult
	raw := ts.mustOK(nil, "token_balance", map[string]interface{}{"asset": addr(tAsset), "address": addr(owner)})
	require.NoError(ts.t, json.Unmarshal(raw, &result))
	return result.Amount
}

func ptr(id [20]byte) *[20]byte { return &id }
