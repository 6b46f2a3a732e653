package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"engagement/auth"
	"engagement/core/events"
	"engagement/gateway/middleware"
	"engagement/native/common"
	"engagement/native/escrow"
	"engagement/observability"
	"engagement/observability/audit"
	"engagement/state/index"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// EscrowService is the escrow, milestone and dispute manager surface.
type EscrowService interface {
	InitializeEscrow(ctx context.Context, p escrow.Params) (string, error)
	FundEscrow(ctx context.Context, engagementID string, signer, asset [20]byte, amount *big.Int) error
	DistributeEscrowEarnings(ctx context.Context, engagementID string, releaseSigner, asset, protocolFeeRecipient [20]byte) error
	ChangeEscrowProperties(ctx context.Context, p escrow.Params) error
	GetEscrowByID(ctx context.Context, engagementID string) (*escrow.Escrow, error)
	VaultAddress(engagementID string) ([20]byte, error)
	VaultBalance(ctx context.Context, engagementID string, asset [20]byte) (*big.Int, error)
	ChangeMilestoneStatus(ctx context.Context, engagementID string, index int, status string, serviceProvider [20]byte) error
	ChangeMilestoneFlag(ctx context.Context, engagementID string, index int, flag bool, client [20]byte) error
	ChangeDisputeFlag(ctx context.Context, engagementID string, caller [20]byte) error
	ResolvingDisputes(ctx context.Context, engagementID string, resolver, asset [20]byte, clientFunds, providerFunds *big.Int) error
}

// UserService is the user registry surface.
type UserService interface {
	Register(ctx context.Context, address [20]byte, name, email string) (bool, error)
	Login(ctx context.Context, address [20]byte) (string, error)
}

// TokenService is the asset transfer surface exposed as passthrough.
type TokenService interface {
	Balance(ctx context.Context, asset, owner [20]byte) (*big.Int, error)
	Allowance(ctx context.Context, asset, owner, spender [20]byte) (*big.Int, error)
	Approve(ctx context.Context, asset, owner, spender [20]byte, amount *big.Int, expirationLedger uint64) error
}

// PartyIndex lists escrows per party.
type PartyIndex interface {
	List(ctx context.Context, party, role string, limit, offset int) ([]index.Entry, error)
}

// CallRecorder stores facade invocations for audit.
type CallRecorder interface {
	RecordCall(ctx context.Context, call audit.Call) error
}

// Clock supplies timestamps and ledger sequences for facade-emitted events.
type Clock interface {
	Now() int64
	Next() uint64
}

// Subscriber hands out event subscriptions for the stream endpoint.
type Subscriber interface {
	Subscribe(name string, buffer int) *events.Subscription
}

// Dependencies wires the facade to the managers and infrastructure.
type Dependencies struct {
	Escrow  EscrowService
	Users   UserService
	Tokens  TokenService
	Index   PartyIndex
	Emitter events.Emitter
	Events  Subscriber
	Audit   CallRecorder
	Clock   Clock
	Logger  *slog.Logger
}

// ServerConfig carries the HTTP surface settings.
type ServerConfig struct {
	Auth          middleware.AuthConfig
	RateLimits    map[string]middleware.RateLimit
	CORS          middleware.CORSConfig
	Observability middleware.ObservabilityConfig
	// CreateQuota bounds anonymous escrow_initialize and user_register calls
	// per client address.
	CreateQuota common.Quota
}

// Server is the contract facade: JSON-RPC over HTTP plus the REST read and
// event stream routes.
type Server struct {
	deps       Dependencies
	logger     *slog.Logger
	authn      *middleware.Authenticator
	authorizer auth.ContextAuthorizer
	limiter    *middleware.RateLimiter
	obs        *middleware.Observability
	cors       middleware.CORSConfig
	quota      *common.QuotaTracker
	methods    map[string]methodHandler
	srv        *http.Server
}

type methodHandler struct {
	module string
	fn     func(ctx context.Context, req *RPCRequest) (interface{}, *RPCError)
}

func NewServer(deps Dependencies, cfg ServerConfig) (*Server, error) {
	if deps.Escrow == nil {
		return nil, errors.New("rpc: escrow service required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NoopEmitter{}
	}
	authCfg := cfg.Auth
	// Method-level authorization happens in the managers, so the transport
	// only rejects bad tokens and lets anonymous calls through.
	authCfg.AllowAnonymous = true
	authCfg.OptionalPaths = append(authCfg.OptionalPaths, "/rpc", "/v1/", "/healthz")
	s := &Server{
		deps:    deps,
		logger:  deps.Logger.With("component", "rpc"),
		authn:   middleware.NewAuthenticator(authCfg, deps.Logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimits, deps.Logger),
		obs:     middleware.NewObservability(cfg.Observability, deps.Logger),
		cors:    cfg.CORS,
		quota:   common.NewQuotaTracker(cfg.CreateQuota),
	}
	s.methods = s.routes()
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.cors))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, s.obs.Registry()}, promhttp.HandlerOpts{}))
	r.With(s.obs.Middleware("rpc"), s.authn.Middleware(), s.limiter.Middleware("rpc")).
		Post("/rpc", s.handle)
	r.With(s.obs.Middleware("escrows"), s.limiter.Middleware("escrows")).
		Get("/v1/escrows/{id}", s.handleEscrowREST)
	r.With(s.authn.Middleware(), s.limiter.Middleware("events")).
		Get("/v1/events/ws", s.handleEventsWS)
	return r
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("json-rpc server listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	HTTPStatus int         `json:"-"`
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message, Data: data}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: nullID(id), Error: errObj})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: nullID(id), Result: result})
}

func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// handle is the JSON-RPC entry point.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	ctx := context.WithValue(r.Context(), clientSourceKey{}, clientSource(r))
	start := time.Now()
	result, rpcErr := method.fn(ctx, req)
	s.observe(ctx, method.module, req.Method, rpcErr, time.Since(start))
	if rpcErr != nil {
		writeError(w, rpcErr.HTTPStatus, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) observe(ctx context.Context, module, method string, rpcErr *RPCError, duration time.Duration) {
	code := ""
	if rpcErr != nil {
		code = errorName(rpcErr)
	}
	observability.ModuleMetrics().Observe(module, method, code, duration)
	principal := ""
	if p, ok := auth.PrincipalFrom(ctx); ok {
		principal = p.Address()
	}
	if rpcErr != nil {
		s.logger.Info("rpc call failed",
			"method", method,
			"principal", principal,
			"code", code,
			"request_id", chimw.GetReqID(ctx))
	}
	if s.deps.Audit == nil {
		return
	}
	call := audit.Call{Method: method, Principal: principal, Code: code, Duration: duration}
	if err := s.deps.Audit.RecordCall(context.WithoutCancel(ctx), call); err != nil {
		s.logger.Warn("audit call record failed", "method", method, "error", err)
	}
}

type clientSourceKey struct{}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// consumeCreateQuota bounds anonymous creation calls per client source.
// Authenticated callers are keyed by their address instead.
func (s *Server) consumeCreateQuota(ctx context.Context, module string) *RPCError {
	key, _ := ctx.Value(clientSourceKey{}).(string)
	if p, ok := auth.PrincipalFrom(ctx); ok {
		key = p.Address()
	}
	if err := s.quota.Consume(module + "|" + key); err != nil {
		observability.ModuleMetrics().RecordThrottle(module, "quota_exceeded")
		return &RPCError{HTTPStatus: http.StatusTooManyRequests, Code: codeRateLimited, Message: "rate_limited", Data: err.Error()}
	}
	return nil
}
