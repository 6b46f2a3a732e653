package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"engagement/assets"
	"engagement/auth"
	"engagement/cmd/internal/passphrase"
	"engagement/config"
	"engagement/core/events"
	"engagement/crypto"
	"engagement/gateway/middleware"
	"engagement/native/common"
	"engagement/native/escrow"
	"engagement/native/users"
	"engagement/observability"
	"engagement/observability/audit"
	"engagement/observability/logging"
	telemetry "engagement/observability/otel"
	"engagement/rpc"
	"engagement/state"
	"engagement/state/escrows"
	"engagement/state/index"
	userstore "engagement/state/users"
	"engagement/storage"
)

const (
	serviceName       = "engagementd"
	defaultPassEnv    = "ENGAGEMENT_KEYSTORE_PASS"
	projectionBuffer  = 256
	telemetryShutdown = 5 * time.Second
)

func main() {
	configFile := flag.String("config", "./engagementd.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	allowMigrate := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	var mints mintFlags
	flag.Var(&mints, "dev-mint", "DEV ONLY: credit asset:owner:amount on the in-memory ledger (repeatable)")
	flag.Parse()

	bootstrap := logging.Setup(serviceName, strings.TrimSpace(os.Getenv("ENGAGEMENT_ENV")))
	cfg, err := config.Load(*configFile)
	if err != nil {
		bootstrap.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger, closer := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, options{allowMigrate: *allowMigrate, mints: mints}); err != nil {
		logger.Error("engagementd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

type options struct {
	allowMigrate bool
	mints        mintFlags
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options) error {
	if cfg.Storage.Backend != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("prepare data directory: %w", err)
		}
	}
	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer db.Close()

	mgr := state.NewManager(db)
	if err := state.EnsureStateVersion(mgr, opts.allowMigrate); err != nil {
		return err
	}
	clock, err := state.NewClock(mgr, logger)
	if err != nil {
		return fmt.Errorf("load ledger clock: %w", err)
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	ledger, err := buildLedger(ctx, cfg, clock, opts.mints)
	if err != nil {
		return err
	}

	pauses := common.NewPauses(cfg.PauseMap())
	engine := escrow.NewEngine()
	engine.SetState(escrows.NewStore(mgr))
	engine.SetLedger(ledger)
	engine.SetAuthorizer(auth.ContextAuthorizer{})
	engine.SetPauses(pauses)
	engine.SetConfig(cfg.EscrowConfig())
	engine.SetLogger(logger)
	engine.SetNowFunc(clock.Now)
	engine.SetSequenceFunc(clock.Next)
	engine.SetEmitter(bus)

	registry := users.NewEngine()
	registry.SetState(userstore.NewStore(mgr))
	registry.SetAuthorizer(auth.ContextAuthorizer{})
	registry.SetPauses(pauses)
	registry.SetNowFunc(clock.Now)
	registry.SetSequenceFunc(clock.Next)
	registry.SetEmitter(bus)

	idx, err := index.Open(cfg.Index.Driver, cfg.IndexDSN())
	if err != nil {
		return err
	}
	defer idx.Close()
	trail, err := audit.Open(cfg.AuditPath())
	if err != nil {
		return err
	}
	defer trail.Close()

	bus.Handle(ctx, "index", projectionBuffer, idx.HandleEvent)
	bus.Handle(ctx, "audit", projectionBuffer, trail.HandleEvent)
	bus.Handle(ctx, "metrics", projectionBuffer, observability.Events().HandleEvent)
	observability.Events().WatchDropped(bus.Dropped)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	srv, err := rpc.NewServer(rpc.Dependencies{
		Escrow:  engine,
		Users:   registry,
		Tokens:  ledger,
		Index:   idx,
		Emitter: bus,
		Events:  bus,
		Audit:   trail,
		Clock:   clock,
		Logger:  logger,
	}, serverConfig(cfg))
	if err != nil {
		return err
	}

	logger.Warn("dispute flag policy pending product decision",
		slog.Bool("clear_dispute_on_resolve", cfg.Escrow.ClearDisputeOnResolve),
		slog.String("dispute_flag_setter", "dispute_resolver"))
	logger.Info("engagementd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("ledger", cfg.Ledger.Kind),
		slog.String("index", cfg.Index.Driver),
		slog.Uint64("sequence", clock.Sequence()))

	if err := srv.Start(ctx, cfg.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("engagementd stopped cleanly")
	return nil
}

func serverConfig(cfg *config.Config) rpc.ServerConfig {
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[strings.TrimSpace(limit.ID)] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	return rpc.ServerConfig{
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.ClockSkew(),
		},
		RateLimits: limits,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		Observability: middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: true,
			Enabled:     true,
		},
		CreateQuota: cfg.CreateQuota(),
	}
}

// tokenLedger is the ledger surface shared by the escrow engine and the
// token passthrough methods.
type tokenLedger interface {
	escrow.Ledger
	rpc.TokenService
}

func buildLedger(ctx context.Context, cfg *config.Config, clock *state.Clock, mints mintFlags) (tokenLedger, error) {
	switch cfg.Ledger.Kind {
	case "erc20":
		if len(mints) > 0 {
			return nil, errors.New("-dev-mint is only supported with the memory ledger")
		}
		envVar := cfg.Ledger.KeystorePassphraseEnv
		if strings.TrimSpace(envVar) == "" {
			envVar = defaultPassEnv
		}
		pass, err := passphrase.NewSource(envVar, "operator keystore").Get()
		if err != nil {
			return nil, err
		}
		master, err := crypto.LoadFromKeystore(cfg.Ledger.KeystorePath, pass)
		if err != nil {
			return nil, fmt.Errorf("load operator keystore: %w", err)
		}
		return assets.DialERC20Ledger(ctx, assets.ERC20Config{
			RPCURL:         cfg.Ledger.RPCURL,
			ReceiptTimeout: cfg.ReceiptTimeout(),
		}, master)
	default:
		ledger := assets.NewMemLedger(clock.Sequence)
		for _, m := range mints {
			if err := ledger.Mint(m.asset, m.owner, m.amount); err != nil {
				return nil, fmt.Errorf("dev mint: %w", err)
			}
		}
		return ledger, nil
	}
}
