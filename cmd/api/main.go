package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/axzora/happy-paisa/internal/cards"
	"github.com/axzora/happy-paisa/internal/config"
	"github.com/axzora/happy-paisa/internal/infra"
	"github.com/axzora/happy-paisa/internal/jobs"
	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
	"github.com/axzora/happy-paisa/internal/routes"
	"github.com/axzora/happy-paisa/internal/server"
	"github.com/axzora/happy-paisa/internal/settlement"
	"github.com/axzora/happy-paisa/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	// Outside development the config loader requires both URLs, so the
	// in-memory fallbacks below can only ever run in dev.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set, running on in-memory storage", "env", cfg.AppEnv)
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, balance views and idempotency run uncached", "env", cfg.AppEnv)
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if cfg.AMQPURL != "" {
		conn, err := infra.NewAMQPConnection(cfg.AMQPURL)
		if err != nil {
			logger.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logger.Warn("close rabbitmq connection", "error", err)
			}
		}()
		events, err := notification.NewAMQPNotifier(conn, notification.DefaultExchange)
		if err != nil {
			logger.Error("declare event exchange", "error", err)
			os.Exit(1)
		}
		defer events.Close()
		notifier = events
	}

	var (
		store     ledger.Store
		journal   ledger.Journal
		directory wallet.Directory
		cardRepo  cards.Repository
		cardLog   cards.TransactionLog
		approvals cards.ApprovalSource
	)
	if db != nil {
		store = ledger.NewPostgresStore(db)
		journal = ledger.NewPostgresJournal(db)
		directory = wallet.NewPostgresDirectory(db)
		cardRepo = cards.NewPostgresRepository(db)
		cardLog = cards.NewPostgresTransactionLog(db)
		approvals = cards.NewPostgresApprovals(db)
	} else {
		store = ledger.NewInMemory()
		journal = ledger.NewInMemoryJournal()
		directory = wallet.NewMemoryDirectory()
		cardRepo = cards.NewMemoryRepository()
		cardLog = cards.NewMemoryTransactionLog()
		approvals = cards.OpenApprovals{}
	}

	chain := settlement.NewProcessor(store, journal, notifier, logger, settlement.Config{
		BlockDelay:    cfg.BlockDelay,
		TransferFee:   cfg.TransferFee,
		MintCap:       cfg.MintCapHP * money.PlanckPerHP,
		Treasury:      cfg.TreasuryAddress,
		GenesisSupply: cfg.GenesisSupplyHP * money.PlanckPerHP,
	})
	if err := chain.Run(ctx); err != nil {
		logger.Error("start settlement processor", "error", err)
		os.Exit(1)
	}
	defer chain.Close()

	var views wallet.Cache
	if cache != nil {
		views = wallet.NewRedisCache(cache)
	}

	wallets := wallet.NewService(directory, store, journal, chain, views, wallet.StaticCollector{}, notifier, logger, wallet.Config{
		LedgerWait: cfg.LedgerWait,
		CacheTTL:   cfg.ViewCacheTTL,
	})

	cardSvc := cards.NewService(cardRepo, cardLog, approvals, directory, chain, notifier, logger, cards.Config{
		BIN:            cfg.CardBIN,
		Timezone:       cfg.CardTimezone,
		FraudThreshold: cfg.FraudThreshold,
	})

	runner := jobs.NewRunner(wallets, journal, logger, jobs.Config{
		ProjectionRefreshSchedule: cfg.ProjectionRefreshSchedule,
		SettlementWatchSchedule:   cfg.SettlementWatchSchedule,
	})
	runner.Start()

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Chain:   chain,
		Wallets: wallets,
		Cards:   cardSvc,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	// Deferred closes then release the chain coordinator before the broker,
	// cache, and pool go away.
	select {
	case <-runner.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("background jobs still running at shutdown deadline")
	}

	logger.Info("server exited cleanly")
}
