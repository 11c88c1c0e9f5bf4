package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"tradecore/internal/api"
	"tradecore/internal/api/handlers"
	"tradecore/internal/bot"
	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/repository"
	"tradecore/internal/websocket"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tradecore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = logger.Sync() }()

	strategy, err := config.LoadStrategy(cfg.StrategyFile)
	if err != nil {
		return fmt.Errorf("load strategy: %w", err)
	}
	if cfg.Trading.CooldownMinutes > 0 {
		strategy.StateMachine.CooldownMinutes = cfg.Trading.CooldownMinutes
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	setupRepo := repository.NewSetupRepository(db)
	signalRepo := repository.NewSignalRepository(db)
	regimeRepo := repository.NewRegimeRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	instrumentRepo := repository.NewInstrumentRepository(db)

	creds, err := loadCredentials(ctx, cfg, db)
	if err != nil {
		return err
	}

	// Биржа: лимитер на аккаунт, ретраи чтения в брокере
	registry := exchange.NewRegistry()
	pool := exchange.NewPool(registry, bot.MetricsObserver{})
	defer pool.Close()

	client, err := pool.Client(exchange.AccountKey{Exchange: cfg.Exchange.Name, AccountID: cfg.Exchange.Account}, creds)
	if err != nil {
		return fmt.Errorf("create %s client: %w", cfg.Exchange.Name, err)
	}
	broker := exchange.NewBroker(client, cfg.Exchange.QuoteAsset)

	hub := websocket.NewHub(logger, cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	accounts := bot.NewAccounts(strategy.StateMachine, func(account string, tr bot.Transition) {
		bot.RecordTradingState(account, tr.To)
		logger.Info("trading state changed",
			utils.Account(account),
			utils.String("from", string(tr.From)),
			utils.State(string(tr.To)),
			utils.String("event", string(tr.Event.Type)),
		)
		hub.PublishState(websocket.StateData{
			Account: account,
			From:    string(tr.From),
			To:      string(tr.To),
			Event:   string(tr.Event.Type),
			Reason:  transitionReason(tr),
			At:      tr.Event.Timestamp,
		})
	})
	machine := accounts.Get(cfg.Exchange.Account)
	bot.RecordTradingState(cfg.Exchange.Account, machine.State())

	loop := bot.NewLoop(cfg.LoopConfig(), strategy, bot.Deps{
		Stores: bot.Stores{
			Setups:      setupRepo,
			Signals:     signalRepo,
			Regimes:     regimeRepo,
			Positions:   positionRepo,
			Instruments: instrumentRepo,
		},
		Exchange:  broker,
		Machine:   machine,
		Publisher: hub,
		Logger:    logger,
	})

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Webhook:           handlers.NewWebhookHandler(setupRepo, signalRepo, hub, logger),
		Status:            handlers.NewStatusHandler(accounts, setupRepo, positionRepo, pool.Stats, logger),
		WS:                hub.ServeWS,
		Logger:            logger,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		WebhookSecret:     cfg.Security.WebhookSecret,
		WebhookSecretHash: cfg.Security.WebhookSecretHash,
		WebhookRate:       cfg.Security.WebhookRate,
		WebhookBurst:      cfg.Security.WebhookBurst,
	})

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	go reportLimiterStats(ctx, pool, cfg.Trading.LimiterStatsInterval)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if !cfg.Trading.EnableTrading {
			logger.Warn("trading disabled: loop runs without placing orders")
		}
		if err := loop.Run(ctx, cfg.Trading.TickInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("trading loop stopped", utils.Err(err))
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", utils.Err(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}

	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.Warn("trading loop did not stop in time")
	}

	logger.Info("server exited")
	return nil
}

// initDatabase открывает пул соединений и ждет готовности БД
func initDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 5)
	db.SetConnMaxLifetime(5 * time.Minute)

	rc := retry.StartupConfig(cfg.ConnectRetries)
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("database not ready",
			utils.Int("attempt", attempt), utils.Err(err), utils.String("retry_in", delay.String()))
	}
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, rc)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// loadCredentials берет ключи из exchange_accounts (EXCHANGE_ACCOUNT_ID > 0)
// или из переменных окружения <EXCHANGE>_API_KEY / <EXCHANGE>_API_SECRET
func loadCredentials(ctx context.Context, cfg *config.Config, db *sql.DB) (exchange.Credentials, error) {
	if cfg.Exchange.AccountID <= 0 {
		creds, err := exchange.CredentialsFromEnv(cfg.Exchange.Name, cfg.Exchange.Environment, nil)
		if err != nil {
			return exchange.Credentials{}, fmt.Errorf("exchange credentials: %w", err)
		}
		return creds, nil
	}

	accounts := repository.NewAccountRepository(db, []byte(cfg.Security.EncryptionKey))
	acc, creds, err := accounts.GetByID(ctx, cfg.Exchange.AccountID)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("load exchange account %d: %w", cfg.Exchange.AccountID, err)
	}
	if !acc.Active {
		return exchange.Credentials{}, fmt.Errorf("exchange account %d is disabled", acc.ID)
	}
	if !strings.EqualFold(acc.Exchange, cfg.Exchange.Name) {
		return exchange.Credentials{}, fmt.Errorf("exchange account %d belongs to %s, not %s", acc.ID, acc.Exchange, cfg.Exchange.Name)
	}
	return creds, nil
}

// reportLimiterStats периодически выгружает состояние лимитеров в метрики
func reportLimiterStats(ctx context.Context, pool *exchange.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bot.RecordLimiterStats(pool.Stats())
		}
	}
}

func transitionReason(tr bot.Transition) string {
	switch reasons := tr.Event.Payload["reasons"].(type) {
	case []string:
		return strings.Join(reasons, ", ")
	case string:
		return reasons
	}
	return ""
}
