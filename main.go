package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptum-bot/config"
	"cryptum-bot/internal/adaptive"
	"cryptum-bot/internal/api"
	"cryptum-bot/internal/breaker"
	"cryptum-bot/internal/database"
	"cryptum-bot/internal/evaluator"
	"cryptum-bot/internal/executor"
	"cryptum-bot/internal/ledger"
	"cryptum-bot/internal/market"
	"cryptum-bot/internal/notify"
	"cryptum-bot/internal/orchestrator"
	signalscan "cryptum-bot/internal/signal"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("user_id", cfg.Trading.UserID).
		Bool("demo", cfg.Trading.DemoMode).
		Bool("mock", cfg.Binance.MockMode).
		Msg("starting cryptum bot")

	db, err := database.NewDB(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	var prices market.PriceSource
	var futuresClient *futures.Client
	if cfg.Binance.MockMode {
		prices = market.NewMockGateway()
		logger.Warn().Msg("mock price gateway active, no exchange connectivity")
	} else {
		prices = market.NewGateway(cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Binance.TestNet, logger)
		futuresClient = futures.NewClient(cfg.Binance.APIKey, cfg.Binance.SecretKey)
	}

	var notifier *notify.Telegram
	if cfg.Telegram.Enabled {
		notifier, err = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram disabled, connection failed")
			notifier = nil
		}
	}

	accountant := ledger.New(db, prices, cfg.Trading.DemoMode, logger)

	gate := breaker.New(db, breaker.Thresholds{
		MinSample:       cfg.Breaker.MinSample,
		LookbackDays:    cfg.Breaker.LookbackDays,
		HardWinRate:     cfg.Breaker.HardWinRate,
		HardLossPercent: cfg.Breaker.HardLossPercent,
		SoftWinRate:     cfg.Breaker.SoftWinRate,
		SoftLossPercent: cfg.Breaker.SoftLossPercent,
	}, cfg.Trading.DemoMode, logger)

	selector := adaptive.New(db, adaptive.Settings{
		Enabled:            cfg.Adaptive.Enabled,
		MinTrades:          cfg.Adaptive.MinTrades,
		LookbackTrades:     cfg.Adaptive.LookbackTrades,
		StabilizationHours: cfg.Adaptive.StabilizationHours,
	}, logger)

	trader := executor.New(db, prices, futuresClient, cfg.Trading.DemoMode, cfg.Trading.CommissionRate, logger)

	var opportunities orchestrator.OpportunitySource
	if futuresClient != nil && len(cfg.Trading.Symbols) > 0 {
		opportunities = signalscan.NewScanner(futuresClient, cfg.Trading.Symbols, logger)
	}

	lock := orchestrator.NewCycleLock(redisClient, cfg.Trading.LockTTL(), cfg.Trading.CooldownDuration())

	orch := orchestrator.New(db, accountant, gate, selector, trader, prices, opportunities,
		lock, notifier, orchestrator.Options{
			InitialBalance: cfg.Trading.InitialBalance,
			Rules: evaluator.RuleParams{
				TakeProfitPercent:         cfg.Rules.TakeProfitPercent,
				StopLossPercent:           cfg.Rules.StopLossPercent,
				TrailingEnabled:           cfg.Rules.TrailingEnabled,
				TrailingActivationPercent: cfg.Rules.TrailingActivationPercent,
				TrailingPercent:           cfg.Rules.TrailingPercent,
				BreakEvenEnabled:          cfg.Rules.BreakEvenEnabled,
				BreakEvenThresholdPercent: cfg.Rules.BreakEvenThresholdPercent,
				TimeoutEnabled:            cfg.Rules.TimeoutEnabled,
				TimeoutMinutes:            cfg.Rules.TimeoutMinutes,
				TimeoutFloorPercent:       cfg.Rules.TimeoutFloorPercent,
			},
		}, logger)

	rc := orchestrator.RunContext{UserID: cfg.Trading.UserID, Demo: cfg.Trading.DemoMode}

	handlers := api.NewHandlers(rc, db, accountant, gate, selector, orch, logger)
	server := api.NewServer(cfg.Server, handlers, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	go runScheduler(ctx, orch, rc, time.Duration(cfg.Trading.CycleIntervalSec)*time.Second, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("cryptum bot stopped")
}

// runScheduler triggers one analysis cycle per tick. Lock and cooldown
// contention are normal when a manual trigger or a slow cycle overlaps the
// timer; everything else is logged and retried on the next tick.
func runScheduler(ctx context.Context, orch *orchestrator.Orchestrator, rc orchestrator.RunContext,
	interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := orch.RunCycle(ctx, rc)
			switch {
			case err == nil:
			case errors.Is(err, orchestrator.ErrCooldownActive), errors.Is(err, orchestrator.ErrLockHeld):
				logger.Debug().Err(err).Msg("cycle rescheduled")
			default:
				logger.Error().Err(err).Msg("cycle failed")
			}
		}
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
