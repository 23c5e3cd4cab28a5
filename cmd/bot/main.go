package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/darkodi/terabox-bot/internal/bot"
	"github.com/darkodi/terabox-bot/internal/cache"
	"github.com/darkodi/terabox-bot/internal/config"
	"github.com/darkodi/terabox-bot/internal/gate"
	"github.com/darkodi/terabox-bot/internal/handler"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/matcher"
	"github.com/darkodi/terabox-bot/internal/middleware"
	"github.com/darkodi/terabox-bot/internal/repository"
	"github.com/darkodi/terabox-bot/internal/resolver"
	"github.com/darkodi/terabox-bot/internal/scheduler"
	"github.com/darkodi/terabox-bot/internal/service"
	"github.com/darkodi/terabox-bot/internal/state"
	"github.com/darkodi/terabox-bot/internal/telegram"
	"github.com/darkodi/terabox-bot/internal/transfer"
	"github.com/darkodi/terabox-bot/internal/worker"
)

func main() {
	// ============================================================
	// LOAD CONFIGURATION
	// ============================================================
	fmt.Println("📋 Loading configuration...")
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if cfg.IsDevelopment() {
		fmt.Printf("   Environment: %s\n", cfg.App.Environment)
		fmt.Printf("   Port: %s\n", cfg.Server.Port)
		fmt.Printf("   Database: %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
		fmt.Printf("   Download dir: %s\n", cfg.Transfer.DownloadDir)
	}

	// ============================================================
	// Initialize logger
	// ============================================================
	fmt.Println("📝 Initializing logger...")
	log := logger.New(cfg.Log)
	log.Info().
		Str("level", cfg.Log.Level).
		Str("environment", cfg.App.Environment).
		Msg("starting terabox-bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ============================================================
	// INITIALIZE STORAGE
	// ============================================================
	fmt.Println("🗄️  Connecting to database...")
	users, err := repository.NewUserRepository(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() {
		if err := users.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	var store state.UserStateStore
	rdb, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
		store = state.NewRedisStore(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected successfully!")
	} else {
		mem := state.NewMemoryStore(state.WithLogger(log.Component("state")))
		go mem.CleanupLoop(ctx, time.Minute)
		store = mem
		log.Warn().Msg("REDIS_ADDR not set, using in-memory state")
	}

	if err := os.MkdirAll(cfg.Transfer.DownloadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Transfer.DownloadDir).Msg("failed to create download dir")
	}

	// ============================================================
	// INITIALIZE LAYERS
	// ============================================================
	fmt.Println("🤖 Connecting to Telegram...")
	client, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.APIEndpoint, cfg.Telegram.Debug, log.Component("telegram"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Telegram")
	}
	log.Info().Str("username", client.Username()).Msg("authorized")

	res, err := resolver.New(resolver.Config{
		Cookie:          cfg.Resolver.Cookie,
		CookieExpiresAt: cfg.Resolver.CookieExpiresAt,
		ListURL:         cfg.Resolver.ListURL,
		UserAgent:       cfg.Resolver.UserAgent,
		Timeout:         cfg.Resolver.Timeout,
	}, log.Component("resolver"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create resolver")
	}

	fmt.Println("⚙️  Initializing services...")
	g := gate.New(store, gate.Config{
		PremiumWindow: cfg.Quota.PremiumWindow,
		FreeWindow:    cfg.Quota.FreeWindow,
		UsageWindow:   cfg.Quota.UsageWindow,
		RequestLimit:  cfg.Quota.RequestLimit,
		Enforce:       cfg.Quota.Enforce,
		AdminIDs:      cfg.Telegram.AdminIDs,
	}, log.Component("gate"))

	transfers := transfer.NewManager(transfer.Config{
		DownloadDir:       cfg.Transfer.DownloadDir,
		MaxFileSize:       cfg.Transfer.MaxFileSize,
		AllowedExtensions: cfg.Transfer.AllowedExtensions,
		ChunkSize:         cfg.Transfer.ChunkSize,
		ProgressInterval:  cfg.Transfer.ProgressInterval,
		StagingChatID:     cfg.Telegram.StagingChatID,
		UserAgent:         cfg.Resolver.UserAgent,
		BotUsername:       client.Username(),
	}, client, g.IsAdmin, log.Component("transfer"))

	pool := worker.New(cfg.Worker.Count, cfg.Worker.QueueSize, log.Component("worker"))

	delivery := service.NewDeliveryService(service.Config{
		RequiredChannels: cfg.Telegram.RequiredChannels,
		AdminIDs:         cfg.Telegram.AdminIDs,
	}, client, g, res, transfers, store, log.Component("delivery"))

	router := bot.NewRouter(bot.Config{
		AdminIDs:         cfg.Telegram.AdminIDs,
		GiftCodePrefix:   cfg.Telegram.GiftCodePrefix,
		GiftCodeInterval: time.Second,
		BroadcastRate:    cfg.Telegram.BroadcastRate,
		UsageWindow:      cfg.Quota.UsageWindow,
	}, client, store, users, matcher.FromConfig(cfg.Matcher), pool, delivery, log.Component("bot"))

	// ============================================================
	// SCHEDULED JOBS
	// ============================================================
	jobs := scheduler.New(log.Component("scheduler"))
	if err := jobs.Add("sweep-orphans", cfg.Sweep.Schedule,
		scheduler.SweepOrphans(cfg.Transfer.DownloadDir, cfg.Sweep.MaxAge, time.Now, log.Component("sweep"))); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule sweep")
	}
	if cfg.Resolver.ProbeURL != "" {
		if err := jobs.Add("probe-session", cfg.Resolver.ProbeSchedule,
			scheduler.ProbeSession(res, cfg.Resolver.ProbeURL, cfg.Resolver.Timeout)); err != nil {
			log.Fatal().Err(err).Msg("failed to schedule session probe")
		}
	}

	// ============================================================
	// CREATE SERVER WITH CONFIG TIMEOUTS
	// ============================================================
	fmt.Println("🌐 Setting up HTTP handlers...")
	h := handler.NewStatusHandler(store, res, pool, users, log.Component("http"))
	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr: addr,
		Handler: middleware.Chain(h.SetupRoutes(),
			middleware.RequestID,
			middleware.Logging(log.Component("http")),
			middleware.Recovery(log.Component("http")),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// ============================================================
	// RUN UNTIL SHUTDOWN
	// ============================================================
	if cfg.IsDevelopment() {
		fmt.Printf("🚀 Bot @%s running, status on http://localhost%s\n", client.Username(), addr)
		fmt.Println("───────────────────────────────────────")
		fmt.Println("Endpoints:")
		fmt.Println("  GET  /health - Store and session health")
		fmt.Println("  GET  /stats  - Worker and user counters")
		fmt.Println("───────────────────────────────────────")
		fmt.Println("Press Ctrl+C to shutdown gracefully")
	}

	// gctx ends on a signal or on the first failing member
	grp, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)
	jobs.Start()

	grp.Go(func() error {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		return router.Run(gctx, client.Updates(60))
	})
	grp.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")

		client.Stop()
		jobs.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
			if err := server.Close(); err != nil {
				log.Error().Err(err).Msg("forced shutdown failed")
			}
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		log.Error().Err(err).Msg("bot stopped with error")
	}

	// in-flight transfers see the cancelled ctx and remove their temp files
	pool.Stop()
	log.Info().Msg("bot stopped")
}
