package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/kyc-shield/backend/internal/config"
	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/metrics"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/ai"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/chat"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/history"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/identity"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/verdict"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/verification"
	"github.com/zhouzirui/kyc-shield/backend/internal/store"
)

const sweepInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(cfg.Log.Level, "kyc-shield-api")
	log := logging.For("main")
	if envErr != nil {
		log.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	db, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open record store")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	} else {
		log.Info().Msg("REDIS_URL not set, using in-process revocations and feed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.New(reg)

	hub := feed.NewHub()
	var relay *feed.RedisRelay
	if rdb != nil {
		relay = feed.NewRedisRelay(rdb, hub, feed.DefaultChannel)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())

	// Verdict service (vision model)
	verdictSvc := verdict.NewService(nil)
	if cfg.AI.VisionEnabled() {
		visionModel, err := cfg.AI.NewVisionModel(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize vision model, every analysis will fail")
		} else {
			verdictSvc = verdict.NewService(visionModel)
			log.Info().Msg("vision model initialized")
		}
	} else {
		log.Warn().Msg("Ark 凭证未配置，活体分析将返回失败结论")
	}

	// Assistant chat chain
	var replier chat.Replier
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, personaStore, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, continuing without assistant replies")
		} else {
			replier = aiService
			log.Info().Msg("AI service initialized successfully")
		}
	} else {
		log.Info().Msg("Ark 凭证未配置，跳过 AI 助手初始化")
	}

	chatSvc := chat.NewService(replier, personaStore.Assistant(), chat.Options{
		Store:     store.NewChatRepository(db),
		Publisher: hub,
		Metrics:   collectorSet,
	})
	historySvc := history.NewService(store.NewScanRepository(db), hub)

	var revocations identity.Revocations = identity.NewMemoryRevocations()
	if rdb != nil {
		revocations = identity.NewRedisRevocations(rdb)
	}
	identitySvc := identity.NewService(cfg.Auth, revocations)
	identitySvc.SetPublisher(hub)

	registry := verification.NewRegistry(verdictSvc, historySvc, verification.RegistryOptions{
		FrameMaxAge:  cfg.Verification.FrameMaxAge,
		IdleTTL:      cfg.Verification.ClientIdleTTL,
		Orchestrator: verification.Options{Metrics: collectorSet},
		OnEvict: func(clientID string) {
			chatSvc.Forget(clientID)
			identitySvc.Board().Forget(clientID)
		},
	})

	router := handler.NewRouter(handler.Deps{
		Personas:       personaStore,
		AIAvailable:    replier != nil,
		Registry:       registry,
		Chat:           chatSvc,
		History:        historySvc,
		Identity:       identitySvc,
		Hub:            hub,
		Metrics:        collectorSet,
		DB:             db,
		Redis:          rdb,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return registry.Run(groupCtx, sweepInterval)
	})
	group.Go(func() error {
		return chatSvc.Run(groupCtx, sweepInterval, cfg.Verification.ClientIdleTTL)
	})
	if relay != nil {
		group.Go(func() error {
			// live updates degrade to this instance only
			if err := relay.Start(groupCtx); err != nil {
				log.Error().Err(err).Msg("feed relay stopped")
			}
			return nil
		})
	}
	group.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("KYC Shield backend listening")
		return runServer(groupCtx, srv)
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	registry.Drain()
	log.Info().Msg("shutdown complete")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
