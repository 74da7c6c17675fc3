package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"malricpharma/internal/auth"
	"malricpharma/internal/config"
	"malricpharma/internal/core/reconcile"
	httpx "malricpharma/internal/http"
	"malricpharma/internal/messaging"
	"malricpharma/internal/provider/mpesa"
	authsvc "malricpharma/internal/services/auth"
	eventsvc "malricpharma/internal/services/event"
	ordersvc "malricpharma/internal/services/order"
	paysvc "malricpharma/internal/services/payment"
	productsvc "malricpharma/internal/services/product"
	"malricpharma/internal/store/cache"
	"malricpharma/internal/store/postgres"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init DB
	pool := postgres.MustOpen(ctx, cfg.DB.DSN)
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema setup failed")
	}
	repo := postgres.NewRepo(pool)

	// Daraja tokens are shared through Redis when it is configured.
	var tokens mpesa.TokenCache
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis connect failed")
		}
		defer client.Close()
		tokens = cache.NewRedisTokenCache(client, "")
	}
	gateway := mpesa.New(cfg.Mpesa, tokens)
	if err := gateway.ValidateConfig(); err != nil {
		log.Warn().Err(err).Msg("m-pesa is not fully configured; push payments will fail until it is")
	}

	var events messaging.Publisher = messaging.NoopPublisher{}
	if cfg.MQ.URL != "" {
		mq, err := messaging.NewRabbitMQ(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connect failed")
		}
		defer mq.Close()
		events = mq
	}

	uow := repo.UnitOfWork()
	reconciler := paysvc.NewReconciler(gateway, uow, events)
	payments := paysvc.NewService(gateway, repo.Payments(), repo.Orders(), uow, reconciler, events)
	orders := ordersvc.NewService(uow, repo.Orders(), repo.Payments(), payments, events)
	callbacks := eventsvc.NewCallbackSystem(repo.Events(), gateway, reconciler, eventsvc.WorkerConfigFrom(cfg.Worker))

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	accounts := authsvc.NewService(repo.Users(), repo.RefreshTokens(), issuer, cfg.Auth.RefreshTokenTTL)

	// Background workers
	reaper := reconcile.NewWorker(repo.Payments(), gateway, reconciler,
		cfg.Worker.ReconcileEvery, cfg.Worker.ReconcileStaleAfter, cfg.Worker.ReconcileBatch)
	reaper.SetMaxRejections(cfg.Worker.ReconcileRejections)
	go reaper.Run(ctx)
	go callbacks.Worker.Run(ctx)
	go accounts.RunCleanup(ctx, cfg.Auth.CleanupEvery)

	r := httpx.NewRouter(httpx.RouterDependencies{
		Config:         cfg,
		Issuer:         issuer,
		AuthService:    accounts,
		OrderService:   orders,
		PaymentService: payments,
		ProductService: productsvc.NewService(repo.Products()),
		EventProcessor: callbacks.Processor,
		EventReplay:    callbacks.Replay,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("env", cfg.App.Env).Msgf("MalricPharma API listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
}

func setupLogging(cfg config.Cfg) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.App.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
