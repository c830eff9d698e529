package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/storefront/pkg/cart"
	"github.com/example/storefront/pkg/checkout"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/webhook"
	"github.com/example/storefront/server"
	"go.uber.org/zap"
)

func main() {
	// Load config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting storefront",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	ctx := context.Background()

	// Storage
	db, err := repository.NewDB(&cfg.MySQL)
	if err != nil {
		logger.Fatal("Failed to connect to MySQL", zap.Error(err))
	}

	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	defer redisRepo.Close()

	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoRepo.Close(ctx)

	orders := repository.NewOrderRepository(db, redisRepo, logger)

	// Ping dependencies
	if err := redisRepo.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Redis connected successfully")
	}
	if err := mongoRepo.Ping(ctx); err != nil {
		logger.Warn("MongoDB connection failed", zap.Error(err))
	}

	// Payment provider and checkout flow
	payments := payment.NewClient(cfg.Stripe.SecretKey, logger)
	checkoutSvc := checkout.NewService(payments, cfg.Store, logger)

	// Confirmation emails ride an actor so webhook acks never wait on the
	// email provider.
	system := actor.NewActorSystem()
	mailer := notify.NewMailer(&cfg.Email, logger)
	dispatcher, err := notify.NewDispatcher(system, mailer, logger)
	if err != nil {
		logger.Fatal("Failed to start notification actor", zap.Error(err))
	}

	processor := webhook.NewProcessor(cfg.Stripe.WebhookSecret, orders, mongoRepo, dispatcher, logger)
	cartStore := cart.NewStore(redisRepo, logger)

	srv := server.New(cfg, logger, checkoutSvc, processor, orders, payments, mongoRepo, cartStore)
	srv.SetupRoutes()

	// Register in etcd when configured; the storefront runs without it.
	var registry *discovery.Registry
	instance := &discovery.Instance{
		Name: cfg.Server.Name,
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}
	if len(cfg.Etcd.Endpoints) > 0 {
		registry, err = discovery.NewRegistry(&cfg.Etcd)
		if err != nil {
			logger.Warn("Failed to connect to etcd, skipping registration", zap.Error(err))
		} else if err := registry.Register(ctx, instance); err != nil {
			logger.Warn("Failed to register instance", zap.Error(err))
		} else {
			logger.Info("Instance registered in etcd",
				zap.String("name", cfg.Server.Name),
				zap.String("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))
		}
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Fatal("Server error", zap.Error(err))
	}

	if registry != nil {
		if err := registry.Deregister(ctx, instance); err != nil {
			logger.Error("Failed to deregister instance", zap.Error(err))
		}
		registry.Close()
	}

	system.Shutdown()
	logger.Info("Storefront stopped")
}
