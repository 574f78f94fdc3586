package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hirehub/internal/gateway"
	"hirehub/internal/infra/broker/kafka"
	"hirehub/internal/infra/config"
	"hirehub/internal/infra/db/mongo"
	"hirehub/internal/infra/obs"
	"hirehub/internal/infra/storage/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	mongoClient, err := mongo.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Error("mongo connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Close(closeCtx)
	}()

	session, err := scylla.NewSession(cfg, logger)
	if err != nil {
		logger.Error("scylla connect failed", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	hub := gateway.NewHub(logger)
	svc := &gateway.Service{
		Hub:      hub,
		Registry: gateway.MongoRegistry{Repo: mongo.NewConversationRepository(mongoClient)},
		Log:      scylla.NewStore(session),
		Logger:   logger,
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil, logger)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		fanout := &gateway.Fanout{
			Producer:   producer,
			Topic:      cfg.KafkaTopic,
			InstanceID: cfg.InstanceID,
			Service:    svc,
			Logger:     logger,
		}
		svc.Publisher = fanout
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, fanout)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx, []string{cfg.KafkaTopic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
		logger.Info("kafka fan-out enabled", "topic", cfg.KafkaTopic, "instance_id", cfg.InstanceID)
	} else {
		logger.Warn("kafka fan-out disabled, single-instance delivery only")
	}

	handler := gateway.NewHandler(
		svc,
		gateway.MongoVerifier{Repo: mongo.NewSessionRepository(mongoClient)},
		logger,
		cfg.WriteWait,
		cfg.PongWait,
		cfg.MaxFrameSize,
	)
	server := gateway.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return mongoClient.Ping(pingCtx)
		},
	}, handler)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("gateway starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
