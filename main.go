package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"example.com/socialfeed/cmd/server"
	"example.com/socialfeed/cmd/worker"
	"example.com/socialfeed/internal/account"
	"example.com/socialfeed/internal/auth"
	appkafka "example.com/socialfeed/internal/broker"
	"example.com/socialfeed/internal/feed"
	"example.com/socialfeed/internal/images"
	config "example.com/socialfeed/internal/init"
	"example.com/socialfeed/internal/middleware"
	"example.com/socialfeed/internal/realtime"
	"example.com/socialfeed/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize Cassandra store connection
	st, err := store.New(cfg)
	if err != nil {
		log.Fatalf("Cassandra connection failed: %v", err)
	}
	defer st.Close()

	imgs, err := images.New(afero.NewOsFs(), cfg.ImageDir, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatalf("Image store init failed: %v", err)
	}

	// Configure Kafka client parameters. Every instance joins its own consumer
	// group so each one relays all events to its own listeners.
	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID + "-" + uuid.NewString(),
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
	if err != nil {
		log.Fatalf("Kafka writer init failed: %v", err)
	}
	defer kafkaWriter.Close()

	kafkaReader := appkafka.NewKafkaReader(kafkaCfg)

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	notifier := appkafka.NewNotifier(kafkaWriter, cfg.NotifyBuffer)
	relay := worker.New(kafkaReader, hub, cfg.RelayWorkers, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		notifier.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	srv := server.New(server.Deps{
		Accounts:  account.NewService(st, auth.NewHasher(cfg.BcryptCost), tokens),
		Feed:      feed.NewService(st, st, imgs, notifier, cfg.PageSize),
		Images:    imgs,
		Hub:       hub,
		Tokens:    tokens,
		Limiter:   middleware.NewRateLimiter(cfg.LoginRatePerMin, cfg.LoginBurst),
		MaxUpload: cfg.MaxUploadBytes,
	})

	if err := server.Run(ctx, srv.Routes(), cfg.ServerAddr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
		log.Printf("Server error: %v", err)
		stop()
	}

	hub.Close()
	wg.Wait()
	if err := relay.Close(); err != nil {
		log.Printf("Kafka reader close error: %v", err)
	}

	log.Println("Shutdown completed")
}
