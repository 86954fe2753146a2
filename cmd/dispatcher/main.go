// Standalone outbox dispatcher worker. Any number of replicas can run next
// to the API's embedded dispatcher; entry claims are atomic in the store.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/applyflow/autofill-service/internal/config"
	"github.com/applyflow/autofill-service/internal/database"
	"github.com/applyflow/autofill-service/internal/logger"
	"github.com/applyflow/autofill-service/internal/notify"
	"github.com/applyflow/autofill-service/internal/outbox"
	"github.com/applyflow/autofill-service/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	zlog, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatal("Error building logger: ", err)
	}

	if len(cfg.Kafka.Brokers) == 0 {
		zlog.Fatal().Msg("KAFKA_BROKERS must be set for the standalone dispatcher")
	}

	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("database connection failed")
	}

	producer, err := notify.NewSyncProducer(cfg.Kafka.Brokers)
	if err != nil {
		zlog.Fatal().Err(err).Msg("kafka producer initialization failed")
	}
	defer producer.Close()

	publisher := notify.NewKafkaPublisher(producer, cfg.Kafka.CompletedTopic, zlog)

	dispatcher, err := outbox.NewDispatcher(outbox.Config{
		PollInterval:      cfg.Outbox.PollInterval,
		HandlerTimeout:    cfg.Outbox.HandlerTimeout,
		BaseBackoff:       cfg.Outbox.BaseBackoff,
		MaxBackoff:        cfg.Outbox.MaxBackoff,
		WorkerConcurrency: cfg.Outbox.WorkerConcurrency,
		ReclaimInterval:   cfg.Outbox.ReclaimInterval,
		StaleAfter:        cfg.Outbox.StaleAfter,
	}, outbox.Dependencies{
		Store: outbox.NewGormStore(db, cfg.Outbox.MaxAttempts),
		Handlers: map[string]outbox.Handler{
			services.KindAutofillCompleted: publisher.Handle,
		},
		Logger: zlog,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("dispatcher initialization failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Run(ctx)
}
