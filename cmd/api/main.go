package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/applyflow/autofill-service/internal/config"
	"github.com/applyflow/autofill-service/internal/database"
	"github.com/applyflow/autofill-service/internal/handlers"
	"github.com/applyflow/autofill-service/internal/ledger"
	"github.com/applyflow/autofill-service/internal/logger"
	"github.com/applyflow/autofill-service/internal/models"
	"github.com/applyflow/autofill-service/internal/notify"
	"github.com/applyflow/autofill-service/internal/outbox"
	"github.com/applyflow/autofill-service/internal/registry"
	"github.com/applyflow/autofill-service/internal/services"
	"github.com/applyflow/autofill-service/internal/storage"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("database connection failed")
	}
	zlog.Info().Msg("database connection established")

	// Stores and the atomic unit they share.
	ledgerStore := ledger.NewGormStore(db)
	registryStore := registry.NewGormStore(db)
	outboxStore := outbox.NewGormStore(db, cfg.Outbox.MaxAttempts)
	atomic := storage.NewGormAtomic(db, cfg.Outbox.MaxAttempts)

	llmService, err := services.NewLLMService(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		zlog.Fatal().Err(err).Msg("LLM client initialization failed")
	}

	autofillService := services.NewAutofillService(
		atomic,
		registryStore,
		llmService,
		llmService,
		llmService,
		services.AutofillConfig{
			CostCredits:     cfg.Autofill.CostCredits,
			PipelineTimeout: cfg.Autofill.PipelineTimeout,
		},
		zlog,
	)

	// Embedded dispatcher drains completion events. Deployments that scale
	// delivery separately run cmd/dispatcher instead; both are safe
	// concurrently because claims are atomic in the store.
	dispatcher, err := outbox.NewDispatcher(outbox.Config{
		PollInterval:      cfg.Outbox.PollInterval,
		HandlerTimeout:    cfg.Outbox.HandlerTimeout,
		BaseBackoff:       cfg.Outbox.BaseBackoff,
		MaxBackoff:        cfg.Outbox.MaxBackoff,
		WorkerConcurrency: cfg.Outbox.WorkerConcurrency,
		ReclaimInterval:   cfg.Outbox.ReclaimInterval,
		StaleAfter:        cfg.Outbox.StaleAfter,
	}, outbox.Dependencies{
		Store:    outboxStore,
		Handlers: buildHandlers(cfg, zlog),
		Logger:   zlog,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("dispatcher initialization failed")
	}
	go dispatcher.Run(ctx)

	autofillHandler := handlers.NewAutofillHandler(autofillService)
	walletHandler := handlers.NewWalletHandler(ledgerStore)
	fieldHandler := handlers.NewFieldHandler(registryStore)

	r := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	api := r.Group("/api/v1")
	{
		api.GET("/health", handlers.HealthCheck)

		api.POST("/autofill", autofillHandler.Fill)

		api.POST("/users", walletHandler.ProvisionUser)
		api.GET("/users/:id/balance", walletHandler.GetBalance)
		api.POST("/users/:id/balance", walletHandler.UpdateBalance)

		api.POST("/fields/lookup", fieldHandler.Lookup)
	}

	zlog.Info().Int("port", cfg.App.Port).Msg("server starting")
	if err := r.Run(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
		zlog.Fatal().Err(err).Msg("server failed to start")
	}
}

// buildHandlers wires the outbox consumer map. With Kafka brokers configured,
// completion events go to the completed topic; without them, events are only
// logged, which keeps local development free of a broker dependency.
func buildHandlers(cfg *config.Config, zlog zerolog.Logger) map[string]outbox.Handler {
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := notify.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			zlog.Fatal().Err(err).Msg("kafka producer initialization failed")
		}
		publisher := notify.NewKafkaPublisher(producer, cfg.Kafka.CompletedTopic, zlog)
		return map[string]outbox.Handler{
			services.KindAutofillCompleted: publisher.Handle,
		}
	}

	zlog.Warn().Msg("no kafka brokers configured, completion events will only be logged")
	return map[string]outbox.Handler{
		services.KindAutofillCompleted: func(_ context.Context, entry models.OutboxEntry) error {
			zlog.Info().
				Str("log_id", entry.LogID).
				RawJSON("payload", entry.Payload).
				Msg("autofill completed")
			return nil
		},
	}
}
