package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/trialmatch-ai/platform/pkg/common/config"
	"github.com/trialmatch-ai/platform/pkg/common/database"
	"github.com/trialmatch-ai/platform/pkg/common/kafka"
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
	"github.com/trialmatch-ai/platform/pkg/observability/metrics"
	"github.com/trialmatch-ai/platform/pkg/registry"
	"github.com/trialmatch-ai/platform/pkg/screening"
	"github.com/trialmatch-ai/platform/pkg/trials"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db := database.GetPostgres()
	redisClient := database.GetRedis()

	registryRepo := registry.NewRepository(db)
	trialRepo := trials.NewRepository(db)
	trialService := trials.NewService(trialRepo)
	registryService := registry.NewService(registryRepo, registry.NewValidator(nil), nil)

	lexicon, err := screening.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load screening lexicon")
	}

	evaluator := screening.NewEvaluator(lexicon)
	cache := screening.NewVerdictCache(redisClient, cfg.VerdictCacheTTL)
	producer := kafka.NewProducer(kafka.TopicScreening)
	defer producer.Close()

	service := screening.NewService(registryService, trialService, trialService, evaluator, cache, producer)
	runs := screening.NewRunManager(db, service, cfg.ScreeningRunWorkers)
	if err := runs.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate screening run tables")
	}

	// Newly ingested records make cached verdicts for that patient stale.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer(kafka.TopicRecords, "screening-service")
	go func() {
		err := consumer.Consume(consumerCtx, func(ctx context.Context, event models.Event) error {
			if event.Type != "record.ingested" {
				return nil
			}
			if pid, ok := event.Data["patient_id"].(string); ok && pid != "" {
				cache.InvalidatePatient(ctx, pid)
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			logger.Log.WithError(err).Error("record event consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)
	screening.NewHandler(service, runs).Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8085"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8085",
		}).Info("Screening Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Screening Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	stopConsumer()
	if err := consumer.Close(); err != nil {
		logger.Log.WithError(err).Error("Failed to close record event consumer")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("Failed to close redis")
	}

	logger.Log.Info("Screening Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
