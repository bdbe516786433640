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
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/gateway/auth"
	"github.com/trialmatch-ai/platform/pkg/gateway/httpclient"
	"github.com/trialmatch-ai/platform/pkg/gateway/middleware"
	"github.com/trialmatch-ai/platform/pkg/gateway/routes"
	"github.com/trialmatch-ai/platform/pkg/observability/metrics"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	client := httpclient.New(cfg.GatewayRequestTimeout)
	proxy := routes.NewServiceProxy(client, cfg.ScreeningBaseURL, cfg.TrialBaseURL, cfg.RegistryBaseURL)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimit(cfg.GatewayRateLimitRPS, cfg.GatewayRateLimitBurst))
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	if cfg.OIDCIssuer != "" {
		oidcAuth, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to initialize OIDC")
		}
		api.Use(middleware.Authenticate(oidcAuth))
		api.Use(middleware.Actor)
	} else {
		logger.Log.Warn("OIDC not configured, gateway running without authentication")
	}

	proxy.Register(router)

	handler := middleware.Logging(middleware.Recovery(middleware.CORS(router)))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("API Gateway started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down API Gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("API Gateway stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
