package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "voiceinsight/internal/adapters/http"
	"voiceinsight/internal/bootstrap"
	"voiceinsight/internal/config"
	"voiceinsight/internal/observability/logging"
	"voiceinsight/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("voiceinsight-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	serverMetrics := metrics.NewHTTPServerMetrics("voiceinsight-api")
	router := httpadapter.NewRouter(
		app.UploadUC,
		app.QueryUC,
		app.ExportUC,
		serverMetrics,
		httpadapter.RouterConfig{
			MaxUploadSize:          cfg.MaxUploadSize,
			AllowedAudioExtensions: cfg.AllowedAudioExtensions,
			RateLimitRPS:           cfg.APIRateLimitRPS,
			RateLimitBurst:         cfg.APIRateLimitBurst,
			MaxConcurrent:          cfg.APIMaxConcurrent,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
}
