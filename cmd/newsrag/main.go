package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/chunker"
	"github.com/Triyansha/newsletter-rag/internal/classify"
	"github.com/Triyansha/newsletter-rag/internal/config"
	"github.com/Triyansha/newsletter-rag/internal/domain"
	logpkg "github.com/Triyansha/newsletter-rag/internal/logger"
	"github.com/Triyansha/newsletter-rag/internal/metrics"
	"github.com/Triyansha/newsletter-rag/internal/normalize"
	"github.com/Triyansha/newsletter-rag/internal/repository/embcache"
	"github.com/Triyansha/newsletter-rag/internal/store"
	storeRedis "github.com/Triyansha/newsletter-rag/internal/store/redis"
	chiTransport "github.com/Triyansha/newsletter-rag/internal/transport/chi"
	openaiTransport "github.com/Triyansha/newsletter-rag/internal/transport/openai"
	healthuc "github.com/Triyansha/newsletter-rag/internal/usecase/health"
	ingestuc "github.com/Triyansha/newsletter-rag/internal/usecase/ingest"
	queryuc "github.com/Triyansha/newsletter-rag/internal/usecase/query"
	statsuc "github.com/Triyansha/newsletter-rag/internal/usecase/stats"
	"github.com/Triyansha/newsletter-rag/internal/version"
)

func main() {
	// .env is optional, real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting newsrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_driver", cfg.Store.Driver),
	)

	ctx := context.Background()

	// Vector store, embedded by default.
	var vecStore store.Store
	switch cfg.Store.Driver {
	case "chromem":
		vecStore, err = store.NewChromemStore(store.ChromemConfig{
			Path:       cfg.Store.Path,
			Compress:   cfg.Store.Compress,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
	case "redis":
		var rs *storeRedis.Store
		rs, err = storeRedis.NewStore(ctx, storeRedis.Config{
			Addrs:           cfg.Store.Addrs,
			Password:        cfg.Store.Password,
			KeyPrefix:       cfg.Store.KeyPrefix,
			Dimensions:      cfg.Embedding.Dimensions,
			HNSWM:           cfg.Store.HNSWM,
			HNSWEFConstruct: cfg.Store.HNSWEFConstruct,
		}, logger)
		if err == nil {
			readiness := time.Duration(cfg.Store.ReadinessTimeout) * time.Second
			if waitErr := rs.WaitForReady(ctx, readiness); waitErr != nil {
				logger.Fatal("Store not ready", zap.Error(waitErr))
			}
		}
		vecStore = rs
	default:
		logger.Fatal("Unknown store driver", zap.String("driver", cfg.Store.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer func() { _ = vecStore.Close() }()
	logger.Info("Vector store ready")

	// Register all metrics explicitly (no init())
	metrics.RegisterHTTPMetrics()
	metrics.RegisterPipelineMetrics()

	// Embedder chain: OpenAI gateway, LRU cache on top when enabled.
	gateway := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	var embedder interface {
		domain.Embedder
		domain.BatchEmbedder
	} = gateway
	if cfg.Embedding.CacheSize > 0 {
		cached, err := embcache.New(gateway, cfg.Embedding.CacheSize, logger)
		if err != nil {
			logger.Fatal("Failed to create embedding cache", zap.Error(err))
		}
		embedder = cached
	}
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("cache_size", cfg.Embedding.CacheSize),
	)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:      cfg.Embedding.APIKey,
		BaseURL:     cfg.Embedding.BaseURL,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		Logger:      logger,
	})

	// Pipeline components.
	classifier := classify.New(classify.Config{
		StrongSignalsRequired: cfg.Classifier.StrongSignalsRequired,
		WeakSignalsRequired:   cfg.Classifier.WeakSignalsRequired,
		FilterPromotions:      cfg.Classifier.FilterPromotions,
	})
	normalizer := normalize.New()
	chunk, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.Tolerance)
	if err != nil {
		logger.Fatal("Invalid chunking config", zap.Error(err))
	}

	// Usecase services.
	ingestSvc := ingestuc.New(classifier, normalizer, chunk, embedder, vecStore, logger).
		WithWorkers(cfg.Sync.Workers).
		WithMaxBatchSize(cfg.Sync.MaxBatchSize)
	querySvc := queryuc.New(embedder, vecStore, vecStore, generator, queryuc.Config{
		TopK:              cfg.Query.TopK,
		MaxTopK:           cfg.Query.MaxTopK,
		ContextCharBudget: cfg.Query.ContextCharBudget,
		MinScore:          cfg.Query.MinScore,
	}, logger)
	statsSvc := statsuc.New(vecStore)
	healthSvc := healthuc.New(vecStore, gateway)

	server := chiTransport.NewServer(ingestSvc, querySvc, statsSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
