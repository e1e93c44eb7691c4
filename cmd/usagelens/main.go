package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/amberdesk/usagelens"
	"github.com/amberdesk/usagelens/internal/config"
	logpkg "github.com/amberdesk/usagelens/internal/logger"
	"github.com/amberdesk/usagelens/internal/metrics"
	"github.com/amberdesk/usagelens/internal/version"
)

func main() {
	var (
		event     = flag.String("event", "", "primary event for the quarterly report")
		mode      = flag.String("mode", "totals", "metric mode: uniques, totals, avg, propSum")
		groupBy   = flag.String("group-by", "gp:organization", "group-by property (gp:/up:/ep: prefixed)")
		org       = flag.String("org", "", "restrict the report to one organization")
		quarters  = flag.Int("quarters", 3, "number of quarters, newest first")
		paidEvent = flag.String("paid-event", "", "optional paid-feature event merged per label")
		serve     = flag.Bool("serve", false, "keep running and expose /healthz and /metrics")
	)
	flag.Parse()

	// Load configuration based on ENV
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

	logger.Info("Starting usagelens",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("project_id", cfg.Amplitude.ProjectID),
		zap.String("base_url", cfg.Amplitude.BaseURL),
	)

	// Register analytics metrics explicitly (no init())
	metrics.RegisterAnalyticsMetrics()

	engine, err := usagelens.New(
		usagelens.Credentials{
			APIKey:    cfg.Amplitude.APIKey,
			SecretKey: cfg.Amplitude.SecretKey,
			ProjectID: cfg.Amplitude.ProjectID,
		},
		usagelens.WithBaseURL(cfg.Amplitude.BaseURL),
		usagelens.WithRequestTimeout(time.Duration(cfg.Amplitude.TimeoutSec)*time.Second),
		usagelens.WithMaxRetries(cfg.Amplitude.MaxRetries),
		usagelens.WithBaseDelay(time.Duration(cfg.Amplitude.BaseDelayMs)*time.Millisecond),
		usagelens.WithCacheTTL(time.Duration(cfg.Cache.TTLMinutes)*time.Minute),
		usagelens.WithProjectConcurrency(int64(cfg.Query.ProjectConcurrency)),
		usagelens.WithDefaultLimit(cfg.Query.DefaultLimit),
		usagelens.WithOrgProperty(cfg.Query.OrgProperty),
		usagelens.WithLogger(logger),
		usagelens.WithCacheMetrics(),
	)
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}

	if *serve {
		runOpsServer(cfg, logger)
		return
	}

	if *event == "" {
		logger.Fatal("Flag -event is required for a one-shot report")
	}

	report, err := engine.QuarterlyRollup(context.Background(), usagelens.QuarterlyRequest{
		Event:     *event,
		Mode:      usagelens.Mode(*mode),
		GroupBy:   *groupBy,
		Org:       *org,
		Quarters:  *quarters,
		PaidEvent: *paidEvent,
	})
	if err != nil {
		logger.Fatal("Quarterly report failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatal("Failed to encode report", zap.Error(err))
	}
}

// runOpsServer exposes health and metrics until a shutdown signal arrives.
func runOpsServer(cfg config.Config, logger *zap.Logger) {
	addr := cfg.Ops.Addr
	if addr == "" {
		logger.Fatal("ops.addr must be set to serve")
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting ops server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ops server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Ops.ShutdownSec)*time.Second)
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

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
