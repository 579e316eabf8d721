package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/config"
	"github.com/vedran77/lobby/internal/database"
	"github.com/vedran77/lobby/internal/encryption"
	"github.com/vedran77/lobby/internal/logging"
	"github.com/vedran77/lobby/internal/metrics"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository"
	"github.com/vedran77/lobby/internal/repository/memory"
	postgresrepo "github.com/vedran77/lobby/internal/repository/postgres"
	"github.com/vedran77/lobby/internal/service"
	"github.com/vedran77/lobby/internal/session"
	"github.com/vedran77/lobby/internal/transport/http/handlers"
	"github.com/vedran77/lobby/internal/transport/http/middleware"
	"github.com/vedran77/lobby/internal/transport/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.SetupDefault(os.Stdout, cfg.LogLevel)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	// Store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Cache
	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("connected to redis")

	box, err := encryption.NewBox(cfg.MessageKey)
	if err != nil {
		return fmt.Errorf("message key: %w", err)
	}

	// Services
	bus := pubsub.NewBus(pubsub.DefaultBufferSize, rec)
	applier := service.NewApplier(store, cache.New(rdb), session.NewRegistry(), bus, logger, rec)
	messageService := service.NewMessageService(applier, box)
	channelService := service.NewChannelService(applier, messageService)
	authService := service.NewAuthService(applier, cfg.JWTSecret, cfg.IsAdmin,
		service.LogMailer{Logger: logger}, service.AllowAll{})

	if err := channelService.Warm(ctx); err != nil {
		logger.Warn("cache warm-up failed", slog.String("error", err.Error()))
	}

	// Routes
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin)
	defer limiter.Stop()
	hub := ws.NewHub(bus, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.Handle("GET /ws", ws.ServeWS(hub, authService, []string{originHost(cfg.ClientURL)}))
	handlers.Routes{
		Auth:        handlers.NewAuthHandler(authService),
		Channels:    handlers.NewChannelHandler(channelService),
		Messages:    handlers.NewMessageHandler(messageService),
		RequireAuth: middleware.Auth(authService),
		PostLimit:   limiter.Middleware,
	}.Register(mux)

	var h http.Handler = mux
	h = middleware.Loaders(store)(h)
	h = middleware.CORS(cfg.ClientURL)(h)
	h = middleware.Recovery(logger)(h)
	h = middleware.Logging(logger, rec)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns the configured durable store and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.DSN(), database.RetryPolicy{
		Attempts: cfg.DBConnectRetries,
		Delay:    cfg.DBConnectDelay,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to database")

	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgresrepo.NewStore(pool), pool.Close, nil
}

// originHost returns the host of the client URL for websocket origin
// matching.
func originHost(clientURL string) string {
	u, err := url.Parse(clientURL)
	if err != nil || u.Host == "" {
		return clientURL
	}
	return u.Host
}
