package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/config"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/counter"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/events"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/lockout"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/metrics"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/notify"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/ratelimit"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/service"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage/postgres"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
	transport "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http"
	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Детали внутренних ошибок в телах ответов — только вне prod.
	apierrors.SetVerbose(!cfg.Prod())

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Подключение к БД с таймаутом.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		log.Error("postgres_connect_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}
	log.Info("postgres_connected")

	// Счётчики для lockout и rate limit: Redis либо память одного процесса.
	cnt, backend, err := buildCounter(cfg)
	if err != nil {
		log.Error("counter_init_failed", slog.String("err", err.Error()))
		rootCancel()
		str.Close()
		os.Exit(1)
	}
	log.Info("counter_initialized", slog.String("backend", backend))

	guard := lockout.NewGuard(cnt, cfg.Lockout.Threshold, cfg.Lockout.Window)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cnt, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	tm, err := tokens.New(cfg.Auth)
	if err != nil {
		log.Error("tokens_init_failed", slog.String("err", err.Error()))
		rootCancel()
		str.Close()
		os.Exit(1)
	}

	// Сервис и опциональные зависимости.
	srvc := service.New(str, tm, guard, *cfg)
	srvc.SetNotifier(notify.NewLogNotifier(log))

	publisher, err := buildPublisher(cfg, log)
	if err != nil {
		log.Error("publisher_init_failed", slog.String("err", err.Error()))
		rootCancel()
		str.Close()
		os.Exit(1)
	}
	srvc.SetPublisher(publisher)
	log.Info("service_initialized")

	var ready atomic.Bool

	// Служебный листенер: /livez, /healthz, /metrics.
	opsSrv := &http.Server{
		Addr:              cfg.Ops.Addr(),
		Handler:           transport.NewOpsRouter(&ready),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("ops_listen_start", slog.String("addr", opsSrv.Addr))
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops_serve_failed", slog.String("err", err.Error()))
		}
	}()

	// Публичный HTTP API.
	apiSrv := &http.Server{
		Handler: transport.NewRouter(srvc, tm, str, *cfg, transport.Options{
			Logger:  log,
			Timeout: cfg.Timeouts.Service,
			Limiter: limiter,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновая очистка истёкших refresh-сессий.
	startSessionJanitor(rootCtx, str, log, cfg.Sessions.JanitorInterval)

	addr := cfg.HTTP.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("http_listen_failed",
			slog.String("addr", addr),
			slog.String("err", err.Error()),
		)
		rootCancel()
		str.Close()
		os.Exit(1)
	}
	log.Info("http_listen_start", slog.String("addr", addr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := apiSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	// Сервис готов: readiness — в true.
	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	// Снимаем readiness и останавливаемся с таймаутом.
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops_force_stop", slog.String("err", err.Error()))
	}
	shutdownCancel()

	// Явная очистка перед выходом.
	if err := publisher.Close(); err != nil {
		log.Warn("publisher_close_failed", slog.String("err", err.Error()))
	}
	if err := cnt.Close(); err != nil {
		log.Warn("counter_close_failed", slog.String("err", err.Error()))
	}
	rootCancel()
	str.Close()

	log.Info("service_stopped")
	os.Exit(0)
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// buildCounter выбирает бэкенд счётчиков. Память корректна только для
// единственного экземпляра сервиса; несколько реплик обязаны делить Redis.
func buildCounter(cfg *config.Config) (counter.Counter, string, error) {
	if cfg.Lockout.Store == config.LockoutStoreRedis || cfg.Redis.RedisURL != "" {
		if cfg.Redis.RedisURL == "" {
			return nil, "", fmt.Errorf("lockout store is %q, but redis url is empty", cfg.Lockout.Store)
		}

		cnt, err := counter.NewRedisCounter(cfg.Redis.RedisURL, "auth")
		if err != nil {
			return nil, "", err
		}

		return cnt, "redis", nil
	}

	return counter.NewMemoryCounter(), "memory", nil
}

// buildPublisher выбирает шину событий безопасности: Kafka либо лог.
func buildPublisher(cfg *config.Config, log *slog.Logger) (events.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return events.NewLogPublisher(log), nil
	}

	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
}

// startSessionJanitor запускает фоновую задачу, которая периодически удаляет
// истёкшие refresh-сессии из реестра с помощью storage.DeleteExpiredSessions.
func startSessionJanitor(ctx context.Context, st storage.Storage, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := st.DeleteExpiredSessions(ctx, time.Now().UTC())
				if err != nil {
					log.Error("session_janitor_failed", slog.String("err", err.Error()))
					continue
				}
				if n > 0 {
					metrics.SessionsExpiredTotal.Add(float64(n))
					log.Info("session_janitor_cleaned", slog.Int64("sessions", n))
				}
			}
		}
	}()
}
