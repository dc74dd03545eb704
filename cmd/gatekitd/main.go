// Command gatekitd runs the control plane as a standalone service: the
// admin API over HTTP plus the background scheduler that drives rollout
// increments, canary evaluations, and governance action reversals.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/gatekit"
	"github.com/dmitrymomot/gatekit/adminapi"
	"github.com/dmitrymomot/gatekit/pkg/alert"
	"github.com/dmitrymomot/gatekit/pkg/config"
	"github.com/dmitrymomot/gatekit/pkg/govern"
	"github.com/dmitrymomot/gatekit/pkg/httpserver"
	"github.com/dmitrymomot/gatekit/pkg/kv"
	"github.com/dmitrymomot/gatekit/pkg/logger"
)

type appConfig struct {
	ServiceName string     `env:"SERVICE_NAME" envDefault:"gatekitd"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat   string     `env:"LOG_FORMAT" envDefault:"json"`

	// StorageDriver selects the kv backend: memory, redis, or postgres.
	// Memory is single-process only and loses state on restart.
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`

	// GovernDefaultsPath points at a YAML file with the governance
	// config template applied to subjects seen for the first time.
	GovernDefaultsPath string `env:"GOVERN_DEFAULTS_PATH"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	FlagCacheTTL time.Duration `env:"FLAG_CACHE_TTL" envDefault:"30s"`

	// AlertsRedisURL enables pub/sub alert delivery when set. Alerts
	// stay in-process (logged only) otherwise.
	AlertsRedisURL      string `env:"ALERTS_REDIS_URL"`
	AlertsChannelPrefix string `env:"ALERTS_CHANNEL_PREFIX" envDefault:"gatekit:alerts:"`

	HTTP httpserver.Config
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.LoadEnv()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	format := logger.FormatJSON
	if cfg.LogFormat == "text" {
		format = logger.FormatText
	}
	log := logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithFormat(format),
		logger.WithService(cfg.ServiceName),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg.StorageDriver)
	if err != nil {
		return err
	}
	defer backend.Close()

	alerts, err := openAlerts(ctx, cfg)
	if err != nil {
		return err
	}

	var defaults govern.Source
	if cfg.GovernDefaultsPath != "" {
		defaults = govern.NewFileSource(cfg.GovernDefaultsPath)
	}

	cp, err := gatekit.New(gatekit.Config{
		Backend:      backend,
		Defaults:     defaults,
		PollInterval: cfg.PollInterval,
	},
		gatekit.WithLogger(log),
		gatekit.WithAlerts(alerts),
		gatekit.WithFlagCacheTTL(cfg.FlagCacheTTL),
	)
	if err != nil {
		return err
	}

	if err := cp.Start(ctx); err != nil {
		return err
	}
	defer cp.Close()

	mux := chi.NewRouter()
	mux.Get("/health", httpserver.HealthCheckHandler(ctx, log))
	mux.Mount("/", adminapi.Router(adminapi.Dependencies{
		Flags:      cp.Flags,
		Rollouts:   cp.Rollouts,
		Governance: cp.Governance,
		Logger:     log,
	}))

	srv := httpserver.NewFromConfig(cfg.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("control plane listening",
				slog.String("addr", cfg.HTTP.Addr),
				slog.String("storage", cfg.StorageDriver))
		}),
	)
	return srv.Run(ctx, mux)
}

func openBackend(ctx context.Context, driver string) (kv.Store, error) {
	switch driver {
	case "memory":
		return kv.NewMemoryStore(), nil
	case "redis":
		var rc kv.RedisConfig
		if err := config.Load(&rc); err != nil {
			return nil, err
		}
		return kv.ConnectRedis(ctx, rc)
	case "postgres":
		var pc kv.PostgresConfig
		if err := config.Load(&pc); err != nil {
			return nil, err
		}
		return kv.ConnectPostgres(ctx, pc)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func openAlerts(ctx context.Context, cfg appConfig) (alert.Publisher, error) {
	if cfg.AlertsRedisURL == "" {
		return alert.NopPublisher{}, nil
	}
	opt, err := redis.ParseURL(cfg.AlertsRedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse alerts redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("alerts redis unreachable: %w", err)
	}
	return alert.NewRedisPublisher(client, cfg.AlertsChannelPrefix), nil
}
