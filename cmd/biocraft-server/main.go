package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/biocraft-studio/internal/cache/redis"
	"github.com/pribylovaa/biocraft-studio/internal/config"
	"github.com/pribylovaa/biocraft-studio/internal/csrf"
	apphttp "github.com/pribylovaa/biocraft-studio/internal/http"
	"github.com/pribylovaa/biocraft-studio/internal/http/handlers"
	"github.com/pribylovaa/biocraft-studio/internal/http/middleware"
	"github.com/pribylovaa/biocraft-studio/internal/identity"
	"github.com/pribylovaa/biocraft-studio/internal/oauth"
	"github.com/pribylovaa/biocraft-studio/internal/ratelimit"
	"github.com/pribylovaa/biocraft-studio/internal/service"
	"github.com/pribylovaa/biocraft-studio/internal/session"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"github.com/pribylovaa/biocraft-studio/internal/storage/minio"
	"github.com/pribylovaa/biocraft-studio/internal/storage/mongo"
	"github.com/pribylovaa/biocraft-studio/internal/storage/postgres"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// pinger — зависимость, проверяемая в /healthz.
type pinger func(ctx context.Context) error

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting biocraft-server", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := postgres.Migrate(rootCtx, cfg.DB.DatabaseURL); err != nil {
		log.Error("migrations_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	pg, err := postgres.New(rootCtx, cfg.DB.DatabaseURL)
	if err != nil {
		log.Error("postgres_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer pg.Close()

	checks := map[string]pinger{"postgres": pg.Ping}
	cleaners := map[string]identity.Cleaner{
		"refresh_tokens": pg.DeleteExpiredTokens,
		"reset_tokens":   pg.DeleteExpiredResetTokens,
	}

	// Сессии CSRF и лимиты: Redis, если задан, иначе in-memory.
	var (
		sessions    csrf.Store
		authLimiter ratelimit.Limiter
		apiLimiter  ratelimit.Limiter
	)

	if cfg.Redis.RedisURL != "" {
		rc, err := redis.New(rootCtx, cfg.Redis.RedisURL)
		if err != nil {
			log.Error("redis_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer func() {
			if cerr := rc.Close(); cerr != nil {
				log.Warn("redis_close_failed", slog.String("err", cerr.Error()))
			}
		}()

		sessions = rc.Sessions("session:")
		authLimiter = rc.RateLimiter("rl:auth:", cfg.RateLimit.AuthLimit, cfg.RateLimit.AuthWindow)
		apiLimiter = rc.RateLimiter("rl:api:", cfg.RateLimit.APILimit, cfg.RateLimit.APIWindow)
		checks["redis"] = rc.Ping
		log.Info("redis_connected")
	} else {
		mem := csrf.NewMemoryStore()
		sessions = mem
		cleaners["csrf_sessions"] = func(context.Context, time.Time) (int64, error) {
			return int64(mem.Sweep()), nil
		}

		authMem := ratelimit.NewMemory(cfg.RateLimit.AuthLimit, cfg.RateLimit.AuthWindow)
		apiMem := ratelimit.NewMemory(cfg.RateLimit.APILimit, cfg.RateLimit.APIWindow)
		authMem.StartCleanup(rootCtx, 0)
		apiMem.StartCleanup(rootCtx, 0)
		authLimiter, apiLimiter = authMem, apiMem
		log.Info("in_memory_sessions", slog.String("reason", "redis_url is empty"))
	}

	var recipes storage.RecipeStorage = pg
	if cfg.Recipes.Backend == config.RecipesMongo {
		mg, err := mongo.New(rootCtx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Error("mongo_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := mg.Close(ctx); cerr != nil {
				log.Warn("mongo_close_failed", slog.String("err", cerr.Error()))
			}
		}()

		recipes = mg
		checks["mongo"] = mg.Ping
		log.Info("recipes_backend", slog.String("backend", config.RecipesMongo))
	}

	var files storage.FileStorage
	if cfg.S3.Endpoint != "" {
		fs, err := minio.New(rootCtx, cfg.S3, cfg.Upload)
		if err != nil {
			log.Error("minio_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		files = fs
	} else {
		log.Warn("uploads_disabled", slog.String("reason", "s3.endpoint is empty"))
	}

	registry, err := oauthRegistry(rootCtx, cfg)
	if err != nil {
		log.Error("oauth_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("oauth_providers", slog.Any("providers", registry.Names()))

	provider := identity.NewLocal(pg, cfg.Auth)

	svc := service.New(cfg, service.Deps{
		Provider: provider,
		Profiles: pg,
		Resets:   pg,
		Recipes:  recipes,
		Files:    files,
		OAuth:    registry,
	})

	metrics := middleware.NewMetrics(prometheus.DefaultRegisterer)
	codec := session.NewCodec(cfg)

	guard := csrf.NewGuard(sessions, cfg.Auth.SessionMaxAge, codec.Secure, codec.SameSite)
	guard.OnReject = metrics.CSRFRejected

	identity.StartJanitor(rootCtx, log, cfg.Auth.JanitorInterval, cleaners)

	apiHandler := apphttp.NewRouter(svc, codec, guard, apphttp.Options{
		Logger:      log,
		Timeout:     cfg.Timeouts.Request,
		Production:  cfg.IsProduction(),
		FrontendURL: cfg.FrontendURL,
		TrustProxy:  cfg.HTTP.TrustProxy,
		AuthLimiter: authLimiter,
		APILimiter:  apiLimiter,
		Metrics:     metrics,
		Handlers: handlers.Options{
			FrontendURL:    cfg.FrontendURL,
			Secure:         codec.Secure,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		},
	})

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&ready) != 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				log.Warn("healthz_dependency_down", slog.String("dep", name), slog.String("err", err.Error()))
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/", apiHandler)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)
	log.Info("server_ready")

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	log.Info("service_stopped")
}

// oauthRegistry регистрирует провайдеров с заданным client_id.
func oauthRegistry(ctx context.Context, cfg *config.Config) (*oauth.Registry, error) {
	var list []oauth.Provider

	if c := cfg.OAuth.Google; c.ClientID != "" {
		g, err := oauth.NewGoogle(ctx, c.ClientID, c.ClientSecret, cfg.OAuth.RedirectURL)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}

	if c := cfg.OAuth.GitHub; c.ClientID != "" {
		list = append(list, oauth.NewGitHub(c.ClientID, c.ClientSecret, cfg.OAuth.RedirectURL))
	}

	return oauth.NewRegistry(list...), nil
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
