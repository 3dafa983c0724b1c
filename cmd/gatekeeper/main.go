package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/config"
	httpapi "github.com/dropDatabas3/gatekeeper/internal/http"
	jwtx "github.com/dropDatabas3/gatekeeper/internal/jwt"
	"github.com/dropDatabas3/gatekeeper/internal/kv"
	"github.com/dropDatabas3/gatekeeper/internal/oauth"
	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
	"github.com/dropDatabas3/gatekeeper/internal/rate"
	"github.com/dropDatabas3/gatekeeper/internal/security/secretbox"
	"github.com/dropDatabas3/gatekeeper/internal/security/statetoken"
	"github.com/dropDatabas3/gatekeeper/internal/session"
	"github.com/dropDatabas3/gatekeeper/internal/store"

	rdb "github.com/redis/go-redis/v9"
)

func main() {
	var (
		envFile    string
		configPath string
	)

	root := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Identity y session broker (PKCE, sesiones rotativas, TOTP, RBAC)",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env (opcional)")
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "ruta al YAML de configuración")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el broker HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Best-effort: el .env es comodidad de dev, no requisito.
			_ = godotenv.Load(envFile)
			return serve(configPath)
		},
	}
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("cargar config: %w", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "gatekeeper"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	kvs, err := kv.Open(ctx, kv.Config{
		Driver: cfg.Storage.Driver,
		Redis: kv.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		},
		Postgres: kv.PostgresConfig{DSN: cfg.Storage.Postgres.DSN},
	})
	if err != nil {
		return fmt.Errorf("abrir storage: %w", err)
	}
	defer func() { _ = kvs.Close() }()

	var box *secretbox.Box
	if len(cfg.Secrets.MFAMasterKey) > 0 {
		box, err = secretbox.New(cfg.Secrets.MFAMasterKey)
		if err != nil {
			return fmt.Errorf("clave mfa: %w", err)
		}
	} else {
		log.Warn("MFA_ENC_MASTER_KEY ausente: secretos TOTP sin cifrar (solo dev)")
	}

	st := store.New(kvs, box)
	rec := audit.New(st)

	// Tokens
	issuer := jwtx.NewIssuer(cfg.Secrets.JWTSecret, cfg.JWT.Issuer, cfg.JWT.Audience)
	issuer.AccessTTL = cfg.AccessTTLDuration()

	// OAuth
	registry := oauth.BuildRegistry(
		oauth.ProviderCredentials(cfg.Providers.Google),
		oauth.ProviderCredentials(cfg.Providers.Microsoft),
	)
	if len(registry) == 0 {
		log.Warn("ningún provider OAuth configurado: /v1/oauth/* rechazará todo")
	}
	states := statetoken.New(cfg.Secrets.StateSecret)
	orch := oauth.New(registry, states, st, rec)

	// Sesiones
	mgr := session.New(st, issuer, rec)
	mgr.RefreshTTL = cfg.RefreshTTLDuration()

	// Rate limiting
	var redisClient *rdb.Client
	if cfg.Rate.Enabled && cfg.Rate.Driver == "redis" {
		redisClient = rdb.NewClient(&rdb.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
	}
	newLimiter := func(rl config.RouteLimit) rate.Limiter {
		if !cfg.Rate.Enabled {
			return nil
		}
		if redisClient != nil {
			return rate.NewRedisLimiter(redisClient, "ratelimit", rl.Limit, rl.WindowDuration())
		}
		return rate.NewMemoryLimiter(rl.Limit, rl.WindowDuration())
	}

	metricsHandler, err := httpapi.RegisterMetrics(nil)
	if err != nil {
		return fmt.Errorf("registrar métricas: %w", err)
	}

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Guard:   &httpapi.Guard{Issuer: issuer, Store: st},
		OAuth:   &httpapi.OAuthController{Orchestrator: orch},
		Session: &httpapi.SessionController{Manager: mgr, Issuer: issuer},
		MFA:     &httpapi.MFAController{Store: st, Audit: rec, Issuer: cfg.JWT.Issuer},
		Roles:   &httpapi.RolesController{Store: st, Audit: rec},
		Limits: httpapi.RouteLimiters{
			Start:      newLimiter(cfg.Rate.Start),
			Callback:   newLimiter(cfg.Rate.Callback),
			Exchange:   newLimiter(cfg.Rate.Exchange),
			Refresh:    newLimiter(cfg.Rate.Refresh),
			Logout:     newLimiter(cfg.Rate.Logout),
			MFASetup:   newLimiter(cfg.Rate.MFASetup),
			MFAVerify:  newLimiter(cfg.Rate.MFAVerify),
			MFADisable: newLimiter(cfg.Rate.MFADisable),
			Roles:      newLimiter(cfg.Rate.Roles),
		},
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Metrics:        metricsHandler,
	})

	log.Info("gatekeeper starting",
		logger.String("addr", cfg.Server.Addr),
		logger.String("storage", cfg.Storage.Driver),
		logger.Int("providers", len(registry)),
		logger.Bool("rate_enabled", cfg.Rate.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(gctx, cfg.Server.Addr, router)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// margen para flushear logs/auditoría en curso
	time.Sleep(100 * time.Millisecond)
	log.Info("gatekeeper stopped")
	return nil
}
