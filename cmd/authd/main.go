package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeep.org/internal/admin"
	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/cache"
	"gatekeep.org/internal/config"
	"gatekeep.org/internal/grpcapi"
	"gatekeep.org/internal/oauth"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/session"
	"gatekeep.org/internal/store/pg"
	"gatekeep.org/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogBackend, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Error("authd stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger obs.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	tokens, err := token.NewService(cfg.SecretKey,
		token.WithAccessTTL(cfg.AccessTokenTTL),
		token.WithRefreshTTL(cfg.RefreshTokenTTL),
	)
	if err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(tokens, session.NewStore(rdb), store)
	if err != nil {
		return err
	}
	auditLog := audit.New(os.Stdout)

	authSvc, err := auth.NewService(store, authn, auth.WithLogger(logger), auth.WithAudit(auditLog))
	if err != nil {
		return err
	}
	checkCache, err := cache.New(rdb,
		cache.WithPrefix("check_access:"),
		cache.WithLocalMaxCost(cfg.LocalCacheMaxCost),
		cache.WithLocalTTL(cfg.DefaultCacheTTL),
	)
	if err != nil {
		return err
	}
	adminSvc, err := admin.NewService(store, store, authn,
		admin.WithLogger(logger),
		admin.WithAudit(auditLog),
		admin.WithCheckAccessCache(checkCache, cfg.CheckAccessCacheTTL),
	)
	if err != nil {
		return err
	}
	oauthSvcs, err := oauthServices(cfg, rdb, store, authn, logger, auditLog)
	if err != nil {
		return err
	}

	srv, err := grpcapi.NewServer(grpcapi.Services{Auth: authSvc, Admin: adminSvc, OAuth: oauthSvcs},
		grpcapi.WithLogger(logger),
		grpcapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	if err != nil {
		return err
	}
	go srv.WatchReadiness(ctx, 10*time.Second,
		store.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	metrics := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "err", err)
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	logger.Info("authd started", "version", version, "grpc_addr", cfg.GRPCAddr, "metrics_addr", cfg.MetricsAddr,
		"oauth_providers", len(oauthSvcs))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	_ = metrics.Shutdown(shutdownCtx)
	logger.Info("stopped")
	return nil
}

func oauthServices(cfg config.Config, rdb redis.UniversalClient, store auth.Store, authn *auth.Authenticator,
	logger obs.Logger, auditLog *audit.Logger) ([]*oauth.Service, error) {
	states := oauth.NewStateStore(rdb, cfg.OAuthStateTTL)
	var out []*oauth.Service
	for _, name := range []auth.Provider{auth.ProviderGoogle, auth.ProviderYandex} {
		pc, ok := cfg.OAuth[string(name)]
		if !ok || !pc.Enabled() {
			continue
		}
		p, err := oauth.NewProvider(name, oauth.ProviderConfig{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Scopes:       pc.Scopes,
			UserInfoURL:  pc.UserInfoURL,
		})
		if err != nil {
			return nil, err
		}
		svc, err := oauth.NewService(p, states, store, authn, oauth.WithLogger(logger), oauth.WithAudit(auditLog))
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
