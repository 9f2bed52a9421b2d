package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"socportal.org/internal/audit"
	"socportal.org/internal/auth"
	"socportal.org/internal/config"
	"socportal.org/internal/httpapi"
	"socportal.org/internal/idp"
	"socportal.org/internal/migrate"
	"socportal.org/internal/obs"
)

var (
	version = "0.4.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.InitLogger("info", "json")
		logger := obs.Log()
		logger.Fatal().Err(err).Msg("load config")
	}

	obs.InitLogger(cfg.Log.Level, cfg.Log.Format)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	logger := obs.Log()

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if cfg.Database.MigrationsDir != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrate.NewRunner(db, cfg.Database.MigrationsDir).Up(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		cancel()
	}

	kc := idp.New(idp.Config{
		BaseURL:   cfg.Keycloak.BaseURL,
		Realm:     cfg.Keycloak.Realm,
		ClientID:  cfg.Keycloak.ClientID,
		AdminUser: cfg.Keycloak.AdminUser,
		AdminPass: cfg.Keycloak.AdminPass,
	}, nil)

	codec, err := auth.NewLocalTokenCodec(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("build token codec")
	}

	jwks := auth.NewJWKSCache(kc.JWKSURL(), nil, cfg.Keycloak.JWKSTTL)
	verifier := auth.NewClaimsVerifier(jwks, kc.Issuer(), cfg.Keycloak.Audience)

	store := auth.NewPGStore(db)
	resolver := auth.NewIdentityResolver(store.Users(), verifier, codec)
	svc := auth.NewService(store, codec, auth.WithRoleAssigner(kc))
	recorder := audit.NewRecorder(audit.NewPGStore(db))

	readyProbe := func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}

	api, err := httpapi.New(cfg, svc, resolver, codec, store.Users(), recorder, readyProbe, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("build api")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	logger.Info().
		Str("addr", srv.Addr).
		Str("version", version).
		Msg("starting soc-portal api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	logger.Info().Msg("stopped")
}
