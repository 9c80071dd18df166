package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accessgate.io/internal/audit"
	"accessgate.io/internal/auth"
	"accessgate.io/internal/config"
	"accessgate.io/internal/httpapi"
	"accessgate.io/internal/migrate"
	"accessgate.io/internal/obs"
	"accessgate.io/internal/resource"
	"accessgate.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	users     auth.UserStore
	resources resource.Store
	audit     audit.Store
	ready     httpapi.ReadyProbe
	close     func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	st, err := openStores(cfg.Database)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.TokenIssuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	auditLog := audit.New(st.audit, st.users)
	authn, err := auth.NewAuthenticator(st.users, tokens, auditLog, cfg.Auth.AdminPasskey,
		auth.WithHasher(auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}),
	)
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}
	dir, err := resource.NewDirectory(st.resources, st.users, auditLog)
	if err != nil {
		log.Fatalf("resource directory: %v", err)
	}

	api, err := httpapi.New(httpapi.Services{Auth: authn, Resources: dir, Audit: auditLog}, httpapi.Options{
		Version:        version,
		Ready:          st.ready,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustProxy:     cfg.HTTP.TrustProxy,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	obs.LogInfo("starting accessgate", map[string]any{
		"version":   version,
		"addr":      srv.Addr,
		"postgres":  cfg.Database.DSN != "",
		"token_ttl": cfg.Auth.TokenTTL.String(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.LogInfo("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		obs.LogError("shutdown", err, nil)
	}
	if err := st.close(); err != nil {
		obs.LogError("close storage", err, nil)
	}
	obs.LogInfo("stopped", nil)
}

// openStores connects to PostgreSQL when a DSN is configured and falls back to
// process memory otherwise.
func openStores(cfg config.DatabaseConfig) (stores, error) {
	if cfg.DSN == "" {
		obs.LogInfo("no database configured, using in-memory stores", nil)
		return stores{
			users:     auth.NewInMemoryUsers(),
			resources: resource.NewInMemory(),
			audit:     audit.NewInMemory(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := pg.Open(cfg.DSN)
	if err != nil {
		return stores{}, err
	}
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		applied, err := migrate.NewManager(db.DB(), nil).Up(ctx)
		if err != nil {
			_ = db.Close()
			return stores{}, err
		}
		obs.LogInfo("migrations applied", map[string]any{"applied": applied})
	}
	return stores{
		users:     db.Users(),
		resources: db.Resources(),
		audit:     db.Audit(),
		ready:     httpapi.ReadyProbe{DB: db},
		close:     db.Close,
	}, nil
}
