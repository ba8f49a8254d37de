// Package cli – App
//
// This file wires the client for one process: the local state database,
// the session and its cookie jar, the request gateway, the services and the
// realtime client. Commands open the App lazily and close it when they return.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-lostfound-client/internal/api"
	"github.com/tbourn/go-lostfound-client/internal/config"
	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/gateway"
	"github.com/tbourn/go-lostfound-client/internal/observability"
	"github.com/tbourn/go-lostfound-client/internal/realtime"
	"github.com/tbourn/go-lostfound-client/internal/repo"
	"github.com/tbourn/go-lostfound-client/internal/services"
	"github.com/tbourn/go-lostfound-client/internal/session"
)

// App is the wired client: local state, session, gateway, services and the
// realtime client.
type App struct {
	Cfg       config.Config
	DB        *gorm.DB
	Session   *session.Session
	Jar       *repo.CookieJar
	Gateway   *gateway.Gateway
	Auth      *services.AuthService
	Directory *services.Directory
	Handshake *services.CloseHandshake
	Realtime  *realtime.Client
	Items     api.ItemsAPI

	restoreOnce sync.Once
	restored    bool

	metrics      *http.Server
	otelShutdown observability.ShutdownFunc
}

// OpenApp wires every component from cfg.
func OpenApp(ctx context.Context, cfg config.Config) (*App, error) {
	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a := &App{Cfg: cfg, otelShutdown: shutdown}
	if err := a.wire(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Cfg
	db, err := repo.OpenSQLite(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state %s: %w", cfg.StatePath, err)
	}
	a.DB = db
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate state: %w", err)
	}

	if a.Session, err = session.New(ctx, repo.NewCredentialStore(db, cfg.Profile)); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if a.Jar, err = repo.NewCookieJar(ctx, db, cfg.Profile); err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}
	a.Gateway, err = gateway.New(a.Session, gateway.Options{
		BaseURL:        cfg.APIBaseURL,
		Jar:            a.Jar,
		RequestTimeout: cfg.RequestTimeout,
		RenewTimeout:   cfg.RenewTimeout,
	})
	if err != nil {
		return err
	}

	a.Auth = services.NewAuthService(api.AuthAPI{Doer: a.Gateway}, a.Session)
	a.Auth.Cookies = a.Jar
	a.Directory = services.NewDirectory(api.ChatAPI{Doer: a.Gateway}, a.Auth)
	a.Directory.HistoryLimit = cfg.HistoryLimit
	a.Handshake = services.NewCloseHandshake(a.Directory)
	a.Items = api.ItemsAPI{Doer: a.Gateway}

	a.Realtime, err = realtime.NewClient(realtime.Options{
		URL:            cfg.WSURL,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendRPS:        cfg.SendRPS,
		SendBurst:      cfg.SendBurst,
	}, a.Session, a.Auth, a.Handshake)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener stopped")
			}
		}()
	}
	return nil
}

// Restore runs the silent session restore once per process and reports
// whether the session is authenticated afterwards.
func (a *App) Restore(ctx context.Context) bool {
	a.restoreOnce.Do(func() {
		a.restored = (&session.Resolver{Session: a.Session, Renewer: a.Gateway}).Restore(ctx)
	})
	return a.restored
}

// RequireSession restores the session and fails with ErrAuthRejected when
// nobody is signed in.
func (a *App) RequireSession(ctx context.Context) error {
	if !a.Restore(ctx) {
		return fmt.Errorf("%w: not signed in, run `lostfound login`", domain.ErrAuthRejected)
	}
	return nil
}

// Enter joins a thread. A handshake refused for an expired token is retried
// once after a renewal.
func (a *App) Enter(ctx context.Context, threadID int64) (*realtime.Channel, error) {
	ch, err := a.Realtime.Enter(ctx, threadID)
	if err == nil || !errors.Is(err, domain.ErrAuthExpired) {
		return ch, err
	}
	if _, rerr := a.Gateway.Renew(ctx); rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return a.Realtime.Enter(ctx, threadID)
}

// Close releases every resource. It is safe on a partially wired App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Realtime != nil {
		a.Realtime.Leave()
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if a.otelShutdown != nil {
		errs = append(errs, a.otelShutdown(ctx))
	}
	return errors.Join(errs...)
}
