package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tbchat-client/internal/api"
	"github.com/ashureev/tbchat-client/internal/client"
	"github.com/ashureev/tbchat-client/internal/config"
	"github.com/ashureev/tbchat-client/internal/connection"
	"github.com/ashureev/tbchat-client/internal/health"
	"github.com/ashureev/tbchat-client/internal/middleware"
	"github.com/ashureev/tbchat-client/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const restoreWait = 15 * time.Second

func run(ctx context.Context, in io.Reader, out io.Writer, cfg *config.Config, flags rootFlags, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting chat client", "url", cfg.URL, "session_backend", cfg.Session.Backend)

	tokens, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	c := client.New(tokens, client.Options{
		Connection: connection.Options{
			URL:               cfg.URL,
			BaseDelay:         cfg.Connection.ReconnectBase,
			MaxAttempts:       cfg.Connection.ReconnectAttempts,
			KeepaliveInterval: cfg.Connection.KeepaliveInterval,
			DialTimeout:       cfg.Connection.DialTimeout,
		},
		RequestTimeout: cfg.Connection.RequestTimeout,
		SendRate:       cfg.Connection.SendRate,
		SendBurst:      cfg.Connection.SendBurst,
		MessageCap:     cfg.Mirror.MessageCap,
		HistoryLimit:   cfg.Mirror.HistoryLimit,
		Logger:         logger,
	})
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			logger.Debug("Failed to close client", "error", closeErr)
		}
	}()

	if cfg.HealthAddr != "" {
		hs := health.NewServer(logger.With("component", "health"))
		unsubscribe := c.Connection().Subscribe(hs)
		defer unsubscribe()
		go func() {
			if err := hs.ListenAndServe(ctx, cfg.HealthAddr); err != nil {
				logger.Error("Health server failed", "error", err)
			}
		}()
	}

	if cfg.StatusAddr != "" {
		srv := newStatusServer(cfg.StatusAddr, c, logger)
		go func() {
			logger.Info("Status API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status API failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Status API forced to shutdown", "error", err)
			}
		}()
	}

	con := newConsole(c, out, logger)
	go con.follow(ctx)

	if err := c.Start(ctx); err != nil {
		logger.Warn("Initial connection failed, retrying in background", "error", err)
	}

	if err := bootstrap(ctx, c, flags, con); err != nil {
		logger.Warn("Startup commands failed", "error", err)
	}

	err = con.readLoop(ctx, in)
	logger.Info("Shutting down gracefully...")
	return err
}

func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.Session.Backend != config.BackendSQLite {
		return session.NewMemoryStore(), func() {}, nil
	}

	scope := cfg.Session.Scope
	if scope == "" {
		scope = session.DefaultScope()
	}
	store, err := session.NewSQLite(cfg.Session.DBPath, scope, cfg.Session.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("session store health check: %w", err)
	}
	slog.Info("Session store ready", "path", cfg.Session.DBPath, "scope", scope)

	session.StartSweeper(ctx, store, cfg.Session.SweepInterval)
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close session store", "error", err)
		}
	}, nil
}

func newStatusServer(addr string, c *client.Client, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLog(logger.With("component", "api")))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	api.NewHandler(c, logger.With("component", "api")).RegisterRoutes(r)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// bootstrap waits for session resumption to settle, then logs in and joins
// the requested channels when no session was restored.
func bootstrap(ctx context.Context, c *client.Client, flags rootFlags, con *console) error {
	waitCtx, cancel := context.WithTimeout(ctx, restoreWait)
	defer cancel()
	if err := waitRestored(waitCtx, c); err != nil {
		return fmt.Errorf("wait for session resumption: %w", err)
	}

	if c.Snapshot().Identity == nil {
		if flags.nick == "" {
			con.notice("not logged in; use /login <nickname>")
			return nil
		}
		if _, err := c.Login(ctx, flags.nick); err != nil {
			return fmt.Errorf("login as %s: %w", flags.nick, err)
		}
	}

	var errs []error
	for _, name := range flags.join {
		if _, err := c.Join(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("join %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func waitRestored(ctx context.Context, c *client.Client) error {
	changes, cancel := c.Subscribe(16)
	defer cancel()

	for c.Restoring() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		}
	}
	return nil
}
