// storefrontd owns one shopper's storefront session: an anonymous local cart
// and wishlist that are merged into the account on login, served over HTTP
// (REST and MCP) to presentation clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront-sync/internal/config"
	"storefront-sync/internal/handler"
	"storefront-sync/internal/identity"
	"storefront-sync/internal/localcache"
	"storefront-sync/internal/middleware"
	"storefront-sync/internal/model"
	"storefront-sync/internal/remote"
	"storefront-sync/internal/session"
	"storefront-sync/internal/store"
	"storefront-sync/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_base_url", cfg.APIBaseURL()),
		slog.Bool("persist_local", cfg.PersistLocal),
		slog.Bool("chrome_tls", cfg.API.ChromeTLS),
	)

	// Durable state: identity always when a path is configured, collections on request
	var (
		db        *store.SQLite
		idStore  identity.Store
	)
	if cfg.StatePath != "" {
		db, err = store.Open(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("opening state: %w", err)
		}
		defer db.Close()
		idStore = db
	}

	holder := identity.New(idStore, logger)
	if _, err := holder.Restore(ctx); err != nil {
		logger.Warn("restoring identity failed, starting anonymous", slog.String("error", err.Error()))
	}

	cart, err := newCache(ctx, model.KindCart, cfg, db, logger)
	if err != nil {
		return err
	}
	wishlist, err := newCache(ctx, model.KindWishlist, cfg, db, logger)
	if err != nil {
		return err
	}

	// Storefront API clients
	httpClient := transport.NewClient(transport.Options{
		Timeout:   cfg.API.RequestTimeout,
		ChromeTLS: cfg.API.ChromeTLS,
	})
	collections := remote.NewClient(cfg.APIBaseURL(), httpClient, holder, cfg.API.RequestTimeout)
	auth := remote.NewAuth(cfg.APIBaseURL(), httpClient, cfg.API.RequestTimeout)

	sess := session.New(holder, session.CartContext{
		Cart:     cart,
		Wishlist: wishlist,
		Remote:   collections,
	}, logger)
	defer sess.Close()

	sess.Subscribe(func(c session.Change) {
		if c.Type == session.SessionEnded {
			logger.Info("session ended", slog.String("reason", c.Reason))
		}
	})

	h := handler.New(sess, auth, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Engine().Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// newCache builds the local collection for kind, loading persisted entries
// when local persistence is enabled.
func newCache(ctx context.Context, kind model.Kind, cfg *config.Config, db *store.SQLite, logger *slog.Logger) (*localcache.Cache, error) {
	opts := []localcache.Option{localcache.WithLogger(logger)}
	if cfg.PersistLocal && db != nil {
		opts = append(opts, localcache.WithPersister(db))
	}

	c := localcache.New(kind, opts...)
	if err := c.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading local %s: %w", kind, err)
	}
	return c, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
