package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/visio/internal/audit"
	"github.com/MGallo-Code/visio/internal/auth"
	"github.com/MGallo-Code/visio/internal/config"
	"github.com/MGallo-Code/visio/internal/media"
	"github.com/MGallo-Code/visio/internal/oauth"
	"github.com/MGallo-Code/visio/internal/store"
	"github.com/MGallo-Code/visio/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// sweepInterval is how often the in-memory session store drops expired records.
const sweepInterval = time.Minute

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// `visio migrate` applies migrations and exits without serving.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrate(ctx, cfg); err != nil {
			slog.Error("fatal", "err", err)
			os.Exit(1)
		}
		return
	}

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// applyMigrations runs the embedded migrations against ps.
func applyMigrations(ctx context.Context, ps *store.PostgresStore) error {
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	n, err := ps.Migrate(ctx, migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations applied", "count", n)
	return nil
}

// migrate connects, applies migrations, and returns.
func migrate(ctx context.Context, cfg *config.Config) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()
	return applyMigrations(ctx, ps)
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	if err := applyMigrations(ctx, ps); err != nil {
		return err
	}

	// Background workers are cancelled via workerCtx when run() returns.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var rs auth.SessionStore
	var recorder auth.AuditRecorder
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rs = store.NewRedisSessionStore(rdb)

		queue := audit.NewQueuedRecorder(ps, rdb, audit.DefaultMaxQueueSize)
		go queue.StartWorker(workerCtx)
		recorder = queue
	} else {
		slog.Warn("REDIS_URL not set, using in-memory sessions (single instance only)")
		mem := store.NewMemorySessionStore()
		rs = mem
		recorder = audit.Direct{Sink: ps}

		// Expired records are already invisible to Get; the sweep just reclaims memory.
		go func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := mem.Sweep(); n > 0 {
						slog.Debug("session sweep complete", "deleted", n)
					}
				case <-workerCtx.Done():
					return
				}
			}
		}()
	}

	tel := telemetry.Default()

	client := oauth.NewClient(cfg.Provider, oauth.ClientOptions{
		HTTPClient:  &http.Client{Timeout: cfg.OAuth.Timeout},
		MaxAttempts: cfg.OAuth.MaxAttempts,
		Telemetry:   tel,
	})

	h := &auth.AuthHandler{
		Binder: &auth.Binder{
			Sessions:   rs,
			Users:      ps,
			OAuth:      client,
			SessionTTL: cfg.SessionTTL,
			PendingTTL: cfg.PKCETTL,
			Telemetry:  tel,
		},
		PS: ps,
		RS: rs,
		Media: &media.Issuer{
			AppID:        cfg.ZegoAppID,
			ServerSecret: cfg.ZegoServerSecret,
			Lifetime:     cfg.ZegoTokenTTL,
		},
		Audit:        recorder,
		Telemetry:    tel,
		AppBaseURL:   cfg.AppBaseURL,
		CookieSecure: cfg.CookieSecure,
		Production:   cfg.Production(),
		AppEnv:       cfg.AppEnv,
		StartedAt:    time.Now(),
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("visio listening", "addr", ln.Addr().String(), "provider", cfg.Provider.Name, "env", cfg.AppEnv)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting conns, then waits for in-flight requests or the 30s timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and smoke tests.
func buildRouter(h *auth.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.NotFound(auth.NotFound)

	r.Get("/api/health", h.CheckHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.Login)
		r.Get("/callback", h.Callback)
		r.Post("/logout", h.Logout)
		r.With(h.RequireAuth).Post("/refresh", h.Refresh)
	})

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/api/profile", h.Profile)
		r.Get("/api/session", h.Session)
		r.Post("/api/generate-token", h.GenerateToken)
	})

	return r
}
