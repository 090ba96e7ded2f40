package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tberthier/minstrel/internal/auth"
	"github.com/tberthier/minstrel/internal/config"
	"github.com/tberthier/minstrel/internal/fanout"
	minstrelmcp "github.com/tberthier/minstrel/internal/mcp"
	authmw "github.com/tberthier/minstrel/internal/mcp/middleware"
	"github.com/tberthier/minstrel/internal/notify"
	"github.com/tberthier/minstrel/internal/provider"
	"github.com/tberthier/minstrel/internal/status"
	"github.com/tberthier/minstrel/internal/store"
	"github.com/tberthier/minstrel/internal/tunnel"
	"github.com/tberthier/minstrel/internal/ws"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("minstrel %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: minstrel <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the Minstrel server\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  token     Issue a client token for a user\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting minstrel",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	user := fs.String("user", "", "user id to issue the token for")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *user == "" {
		fmt.Fprintln(os.Stderr, "token: -user is required")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = auth.LoadOrCreateSecret(filepath.Dir(config.ExpandHome(cfg.Database.Path)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading jwt secret: %v\n", err)
			os.Exit(1)
		}
	}

	verifier, err := auth.NewTokenVerifier(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jwt verifier: %v\n", err)
		os.Exit(1)
	}

	token, err := verifier.IssueToken(*user, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	dbPath := config.ExpandHome(cfg.Database.Path)
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", dbPath)

	if cfg.Database.RetentionDays > 0 {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		if err := db.Cleanup(retention); err != nil {
			slog.Warn("snapshot cleanup failed", "error", err)
		}
	}

	// --- Token Verifier ---
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = auth.LoadOrCreateSecret(filepath.Dir(dbPath))
		if err != nil {
			return fmt.Errorf("loading jwt secret: %w", err)
		}
	}
	verifier, err := auth.NewTokenVerifier(secret)
	if err != nil {
		return fmt.Errorf("jwt verifier: %w", err)
	}

	// --- Provider Gateway ---
	gateway := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	if !gateway.Configured() {
		slog.Warn("provider api key not set, status polling will fail tasks immediately")
	}

	// --- Fanout ---
	registry := fanout.NewRegistry()
	broadcaster := fanout.NewBroadcaster(registry, slog.Default())
	coordinator := fanout.NewCoordinator(fanout.Deps{
		Registry:    registry,
		Broadcaster: broadcaster,
		Store:       db,
		Gateway:     gateway,
		Auth:        verifier,
		Owner:       db,
		Interval:    cfg.Poll.Interval,
		MaxDuration: cfg.Poll.MaxDuration,
		Logger:      slog.Default(),
	})
	defer coordinator.Shutdown()

	// --- Notifications ---
	if len(cfg.Notifications.Webhooks) > 0 {
		notifiers := make([]notify.Notifier, 0, len(cfg.Notifications.Webhooks))
		for _, hook := range cfg.Notifications.Webhooks {
			notifiers = append(notifiers, notify.NewWebhookNotifier(hook.Name, hook.URL, hook.Secret, hook.Events, slog.Default()))
		}
		hub := notify.NewHub(notifiers...)
		coordinator.SetNotifyFunc(func(snap status.Snapshot) {
			hub.Notify(notify.EventFromSnapshot(snap))
		})
	}

	// --- HTTP Router ---
	r := chi.NewRouter()

	wsServer := ws.NewServer(coordinator, verifier, cfg.Server.AllowedOrigins, slog.Default())
	wsServer.Register(r)

	if cfg.MCP.Enabled {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(minstrelmcp.NewServer(&minstrelmcp.Deps{
			Store:   db,
			Version: version,
		}))
		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerAuth(cfg.Auth.APITokens))
			r.Handle("/mcp", mcpHTTP)
		})
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("minstrel is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// --- Tunnel (optional) ---
	if cfg.Tunnel.Enabled {
		tun := tunnel.NewNgrok(cfg.Tunnel.AuthToken, cfg.Tunnel.Domain)
		publicURL, err := tun.Start(ctx, addr)
		if err != nil {
			return fmt.Errorf("starting tunnel: %w", err)
		}
		defer func() { _ = tun.Close() }()

		go func() {
			if err := srv.Serve(tun.Listener()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("tunnel serve error", "error", err)
			}
		}()

		slog.Info("tunnel active", "public_url", publicURL)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
