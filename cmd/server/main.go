// Command server runs the klibrarian invite API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arnold/klibrarian-api/internal/backends/komga"
	"github.com/arnold/klibrarian-api/internal/backends/navidrome"
	"github.com/arnold/klibrarian-api/internal/config"
	"github.com/arnold/klibrarian-api/internal/database"
	"github.com/arnold/klibrarian-api/internal/handlers"
	"github.com/arnold/klibrarian-api/internal/middleware"
	"github.com/arnold/klibrarian-api/internal/routes"
	"github.com/arnold/klibrarian-api/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "klibrarian: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		ll.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.JWTSecretGenerated {
		slog.Warn("no jwt-secret configured, using a random one; admin sessions end on restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("database ready")

	backends, err := connectBackends(ctx, cfg)
	if err != nil {
		return err
	}

	sources := make([]services.CatalogSource, 0, len(backends))
	for _, b := range backends {
		sources = append(sources, b)
	}
	hub := handlers.NewHub()
	activity := database.NewActivityStore(db)
	svc := services.NewInviteService(services.Deps{
		Store:     database.NewInviteStore(db),
		Activity:  activity,
		Events:    hub,
		Catalog:   services.NewCatalogCache(cfg.CatalogTTL, sources...),
		Backends:  backends,
		Retention: cfg.InviteRetention,
	})

	sweeper, err := services.NewSweeper(svc, cfg.SweepSchedule)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}
	sweeper.Start()

	auth := middleware.NewAuth(cfg.Token, cfg.JWTSecret)
	app := fiber.New(fiber.Config{
		AppName:               "klibrarian",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"ok": false, "error": err.Error(), "code": "internal"})
		},
	})
	routes.Setup(app, handlers.New(svc, activity, auth, version), hub, auth)

	errc := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Addr(), "version", version)
		errc <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}

// connectBackends checks that the service accounts are administrators,
// since only they can create users and restrict their access.
func connectBackends(ctx context.Context, cfg *config.Config) ([]services.Provisioner, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	k := komga.New(cfg.Komga)
	me, err := k.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reach komga at %s: %w", k.Host(), err)
	}
	if !me.IsAdmin() {
		return nil, fmt.Errorf("komga user %q is not an administrator", cfg.Komga.Username)
	}
	slog.Info("connected to komga", "host", k.Host())
	backends := []services.Provisioner{k}

	if cfg.HasNavidrome() {
		n, err := navidrome.Login(ctx, *cfg.Navidrome)
		if err != nil {
			return nil, fmt.Errorf("failed to log in to navidrome: %w", err)
		}
		if !n.Claims().Admin {
			return nil, fmt.Errorf("navidrome user %q is not an administrator", cfg.Navidrome.Username)
		}
		slog.Info("connected to navidrome", "host", n.Host())
		backends = append(backends, n)
	}
	return backends, nil
}
