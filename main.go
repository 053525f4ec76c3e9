// Command saltyboy records SaltyBet matches announced in Twitch chat and
// serves them over HTTP.
//
//   - ingest: connects to chat, correlates announcer lines into matches,
//     records them with Elo updates and keeps the heartbeat and current-match
//     rows fresh. The worker runs under an in-process supervisor that restarts
//     it when those rows go stale. The read API is served alongside unless
//     --http=false.
//   - api: serves the read API, health probes and /metrics only.
//   - migrate up|down|version: manages the versioned schema.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/saltyboy/chat"
	"github.com/onnwee/saltyboy/config"
	"github.com/onnwee/saltyboy/db"
	"github.com/onnwee/saltyboy/ingest"
	"github.com/onnwee/saltyboy/server"
	"github.com/onnwee/saltyboy/supervisor"
	"github.com/onnwee/saltyboy/telemetry"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "saltyboy",
		Usage:   "SaltyBet match recorder and stats API",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "optional YAML config file; environment variables override it",
				EnvVars: []string{"CONFIG_FILE"},
				Value:   "config.yaml",
			},
		},
		Commands: []*cli.Command{
			ingestCommand(),
			apiCommand(),
			migrateCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
}

// setup loads config, installs the default logger and initializes metrics.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	initLogging(cfg.LogLevel, cfg.LogFormat)
	telemetry.Init()
	return cfg, nil
}

// initLogging configures logging (level + format). Defaults: level=info, format=text.
func initLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	format = strings.ToLower(format)
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openDB connects and brings the schema up to date, falling back to the
// embedded SQL when versioned migrations cannot run.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
	}
	return database, nil
}

func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("err", err))
	}
}

func initTracing() (func(), error) {
	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdown, err := telemetry.InitTracing("saltyboy", version)
	if err != nil {
		return nil, fmt.Errorf("tracing initialization failed: %w", err)
	}
	slog.Info("tracing configured", slog.Bool("enabled", telemetry.IsTracingEnabled()))
	return shutdown, nil
}

func serverOptions(cfg *config.Config) server.Options {
	return server.Options{
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitRPS:        cfg.RateLimitRPS,
		RateLimitBurst:      cfg.RateLimitBurst,
		HeartbeatStaleAfter: cfg.HeartbeatStaleAfter,
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "record matches from Twitch chat",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "http", Usage: "also serve the read API and /metrics", Value: true},
		},
		Action: func(c *cli.Context) error {
			cfg, err := setup(c)
			if err != nil {
				return err
			}
			if err := cfg.ValidateIngest(); err != nil {
				return err
			}
			shutdown, err := initTracing()
			if err != nil {
				return err
			}
			defer shutdown()

			database, err := openDB(c.Context, cfg.DBDsn)
			if err != nil {
				return err
			}
			defer closeDB(database)
			store := db.NewStore(database)

			worker := func(ctx context.Context) error {
				src := chat.NewSource(chat.Config{
					Addr:      cfg.IRCAddr,
					Username:  cfg.TwitchUsername,
					Token:     cfg.TwitchOAuthToken,
					Channel:   cfg.TwitchChannel,
					Announcer: cfg.Announcer,
				})
				return ingest.New(src, store).Run(ctx)
			}
			sup := supervisor.New(worker, store, supervisor.Config{
				HeartbeatStaleAfter: cfg.HeartbeatStaleAfter,
				SnapshotStaleAfter:  cfg.SnapshotStale(),
				Cooldown:            cfg.RestartCooldown,
				CheckInterval:       cfg.SupervisorCheckInterval,
			})

			startPprof()
			g, ctx := errgroup.WithContext(c.Context)
			g.Go(func() error { return sup.Run(ctx) })
			if c.Bool("http") {
				g.Go(func() error { return server.Start(ctx, store, cfg.HTTPAddr, serverOptions(cfg)) })
			}
			return g.Wait()
		},
	}
}

func apiCommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "serve the read API",
		Action: func(c *cli.Context) error {
			cfg, err := setup(c)
			if err != nil {
				return err
			}
			shutdown, err := initTracing()
			if err != nil {
				return err
			}
			defer shutdown()

			database, err := openDB(c.Context, cfg.DBDsn)
			if err != nil {
				return err
			}
			defer closeDB(database)

			startPprof()
			return server.Start(c.Context, db.NewStore(database), cfg.HTTPAddr, serverOptions(cfg))
		},
	}
}

func migrateCommand() *cli.Command {
	withDB := func(fn func(*sql.DB) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			cfg, err := setup(c)
			if err != nil {
				return err
			}
			database, err := db.Connect(cfg.DBDsn)
			if err != nil {
				return fmt.Errorf("failed to open db: %w", err)
			}
			defer closeDB(database)
			return fn(database)
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "database migrations",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "apply all pending migrations",
				Action: withDB(db.RunMigrations),
			},
			{
				Name:   "down",
				Usage:  "roll back the most recent migration",
				Action: withDB(db.MigrateDown),
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: withDB(func(database *sql.DB) error {
					v, dirty, err := db.GetMigrationVersion(database)
					if err != nil {
						return err
					}
					fmt.Printf("version=%d dirty=%t\n", v, dirty)
					return nil
				}),
			},
		},
	}
}

// startPprof enables pprof profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
