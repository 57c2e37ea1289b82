// Package server parses server command flags and starts the match engine.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/louisbranch/matchbox/internal/bot"
	"github.com/louisbranch/matchbox/internal/game"
	"github.com/louisbranch/matchbox/internal/gametype"
	"github.com/louisbranch/matchbox/internal/matchmaking"
	entrypoint "github.com/louisbranch/matchbox/internal/platform/cmd"
	"github.com/louisbranch/matchbox/internal/script"
	"github.com/louisbranch/matchbox/internal/telemetry"
	telemetrysqlite "github.com/louisbranch/matchbox/internal/telemetry/sqlite"
	"github.com/louisbranch/matchbox/internal/transport/ws"
)

// Config holds server command configuration.
type Config struct {
	Port           int    `env:"MATCHBOX_PORT" envDefault:"8073"`
	Addr           string `env:"MATCHBOX_ADDR"`
	TypesDir       string `env:"MATCHBOX_TYPES_DIR" envDefault:"data/types"`
	TelemetryDB    string `env:"MATCHBOX_TELEMETRY_DB"`
	BotMode        string `env:"MATCHBOX_BOT_MODE" envDefault:"script"`
	BotEndpoint    string `env:"MATCHBOX_BOT_ENDPOINT"`
	MatchmakingURL string `env:"MATCHBOX_MATCHMAKING_URL"`
	TickMS         int    `env:"MATCHBOX_TICK_MS" envDefault:"100"`
	ExitOnWinner   bool   `env:"MATCHBOX_EXIT_ON_WINNER"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The server listen address (overrides -port)")
	fs.StringVar(&cfg.TypesDir, "types", cfg.TypesDir, "The game type definition directory")
	fs.BoolVar(&cfg.ExitOnWinner, "exit-on-winner", cfg.ExitOnWinner, "Stop the server when a match finishes")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the match engine service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	engine := script.NewEngine()
	registry, err := gametype.NewRegistry(engine, cfg.TypesDir)
	if err != nil {
		return fmt.Errorf("load game types: %w", err)
	}
	log.Printf("loaded game types: %v", registry.Names())

	var emitter *telemetry.Emitter
	if cfg.TelemetryDB != "" {
		store, err := telemetrysqlite.Open(cfg.TelemetryDB)
		if err != nil {
			return fmt.Errorf("open telemetry store: %w", err)
		}
		defer func() { _ = store.Close() }()
		emitter = telemetry.NewEmitter(store)
	}

	factory, err := bot.Factory(bot.Mode(cfg.BotMode), cfg.BotEndpoint)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := game.Options{ControllerFactory: factory}
	if cfg.MatchmakingURL != "" {
		opts.Reporter = matchmaking.NewReporter(cfg.MatchmakingURL, os.Getpid())
	}
	if cfg.ExitOnWinner {
		opts.OnWinner = func(any) { cancel() }
	}

	hub := ws.NewHub(registry, engine, opts, emitter)
	go hub.Run(ctx, time.Duration(cfg.TickMS)*time.Millisecond)

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}
	srv := &http.Server{Addr: addr, Handler: hub.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
