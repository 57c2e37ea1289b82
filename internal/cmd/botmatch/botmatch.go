// Package botmatch connects to a running match server, creates a game played
// entirely by bots, and streams the resulting envelopes. It exists to smoke
// test game type definitions end to end.
package botmatch

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/gorilla/websocket"
	entrypoint "github.com/louisbranch/matchbox/internal/platform/cmd"
)

// Config holds botmatch command configuration.
type Config struct {
	URL      string `env:"MATCHBOX_BOTMATCH_URL" envDefault:"ws://127.0.0.1:8073/ws"`
	GameType string `env:"MATCHBOX_BOTMATCH_TYPE"`
	Bots     int    `env:"MATCHBOX_BOTMATCH_BOTS" envDefault:"1"`
	Nick     string `env:"MATCHBOX_BOTMATCH_NICK" envDefault:"botmatch"`
	Turns    int    `env:"MATCHBOX_BOTMATCH_TURNS" envDefault:"200"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.URL, "url", cfg.URL, "The match server websocket URL")
	fs.StringVar(&cfg.GameType, "game-type", cfg.GameType, "The game type to create")
	fs.IntVar(&cfg.Bots, "bots", cfg.Bots, "How many bot opponents to add")
	fs.IntVar(&cfg.Turns, "turns", cfg.Turns, "Maximum envelopes to read before giving up")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.GameType == "" {
		return Config{}, fmt.Errorf("a game type is required")
	}
	return cfg, nil
}

// Run drives one bot match against the configured server.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBotmatch, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	roster := []any{map[string]any{"name": cfg.Nick}}
	for n := 0; n < cfg.Bots; n++ {
		roster = append(roster, map[string]any{
			"name": fmt.Sprintf("bot-%d", n+1),
			"bot":  true,
		})
	}
	create := map[string]any{
		"type":      "create_game",
		"game_type": cfg.GameType,
		"nick":      cfg.Nick,
		"players":   roster,
	}
	if err := conn.WriteJSON(create); err != nil {
		return fmt.Errorf("create game: %w", err)
	}

	var created map[string]any
	if err := conn.ReadJSON(&created); err != nil {
		return fmt.Errorf("read create reply: %w", err)
	}
	if created["type"] == "error" {
		return fmt.Errorf("create game: %v", created["message"])
	}
	gameID, _ := created["game_id"].(float64)
	log.Printf("created game %d", int(gameID))

	if err := conn.WriteJSON(map[string]any{"type": "start_game"}); err != nil {
		return fmt.Errorf("start game: %w", err)
	}

	for turn := 0; turn < cfg.Turns; turn++ {
		var envelope map[string]any
		if err := conn.ReadJSON(&envelope); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read envelope: %w", err)
		}
		switch envelope["type"] {
		case "game":
			log.Printf("state %v cycle turn %d", envelope["state_id"], turn)
		case "error":
			return fmt.Errorf("server error: %v", envelope["message"])
		default:
			log.Printf("%v", envelope["type"])
		}
	}
	return nil
}
