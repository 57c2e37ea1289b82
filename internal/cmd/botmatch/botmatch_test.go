package botmatch

import (
	"flag"
	"testing"
)

func TestParseConfigRequiresGameType(t *testing.T) {
	fs := flag.NewFlagSet("botmatch", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected error for missing game type")
	}
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("botmatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-game-type", "arena"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.URL != "ws://127.0.0.1:8073/ws" {
		t.Fatalf("expected default url, got %q", cfg.URL)
	}
	if cfg.Bots != 1 || cfg.Turns != 200 {
		t.Fatalf("expected default bots/turns, got %d/%d", cfg.Bots, cfg.Turns)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	fs := flag.NewFlagSet("botmatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-game-type", "arena", "-bots", "3", "-url", "ws://game.internal/ws"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bots != 3 {
		t.Fatalf("expected 3 bots, got %d", cfg.Bots)
	}
	if cfg.URL != "ws://game.internal/ws" {
		t.Fatalf("expected url override, got %q", cfg.URL)
	}
}
