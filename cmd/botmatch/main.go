package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	botmatchcmd "github.com/louisbranch/matchbox/internal/cmd/botmatch"
)

func main() {
	cfg, err := botmatchcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[BOTMATCH] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := botmatchcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("bot match failed: %v", err)
	}
}
