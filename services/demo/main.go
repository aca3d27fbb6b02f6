package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	config := &OrchestratorConfig{}
	flag.IntVar(&config.NumPlayers, "players", 8, "Number of bot players")
	flag.IntVar(&config.CohortSize, "cohort", 4, "Participants per session")
	flag.IntVar(&config.Rounds, "rounds", 3, "Rounds per session")
	flag.IntVar(&config.RequestsPerPlayer, "requests", 2, "Signatures each player collects per round")
	flag.DurationVar(&config.RoundDuration, "round", 10*time.Second, "Round duration")
	flag.IntVar(&config.Port, "port", 8000, "Arena port")
	flag.StringVar(&config.AdminToken, "admin-token", "admin:admin", "Admin token (user:pass)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := NewOrchestrator(config)
	if err := orchestrator.Deploy(); err != nil {
		fmt.Fprintf(os.Stderr, "deploy: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(`
inbox arena up at %s
  %d bot players, cohorts of %d
  %d rounds of %v, %d requests per player

Ctrl+C stops the arena and the bots.
`, orchestrator.URL(), config.NumPlayers, config.CohortSize,
		config.Rounds, config.RoundDuration, config.RequestsPerPlayer)

	<-ctx.Done()

	if err := orchestrator.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		os.Exit(1)
	}
}
