package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/flashbots/inbox-arena/registry"
	"github.com/flashbots/inbox-arena/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OrchestratorConfig contains deployment configuration.
type OrchestratorConfig struct {
	NumPlayers        int
	CohortSize        int
	Rounds            int
	RequestsPerPlayer int
	RoundDuration     time.Duration

	Port       int
	AdminToken string
}

// Orchestrator runs an arena and its bot players.
type Orchestrator struct {
	config *OrchestratorConfig

	arena    *services.ArenaServer
	server   *http.Server
	arenaURL string

	mu       sync.Mutex
	outcomes map[string]*services.Outcome
	players  []*services.Player

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config:   config,
		outcomes: make(map[string]*services.Outcome),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (o *Orchestrator) URL() string {
	return o.arenaURL
}

// Deploy starts the arena and the players.
func (o *Orchestrator) Deploy() error {
	fmt.Println("Starting inbox arena deployment...")

	if err := o.deployArena(); err != nil {
		return fmt.Errorf("deploy arena: %w", err)
	}
	if err := o.deployPlayers(); err != nil {
		return fmt.Errorf("deploy players: %w", err)
	}

	fmt.Printf("Deployment complete: arena + %d players\n", len(o.players))
	return nil
}

func (o *Orchestrator) deployArena() error {
	_, moderator, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	secret, err := crypto.DeriveKey(moderator.Seed(), nil, "inbox-arena token secret", 32)
	if err != nil {
		return err
	}

	rules := protocol.DefaultArenaConfig()
	rules.CohortSize = o.config.CohortSize
	rules.Rounds = o.config.Rounds
	rules.RequestsPerParticipant = o.config.RequestsPerPlayer
	rules.RoundDuration = o.config.RoundDuration
	rules.CloseWhenComplete = true

	o.arena, err = services.NewArenaServer(services.ArenaConfig{
		Game: rules,
		Registry: registry.Config{
			TokenTTL:      time.Hour,
			RefreshWindow: 10 * time.Minute,
			Secret:        secret,
		},
		AdminToken: o.config.AdminToken,
		Moderator:  moderator,
		Log:        slog.Default(),
	})
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	o.arena.RegisterRoutes(r)

	addr := fmt.Sprintf("localhost:%d", o.config.Port)
	o.arenaURL = "http://" + addr
	o.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("Starting arena on %s\n", addr)
		if err := o.server.ListenAndServe(); err != http.ErrServerClosed {
			fmt.Printf("Arena error: %v\n", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

func (o *Orchestrator) deployPlayers() error {
	for i := range o.config.NumPlayers {
		id := fmt.Sprintf("bot%02d", i)
		_, key, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		client := services.NewClient(o.arenaURL, id, key)
		if _, err := client.Register(o.ctx, fmt.Sprintf("Bot %d", i)); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}

		player := services.NewPlayer(client, slog.Default())
		o.players = append(o.players, player)

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.playForever(id, player)
		}()
	}
	return nil
}

// playForever plays sessions back to back until shutdown.
func (o *Orchestrator) playForever(id string, player *services.Player) {
	for {
		out, err := player.Play(o.ctx)
		if o.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, protocol.ErrAlreadyQueued) {
			fmt.Printf("%s: %v\n", id, err)
			time.Sleep(time.Second)
			continue
		}
		if out != nil {
			o.recordOutcome(out)
		}
	}
}

// recordOutcome prints each session once, when its first player reports it.
func (o *Orchestrator) recordOutcome(out *services.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seen := o.outcomes[out.SessionID]; seen {
		return
	}
	o.outcomes[out.SessionID] = out

	ids := make([]string, 0, len(out.Scores))
	for id := range out.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "=== Session %s (%s) ===\n", out.SessionID, out.Status)
	for _, id := range ids {
		fmt.Fprintf(&b, "  %-8s %d\n", id, out.Scores[id])
	}
	b.WriteString("======================\n")
	fmt.Print(b.String())
}

// Shutdown stops the players and the arena.
func (o *Orchestrator) Shutdown() error {
	fmt.Println("Shutting down deployment...")
	o.cancel()
	o.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if o.server != nil {
		o.server.Shutdown(ctx)
	}
	return o.arena.Close()
}
