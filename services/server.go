package services

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/assignment"
	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/game"
	"github.com/flashbots/inbox-arena/livechannel"
	"github.com/flashbots/inbox-arena/mailbox"
	"github.com/flashbots/inbox-arena/matchmaking"
	"github.com/flashbots/inbox-arena/metrics"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/flashbots/inbox-arena/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ArenaConfig wires the arena components.
type ArenaConfig struct {
	Game     protocol.ArenaConfig
	Registry registry.Config

	LiveBufferSize    int
	HeartbeatInterval time.Duration

	// AdminToken is "user:pass" for basic auth on /admin routes. The admin
	// routes are not mounted without it.
	AdminToken  string
	CORSOrigins []string

	Archive   archive.Store
	Pool      *assignment.Pool
	Moderator crypto.PrivateKey
	Log       *slog.Logger
}

// ArenaServer exposes the arena over HTTP. It owns one instance of every
// component and is the only place they are wired together.
type ArenaServer struct {
	cfg       ArenaConfig
	log       *slog.Logger
	moderator crypto.PublicKey
	started   time.Time

	Registry *registry.Registry
	Mailbox  *mailbox.Mailbox
	Hub      *livechannel.Hub
	Queue    *matchmaking.Queue
	Games    *game.Manager
}

// NewArenaServer builds and wires the components.
func NewArenaServer(cfg ArenaConfig) (*ArenaServer, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Moderator == nil {
		return nil, errors.New("arena needs a moderator key")
	}
	moderator, err := cfg.Moderator.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("moderator key: %w", err)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Archive == nil {
		cfg.Archive = archive.NewMemoryStore()
	}
	log := cfg.Log

	reg, err := registry.New(cfg.Registry, registry.WithLogger(log.With("component", "registry")))
	if err != nil {
		return nil, err
	}
	hub := livechannel.NewHub(cfg.LiveBufferSize, log.With("component", "live"))
	mail := mailbox.New(reg, hub, mailbox.WithLogger(log.With("component", "mailbox")))
	queue := matchmaking.New(cfg.Game.CohortSize, matchmaking.WithLogger(log.With("component", "queue")))

	games, err := game.New(cfg.Game, game.Dependencies{
		Directory: reg,
		Mail:      mail,
		Live:      hub,
		Queue:     queue,
		Archive:   cfg.Archive,
		Pool:      cfg.Pool,
		Moderator: cfg.Moderator,
	}, game.WithLogger(log.With("component", "game")))
	if err != nil {
		return nil, err
	}

	queue.SetSessionChecker(games)
	queue.SetCohortHandler(games.StartSession)
	hub.SetHooks(livechannel.Hooks{
		OnConnect:    games.NotifyConnected,
		OnDisconnect: games.NotifyDisconnected,
	})

	metrics.RegisterGauges(
		func() int { return queue.Status().Length },
		games.ActiveCount,
		func() int { return len(hub.ConnectedIDs()) },
	)

	return &ArenaServer{
		cfg:       cfg,
		log:       log,
		moderator: moderator,
		started:   time.Now(),
		Registry:  reg,
		Mailbox:   mail,
		Hub:       hub,
		Queue:     queue,
		Games:     games,
	}, nil
}

// RegisterRoutes mounts the API.
func (s *ArenaServer) RegisterRoutes(r chi.Router) {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{HeaderToken, HeaderTokenExpires},
			MaxAge:         300,
		}))
		r.Use(middleware.Logger)

		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)
		r.Get("/moderator", s.handleModerator)
		r.Get("/participants", s.handleListParticipants)
		r.Post("/participants/register", s.handleRegister)
		r.Post("/participants/refresh", s.handleRefresh)
		r.Get("/queue/status", s.handleQueueStatus)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/archive", s.handleListArchive)
		r.Get("/archive/{id}", s.handleGetArchive)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/participants/me", s.handleMe)
			r.Post("/messages", s.handleSend)
			r.Post("/messages/batch", s.handleSendBatch)
			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/{id}", s.handleGetMessage)
			r.Post("/messages/{id}/delivered", s.handleMarkDelivered)
			r.Post("/messages/{id}/read", s.handleMarkRead)
			r.Post("/queue/join", s.handleQueueJoin)
			r.Post("/queue/leave", s.handleQueueLeave)
			r.Post("/submissions", s.handleSubmit)
			r.Get("/sessions/current", s.handleCurrentSession)
			r.Get("/live", s.handleLive)
		})

		r.Get("/sessions/{id}", s.handleGetSession)

		if s.cfg.AdminToken != "" {
			user, pass := parseAdminToken(s.cfg.AdminToken)
			r.Group(func(r chi.Router) {
				r.Use(middleware.BasicAuth("arena-admin", map[string]string{user: pass}))
				r.Post("/admin/reset", s.handleReset)
			})
		}
	})
}

// Close aborts running sessions and closes every live stream and the archive.
func (s *ArenaServer) Close() error {
	s.Games.Close()
	s.Hub.CloseAll()
	return s.cfg.Archive.Close()
}

func parseAdminToken(token string) (user, pass string) {
	idx := strings.Index(token, ":")
	if idx < 0 {
		return token, ""
	}
	return token[:idx], token[idx+1:]
}
