// Command arena runs the inbox arena server.
//
// # Configuration File
//
// Every value has a default, so a file only needs what it changes:
//
//	server:
//	  http_addr: ":8080"
//	  metrics_addr: ":9090"
//	  admin_token: "admin:secret"
//	log:
//	  level: info
//	  format: json
//	identity:
//	  moderator_key: ""      # hex Ed25519 seed, generated if empty
//	  token_ttl: 30m
//	  refresh_window: 5m
//	game:
//	  cohort_size: 4
//	  rounds: 3
//	  requests_per_participant: 2
//	  round_duration: 60s
//	  formation_timeout: 30s
//	  fuzziness: 1
//	live:
//	  heartbeat_interval: 15s
//	archive:
//	  kind: file             # memory, file or postgres
//	  target: ./archive      # directory, or DSN for postgres
//	  # postgres:            # instead of a DSN target
//	  #   host: localhost
//	  #   database: arena
//	  pool_file: ./pool.yaml
//
// # Usage
//
//	go run ./cmd/arena --config=arena.yaml
//	go run ./cmd/arena --addr=:8080 --admin-token="admin:secret" --round=30s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/inbox-arena/api/httpserver"
	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/assignment"
	"github.com/flashbots/inbox-arena/cmd/common"
	"github.com/flashbots/inbox-arena/metrics"
	"github.com/flashbots/inbox-arena/registry"
	"github.com/flashbots/inbox-arena/services"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		addr         = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr  = flag.String("metrics-addr", ":9090", "Metrics listen address (empty disables)")
		adminToken   = flag.String("admin-token", "", "Basic auth token for admin operations (user:pass)")
		moderatorKey = flag.String("moderator-key", "", "Moderator Ed25519 key (hex, generates if empty)")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		logFormat    = flag.String("log-format", "text", "Log format: text or json")
		cohortSize   = flag.Int("cohort", 0, "Participants per session")
		rounds       = flag.Int("rounds", 0, "Rounds per session")
		requests     = flag.Int("requests", 0, "Signatures each participant must collect per round")
		roundDur     = flag.Duration("round", 0, "Round duration")
		archiveKind  = flag.String("archive", "", "Archive backend: memory, file or postgres")
		archiveDest  = flag.String("archive-target", "", "Archive directory or postgres DSN")
		poolFile     = flag.String("pool", "", "Message pool YAML file (watched for changes)")
		enablePprof  = flag.Bool("pprof", false, "Enable pprof endpoints")
	)
	flag.Parse()

	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if isFlagSet("addr") {
		cfg.Server.HTTPAddr = *addr
	}
	if isFlagSet("metrics-addr") {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if *adminToken != "" {
		cfg.Server.AdminToken = *adminToken
	}
	if *moderatorKey != "" {
		cfg.Identity.ModeratorKey = *moderatorKey
	}
	if isFlagSet("log-level") {
		cfg.Log.Level = *logLevel
	}
	if isFlagSet("log-format") {
		cfg.Log.Format = *logFormat
	}
	if *cohortSize != 0 {
		cfg.Game.CohortSize = *cohortSize
	}
	if *rounds != 0 {
		cfg.Game.Rounds = *rounds
	}
	if *requests != 0 {
		cfg.Game.RequestsPerParticipant = *requests
	}
	if *roundDur != 0 {
		cfg.Game.RoundDuration = *roundDur
	}
	if *archiveKind != "" {
		cfg.Archive.Kind = *archiveKind
	}
	if *archiveDest != "" {
		cfg.Archive.Target = *archiveDest
	}
	if *poolFile != "" {
		cfg.Archive.PoolFile = *poolFile
	}
	if *enablePprof {
		cfg.Server.EnablePprof = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (*common.Config, error) {
	if configPath != "" {
		return common.LoadConfig(configPath)
	}
	return common.DefaultConfig(), nil
}

func run(cfg *common.Config) error {
	log, err := common.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	moderator, err := common.LoadOrGenerateSigningKey(cfg.Identity.ModeratorKey)
	if err != nil {
		return fmt.Errorf("moderator key: %w", err)
	}
	secret, err := common.TokenSecret(cfg.Identity.TokenSecret, moderator)
	if err != nil {
		return err
	}

	store, err := archive.Open(cfg.Archive.Kind, cfg.Archive.StoreTarget())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := assignment.DefaultPool()
	if cfg.Archive.PoolFile != "" {
		watcher, err := assignment.NewPoolWatcher(cfg.Archive.PoolFile, pool, log.With("component", "pool"))
		if err != nil {
			return fmt.Errorf("message pool: %w", err)
		}
		watcher.OnReload(func(int) { metrics.IncPoolReloads() })
		go watcher.Run(ctx)
	}

	arena, err := services.NewArenaServer(services.ArenaConfig{
		Game: cfg.Game,
		Registry: registry.Config{
			TokenTTL:      cfg.Identity.TokenTTL,
			RefreshWindow: cfg.Identity.RefreshWindow,
			AllowRotation: cfg.Identity.AllowRotation,
			Secret:        secret,
		},
		LiveBufferSize:    cfg.Live.BufferSize,
		HeartbeatInterval: cfg.Live.HeartbeatInterval,
		AdminToken:        cfg.Server.AdminToken,
		CORSOrigins:       cfg.Server.CORSOrigins,
		Archive:           store,
		Pool:              pool,
		Moderator:         moderator,
		Log:               log,
	})
	if err != nil {
		return err
	}

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.Server.HTTPAddr,
		MetricsAddr:              cfg.Server.MetricsAddr,
		EnablePprof:              cfg.Server.EnablePprof,
		Log:                      log,
		DrainDuration:            cfg.Server.DrainDuration,
		GracefulShutdownDuration: cfg.Server.GracefulShutdownDuration,
		ReadTimeout:              15 * time.Second,
		// Zero: live streams stay open for whole sessions.
		WriteTimeout: 0,
	}, arena)
	if err != nil {
		return err
	}

	pub, _ := moderator.PublicKey()
	log.Info("arena configured",
		"cohort", cfg.Game.CohortSize,
		"rounds", cfg.Game.Rounds,
		"round_duration", cfg.Game.RoundDuration,
		"archive", cfg.Archive.Kind,
		"moderator", pub.String(),
	)
	if cfg.Server.AdminToken == "" {
		log.Warn("no admin token configured, /admin routes are disabled")
	}

	server.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down arena")
	cancel()
	// Close first so live streams end and the HTTP server can drain.
	if err := arena.Close(); err != nil {
		log.Error("closing arena", "err", err)
	}
	server.Shutdown()
	return nil
}
