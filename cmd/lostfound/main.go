// ABOUTME: Entry point for the lostfound server and its operator commands
// ABOUTME: Wires config, journal, event bus, engine and HTTP API, and issues dev tokens

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/2389/lostfound/internal/auth"
	"github.com/2389/lostfound/internal/config"
	"github.com/2389/lostfound/internal/dedupe"
	"github.com/2389/lostfound/internal/events"
	"github.com/2389/lostfound/internal/httpapi"
	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/matching"
	"github.com/2389/lostfound/internal/store"
	"github.com/2389/lostfound/internal/telemetry"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _           _    __                       _
 | | ___  ___| |_ / _| ___  _   _ _ __   __| |
 | |/ _ \/ __| __| |_ / _ \| | | | '_ \ / _' |
 | | (_) \__ \ |_|  _| (_) | |_| | | | | (_| |
 |_|\___/|___/\__|_|  \___/ \__,_|_| |_|\__,_|
`

// getConfigPath returns the config file to load, or "" for defaults only.
// Priority: LOSTFOUND_CONFIG env var > XDG_CONFIG_HOME/lostfound/config.yaml > ~/.config/lostfound/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOSTFOUND_CONFIG"); envPath != "" {
		return envPath
	}
	path := defaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "lostfound.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "lostfound", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: lostfound <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the API server")
		fmt.Println("  init                   Write a config file with a fresh JWT secret")
		fmt.Println("  token --user ID        Issue a bearer token for a user id")
		fmt.Println("  health                 Check server readiness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if configPath == "" {
		fmt.Println("Config:    (defaults)")
	} else {
		fmt.Printf("Config:    %s\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.DevMode() {
		yellow.Print("    ▶ ")
		fmt.Printf("Auth:      development mode (%s header trusted)\n", auth.DevUserHeader)
	}
	if cfg.Events.RedisAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Events:    redis://%s/%s\n", cfg.Events.RedisAddr, cfg.Events.RedisChannel)
	}
	fmt.Println()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	snap, err := db.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading journal: %w", err)
	}

	clock := clockwork.NewRealClock()
	journal := store.NewJournal(db, logger)

	ledger := dedupe.New(clock, cfg.Responder.DedupeTTL, cfg.Responder.DedupeSize)
	defer ledger.Close()

	var busOpts []events.Option
	if cfg.Events.RedisAddr != "" {
		rdb, err := events.DialRedis(ctx, cfg.Events.RedisAddr)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer closeRedis(rdb, logger)
		busOpts = append(busOpts, events.WithMirror(events.NewRedisMirror(rdb, cfg.Events.RedisChannel), 0))
	}
	bus := events.NewBroadcaster(logger, busOpts...)
	defer bus.Close()

	engine := matching.NewEngine(matching.EngineOptions{
		Clock: clock,
		Limits: item.Limits{
			MaxTitleLength:    cfg.Limits.MaxTitleLength,
			MaxLocationLength: cfg.Limits.MaxLocationLength,
			ClockSkew:         cfg.Limits.ClockSkew,
		},
		MaxBodyLength:   cfg.Limits.MaxBodyLength,
		RequireClaimant: cfg.Claims.RequireClaimant,
		Responder: matching.ResponderOptions{
			Enabled: cfg.Responder.Enabled,
			Delay:   cfg.Responder.Delay,
			Body:    cfg.Responder.Body,
			Ledger:  ledger,
		},
		Journal: journal,
		Events:  bus,
		Logger:  logger,
	})
	engine.Restore(snap.Items, snap.Threads, snap.Messages)

	var verifier auth.TokenVerifier
	if !cfg.DevMode() {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("no JWT secret configured, trusting " + auth.DevUserHeader)
	}
	api := httpapi.New(httpapi.Options{
		Service:  engine.Service,
		Events:   bus,
		Verifier: verifier,
		Ready:    db,
		Logger:   logger,
	})

	logger.Info("starting lostfound",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"items", len(snap.Items),
		"threads", len(snap.Threads),
		"messages", len(snap.Messages),
	)

	// Background workers outlive the HTTP server so in-flight commits reach the journal.
	workCtx, stopWork := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := engine.Run(workCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		_ = journal.Run(workCtx)
	}()

	serveErr := api.ListenAndServe(ctx, cfg.Server.HTTPAddr)

	stopWork()
	wg.Wait()
	if n := journal.Failures(); n > 0 {
		logger.Error("journal dropped records", "count", n)
	}
	logger.Info("lostfound stopped")
	return serveErr
}

func closeRedis(rdb *redis.Client, logger *slog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn("closing redis", "error", err)
	}
}

// runInit writes a config file with a random JWT secret. An existing file is
// never overwritten.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("config already exists: %s", *path)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = base64.StdEncoding.EncodeToString(secretBytes)
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	content := "# lostfound configuration\n# Generated by lostfound init\n\n" + string(data)
	if err := os.WriteFile(*path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", *path)
	return nil
}

// runToken issues a bearer token signed with the configured secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id to put in the sub claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID := strings.TrimSpace(*user)
	if userID == "" {
		return fmt.Errorf("--user flag is required")
	}
	if *ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.DevMode() {
		return fmt.Errorf("auth.jwt_secret is not set; run 'lostfound init' first")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(userID, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}
