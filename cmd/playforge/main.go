package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BrotherOrange/PlayForge/internal/agent"
	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/model"
	anthropicmodel "github.com/BrotherOrange/PlayForge/internal/model/anthropic"
	openaimodel "github.com/BrotherOrange/PlayForge/internal/model/openai"
	"github.com/BrotherOrange/PlayForge/internal/store"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "version":
		fmt.Printf("playforge %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  playforge init   [-config PATH]                 write a starter config
  playforge chat   [-config PATH] [-provider P]   interactive lead designer session
  playforge version`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default ~/.playforge/config.json)")
	_ = fs.Parse(args)

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		fatal("config already exists", fmt.Errorf("%s", path))
	}

	cfg := config.Default()
	if err := config.Save(path, cfg); err != nil {
		fatal("write config", err)
	}
	fmt.Printf("wrote %s\nSet the API key env vars referenced there, then run: playforge chat\n", path)
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default ~/.playforge/config.json)")
	providerName := fs.String("provider", "", "provider to use for the lead agent (default: first configured)")
	title := fs.String("title", "design session", "thread title")
	userID := fs.Int64("user", 1, "local user id")
	_ = fs.Parse(args)

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("load config", err)
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal("open store", err)
	}
	defer func() { _ = st.Close() }()

	models, err := buildModels(cfg)
	if err != nil {
		fatal("configure providers", err)
	}

	archetypes := agent.NewArchetypeRegistry()
	if err := archetypes.LoadExtras(cfg.ArchetypesPath); err != nil {
		fatal("load archetypes", err)
	}

	svc := agent.NewService(st, archetypes, models, agent.NewToolRegistry(), agent.DefaultRetryPolicy(), log)
	defer svc.Close()

	provider := strings.TrimSpace(*providerName)
	if provider == "" {
		provider = cfg.Providers[0].Name
	}
	modelName := ""
	for _, p := range cfg.Providers {
		if strings.EqualFold(p.Name, provider) {
			modelName = p.Model
		}
	}
	if modelName == "" {
		fatal("configure providers", fmt.Errorf("provider %q not in config", provider))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	threadID, err := svc.NewLeadSession(ctx, *userID, provider, modelName, *title)
	if err != nil {
		fatal("create session", err)
	}
	fmt.Printf("Lead designer session started (thread %d, %s/%s). Type /team, /quit.\n\n", threadID, provider, modelName)

	runLoop(ctx, svc, *userID, threadID)
}

func runLoop(ctx context.Context, svc *agent.Service, userID, threadID int64) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return
		case line == "/team":
			printTeam(ctx, svc, userID, threadID)
			continue
		}

		events, err := svc.ChatStream(ctx, userID, threadID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for ev := range events {
			switch ev.Type {
			case model.EventToken:
				fmt.Print(ev.Text)
			case model.EventThinking:
				// Reasoning and progress notices go to stderr so they can
				// be silenced without losing the answer.
				fmt.Fprintf(os.Stderr, "\x1b[2m%s\x1b[0m", ev.Text)
			case model.EventError:
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", ev.Err)
			}
		}
		fmt.Println()

		if ctx.Err() != nil {
			return
		}
	}
}

func printTeam(ctx context.Context, svc *agent.Service, userID, threadID int64) {
	infos, err := svc.TeamAgents(ctx, userID, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Println("no sub-agents yet")
		return
	}
	for _, info := range infos {
		status := "idle"
		if info.Working {
			status = "working"
		}
		fmt.Printf("- %s (threadId: %d, type: %s, %s)\n", info.Name, info.ThreadID, info.Type, status)
	}
}

func buildModels(cfg *config.Config) (*model.Registry, error) {
	registry := model.NewRegistry()
	for _, p := range cfg.Providers {
		apiKey := os.Getenv(p.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("provider %s: env %s is empty", p.Name, p.APIKeyEnv)
		}

		var (
			m   model.StreamingChatModel
			err error
		)
		switch {
		case strings.Contains(strings.ToLower(p.Name), "anthropic"), strings.Contains(strings.ToLower(p.Model), "claude"):
			m, err = anthropicmodel.New(anthropicmodel.Options{Model: p.Model, APIKey: apiKey, BaseURL: p.BaseURL})
		default:
			// Everything else speaks the OpenAI-compatible chat API.
			m, err = openaimodel.New(openaimodel.Options{Model: p.Model, APIKey: apiKey, BaseURL: p.BaseURL})
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		if err := registry.Register(p.Name, m); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "playforge: %s: %v\n", msg, err)
	os.Exit(1)
}
