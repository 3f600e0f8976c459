// Package main runs the terminal chat client. It embeds the
// conversation core directly: same agent client, ledger, and pacing as
// the daemon, with a Bubble Tea surface instead of WebSocket events.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sahaay/internal/chat"
	"sahaay/internal/config"
	"sahaay/internal/ledger"
	"sahaay/internal/mock"
	"sahaay/internal/tui"
)

func main() {
	mockServer := flag.Bool("mock", false, "Run the mock agent instead of the TUI")
	mockAddr := flag.String("mock-addr", ":8000", "Listen address for the mock agent")
	agentURL := flag.String("agent", "", "Agent base URL (default: SAHAAY_AGENT_URL or http://127.0.0.1:8000)")
	dbPath := flag.String("db", "", "Ledger path (default: SAHAAY_SQLITE_PATH)")
	sessionID := flag.String("session", "", "Resume an existing session id")
	flag.Parse()

	if *mockServer {
		fmt.Fprintf(os.Stderr, "mock agent listening on %s\n", *mockAddr)
		if err := http.ListenAndServe(*mockAddr, (&mock.Agent{}).Handler()); err != nil {
			fmt.Fprintf(os.Stderr, "mock agent error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Load()
	if *agentURL != "" {
		cfg.AgentBaseURL = *agentURL
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	store, err := ledger.Open(cfg.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "init ledger: %v\n", err)
		os.Exit(1)
	}

	id := *sessionID
	var turns []chat.Turn
	if id == "" {
		rec, err := store.CreateSession(ctx, uuid.NewString(), "New Chat")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create session: %v\n", err)
			os.Exit(1)
		}
		id = rec.ID
	} else {
		if _, err := store.GetSession(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "resume session %s: %v\n", id, err)
			os.Exit(1)
		}
		turns, err = store.Turns(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load transcript: %v\n", err)
			os.Exit(1)
		}
	}

	surface := tui.NewSurface()
	session := chat.NewSession(id, chat.SessionConfig{
		HistoryWindow:     cfg.HistoryWindow,
		TitleBudget:       cfg.TitleBudget,
		MinStatusInterval: cfg.MinStatusInterval,
	}, chat.NewClient(cfg.AgentBaseURL), store, surface, zerolog.Nop())
	session.Seed(turns)

	p := tea.NewProgram(tui.New(session), tea.WithAltScreen())
	surface.SetProgram(p)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		os.Exit(1)
	}
}
