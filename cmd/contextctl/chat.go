package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"contextcore/pkg/config"
	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llm"
	"contextcore/pkg/metrics"
	"contextcore/pkg/orchestrator"
	"contextcore/pkg/promptasm"
	"contextcore/pkg/sessionhistory"
	"contextcore/pkg/snapshot"
	"contextcore/pkg/tier"
	"contextcore/pkg/tokencount"
)

// runChat starts one live session and drives a REPL over it: a line
// starting with "/" invokes a core operation directly (the spec.md §6 CLI
// surface), anything else is a user message sent to the bound model.
func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	providerName := fs.String("provider", "anthropic", "anthropic, openai, google, or ollama")
	model := fs.String("model", "claude-sonnet-4-5", "model id to bind")
	sessionID := fs.String("session", "", "session id (default: generated)")
	modeName := fs.String("mode", promptasm.DefaultModeName, "prompt mode")
	configPath := fs.String("config", "", "path to a contextcore config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	tiers, err := tier.NewControllerWithOverrides(cfg.TierControllerOverrides())
	if err != nil {
		return err
	}

	modes, err := promptasm.NewModeStore()
	if err != nil {
		return err
	}
	assembler := promptasm.NewAssembler(modes, promptasm.NewToolRegistry(), tokencount.New(*model))

	history, err := sessionhistory.NewFileStore(filepath.Join(cfg.StorageRoot, "sessions"), cfg.SessionHistoryBatch.ToSessionHistoryPolicy())
	if err != nil {
		return err
	}
	snapshots, err := snapshot.NewFileStore(filepath.Join(cfg.StorageRoot, "sessions"))
	if err != nil {
		return err
	}

	orch := orchestrator.New(tiers, assembler, history, snapshots, metrics.NewInternalRecorder(), nil)

	creds := config.NewCredentialStore()
	provider, err := resolveProvider(creds, *sessionID, *providerName, *model)
	if err != nil {
		return err
	}

	id, err := orch.StartSession(orchestrator.SessionConfig{SessionID: *sessionID, ModeName: *modeName, Provider: provider})
	if err != nil {
		return fmt.Errorf("start_session: %w", err)
	}
	fmt.Printf("session %s started (model=%s, mode=%s). Type /quit to exit, /help for commands.\n", id, *model, *modeName)

	return chatLoop(orch, provider, id)
}

func chatLoop(orch *orchestrator.Orchestrator, provider llm.Provider, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if line == "/quit" || line == "/exit" {
				return nil
			}
			if err := handleSlashCommand(orch, sessionID, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			continue
		}

		if err := orch.AddUserMessage(sessionID, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		view, err := orch.PrepareLLMInput(sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		reply, err := provider.Chat(ctx, toLLMMessages(view), llm.ChatOptions{MaxOutputTokens: 1024, Temperature: 0.7})
		if err != nil {
			fmt.Fprintf(os.Stderr, "model error: %v\n", err)
			continue
		}
		if err := orch.AddAssistantMessage(sessionID, reply); err != nil {
			fmt.Fprintf(os.Stderr, "error recording reply: %v\n", err)
		}
		fmt.Println(reply)
	}
}

// toLLMMessages flattens an assembled Active Context into the flat []llm.Message
// every provider adapter's Chat expects: system prompt first, then
// checkpoint summaries rendered as system-role messages prefixed
// "earlier conversation summary: ", then the
// verbatim recent turns.
func toLLMMessages(view contextmodel.ActiveContext) []llm.Message {
	messages := make([]llm.Message, 0, len(view.Checkpoints)+len(view.RecentMessages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: view.SystemPrompt.Content})
	for _, cp := range view.Checkpoints {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "earlier conversation summary: " + cp.SummaryText})
	}
	for _, m := range view.RecentMessages {
		role := llm.RoleUser
		if m.Role == contextmodel.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return messages
}

func handleSlashCommand(orch *orchestrator.Orchestrator, sessionID, line string) error {
	fields := strings.Fields(line)
	cmd := strings.TrimPrefix(fields[0], "/")
	rest := fields[1:]

	switch cmd {
	case "help":
		fmt.Println("/snapshot list | /snapshot create [purpose] | /snapshot rollback <id> | /context stats | /context compress | /mode <name> | /quit")
		return nil
	case "snapshot":
		return slashSnapshot(orch, sessionID, rest)
	case "context":
		return slashContext(orch, sessionID, rest)
	case "mode":
		if len(rest) != 1 {
			return fmt.Errorf("usage: /mode <name>")
		}
		return orch.SetMode(sessionID, rest[0])
	default:
		return fmt.Errorf("unknown command %q (try /help)", cmd)
	}
}

func slashSnapshot(orch *orchestrator.Orchestrator, sessionID string, rest []string) error {
	if len(rest) == 0 {
		return fmt.Errorf("usage: /snapshot list|create|rollback")
	}
	switch rest[0] {
	case "list":
		snaps, err := orch.ListSnapshots(sessionID)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("no snapshots yet")
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("%s  %s  %s\n", s.ID, s.CreatedAt.Format("15:04:05"), s.Purpose)
		}
		return nil
	case "create":
		purpose := contextmodel.PurposeRollback
		if len(rest) > 1 {
			purpose = contextmodel.SnapshotPurpose(rest[1])
		}
		id, err := orch.CreateSnapshot(sessionID, purpose)
		if err != nil {
			return err
		}
		fmt.Printf("created snapshot %s\n", id)
		return nil
	case "rollback":
		if len(rest) != 2 {
			return fmt.Errorf("usage: /snapshot rollback <id>")
		}
		if err := orch.RollbackTo(sessionID, rest[1]); err != nil {
			return err
		}
		fmt.Println("rolled back")
		return nil
	default:
		return fmt.Errorf("unknown snapshot subcommand %q", rest[0])
	}
}

func slashContext(orch *orchestrator.Orchestrator, sessionID string, rest []string) error {
	if len(rest) == 0 {
		return fmt.Errorf("usage: /context stats|compress")
	}
	switch rest[0] {
	case "stats":
		view, err := orch.PrepareLLMInput(sessionID)
		if err != nil {
			return err
		}
		fmt.Printf("tokens: system=%d checkpoints=%d recent=%d total=%d\n",
			view.TokenCount.System, view.TokenCount.Checkpoints, view.TokenCount.Recent, view.TokenCount.Total)
		fmt.Printf("checkpoints=%d recent_messages=%d\n", len(view.Checkpoints), len(view.RecentMessages))
		return nil
	case "compress":
		if err := orch.CompressNow(sessionID); err != nil {
			return err
		}
		fmt.Println("compression pass complete")
		return nil
	default:
		return fmt.Errorf("unknown context subcommand %q", rest[0])
	}
}
