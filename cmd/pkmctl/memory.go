package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/memory/episodic"
	"pkm-assistant/internal/store/vector"
)

func newMemoryCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Query episodic memory",
	}
	cmd.AddCommand(newMemoryReplCommand(configFile))
	cmd.AddCommand(newMemoryStatsCommand(configFile))
	return cmd
}

func openEpisodicMemory(configFile string) (*episodic.Memory, func(), error) {
	store, cfg, err := openStore(configFile)
	if err != nil {
		return nil, nil, err
	}

	llmClient := buildLLMClient(cfg.LLM)
	vecs, err := vector.Open(filepath.Join(cfg.DataDir, "vectors"), llmClient.EmbedQuery)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}

	mem := episodic.New(store, vecs, nil)
	return mem, func() { store.Close() }, nil
}

func newMemoryStatsCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print episodic memory summary counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeFn, err := openEpisodicMemory(*configFile)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := mem.Statistics()
			if err != nil {
				return fmt.Errorf("statistics: %w", err)
			}
			fmt.Printf("total:           %d\n", stats.Total)
			fmt.Printf("corrections:     %d\n", stats.Corrections)
			fmt.Printf("false positives: %d\n", stats.FalsePositives)
			fmt.Printf("false negatives: %d\n", stats.FalseNegatives)
			for pageType, count := range stats.CorrectionsByType {
				fmt.Printf("  %s: %d\n", pageType, count)
			}
			return nil
		},
	}
}

// newMemoryReplCommand opens a readline REPL exposing episodic memory's
// retrieval operations, grounded on the teacher's cmd/alex/interactive.go
// RunInteractive loop (readline.NewEx with a history file, ErrInterrupt/EOF
// handling).
func newMemoryReplCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactively query episodic memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeFn, err := openEpisodicMemory(*configFile)
			if err != nil {
				return err
			}
			defer closeFn()

			return runMemoryRepl(mem)
		},
	}
}

func runMemoryRepl(mem *episodic.Memory) error {
	fmt.Println("pkm-assistant episodic memory REPL")
	fmt.Println("commands: domain <name> | similar <url> <text...> | stats | exit")
	fmt.Println()

	homeDir, _ := os.UserHomeDir()
	historyFile := filepath.Join(homeDir, ".pkmctl-memory-history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "memory> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "exit", "quit":
			return nil
		case "stats":
			stats, err := mem.Statistics()
			if err != nil {
				fmt.Printf("%s %v\n", colorRed("error:"), err)
				continue
			}
			fmt.Printf("total=%d corrections=%d false_positives=%d false_negatives=%d\n",
				stats.Total, stats.Corrections, stats.FalsePositives, stats.FalseNegatives)
		case "domain":
			if len(fields) < 2 {
				fmt.Println(colorYellow("usage: domain <name>"))
				continue
			}
			episodes, err := mem.GetByDomain(fields[1], 10)
			if err != nil {
				fmt.Printf("%s %v\n", colorRed("error:"), err)
				continue
			}
			printEpisodes(episodes)
		case "similar":
			if len(fields) < 3 {
				fmt.Println(colorYellow("usage: similar <url> <text...>"))
				continue
			}
			episodes, err := mem.FindSimilar(ctx, fields[1], strings.Join(fields[2:], " "), 5)
			if err != nil {
				fmt.Printf("%s %v\n", colorRed("error:"), err)
				continue
			}
			printEpisodes(episodes)
		default:
			fmt.Println(colorYellow("unknown command, try: domain <name> | similar <url> <text...> | stats | exit"))
		}
	}
	return nil
}

func printEpisodes(episodes []domain.EpisodicMemory) {
	if len(episodes) == 0 {
		fmt.Println(colorGray("no episodes found"))
		return
	}
	for _, e := range episodes {
		decision := colorGreen("accept")
		if !e.OriginalDecision {
			decision = colorRed("reject")
		}
		fmt.Printf("%s  %-10s conf=%.2f  %s  %s\n", e.ID, e.PageType, e.Confidence, decision, e.URL)
	}
}
