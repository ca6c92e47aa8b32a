// Command pkmctl is the companion CLI for pkm-assistant: it authors
// procedural rules, queries episodic memory, and inspects the markdown
// index and recent visits. Grounded on the teacher's cmd/alex root command
// (cobra_cli.go's NewRootCommand) for the command-tree shape, adapted from
// one monolithic agent CLI into several narrow subcommands, each opening
// only the storage it needs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pkm-assistant/internal/config"
	pkmerrors "pkm-assistant/internal/errors"
	"pkm-assistant/internal/llm"
	"pkm-assistant/internal/logging"
	"pkm-assistant/internal/store/relational"
)

var (
	colorGreen  = color.New(color.FgGreen).SprintFunc()
	colorRed    = color.New(color.FgRed).SprintFunc()
	colorYellow = color.New(color.FgYellow).SprintFunc()
	colorGray   = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "pkmctl",
		Short: "Administer and inspect a pkm-assistant instance",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config.yaml (default $HOME/.pkm-assistant/config.yaml)")

	rootCmd.AddCommand(newRulesCommand(&configFile))
	rootCmd.AddCommand(newMemoryCommand(&configFile))
	rootCmd.AddCommand(newIndexCommand(&configFile))
	rootCmd.AddCommand(newInspectCommand(&configFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", colorRed("pkmctl:"), err)
		os.Exit(1)
	}
}

// openStore loads configFile's Config and opens the relational store it
// names, the shared starting point for every subcommand.
func openStore(configFile string) (*relational.Store, config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	store, err := relational.Open(filepath.Join(cfg.DataDir, "pkm.db"))
	if err != nil {
		return nil, cfg, fmt.Errorf("open relational store: %w", err)
	}
	return store, cfg, nil
}

// buildLLMClient wraps an OpenAI-compatible client with the same retry and
// circuit-breaker policy the service process applies, so embeddings issued
// from pkmctl memory see the same LLMError handling spec.md §7 names.
func buildLLMClient(cfg config.LLMConfig) llm.Client {
	base := llm.NewOpenAIClient(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.DefaultModel,
	}, logging.NewComponentLogger("llm", "openai"))

	breaker := pkmerrors.NewCircuitBreaker("llm", pkmerrors.DefaultCircuitBreakerConfig(), logging.NewComponentLogger("llm", "circuit_breaker"))
	return llm.NewRetryingClient(base, pkmerrors.DefaultRetryConfig(), breaker, logging.NewComponentLogger("llm", "retry"))
}
