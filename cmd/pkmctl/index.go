package main

import (
	"fmt"
	"os"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/spf13/cobra"

	"pkm-assistant/internal/config"
)

func newIndexCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the markdown index",
	}
	cmd.AddCommand(newIndexShowCommand(configFile))
	return cmd
}

// newIndexShowCommand renders the raw markdown index file to the terminal,
// grounded on the teacher's cmd/alex/interactive.go renderMarkdown helper.
func newIndexShowCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Render the markdown index file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			content, err := os.ReadFile(cfg.MarkdownIndex.Path)
			if err != nil {
				return fmt.Errorf("read markdown index %s: %w", cfg.MarkdownIndex.Path, err)
			}

			rendered := markdown.Render(string(content), 100, 6)
			fmt.Println(string(rendered))
			return nil
		},
	}
}
