// Command pkm-assistant runs the ingestion service: the Intake Service's
// HTTP boundary, the Visit Queue, and the Reconciliation Workflow behind it,
// wired from a single configuration file. Grounded on the teacher's
// cmd/alex entrypoint (cobra root command, os/signal-driven graceful
// shutdown via a sync.Once drain) and its cmd/cobra_cli.go root command
// construction.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkm-assistant/internal/classifier"
	"pkm-assistant/internal/config"
	pkmerrors "pkm-assistant/internal/errors"
	"pkm-assistant/internal/intake"
	"pkm-assistant/internal/llm"
	"pkm-assistant/internal/logging"
	"pkm-assistant/internal/memory/episodic"
	"pkm-assistant/internal/memory/procedural"
	"pkm-assistant/internal/observability"
	"pkm-assistant/internal/orphan"
	"pkm-assistant/internal/queue"
	"pkm-assistant/internal/store/markdownindex"
	"pkm-assistant/internal/store/relational"
	"pkm-assistant/internal/store/vector"
	"pkm-assistant/internal/tabhistory"
	"pkm-assistant/internal/tree"
	"pkm-assistant/internal/workflow"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "pkm-assistant",
		Short: "Personal knowledge capture ingestion service",
		Long: `pkm-assistant ingests browser page visits, classifies them, and
organizes them into navigation trees backed by a relational store, a vector
store, and an append-only markdown index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config.yaml (default $HOME/.pkm-assistant/config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pkm-assistant: %v\n", err)
		os.Exit(1)
	}
}

// closers collects every opened resource so shutdown can unwind them in
// reverse dependency order.
type closers struct {
	mu    sync.Mutex
	funcs []func() error
}

func (c *closers) add(f func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
}

func (c *closers) closeAll(logger logging.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.funcs) - 1; i >= 0; i-- {
		if err := c.funcs[i](); err != nil {
			logger.Warn("shutdown: %v", err)
		}
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Configure(os.Stderr, cfg.LogLevel)
	logger := logging.NewComponentLogger("main", "pkm-assistant")

	var release closers
	defer release.closeAll(logger)

	metrics := observability.NewMetrics()
	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.Observability)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	release.add(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})

	llmClient := buildLLMClient(cfg.LLM)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	relationalStore, err := relational.Open(filepath.Join(cfg.DataDir, "pkm.db"))
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	release.add(relationalStore.Close)

	vectorStore, err := vector.Open(filepath.Join(cfg.DataDir, "vectors"), llmClient.EmbedQuery)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}

	index, err := markdownindex.Open(markdownindex.Config{
		Path:       cfg.MarkdownIndex.Path,
		Heading:    cfg.MarkdownIndex.Heading,
		GitVersion: cfg.MarkdownIndex.GitVersion,
	}, logging.NewComponentLogger("store", "markdownindex"))
	if err != nil {
		return fmt.Errorf("open markdown index: %w", err)
	}

	tabs := tabhistory.New(logging.NewComponentLogger("intake", "tabhistory"))
	orphans := orphan.New(logging.NewComponentLogger("intake", "orphan"))
	trees := tree.NewService(relationalStore, index, cfg.Tree)
	episodicMemory := episodic.New(relationalStore, vectorStore, func() string { return uuid.NewString() })
	proceduralEngine := procedural.New(relationalStore, logging.NewComponentLogger("memory", "procedural"))

	cl := classifier.New(llmClient, episodicMemory, proceduralEngine, cfg.Classifier, logging.NewComponentLogger("classifier", "classifier"))

	wf := workflow.New(cl, llmClient, relationalStore, vectorStore, trees, logging.NewComponentLogger("workflow", "workflow"))
	wf.SetMetrics(metrics)

	resolver := intake.NewReferrerResolver(tabs, orphans)

	visitQueue := queue.New(cfg.Queue, wf, orphans, resolver, logging.NewComponentLogger("queue", "queue"))
	visitQueue.SetMetrics(metrics)

	server := intake.NewServer(visitQueue, relationalStore, tabs, orphans, logging.NewComponentLogger("intake", "server"))

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := intake.AdvertisePort(port); err != nil {
		logger.Warn("advertise port: %v", err)
	}
	release.add(func() error {
		intake.ClearPortAdvertisement()
		return nil
	})
	logger.Info("listening on %s (port %d)", cfg.HTTPAddr, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return visitQueue.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(listener)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			logger.Info("shutting down")
			drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownDrain)
			defer drainCancel()
			if err := server.Shutdown(drainCtx); err != nil {
				logger.Error("server shutdown: %v", err)
			}
			cancel()
		})
	}

	select {
	case <-quit:
		shutdown()
	case <-gctx.Done():
		shutdown()
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("service exited: %w", err)
	}
	return nil
}

// buildLLMClient wraps an OpenAI-compatible client with the retry and
// circuit-breaker policy spec.md §7 names for LLMError handling.
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
