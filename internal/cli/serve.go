package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/knollapp/knoll/internal/config"
	"github.com/knollapp/knoll/internal/logger"
	"github.com/knollapp/knoll/pkg/conversation"
	"github.com/knollapp/knoll/pkg/gateway"
	"github.com/knollapp/knoll/pkg/knowledge"
	"github.com/knollapp/knoll/pkg/notebook"
	"github.com/knollapp/knoll/pkg/reasoning"
	"github.com/knollapp/knoll/pkg/search"
	"github.com/knollapp/knoll/pkg/session"
	"github.com/knollapp/knoll/pkg/stream"
	"github.com/knollapp/knoll/pkg/tools"
	"github.com/knollapp/knoll/pkg/websearch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knoll daemon",
	Long:  `Run the knoll daemon in the foreground until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	appLogger, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.Zerolog()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.DocsPath, 0755); err != nil {
		return fmt.Errorf("failed to create documents directory: %w", err)
	}

	store, err := session.New(cfg.SessionDBPath(), log)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	cleanup := session.NewCleanup(store,
		time.Duration(cfg.Session.RetentionDays)*24*time.Hour,
		cfg.Session.CleanupSchedule, log)
	if err := cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	defer cleanup.Stop()

	notebooks, err := notebook.NewStore(cfg.NotebookDBPath(), log)
	if err != nil {
		return fmt.Errorf("failed to open notebook store: %w", err)
	}
	defer notebooks.Close()

	var embedder knowledge.EmbeddingProvider
	if cfg.Embedding.APIKey != "" {
		embedder = knowledge.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model)
	} else {
		log.Warn().Msg("No embedding API key configured, knowledge search is keyword-only")
	}

	index, err := knowledge.NewIndex(knowledge.IndexConfig{
		DocsPath: cfg.DocsPath,
		DBPath:   cfg.IndexDBPath(),
		Embedder: embedder,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to open knowledge index: %w", err)
	}
	defer index.Close()

	registry := tools.NewRegistry()
	if err := knowledge.RegisterTools(registry, index); err != nil {
		return fmt.Errorf("failed to register knowledge tools: %w", err)
	}
	if err := notebook.RegisterTools(registry, notebooks); err != nil {
		return fmt.Errorf("failed to register notebook tools: %w", err)
	}
	if cfg.WebSearch.Endpoint != "" {
		webClient, err := websearch.NewClient(cfg.WebSearch.Endpoint, cfg.WebSearch.APIKey, log)
		if err != nil {
			return fmt.Errorf("failed to create web search client: %w", err)
		}
		if err := websearch.RegisterTools(registry, webClient); err != nil {
			return fmt.Errorf("failed to register web search tool: %w", err)
		}
	} else {
		log.Warn().Msg("No web search endpoint configured, web search tool is disabled")
	}

	provider, err := reasoning.NewProvider(cfg.Reasoning.Provider, cfg.Reasoning.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create reasoning provider: %w", err)
	}
	client, err := reasoning.NewClient(reasoning.ClientConfig{
		Provider:    provider,
		Model:       cfg.Reasoning.Model,
		Temperature: cfg.Reasoning.Temperature,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to create reasoning client: %w", err)
	}

	streams := stream.NewCoordinator(stream.DefaultFlushInterval, log)
	slices := search.NewSliceBuilder(index, log)

	orchestrator, err := conversation.New(conversation.Config{
		Store:          store,
		Client:         client,
		Registry:       registry,
		Executor:       tools.NewExecutor(registry, log),
		Slices:         slices,
		Notebooks:      notebooks,
		Streams:        streams,
		ProfileSummary: cfg.Profile.Summary,
		HistoryLimit:   cfg.Session.HistoryLimit,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Processor:    orchestrator,
		Streams:      streams,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	log.Info().Str("version", version).Msg("Knoll daemon running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	return server.Stop()
}
