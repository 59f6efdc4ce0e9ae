package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datanerd/internal/agents"
	"datanerd/internal/config"
	"datanerd/internal/embedding"
	"datanerd/internal/llm"
	"datanerd/internal/pipeline"
	"datanerd/internal/retrieval"
	"datanerd/internal/store"
	"datanerd/internal/tabular"
	"datanerd/internal/types"
)

var (
	runFile     string
	runQuestion string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline for a question about a CSV file",
	Example: `  datanerd run --file sales.csv --question "show revenue trends"
  datanerd run -f data/users.csv -q "which region has the most churn?"`,
	RunE: runAnalysis,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "CSV file to analyze (required)")
	runCmd.Flags().StringVarP(&runQuestion, "question", "q", "", "question to answer (required)")
	runCmd.MarkFlagRequired("file")
	runCmd.MarkFlagRequired("question")
}

// stack bundles the wired components behind the run and ingest commands.
type stack struct {
	cfg      *config.Config
	store    *store.LocalStore
	accessor *tabular.Accessor
	context  *retrieval.ContextStore
	manager  *pipeline.Manager
}

func (s *stack) close() {
	if s.manager != nil {
		s.manager.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

func buildStack(cfg *config.Config) (*stack, error) {
	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	ls, err := store.NewLocalStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Dimensions:     cfg.Embedding.Dimensions,
	})
	if err != nil {
		ls.Close()
		return nil, fmt.Errorf("creating embedding engine: %w", err)
	}

	contextStore, err := retrieval.NewContextStore(ls, engine, retrieval.Config{
		ChunkTokens:  cfg.Pipeline.ChunkTokens,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
	})
	if err != nil {
		ls.Close()
		return nil, fmt.Errorf("creating context store: %w", err)
	}

	client, err := llm.NewClient(llm.FromConfig(cfg))
	if err != nil {
		ls.Close()
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	accessor := tabular.NewAccessor(workspace)
	registry := agents.NewRegistry(agents.Deps{
		LLM:             client,
		Files:           accessor,
		Raw:             accessor,
		Retriever:       contextStore,
		Chunks:          ls,
		RetrievalK:      cfg.Pipeline.RetrievalK,
		DebateThreshold: cfg.Pipeline.DebateThreshold,
	})

	events := pipeline.NewBroadcaster(cfg.Pipeline.EventBuffer)
	orch := pipeline.NewOrchestrator(registry, pipeline.PolicyFromConfig(cfg), events)
	manager := pipeline.NewManager(orch, ls, events, cfg)

	return &stack{
		cfg:      cfg,
		store:    ls,
		accessor: accessor,
		context:  contextStore,
		manager:  manager,
	}, nil
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	run, err := st.manager.StartRun(cmd.Context(), runFile, runQuestion)
	if err != nil {
		return err
	}
	events, unsubscribe := st.manager.Subscribe(run.ID)
	defer unsubscribe()
	logger.Info("run started", zap.String("run_id", run.ID), zap.String("file", runFile))
	fmt.Printf("Run %s started for %s\n", run.ID, runFile)

	// SIGINT cancels the run but lets it settle into a terminal state.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		st.manager.Wait(run.ID)
		close(done)
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nCancelling run...")
			if err := st.manager.CancelRun(run.ID); err != nil {
				logger.Warn("cancel failed", zap.Error(err))
			}
		case ev := <-events:
			printEvent(ev)
		case <-done:
			return printOutcome(st, run.ID)
		}
	}
}

func printEvent(ev types.StatusEvent) {
	switch ev.State {
	case types.EventProcessing:
		fmt.Printf("  [%s] running...\n", ev.Stage)
	case types.EventCompleted:
		fmt.Printf("  [%s] done\n", ev.Stage)
	case types.EventFailed:
		fmt.Printf("  [%s] failed: %s\n", ev.Stage, ev.Error)
	}
}

func printOutcome(st *stack, runID string) error {
	run, err := st.manager.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	switch run.Status {
	case types.RunCancelled:
		fmt.Printf("\nRun cancelled after %d stages.\n", len(run.Results))
		return nil
	case types.RunFailed:
		return fmt.Errorf("run failed: %s", run.Error)
	}

	report := run.LastResult(types.StageReport)
	if report == nil || report.Output.Report == nil {
		return fmt.Errorf("run completed without a report")
	}
	printReport(report.Output.Report)
	return nil
}

func printReport(r *types.ReportOutput) {
	fmt.Printf("\n%s\n", r.Title)
	for _, section := range r.Sections {
		fmt.Printf("\n## %s\n%s\n", section.Heading, section.Body)
	}
	fmt.Printf("\n(%d stages executed", r.StageCount)
	if len(r.Skipped) > 0 {
		fmt.Printf(", skipped: %v", r.Skipped)
	}
	fmt.Println(")")
}
