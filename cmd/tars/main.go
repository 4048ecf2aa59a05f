package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Sirius1942/Omniparser-tars/internal/checkpoint"
	"github.com/Sirius1942/Omniparser-tars/internal/config"
	"github.com/Sirius1942/Omniparser-tars/internal/engine"
	"github.com/Sirius1942/Omniparser-tars/internal/providers"
	"github.com/Sirius1942/Omniparser-tars/internal/toolbox"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("tars: %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tars", flag.ExitOnError)
	taskFlag := fs.String("task", "", "Task description to process")
	variantFlag := fs.String("variant", "pdca", "Loop variant: pdca or act")
	configFlag := fs.String("config", "config.json", "Path to config file")
	mcpFlag := fs.String("mcp", "", "MCP tool server URL (overrides config)")
	timeoutFlag := fs.Duration("timeout", 10*time.Minute, "Overall task timeout")
	verboseFlag := fs.Bool("v", false, "Verbose logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskFlag == "" {
		fs.Usage()
		return fmt.Errorf("-task is required")
	}

	var variant engine.Variant
	switch *variantFlag {
	case "pdca":
		variant = engine.VariantPDCA
	case "act":
		variant = engine.VariantACT
	default:
		return fmt.Errorf("unknown variant %q (use pdca or act)", *variantFlag)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if *mcpFlag != "" {
		cfg.MCPServerURL = *mcpFlag
	}

	logger, err := newLogger(*verboseFlag)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()

	llm, model, err := providers.NewLLMClient(providers.Settings{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return err
	}

	brokerOpts := []toolbox.BrokerOption{
		toolbox.WithLogger(logger),
		toolbox.WithScreenshotDir(cfg.ScreenshotDir),
	}
	var dispatcher *toolbox.MCPDispatcher
	if cfg.MCPServerURL != "" {
		dispatcher = toolbox.NewMCPDispatcher(cfg.MCPServerURL)
		defer dispatcher.Close()
		brokerOpts = append(brokerOpts, toolbox.WithRemote(dispatcher))
	}
	broker := toolbox.NewBroker(brokerOpts...)

	runnerCfg := engine.DefaultRunnerConfig()
	runnerCfg.Model = model
	runnerCfg.Temperature = cfg.Temperature
	runnerCfg.MaxOutputTokens = cfg.MaxTokens
	runnerCfg.Policy = engine.PolicyConfig{
		MaxIterations:    cfg.MaxIterations,
		QualityThreshold: cfg.QualityThreshold,
	}

	builder := engine.NewRunnerBuilder().
		WithVariant(variant).
		WithLLM(llm).
		WithTools(broker).
		WithConfig(runnerCfg).
		WithHooks(engine.NewZapHook(logger))

	if cfg.CheckpointPath != "" {
		store, err := checkpoint.NewStore(ctx, cfg.CheckpointPath)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		defer store.Close()
		builder = builder.WithCheckpoints(store)
	}

	runner, err := builder.Build()
	if err != nil {
		return err
	}

	state, summary, err := runner.ProcessTask(ctx, *taskFlag)
	if err != nil {
		return fmt.Errorf("task processing failed: %w", err)
	}

	printSummary(summary, state)
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

func printSummary(s engine.Summary, st *engine.TaskState) {
	fmt.Println()
	fmt.Println("=== Task Summary ===")
	fmt.Printf("Task ID:        %s\n", s.TaskID)
	fmt.Printf("Task:           %s\n", s.Task)
	fmt.Printf("Iterations:     %d\n", s.Iterations)
	fmt.Printf("Quality score:  %.1f\n", s.FinalQualityScore)
	if s.FinalAssessment != "" {
		fmt.Printf("Assessment:     %s\n", s.FinalAssessment)
	}
	fmt.Printf("Tools used:     %d\n", s.ToolsUsedCount)
	if s.HitIterationCap {
		fmt.Println("Stopped at the iteration cap.")
	}
	if len(s.ImprovementsMade) > 0 {
		fmt.Println("Improvements:")
		for _, a := range s.ImprovementsMade {
			fmt.Printf("  - %s\n", a)
		}
	}
	fmt.Printf("Tokens:         %d\n", s.TotalTokens)

	if len(st.ToolUsage) > 0 {
		fmt.Println()
		fmt.Println("Tool calls:")
		for _, rec := range st.ToolLog() {
			ok := "ok"
			if rec.Result["success"] != true {
				ok = "failed"
			}
			fmt.Printf("  %s (%s)\n", rec.ToolName, ok)
		}
	}
}
