package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Terrorr74/CodeRenew/common/id"
	"github.com/Terrorr74/CodeRenew/common/llm"
	"github.com/Terrorr74/CodeRenew/common/logger"
	"github.com/Terrorr74/CodeRenew/common/otel"
	"github.com/Terrorr74/CodeRenew/core/config"
	"github.com/Terrorr74/CodeRenew/internal/analysis"
	"github.com/Terrorr74/CodeRenew/internal/analyzer"
	"github.com/Terrorr74/CodeRenew/internal/knowledge"
	"github.com/Terrorr74/CodeRenew/internal/scan"
	"github.com/Terrorr74/CodeRenew/internal/tokens"
)

const usage = `Usage:
  scanner scan -dir <path> -from <version> -to <version>
  scanner estimate -dir <path>
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "scanner starting",
		"env", cfg.Env,
		"model", cfg.LLM.Model,
		"knowledge_remote", cfg.Knowledge.Enabled(),
		"cache_redis", cfg.Cache.UseRedis())

	if cfg.OTel.Enabled() {
		telemetry, err := otel.Setup(ctx, cfg.OTel)
		if err != nil {
			slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
			os.Exit(1)
		}
		defer telemetry.Shutdown(context.Background())
	}

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "scan":
		err = runScan(ctx, cfg, os.Args[2:])
	case "estimate":
		err = runEstimate(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.ErrorContext(ctx, "command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runScan(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("scan", flag.ExitOnError)
	dir := flags.String("dir", ".", "directory to scan")
	from := flags.String("from", "", "current platform version")
	to := flags.String("to", "", "target platform version")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return fmt.Errorf("both -from and -to are required")
	}

	paths, err := collectPaths(*dir)
	if err != nil {
		return err
	}

	orchestrator, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	result, err := orchestrator.Scan(ctx, paths, *from, *to)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runEstimate(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("estimate", flag.ExitOnError)
	dir := flags.String("dir", ".", "directory to estimate")
	if err := flags.Parse(args); err != nil {
		return err
	}

	paths, err := collectPaths(*dir)
	if err != nil {
		return err
	}

	orchestrator, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	estimate, err := orchestrator.EstimateTokens(ctx, paths)
	if err != nil {
		return err
	}
	return printJSON(estimate)
}

// buildOrchestrator wires the full pipeline: builtin catalog, optional
// remote knowledge augmentation and cache, the LLM client behind retry and
// a circuit breaker, the static analyzer, and the optimizer.
func buildOrchestrator(ctx context.Context, cfg config.Config) (*scan.Orchestrator, error) {
	base := knowledge.NewBase()

	var remote knowledge.RemoteLookup
	if cfg.Knowledge.Enabled() {
		remote = knowledge.NewRemoteClient(knowledge.RemoteClientConfig{
			BaseURL: cfg.Knowledge.URL,
			APIKey:  cfg.Knowledge.APIKey,
			Timeout: cfg.Knowledge.Timeout,
		})
	}

	var cache knowledge.Cache
	if cfg.Cache.UseRedis() {
		redisCache, err := knowledge.NewRedisCacheFromURL(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting knowledge cache: %w", err)
		}
		cache = redisCache
		slog.InfoContext(ctx, "knowledge cache using redis")
	} else {
		cache = knowledge.NewMemoryCache()
	}

	hybrid := knowledge.NewHybrid(base, remote, cache, cfg.Knowledge.CacheTTL)

	llmClient, err := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	breaker := analysis.NewBreaker(analysis.BreakerConfig{
		FailThreshold: cfg.Scanner.BreakerFailThreshold,
		ResetTimeout:  cfg.Scanner.BreakerResetTimeout,
	})
	client := analysis.NewClient(llmClient, breaker, hybrid, analysis.Config{
		MaxRetries: cfg.Scanner.MaxRetries,
		MaxTokens:  cfg.LLM.MaxTokens,
	})

	return scan.NewOrchestrator(scan.Config{
		MaxTokensPerBatch:    cfg.Scanner.MaxTokensPerBatch,
		MaxFilesPerBatch:     cfg.Scanner.MaxFilesPerBatch,
		CostPerMillionTokens: cfg.Scanner.CostPerMillionTokens,
	}, tokens.New(), analyzer.NewStatic(base), client), nil
}

// collectPaths gathers candidate source files under root. Fine-grained
// filtering (vendor paths, third-party markers) happens inside the scan.
func collectPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".php") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no source files found under %s", root)
	}
	return paths, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const banner = `
 ██████╗ ██████╗ ██████╗ ███████╗██████╗ ███████╗███╗   ██╗███████╗██╗    ██╗
██╔════╝██╔═══██╗██╔══██╗██╔════╝██╔══██╗██╔════╝████╗  ██║██╔════╝██║    ██║
██║     ██║   ██║██║  ██║█████╗  ██████╔╝█████╗  ██╔██╗ ██║█████╗  ██║ █╗ ██║
██║     ██║   ██║██║  ██║██╔══╝  ██╔══██╗██╔══╝  ██║╚██╗██║██╔══╝  ██║███╗██║
╚██████╗╚██████╔╝██████╔╝███████╗██║  ██║███████╗██║ ╚████║███████╗╚██╗██╔╝
 ╚═════╝ ╚═════╝ ╚═════╝ ╚══════╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═══╝╚══════╝ ╚═╝╚═╝
`
