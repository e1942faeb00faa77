// Package analysis wraps the external generative code-analysis service with
// the resilience the scan pipeline needs: structured-output prompts, retries
// with backoff for transient failures, and a circuit breaker so a dead
// service fails scans fast instead of slowly.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/Terrorr74/CodeRenew/common/llm"
	"github.com/Terrorr74/CodeRenew/common/logger"
	"github.com/Terrorr74/CodeRenew/internal/knowledge"
)

const (
	backoffBase = 2 * time.Second
	backoffCap  = 30 * time.Second
)

// BatchFile is one (already optimized) source file submitted for analysis.
type BatchFile struct {
	Path    string
	Content string
}

// BatchIssue matches the structured-output schema for a single finding.
type BatchIssue struct {
	File           string `json:"file" jsonschema:"description=Path of the file the issue was found in"`
	Severity       string `json:"severity" jsonschema:"required,enum=critical,enum=high,enum=medium,enum=low,enum=info"`
	IssueType      string `json:"issue_type" jsonschema:"required,description=Category such as deprecated_function or security"`
	Line           int    `json:"line,omitempty" jsonschema:"description=1-indexed line number when known"`
	Description    string `json:"description" jsonschema:"required"`
	Recommendation string `json:"recommendation" jsonschema:"required"`
	CodeSnippet    string `json:"code_snippet,omitempty"`
}

// BatchResult is the structured payload the service populates per batch.
type BatchResult struct {
	RiskLevel       string       `json:"risk_level" jsonschema:"required,enum=safe,enum=warning,enum=critical,enum=unknown"`
	Summary         string       `json:"summary" jsonschema:"required"`
	Issues          []BatchIssue `json:"issues" jsonschema:"required"`
	Recommendations []string     `json:"recommendations" jsonschema:"required"`

	PromptTokens     int  `json:"-"`
	CompletionTokens int  `json:"-"`
	Degraded         bool `json:"-"`
}

// KnowledgeBase provides deprecation context for prompts.
type KnowledgeBase interface {
	DeprecatedInRange(ctx context.Context, versionFrom, versionTo string) []knowledge.DeprecatedItem
}

// Config tunes retry behavior and response size.
type Config struct {
	MaxRetries int // attempts beyond the first; default 3
	MaxTokens  int // completion budget per batch
}

// Client analyzes batches of files through a structured-output LLM call,
// gated by a circuit breaker.
type Client struct {
	llm     llm.Client
	breaker *Breaker
	kb      KnowledgeBase
	cfg     Config
}

func NewClient(llmClient llm.Client, breaker *Breaker, kb KnowledgeBase, cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return &Client{
		llm:     llmClient,
		breaker: breaker,
		kb:      kb,
		cfg:     cfg,
	}
}

// AnalyzeBatch submits one batch of files for compatibility analysis across
// a version range. Transient failures are retried with exponential backoff;
// a malformed response degrades to an unknown-risk empty result rather than
// failing the batch.
func (c *Client) AnalyzeBatch(ctx context.Context, files []BatchFile, versionFrom, versionTo, extraContext string) (*BatchResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:   "coderenew.analysis.client",
		VersionFrom: &versionFrom,
		VersionTo:   &versionTo,
	})

	prompt := c.buildPrompt(ctx, files, versionFrom, versionTo, extraContext)
	slog.DebugContext(ctx, "analysis prompt built",
		"files", len(files),
		"prompt_chars", len(prompt),
		"preview", logger.Truncate(prompt, 200))

	var result BatchResult
	resp, err := c.callWithRetry(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "compatibility_analysis",
		Schema:       llm.GenerateSchema[BatchResult](),
		MaxTokens:    c.cfg.MaxTokens,
		Temperature:  llm.Temp(0),
	}, &result)
	if err != nil {
		if errors.Is(err, llm.ErrNoStructuredPayload) {
			// One bad response must not abort an otherwise-successful batch.
			slog.WarnContext(ctx, "analysis response had no structured payload, degrading",
				"files", len(files))
			return &BatchResult{RiskLevel: "unknown", Issues: []BatchIssue{}, Degraded: true}, nil
		}
		return nil, err
	}

	if result.RiskLevel == "" {
		result.RiskLevel = "unknown"
	}
	result.PromptTokens = resp.PromptTokens
	result.CompletionTokens = resp.CompletionTokens

	slog.InfoContext(ctx, "batch analyzed",
		"files", len(files),
		"issues", len(result.Issues),
		"risk_level", result.RiskLevel,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens)

	return &result, nil
}

// callWithRetry runs one Chat call through the breaker with up to
// cfg.MaxRetries attempts. Client-side 4xx errors never count toward the
// breaker threshold and are never retried.
func (c *Client) callWithRetry(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}

		resp, err := c.llm.Chat(ctx, req, result)
		if err == nil {
			c.breaker.RecordSuccess()
			return resp, nil
		}
		if !llm.IsClientError(err) {
			c.breaker.RecordFailure()
		}

		if !llm.IsRetryable(ctx, err) {
			return nil, err
		}
		lastErr = err

		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := backoffDelay(attempt)
		slog.WarnContext(ctx, "analysis call failed, backing off",
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("analysis failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// backoffDelay is exponential from backoffBase, capped at backoffCap, with
// up to one second of jitter.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << attempt
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay + time.Duration(rand.Int63n(int64(time.Second)))
}

const systemPrompt = `You are a WordPress compatibility expert. You analyze PHP code for ` +
	`compatibility issues when upgrading between WordPress versions and report ` +
	`findings in the requested structured format. Only report issues you can ` +
	`ground in the provided code; do not speculate about code you cannot see.`

func (c *Client) buildPrompt(ctx context.Context, files []BatchFile, versionFrom, versionTo, extraContext string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the following PHP files for compatibility issues when upgrading from WordPress %s to %s.\n\n", versionFrom, versionTo)
	b.WriteString("Identify:\n")
	b.WriteString("1. Deprecated functions and hooks\n")
	b.WriteString("2. Removed functions\n")
	b.WriteString("3. Breaking changes\n")
	b.WriteString("4. Security concerns\n")
	b.WriteString("5. Compatibility warnings\n\n")

	if deprecations := c.kb.DeprecatedInRange(ctx, versionFrom, versionTo); len(deprecations) > 0 {
		b.WriteString("Known changes in this version range:\n")
		for _, item := range deprecations {
			fmt.Fprintf(&b, "- %s: deprecated in %s", item.Name, item.DeprecatedIn)
			if item.RemovedIn != "" {
				fmt.Fprintf(&b, ", removed in %s", item.RemovedIn)
			}
			if item.Replacement != "" {
				fmt.Fprintf(&b, " (use %s)", item.Replacement)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if extraContext != "" {
		fmt.Fprintf(&b, "Additional context: %s\n\n", extraContext)
	}

	for _, f := range files {
		fmt.Fprintf(&b, "=== File: %s ===\n```php\n%s\n```\n\n", f.Path, f.Content)
	}

	return b.String()
}
