// Package scan coordinates a full compatibility scan: file filtering and
// prioritization, the static pass, token-bounded batch planning, analysis
// service calls, and the final issue merge and risk rollup.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Terrorr74/CodeRenew/common/id"
	"github.com/Terrorr74/CodeRenew/common/logger"
	"github.com/Terrorr74/CodeRenew/internal/analysis"
	"github.com/Terrorr74/CodeRenew/internal/analyzer"
	"github.com/Terrorr74/CodeRenew/internal/tokens"
)

// AnalysisService is what the orchestrator needs from the AI analysis
// layer. *analysis.Client satisfies it.
type AnalysisService interface {
	AnalyzeBatch(ctx context.Context, files []analysis.BatchFile, versionFrom, versionTo, extraContext string) (*analysis.BatchResult, error)
}

// Config bounds batch planning and prices estimates.
type Config struct {
	MaxTokensPerBatch    int
	MaxFilesPerBatch     int
	CostPerMillionTokens float64
}

func (c Config) withDefaults() Config {
	if c.MaxTokensPerBatch <= 0 {
		c.MaxTokensPerBatch = 150000
	}
	if c.MaxFilesPerBatch <= 0 {
		c.MaxFilesPerBatch = 20
	}
	if c.CostPerMillionTokens <= 0 {
		c.CostPerMillionTokens = 3.0
	}
	return c
}

// Orchestrator drives scans. It is safe for sequential reuse; each Scan
// call is one logical task with its own lifecycle and statistics.
type Orchestrator struct {
	cfg       Config
	optimizer *tokens.Optimizer
	static    *analyzer.Static
	client    AnalysisService

	mu        sync.Mutex
	lastStats Stats
}

func NewOrchestrator(cfg Config, optimizer *tokens.Optimizer, static *analyzer.Static, client AnalysisService) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		optimizer: optimizer,
		static:    static,
		client:    client,
	}
}

// fileEntry is one candidate file with everything batch planning needs.
type fileEntry struct {
	path     string
	content  string
	priority int
	tokens   int
}

// batch is an ordered set of files bounded by token, byte, and file-count
// ceilings during planning.
type batch struct {
	files  []fileEntry
	tokens int
	bytes  int
}

// Scan analyzes the given files for compatibility issues across a version
// range. Batch-level failures degrade coverage but never fail the scan;
// only errors outside the batch loop (no readable input at all) reach the
// failed terminal state.
func (o *Orchestrator) Scan(ctx context.Context, paths []string, versionFrom, versionTo string) (*Result, error) {
	scanID := id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ScanID:      &scanID,
		VersionFrom: &versionFrom,
		VersionTo:   &versionTo,
		Component:   "coderenew.scan.orchestrator",
	})

	result := &Result{ScanID: scanID, Status: StatusPending}
	transition(result, StatusProcessing)

	slog.InfoContext(ctx, "scan starting", "input_files", len(paths))

	var stats Stats
	entries := o.collectFiles(ctx, paths, &stats)
	if len(entries) == 0 && len(paths) > 0 {
		transition(result, StatusFailed)
		o.storeStats(stats)
		return result, &ScanError{
			Err: fmt.Errorf("no readable source files among %d inputs", len(paths)),
		}
	}

	// Highest-value files first so they are analyzed even if budget runs out.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	var issues []Issue

	// Static pass runs over every surviving file; it is free and can never
	// be skipped by budget.
	for _, entry := range entries {
		quick := o.static.QuickScan(entry.content, versionFrom, versionTo)
		issues = append(issues, staticIssues(entry.path, quick, o.static.DetectPatterns(entry.content))...)
	}
	stats.StaticIssues = len(issues)

	batches := planBatches(entries, o.cfg)
	slog.InfoContext(ctx, "static pass complete",
		"files", len(entries),
		"static_issues", stats.StaticIssues,
		"planned_batches", len(batches))

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			// Caller aborted: stop dispatching further batches but keep what
			// was already found.
			slog.WarnContext(ctx, "scan cancelled, skipping remaining batches",
				"completed_batches", i,
				"remaining_batches", len(batches)-i)
			break
		}

		batchIssues, err := o.analyzeBatch(ctx, i, b, versionFrom, versionTo, &stats)
		if err != nil {
			// A single bad batch degrades coverage, it does not fail the scan.
			stats.BatchesFailed++
			slog.ErrorContext(ctx, "batch analysis failed, continuing",
				"batch_index", i,
				"error", err)
			continue
		}
		stats.BatchesProcessed++
		stats.AIIssues += len(batchIssues)
		issues = append(issues, batchIssues...)
	}

	result.Issues = issues
	result.RiskLevel = ComputeRiskLevel(issues)
	transition(result, StatusCompleted)
	result.Stats = stats
	o.storeStats(stats)

	slog.InfoContext(ctx, "scan completed",
		"issues", len(issues),
		"risk_level", result.RiskLevel,
		"batches_ok", stats.BatchesProcessed,
		"batches_failed", stats.BatchesFailed)

	return result, nil
}

// Stats returns the statistics snapshot of the most recent scan.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats
}

func (o *Orchestrator) storeStats(stats Stats) {
	o.mu.Lock()
	o.lastStats = stats
	o.mu.Unlock()
}

// collectFiles filters the input to readable, analyzable source files.
// Input problems are logged and skipped, never fatal.
func (o *Orchestrator) collectFiles(ctx context.Context, paths []string, stats *Stats) []fileEntry {
	var entries []fileEntry
	for _, path := range paths {
		if !isSourceFile(path) || o.optimizer.ShouldSkipFile(path) {
			stats.FilesSkipped++
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			stats.FilesSkipped++
			slog.WarnContext(ctx, "skipping unreadable file", "file_path", path, "error", err)
			continue
		}
		if len(content) == 0 {
			stats.FilesSkipped++
			slog.DebugContext(ctx, "skipping empty file", "file_path", path)
			continue
		}

		text := string(content)
		if o.optimizer.IsThirdPartyCode(text) {
			stats.FilesSkipped++
			slog.DebugContext(ctx, "skipping third-party file", "file_path", path)
			continue
		}

		entries = append(entries, fileEntry{
			path:     path,
			content:  text,
			priority: analyzer.FilePriority(path),
			tokens:   o.optimizer.CountTokens(text),
		})
		stats.FilesProcessed++
	}
	return entries
}

// planBatches walks the priority-sorted entries and cuts a new batch
// whenever appending the next file would breach the token ceiling, the
// byte ceiling (4 bytes per budgeted token), or the file-count ceiling.
// The limits are independent triggers; any one of them cuts the batch.
func planBatches(entries []fileEntry, cfg Config) []batch {
	cfg = cfg.withDefaults()
	maxBytes := cfg.MaxTokensPerBatch * 4

	var batches []batch
	var current batch
	for _, entry := range entries {
		full := len(current.files) >= cfg.MaxFilesPerBatch ||
			(len(current.files) > 0 &&
				(current.tokens+entry.tokens > cfg.MaxTokensPerBatch ||
					current.bytes+len(entry.content) > maxBytes))
		if full {
			batches = append(batches, current)
			current = batch{}
		}
		current.files = append(current.files, entry)
		current.tokens += entry.tokens
		current.bytes += len(entry.content)
	}
	if len(current.files) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// analyzeBatch optimizes a batch's files and submits them to the analysis
// service, tagging every returned issue with AI provenance.
func (o *Orchestrator) analyzeBatch(ctx context.Context, index int, b batch, versionFrom, versionTo string, stats *Stats) ([]Issue, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{BatchIndex: logger.Ptr(index)})

	files := make([]analysis.BatchFile, 0, len(b.files))
	for _, entry := range b.files {
		opt := o.optimizer.OptimizeCode(entry.content, false)
		stats.OriginalTokens += opt.OriginalTokens
		stats.OptimizedTokens += opt.OptimizedTokens
		stats.TokensSaved += opt.TokensSaved
		files = append(files, analysis.BatchFile{Path: entry.path, Content: opt.OptimizedCode})
	}

	result, err := o.client.AnalyzeBatch(ctx, files, versionFrom, versionTo, "")
	if err != nil {
		return nil, fmt.Errorf("analyzing batch %d (%d files): %w", index, len(files), err)
	}

	issues := make([]Issue, 0, len(result.Issues))
	for _, found := range result.Issues {
		issue := Issue{
			Severity:       found.Severity,
			IssueType:      found.IssueType,
			FilePath:       found.File,
			Line:           found.Line,
			Description:    found.Description,
			Recommendation: found.Recommendation,
			CodeSnippet:    found.CodeSnippet,
			Provenance:     ProvenanceAI,
		}
		// Best-effort attribution when the service omits the file.
		if issue.FilePath == "" && len(files) > 0 {
			issue.FilePath = files[0].Path
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// staticIssues converts one file's quick-scan output into tagged issues.
func staticIssues(path string, quick analyzer.QuickScanResult, patterns []analyzer.PatternFinding) []Issue {
	var issues []Issue
	for _, usage := range quick.DeprecatedUsage {
		recommendation := "Review the deprecation notes"
		if usage.Replacement != "" {
			recommendation = "Replace with " + usage.Replacement
		}
		issues = append(issues, Issue{
			Severity:       usage.Severity,
			IssueType:      "deprecated_function",
			FilePath:       path,
			Line:           usage.Line,
			Description:    usage.Description,
			Recommendation: recommendation,
			Provenance:     ProvenanceStatic,
		})
	}
	for _, sec := range quick.SecurityIssues {
		issues = append(issues, Issue{
			Severity:       sec.Severity,
			IssueType:      sec.Type,
			FilePath:       path,
			Line:           sec.Line,
			Description:    sec.Description,
			Recommendation: "Review and remediate before upgrading",
			CodeSnippet:    sec.CodeSnippet,
			Provenance:     ProvenanceStatic,
		})
	}
	for _, p := range patterns {
		issues = append(issues, Issue{
			Severity:       p.Severity,
			IssueType:      p.Type,
			FilePath:       path,
			Description:    p.Description,
			Recommendation: p.Recommendation,
			Provenance:     ProvenanceStatic,
		})
	}
	return issues
}

// transition advances the scan lifecycle; terminal states never move.
func transition(result *Result, next Status) {
	if result.Status.terminal() {
		return
	}
	result.Status = next
}

func isSourceFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".php")
}
