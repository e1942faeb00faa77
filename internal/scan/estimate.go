package scan

import (
	"context"
	"sort"
)

// FileEstimate is one file's contribution to a pre-scan estimate.
type FileEstimate struct {
	Path   string `json:"path"`
	Tokens int    `json:"tokens"`
	Bytes  int    `json:"bytes"`
}

// Estimate is a read-only cost preview for a prospective scan. Nothing is
// optimized or analyzed while producing it.
type Estimate struct {
	TotalFiles          int            `json:"total_files"`
	SkippedFiles        int            `json:"skipped_files"`
	TotalTokens         int            `json:"total_tokens"`
	EstimatedBatches    int            `json:"estimated_batches"`
	EstimatedCost       float64        `json:"estimated_cost"`
	ContextOverflowRisk string         `json:"context_overflow_risk"`
	LargestFiles        []FileEstimate `json:"largest_files"`
}

// EstimateTokens sizes the scan the same way Scan would run it: identical
// filtering, identical batch planning. The cost figure prices raw input
// tokens, so it is an upper bound on what optimization will actually send.
func (o *Orchestrator) EstimateTokens(ctx context.Context, paths []string) (*Estimate, error) {
	var stats Stats
	entries := o.collectFiles(ctx, paths, &stats)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	est := &Estimate{
		TotalFiles:   len(entries),
		SkippedFiles: stats.FilesSkipped,
	}
	for _, entry := range entries {
		est.TotalTokens += entry.tokens
	}
	est.EstimatedBatches = len(planBatches(entries, o.cfg))
	est.EstimatedCost = float64(est.TotalTokens) / 1_000_000 * o.cfg.CostPerMillionTokens
	est.ContextOverflowRisk = overflowRisk(est.TotalTokens, o.cfg.MaxTokensPerBatch)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].tokens > entries[j].tokens
	})
	top := len(entries)
	if top > 10 {
		top = 10
	}
	for _, entry := range entries[:top] {
		est.LargestFiles = append(est.LargestFiles, FileEstimate{
			Path:   entry.path,
			Tokens: entry.tokens,
			Bytes:  len(entry.content),
		})
	}
	return est, nil
}

func overflowRisk(totalTokens, ceiling int) string {
	switch {
	case totalTokens > ceiling*10:
		return "high"
	case totalTokens > ceiling*3:
		return "medium"
	default:
		return "low"
	}
}
