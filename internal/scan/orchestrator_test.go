package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Terrorr74/CodeRenew/internal/analysis"
	"github.com/Terrorr74/CodeRenew/internal/analyzer"
	"github.com/Terrorr74/CodeRenew/internal/knowledge"
	"github.com/Terrorr74/CodeRenew/internal/scan"
	"github.com/Terrorr74/CodeRenew/internal/tokens"
)

// mockAnalysisService implements scan.AnalysisService for testing.
type mockAnalysisService struct {
	analyzeFn func(ctx context.Context, files []analysis.BatchFile, versionFrom, versionTo, extraContext string) (*analysis.BatchResult, error)
	callCount int
	batches   [][]analysis.BatchFile
}

func (m *mockAnalysisService) AnalyzeBatch(ctx context.Context, files []analysis.BatchFile, versionFrom, versionTo, extraContext string) (*analysis.BatchResult, error) {
	m.callCount++
	m.batches = append(m.batches, files)
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, files, versionFrom, versionTo, extraContext)
	}
	return &analysis.BatchResult{RiskLevel: "safe", Issues: []analysis.BatchIssue{}}, nil
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		dir          string
		service      *mockAnalysisService
		orchestrator *scan.Orchestrator
	)

	writeFile := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		service = &mockAnalysisService{}
		orchestrator = scan.NewOrchestrator(
			scan.Config{MaxTokensPerBatch: 150000, MaxFilesPerBatch: 20},
			tokens.New(),
			analyzer.NewStatic(knowledge.NewBase()),
			service,
		)
	})

	Describe("Scan", func() {
		It("finds removed function usage through the static pass", func() {
			path := writeFile("foo.php", "<?php\n$page = get_page(42);\n")

			result, err := orchestrator.Scan(ctx, []string{path}, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(scan.StatusCompleted))
			Expect(result.RiskLevel).To(Equal(scan.RiskCritical))
			Expect(result.ScanID).NotTo(BeZero())

			var static *scan.Issue
			for i, issue := range result.Issues {
				if issue.Provenance == scan.ProvenanceStatic && issue.IssueType == "deprecated_function" {
					static = &result.Issues[i]
				}
			}
			Expect(static).NotTo(BeNil())
			Expect(static.FilePath).To(Equal(path))
			Expect(static.Severity).To(Equal("critical"))
			Expect(static.Recommendation).To(ContainSubstring("get_post"))
		})

		It("tags service findings with AI provenance", func() {
			path := writeFile("clean.php", "<?php\nmy_safe_function();\n")
			service.analyzeFn = func(ctx context.Context, files []analysis.BatchFile, from, to, extra string) (*analysis.BatchResult, error) {
				return &analysis.BatchResult{
					RiskLevel: "warning",
					Issues: []analysis.BatchIssue{{
						Severity:       "medium",
						IssueType:      "compatibility_warning",
						Description:    "Behavioral change in my_safe_function",
						Recommendation: "Verify against 6.4",
					}},
				}, nil
			}

			result, err := orchestrator.Scan(ctx, []string{path}, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Issues).To(HaveLen(1))
			Expect(result.Issues[0].Provenance).To(Equal(scan.ProvenanceAI))
			Expect(result.Issues[0].FilePath).To(Equal(path), "unattributed findings fall back to the batch's lead file")
			Expect(result.RiskLevel).To(Equal(scan.RiskWarning))
		})

		It("passes the version range through to the service", func() {
			path := writeFile("a.php", "<?php one();\n")
			var gotFrom, gotTo string
			service.analyzeFn = func(ctx context.Context, files []analysis.BatchFile, from, to, extra string) (*analysis.BatchResult, error) {
				gotFrom, gotTo = from, to
				return &analysis.BatchResult{RiskLevel: "safe"}, nil
			}

			_, err := orchestrator.Scan(ctx, []string{path}, "6.0", "6.5")

			Expect(err).NotTo(HaveOccurred())
			Expect(gotFrom).To(Equal("6.0"))
			Expect(gotTo).To(Equal("6.5"))
		})

		It("skips vendor, non-source, empty, and third-party files", func() {
			keep := writeFile("plugin.php", "<?php my_plugin();\n")
			writeFile("vendor/lib.php", "<?php vendored();\n")
			writeFile("readme.txt", "not source")
			writeFile("empty.php", "")
			writeFile("jquery-copy.php", "<?php\n// Copyright 2019 (c) jQuery Foundation\n")
			missing := filepath.Join(dir, "missing.php")

			paths := []string{
				keep,
				filepath.Join(dir, "vendor/lib.php"),
				filepath.Join(dir, "readme.txt"),
				filepath.Join(dir, "empty.php"),
				filepath.Join(dir, "jquery-copy.php"),
				missing,
			}
			result, err := orchestrator.Scan(ctx, paths, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stats.FilesProcessed).To(Equal(1))
			Expect(result.Stats.FilesSkipped).To(Equal(5))
			Expect(service.batches).To(HaveLen(1))
			Expect(service.batches[0]).To(HaveLen(1))
			Expect(service.batches[0][0].Path).To(Equal(keep))
		})

		It("analyzes entry-point files before support files", func() {
			support := writeFile("includes/helpers.php", "<?php helper();\n")
			entry := writeFile("functions.php", "<?php setup();\n")

			_, err := orchestrator.Scan(ctx, []string{support, entry}, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(service.batches[0][0].Path).To(Equal(entry))
			Expect(service.batches[0][1].Path).To(Equal(support))
		})

		It("continues past a failed batch and records it", func() {
			path := writeFile("foo.php", "<?php thing();\n")
			service.analyzeFn = func(ctx context.Context, files []analysis.BatchFile, from, to, extra string) (*analysis.BatchResult, error) {
				return nil, errors.New("service unavailable")
			}

			result, err := orchestrator.Scan(ctx, []string{path}, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(scan.StatusCompleted))
			Expect(result.Stats.BatchesFailed).To(Equal(1))
			Expect(result.Stats.BatchesProcessed).To(Equal(0))
			Expect(result.RiskLevel).To(Equal(scan.RiskSafe))
		})

		It("fails only when no input file is readable", func() {
			result, err := orchestrator.Scan(ctx, []string{filepath.Join(dir, "nope.php")}, "5.9", "6.4")

			Expect(err).To(HaveOccurred())
			Expect(result.Status).To(Equal(scan.StatusFailed))
		})

		It("completes an empty scan as safe", func() {
			result, err := orchestrator.Scan(ctx, nil, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(scan.StatusCompleted))
			Expect(result.RiskLevel).To(Equal(scan.RiskSafe))
			Expect(result.Issues).To(BeEmpty())
		})

		It("stops dispatching batches when the context is cancelled", func() {
			path := writeFile("foo.php", "<?php thing();\n")
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			result, err := orchestrator.Scan(cancelled, []string{path}, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(service.callCount).To(Equal(0))
			Expect(result.Status).To(Equal(scan.StatusCompleted))
		})

		It("accounts for token savings across batches", func() {
			writeFile("foo.php", "<?php\n// a comment to strip\nmy_code();\n")

			result, err := orchestrator.Scan(ctx, []string{filepath.Join(dir, "foo.php")}, "5.9", "6.4")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stats.OriginalTokens).To(BeNumerically(">", 0))
			Expect(result.Stats.TokensSaved).To(Equal(result.Stats.OriginalTokens - result.Stats.OptimizedTokens))
			Expect(orchestrator.Stats()).To(Equal(result.Stats))
		})
	})

	Describe("EstimateTokens", func() {
		It("sizes the scan without calling the analysis service", func() {
			writeFile("a.php", "<?php aaa();\n")
			writeFile("b.php", "<?php bbbbbbbbbb();\n")
			paths := []string{filepath.Join(dir, "a.php"), filepath.Join(dir, "b.php")}

			estimate, err := orchestrator.EstimateTokens(ctx, paths)

			Expect(err).NotTo(HaveOccurred())
			Expect(service.callCount).To(Equal(0))
			Expect(estimate.TotalFiles).To(Equal(2))
			Expect(estimate.TotalTokens).To(BeNumerically(">", 0))
			Expect(estimate.EstimatedBatches).To(Equal(1))
			Expect(estimate.EstimatedCost).To(BeNumerically(">", 0))
			Expect(estimate.ContextOverflowRisk).To(Equal("low"))
			Expect(estimate.LargestFiles).To(HaveLen(2))
			Expect(estimate.LargestFiles[0].Tokens).To(BeNumerically(">=", estimate.LargestFiles[1].Tokens))
		})
	})
})
