package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openai/openai-go"

	"github.com/Terrorr74/CodeRenew/common/llm"
	"github.com/Terrorr74/CodeRenew/internal/analysis"
	"github.com/Terrorr74/CodeRenew/internal/knowledge"
)

// mockLLMClient implements llm.Client for testing.
type mockLLMClient struct {
	chatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	callCount int
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.callCount++
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return nil, errors.New("mock not configured")
}

func (m *mockLLMClient) Model() string {
	return "test-model"
}

// mockKB implements the deprecation context lookup for prompts.
type mockKB struct {
	items     []knowledge.DeprecatedItem
	callCount int
}

func (m *mockKB) DeprecatedInRange(ctx context.Context, versionFrom, versionTo string) []knowledge.DeprecatedItem {
	m.callCount++
	return m.items
}

func apiError(status int) *openai.Error {
	return &openai.Error{
		StatusCode: status,
		Request:    httptest.NewRequest("POST", "/v1/chat/completions", nil),
	}
}

var _ = Describe("Client", func() {
	var (
		ctx     context.Context
		mockLLM *mockLLMClient
		kb      *mockKB
		breaker *analysis.Breaker
		client  *analysis.Client
		files   []analysis.BatchFile
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		kb = &mockKB{}
		breaker = analysis.NewBreaker(analysis.BreakerConfig{FailThreshold: 5, ResetTimeout: 30 * time.Second})
		client = analysis.NewClient(mockLLM, breaker, kb, analysis.Config{MaxRetries: 1})
		files = []analysis.BatchFile{
			{Path: "wp-content/plugins/foo/foo.php", Content: "<?php $p = get_page(1);"},
		}
	})

	Describe("AnalyzeBatch", func() {
		Context("service returns a structured result", func() {
			It("returns the findings with token usage", func() {
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					payload := map[string]any{
						"risk_level": "critical",
						"summary":    "get_page() was removed in 6.1",
						"issues": []any{map[string]any{
							"file":           "wp-content/plugins/foo/foo.php",
							"severity":       "critical",
							"issue_type":     "removed_function",
							"line":           1,
							"description":    "get_page() no longer exists",
							"recommendation": "Use get_post()",
						}},
						"recommendations": []any{"Replace get_page with get_post"},
					}
					data, _ := json.Marshal(payload)
					Expect(json.Unmarshal(data, result)).To(Succeed())
					return &llm.Response{PromptTokens: 900, CompletionTokens: 120}, nil
				}

				result, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")

				Expect(err).NotTo(HaveOccurred())
				Expect(result.RiskLevel).To(Equal("critical"))
				Expect(result.Issues).To(HaveLen(1))
				Expect(result.Issues[0].IssueType).To(Equal("removed_function"))
				Expect(result.PromptTokens).To(Equal(900))
				Expect(result.CompletionTokens).To(Equal(120))
				Expect(result.Degraded).To(BeFalse())
				Expect(mockLLM.callCount).To(Equal(1))
				Expect(breaker.State()).To(Equal(analysis.BreakerClosed))
			})
		})

		Context("prompt construction", func() {
			It("embeds the version range, known changes, and file contents", func() {
				kb.items = []knowledge.DeprecatedItem{
					{Name: "get_page", DeprecatedIn: "3.9", RemovedIn: "6.1", Replacement: "get_post"},
				}

				var gotPrompt, gotSystem string
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					gotPrompt = req.UserPrompt
					gotSystem = req.SystemPrompt
					data, _ := json.Marshal(map[string]any{"risk_level": "safe", "summary": "ok", "issues": []any{}, "recommendations": []any{}})
					_ = json.Unmarshal(data, result)
					return &llm.Response{}, nil
				}

				_, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "multisite install")

				Expect(err).NotTo(HaveOccurred())
				Expect(gotSystem).To(ContainSubstring("WordPress compatibility expert"))
				Expect(gotPrompt).To(ContainSubstring("from WordPress 5.9 to 6.4"))
				Expect(gotPrompt).To(ContainSubstring("get_page: deprecated in 3.9, removed in 6.1 (use get_post)"))
				Expect(gotPrompt).To(ContainSubstring("multisite install"))
				Expect(gotPrompt).To(ContainSubstring("wp-content/plugins/foo/foo.php"))
				Expect(gotPrompt).To(ContainSubstring("$p = get_page(1);"))
				Expect(kb.callCount).To(Equal(1))
			})
		})

		Context("response carries no structured payload", func() {
			It("degrades to an unknown-risk empty result without error", func() {
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, llm.ErrNoStructuredPayload
				}

				result, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")

				Expect(err).NotTo(HaveOccurred())
				Expect(result.Degraded).To(BeTrue())
				Expect(result.RiskLevel).To(Equal("unknown"))
				Expect(result.Issues).To(BeEmpty())
				Expect(mockLLM.callCount).To(Equal(1), "malformed responses are not retried")
			})
		})

		Context("transient failure then recovery", func() {
			It("retries with backoff and succeeds", func() {
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					if mockLLM.callCount == 1 {
						return nil, errors.New("connection reset")
					}
					data, _ := json.Marshal(map[string]any{"risk_level": "safe", "summary": "ok", "issues": []any{}, "recommendations": []any{}})
					_ = json.Unmarshal(data, result)
					return &llm.Response{}, nil
				}

				result, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")

				Expect(err).NotTo(HaveOccurred())
				Expect(result.RiskLevel).To(Equal("safe"))
				Expect(mockLLM.callCount).To(Equal(2))
				Expect(breaker.State()).To(Equal(analysis.BreakerClosed))
			})
		})

		Context("transient failures exhaust the retry budget", func() {
			It("returns the final error", func() {
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, errors.New("connection reset")
				}

				_, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("connection reset"))
				Expect(mockLLM.callCount).To(Equal(2), "initial attempt plus one retry")
			})
		})

		Context("client-side request errors", func() {
			It("surfaces them immediately without retrying", func() {
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, apiError(400)
				}

				_, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")

				Expect(err).To(HaveOccurred())
				Expect(mockLLM.callCount).To(Equal(1))
			})

			It("never counts them toward the circuit breaker", func() {
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, apiError(401)
				}

				for i := 0; i < 10; i++ {
					_, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")
					Expect(err).To(HaveOccurred())
				}

				Expect(breaker.State()).To(Equal(analysis.BreakerClosed))
				Expect(mockLLM.callCount).To(Equal(10))
			})
		})

		Context("circuit breaker is open", func() {
			It("fails fast without calling the service", func() {
				for i := 0; i < 5; i++ {
					breaker.RecordFailure()
				}

				_, err := client.AnalyzeBatch(ctx, files, "5.9", "6.4", "")

				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, analysis.ErrCircuitOpen)).To(BeTrue())
				var openErr *analysis.CircuitOpenError
				Expect(errors.As(err, &openErr)).To(BeTrue())
				Expect(openErr.RetryAfter).To(BeNumerically(">", 0))
				Expect(mockLLM.callCount).To(Equal(0))
			})
		})

		Context("caller cancels mid-backoff", func() {
			It("stops waiting and returns the context error", func() {
				cancelCtx, cancel := context.WithCancel(ctx)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					cancel()
					return nil, errors.New("connection reset")
				}

				_, err := client.AnalyzeBatch(cancelCtx, files, "5.9", "6.4", "")

				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
				Expect(mockLLM.callCount).To(Equal(1))
			})
		})
	})
})
