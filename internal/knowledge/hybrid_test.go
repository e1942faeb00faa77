package knowledge_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Terrorr74/CodeRenew/internal/knowledge"
)

// mockRemote implements knowledge.RemoteLookup for testing.
type mockRemote struct {
	deprecationsFn func(ctx context.Context, versionFrom, versionTo string) ([]knowledge.DeprecatedItem, error)
	callCount      int
}

func (m *mockRemote) Deprecations(ctx context.Context, versionFrom, versionTo string) ([]knowledge.DeprecatedItem, error) {
	m.callCount++
	if m.deprecationsFn != nil {
		return m.deprecationsFn(ctx, versionFrom, versionTo)
	}
	return nil, errors.New("mock not configured")
}

var _ = Describe("Hybrid", func() {
	var (
		ctx    context.Context
		base   *knowledge.Base
		remote *mockRemote
		hybrid *knowledge.Hybrid
	)

	BeforeEach(func() {
		ctx = context.Background()
		base = knowledge.NewBase()
		remote = &mockRemote{}
		hybrid = knowledge.NewHybrid(base, remote, knowledge.NewMemoryCache(), 0)
	})

	Describe("DeprecatedInRange", func() {
		Context("remote returns new entries", func() {
			It("appends them after the local results", func() {
				remote.deprecationsFn = func(ctx context.Context, from, to string) ([]knowledge.DeprecatedItem, error) {
					return []knowledge.DeprecatedItem{
						{Name: "wp_new_deprecation", DeprecatedIn: "6.2", Severity: knowledge.SeverityLow},
					}, nil
				}

				items := hybrid.DeprecatedInRange(ctx, "5.9", "6.4")

				Expect(itemNames(items)).To(ContainElement("wp_new_deprecation"))
				local := base.DeprecatedInRange("5.9", "6.4")
				Expect(items[:len(local)]).To(Equal(local))
			})
		})

		Context("remote knows the same name", func() {
			It("prefers the remote entry in place", func() {
				remote.deprecationsFn = func(ctx context.Context, from, to string) ([]knowledge.DeprecatedItem, error) {
					return []knowledge.DeprecatedItem{
						{Name: "get_page", DeprecatedIn: "3.9", RemovedIn: "6.1", Severity: knowledge.SeverityCritical, Description: "updated remotely"},
					}, nil
				}

				items := hybrid.DeprecatedInRange(ctx, "5.9", "6.4")

				var found *knowledge.DeprecatedItem
				count := 0
				for i, item := range items {
					if item.Name == "get_page" {
						found = &items[i]
						count++
					}
				}
				Expect(count).To(Equal(1), "merge must not duplicate names")
				Expect(found.Description).To(Equal("updated remotely"))
			})
		})

		Context("remote fails", func() {
			It("silently degrades to the local catalog", func() {
				remote.deprecationsFn = func(ctx context.Context, from, to string) ([]knowledge.DeprecatedItem, error) {
					return nil, errors.New("service unavailable")
				}

				items := hybrid.DeprecatedInRange(ctx, "5.9", "6.4")

				Expect(items).To(Equal(base.DeprecatedInRange("5.9", "6.4")))
			})
		})

		Context("repeated queries for the same range", func() {
			It("serves the second query from cache", func() {
				remote.deprecationsFn = func(ctx context.Context, from, to string) ([]knowledge.DeprecatedItem, error) {
					return []knowledge.DeprecatedItem{{Name: "cached_entry", DeprecatedIn: "6.0"}}, nil
				}

				first := hybrid.DeprecatedInRange(ctx, "5.9", "6.4")
				second := hybrid.DeprecatedInRange(ctx, "5.9", "6.4")

				Expect(second).To(Equal(first))
				Expect(remote.callCount).To(Equal(1))
			})

			It("queries the remote again for a different range", func() {
				remote.deprecationsFn = func(ctx context.Context, from, to string) ([]knowledge.DeprecatedItem, error) {
					return nil, nil
				}

				hybrid.DeprecatedInRange(ctx, "5.9", "6.4")
				hybrid.DeprecatedInRange(ctx, "6.0", "6.4")

				Expect(remote.callCount).To(Equal(2))
			})
		})

		Context("no remote configured", func() {
			It("answers from the local catalog alone", func() {
				localOnly := knowledge.NewHybrid(base, nil, knowledge.NewMemoryCache(), 0)

				items := localOnly.DeprecatedInRange(ctx, "5.9", "6.4")

				Expect(items).To(Equal(base.DeprecatedInRange("5.9", "6.4")))
			})
		})
	})

	Describe("CheckFunction", func() {
		It("answers point lookups locally without touching the remote", func() {
			item := hybrid.CheckFunction("get_page")

			Expect(item).NotTo(BeNil())
			Expect(remote.callCount).To(Equal(0))
		})
	})

	Describe("Summary", func() {
		It("counts remote additions alongside local items", func() {
			remote.deprecationsFn = func(ctx context.Context, from, to string) ([]knowledge.DeprecatedItem, error) {
				return []knowledge.DeprecatedItem{
					{Name: "extra", DeprecatedIn: "6.0", Severity: knowledge.SeverityCritical, ChangeType: knowledge.ChangeRemovedFunction},
				}, nil
			}

			withRemote := hybrid.Summary(ctx, "5.9", "6.4")
			localOnly := base.Summary("5.9", "6.4")

			Expect(withRemote.Total).To(Equal(localOnly.Total + 1))
			Expect(withRemote.Critical).To(Equal(localOnly.Critical + 1))
		})
	})
})
