package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Terrorr74/CodeRenew/common/logger"
)

// Hybrid augments the local knowledge base with a remote knowledge service.
// Remote entries take precedence over local entries of the same name; a
// remote failure silently degrades to local-only results. Merged results
// are cached per version range for a bounded TTL.
type Hybrid struct {
	local  *Base
	remote RemoteLookup
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
}

func NewHybrid(local *Base, remote RemoteLookup, cache Cache, ttl time.Duration) *Hybrid {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Hybrid{
		local:  local,
		remote: remote,
		cache:  cache,
		ttl:    ttl,
	}
}

// DeprecatedInRange returns the merged local and remote items for a version
// range. It never returns an error: the remote side is best-effort and the
// local catalog always answers.
func (h *Hybrid) DeprecatedInRange(ctx context.Context, versionFrom, versionTo string) []DeprecatedItem {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "coderenew.knowledge.hybrid",
	})

	key := fmt.Sprintf("range:%s:%s", versionFrom, versionTo)
	if items, ok := h.cache.Get(ctx, key); ok {
		return items
	}

	// Concurrent misses for the same range share one remote call.
	v, _, _ := h.group.Do(key, func() (any, error) {
		return h.fetchAndMerge(ctx, key, versionFrom, versionTo), nil
	})
	return v.([]DeprecatedItem)
}

func (h *Hybrid) fetchAndMerge(ctx context.Context, key, versionFrom, versionTo string) []DeprecatedItem {
	local := h.local.DeprecatedInRange(versionFrom, versionTo)

	var remote []DeprecatedItem
	if h.remote != nil {
		var err error
		remote, err = h.remote.Deprecations(ctx, versionFrom, versionTo)
		if err != nil {
			slog.WarnContext(ctx, "remote knowledge lookup failed, using local only",
				"error", err,
				"version_from", versionFrom,
				"version_to", versionTo)
			remote = nil
		}
	}

	merged := mergeByName(local, remote)
	h.cache.Set(ctx, key, merged, h.ttl)

	slog.DebugContext(ctx, "knowledge range resolved",
		"local", len(local),
		"remote", len(remote),
		"merged", len(merged))

	return merged
}

// CheckFunction is a local point lookup; the remote service has no cheap
// per-name query worth a network round trip during a scan.
func (h *Hybrid) CheckFunction(name string) *DeprecatedItem {
	return h.local.CheckFunction(name)
}

// Summary aggregates change counts over the merged range result.
func (h *Hybrid) Summary(ctx context.Context, versionFrom, versionTo string) VersionSummary {
	return SummarizeItems(h.DeprecatedInRange(ctx, versionFrom, versionTo))
}

// mergeByName merges two item lists keyed on name, with entries from
// overrides winning. Local ordering is preserved; new remote names append
// in their own order.
func mergeByName(base, overrides []DeprecatedItem) []DeprecatedItem {
	index := make(map[string]int, len(base))
	merged := make([]DeprecatedItem, len(base))
	copy(merged, base)
	for i, item := range base {
		index[item.Name] = i
	}
	for _, item := range overrides {
		if i, ok := index[item.Name]; ok {
			merged[i] = item
			continue
		}
		index[item.Name] = len(merged)
		merged = append(merged, item)
	}
	return merged
}
