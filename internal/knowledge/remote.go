package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Terrorr74/CodeRenew/common/logger"
)

const userAgent = "CodeRenew-MCP-Client/1.0"

var errNotFound = errors.New("knowledge service returned 404")

// RemoteLookup is the capability the hybrid knowledge base needs from a
// remote knowledge service. Implementations must honor the context deadline.
type RemoteLookup interface {
	Deprecations(ctx context.Context, versionFrom, versionTo string) ([]DeprecatedItem, error)
}

// RemoteClientConfig configures the HTTP client for the remote knowledge
// service.
type RemoteClientConfig struct {
	BaseURL string
	APIKey  string        // optional bearer credential, forwarded as-is
	Timeout time.Duration // per-request; zero means 5s
}

// RemoteClient queries a deprecation knowledge service over HTTP.
// The service exposes GET /deprecations?from=&to= returning a JSON array of
// deprecation records, and GET /functions/{name} for per-function detail.
type RemoteClient struct {
	cfg  RemoteClientConfig
	http *http.Client
}

func NewRemoteClient(cfg RemoteClientConfig) *RemoteClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RemoteClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// Deprecations fetches deprecation records for a version range. Records
// that fail to parse individually are skipped; a transport failure or
// non-200 status is an error for the caller to degrade on.
func (c *RemoteClient) Deprecations(ctx context.Context, versionFrom, versionTo string) ([]DeprecatedItem, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "coderenew.knowledge.remote",
	})

	endpoint := fmt.Sprintf("%s/deprecations?%s", c.cfg.BaseURL, url.Values{
		"from": {versionFrom},
		"to":   {versionTo},
	}.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding deprecations response: %w", err)
	}

	items := make([]DeprecatedItem, 0, len(raw))
	for _, rec := range raw {
		var item DeprecatedItem
		if err := json.Unmarshal(rec, &item); err != nil {
			slog.WarnContext(ctx, "skipping malformed deprecation record", "error", err)
			continue
		}
		if item.Name == "" {
			slog.WarnContext(ctx, "skipping deprecation record without name")
			continue
		}
		if item.Severity == "" {
			item.Severity = SeverityMedium
		}
		if item.ChangeType == "" {
			item.ChangeType = ChangeDeprecatedFunction
		}
		items = append(items, item)
	}

	slog.DebugContext(ctx, "remote deprecations fetched",
		"version_from", versionFrom,
		"version_to", versionTo,
		"count", len(items))

	return items, nil
}

// FunctionInfo fetches per-function detail. Missing functions return nil
// without error; this lookup is best-effort.
func (c *RemoteClient) FunctionInfo(ctx context.Context, name string) (*DeprecatedItem, error) {
	// Per-function detail is optional context; cap it tighter than range
	// queries so it cannot stall a scan.
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	body, err := c.get(ctx, fmt.Sprintf("%s/functions/%s", c.cfg.BaseURL, url.PathEscape(name)))
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var item DeprecatedItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("decoding function info: %w", err)
	}
	if item.Name == "" {
		return nil, nil
	}
	return &item, nil
}

func (c *RemoteClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building knowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge response: %w", err)
	}
	return body, nil
}
