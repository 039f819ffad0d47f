// Package rates fetches and normalizes currency exchange rates from a
// configurable remote source.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"costbook/internal/core"

	"github.com/avast/retry-go"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultURL is the rate source used until the user configures another one.
const DefaultURL = "https://api.exchangerate-api.com/v4/latest/USD"

// settingKey is where the configured source URL lives in the settings store.
const settingKey = "ratesURL"

// ErrInvalidURL rejects a candidate source URL that is not plain http(s).
var ErrInvalidURL = errors.New("invalid rates url")

// fallbackTable mirrors the static sample rates document shipped with the
// UI. It is only ever served when the fallback is explicitly enabled and
// the remote source is unreachable.
var fallbackTable = core.RateTable{
	core.USD:  1,
	core.GBP:  1.8,
	core.EURO: 0.7,
	core.ILS:  3.4,
}

// Settings is the persisted preference store the provider reads its source
// URL from.
type Settings interface {
	Setting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// StructureError reports a rate source response that is missing required
// currencies or carries unusable values (non-numeric, zero, or negative).
// It matches core.ErrInvalidRateStructure under errors.Is so callers can
// tell it apart from transport failures.
type StructureError struct {
	Keys []string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("invalid rate structure: missing or unusable keys: %s",
		strings.Join(e.Keys, ", "))
}

func (e *StructureError) Is(target error) bool {
	return target == core.ErrInvalidRateStructure
}

// Provider fetches rate tables. Every call hits the remote source fresh
// unless a cache TTL was configured; concurrent calls for the same URL are
// collapsed into one request.
type Provider struct {
	settings Settings
	client   *http.Client
	fallback bool
	attempts uint
	cache    *gocache.Cache
	group    singleflight.Group
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// WithFallback enables serving the built-in rate table when the remote
// source is unreachable. Structure errors still propagate.
func WithFallback(enabled bool) Option {
	return func(p *Provider) { p.fallback = enabled }
}

// WithCacheTTL enables caching fetched tables for ttl. Zero keeps the
// default not-stale-by-default behavior of one fetch per call.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.cache = gocache.New(ttl, 2*ttl)
		}
	}
}

// WithAttempts sets how many times a transient fetch failure is retried.
func WithAttempts(attempts uint) Option {
	return func(p *Provider) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

func NewProvider(settings Settings, opts ...Option) *Provider {
	p := &Provider{
		settings: settings,
		client:   &http.Client{Timeout: 15 * time.Second},
		attempts: 3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// URL resolves the configured rate source, falling back to DefaultURL when
// the user never set one.
func (p *Provider) URL(ctx context.Context) (string, error) {
	configured, err := p.settings.Setting(ctx, settingKey)
	if err != nil {
		return "", fmt.Errorf("resolve rates url: %w", err)
	}
	if configured == "" {
		return DefaultURL, nil
	}
	return configured, nil
}

// SetURL persists a new rate source URL. Last writer wins. A URL that is
// not plain http(s) is rejected with ErrInvalidURL; persistence failures
// carry the storage taxonomy instead.
func (p *Provider) SetURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if err := p.settings.PutSetting(ctx, settingKey, rawURL); err != nil {
		return fmt.Errorf("persist rates url: %w", err)
	}
	return nil
}

// FetchRates returns a validated rate table for all supported currencies.
// The table is complete or the call fails; there is no partial result.
func (p *Provider) FetchRates(ctx context.Context) (core.RateTable, error) {
	sourceURL, err := p.URL(ctx)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if cached, ok := p.cache.Get(sourceURL); ok {
			return cloneTable(cached.(core.RateTable)), nil
		}
	}

	v, err, _ := p.group.Do(sourceURL, func() (any, error) {
		return p.fetch(ctx, sourceURL)
	})
	if err != nil {
		if p.fallback && !errors.Is(err, core.ErrInvalidRateStructure) {
			slog.WarnContext(ctx, "Rate fetch failed, serving built-in fallback table",
				"url", sourceURL, "error", err)
			return cloneTable(fallbackTable), nil
		}
		return nil, err
	}

	table := v.(core.RateTable)
	if p.cache != nil {
		p.cache.Set(sourceURL, cloneTable(table), gocache.DefaultExpiration)
	}
	// Collapsed callers all receive v; hand each its own copy so nobody
	// can mutate another caller's table.
	return cloneTable(table), nil
}

func (p *Provider) fetch(ctx context.Context, sourceURL string) (core.RateTable, error) {
	var body []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
			if err != nil {
				return fmt.Errorf("%w: build request: %v", core.ErrFetch, err)
			}
			// Totals must reflect current rates, never a stale copy
			// from an intermediate cache.
			req.Header.Set("Cache-Control", "no-cache, no-store")
			req.Header.Set("Pragma", "no-cache")

			resp, err := p.client.Do(req)
			if err != nil {
				return fmt.Errorf("%w: GET %s: %v", core.ErrFetch, sourceURL, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%w: GET %s: unexpected status %s",
					core.ErrFetch, sourceURL, resp.Status)
			}

			body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("%w: read response: %v", core.ErrFetch, err)
			}
			return nil
		},
		retry.Attempts(p.attempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Only transport-level failures are worth retrying.
			return errors.Is(err, core.ErrFetch) && ctx.Err() == nil
		}),
	)
	if err != nil {
		return nil, err
	}

	table, err := normalize(body)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "Fetched exchange rates", "url", sourceURL)
	return table, nil
}

// normalize accepts either a nested {"rates": {...}} document or a flat
// mapping, canonicalizes EUR to EURO, and validates that all supported
// currencies are present, numeric, and positive. Extra keys are ignored.
func normalize(body []byte) (core.RateTable, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", core.ErrFetch, err)
	}

	source := doc
	if nested, ok := doc["rates"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			source = inner
		}
	}

	numeric := func(key string) (float64, bool) {
		raw, ok := source[key]
		if !ok {
			return 0, false
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, false
		}
		return v, true
	}

	table := make(core.RateTable, len(core.Currencies))
	var bad []string
	for _, c := range core.Currencies {
		key := string(c)
		v, ok := numeric(key)
		if !ok && c == core.EURO {
			v, ok = numeric("EUR")
		}
		if !ok || v <= 0 {
			bad = append(bad, key)
			continue
		}
		table[c] = v
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, &StructureError{Keys: bad}
	}
	return table, nil
}

func cloneTable(t core.RateTable) core.RateTable {
	out := make(core.RateTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
