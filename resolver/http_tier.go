package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexfront/connkit/resilience"
)

// HTTPTierConfig configures the CDN mirror tier.
type HTTPTierConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Suffix  string        `yaml:"suffix" mapstructure:"suffix"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	// MaxBytes caps a module body. Zero means 8 MiB.
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes" validate:"gte=0"`

	Bulkhead resilience.BulkheadConfig `yaml:"bulkhead" mapstructure:"bulkhead"`
}

// HTTPTier fetches <BaseURL>/<id><Suffix> over HTTP. Concurrent fetches are
// bounded by a bulkhead. client may be nil.
func HTTPTier(cfg HTTPTierConfig, client *http.Client) Tier {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8 << 20
	}
	if cfg.Bulkhead.Name == "" {
		cfg.Bulkhead.Name = "cdn"
	}
	bh := resilience.NewBulkhead(cfg.Bulkhead)
	base := strings.TrimRight(cfg.BaseURL, "/")

	return Tier{
		Name:    "cdn",
		Timeout: cfg.Timeout,
		Load: func(ctx context.Context, id string) (Module, error) {
			return resilience.Within(ctx, bh, func(ctx context.Context) (Module, error) {
				body, err := fetch(ctx, client, base+"/"+url.PathEscape(id)+cfg.Suffix, cfg.MaxBytes)
				if err != nil {
					return nil, err
				}
				return NewResource(id, "cdn", body), nil
			})
		},
	}
}

func fetch(ctx context.Context, client *http.Client, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", target, limit)
	}
	return body, nil
}
