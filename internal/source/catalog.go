package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/halocam/livedemo/internal/log"
)

// Catalog fetches ranked candidate sources for an analytic category.
type Catalog struct {
	base string
	http *http.Client
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) CatalogOption {
	return func(cat *Catalog) { cat.http = c }
}

func NewCatalog(base string, opts ...CatalogOption) *Catalog {
	cat := &Catalog{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cat)
	}
	return cat
}

type sourcePayload struct {
	Sources []struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Protocol   string  `json:"protocol"`
		Confidence float64 `json:"confidence"`
		Active     bool    `json:"active"`
	} `json:"sources"`
}

// List returns the ranked, renderable candidates for a category.
// A backend failure is recoverable: callers get an empty list plus the error
// and are expected to surface "no sources" rather than abort.
func (c *Catalog) List(ctx context.Context, category string) ([]Source, error) {
	u := fmt.Sprintf("%s/api/demo/sources?category=%s&active=true", c.base, url.QueryEscape(category))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch sources: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: unexpected status %d", res.StatusCode)
	}

	var payload sourcePayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("catalog: decode response: %w", err)
	}

	sources := make([]Source, 0, len(payload.Sources))
	for _, s := range payload.Sources {
		sources = append(sources, Source{
			ID:         s.ID,
			Name:       s.Name,
			Protocol:   ParseProtocol(s.Protocol),
			Confidence: s.Confidence,
			Active:     s.Active,
		})
	}

	ranked := Rank(sources)
	logger := log.WithComponentFromContext(ctx, "catalog")
	logger.Debug().
		Str(log.FieldCategory, category).
		Int("fetched", len(sources)).
		Int("ranked", len(ranked)).
		Msg("catalog fetch complete")
	return ranked, nil
}
