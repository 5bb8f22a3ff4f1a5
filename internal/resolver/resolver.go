// Package resolver turns free-text institution and collection names into
// GRSciColl identifiers via the registry search endpoints.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gbif-nl-search/internal/common/logger"
	"gbif-nl-search/internal/common/metrics"
	"gbif-nl-search/internal/common/retry"
)

var (
	// ErrNotFound means the registry returned zero matches for the name.
	ErrNotFound = errors.New("NAME_NOT_FOUND")

	// ErrResolutionFailed means the lookup itself failed after retries.
	ErrResolutionFailed = errors.New("RESOLUTION_FAILED")
)

// Kind selects which registry to search.
type Kind string

const (
	KindInstitution Kind = "institution"
	KindCollection  Kind = "collection"
)

const searchLimit = 20

// Config holds the settings for the GRSciColl client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// GRSciCollResolver resolves names against the GBIF GRSciColl registry.
type GRSciCollResolver struct {
	config     Config
	httpClient *http.Client
	logger     logger.Logger
	retry      retry.Policy
}

func New(cfg Config, log logger.Logger) *GRSciCollResolver {
	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}

	return &GRSciCollResolver{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
		retry:  policy,
	}
}

type searchResponse struct {
	Results []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"results"`
}

// Resolve returns the identifier of the first registry match for name. The
// registry ranks results by relevance, so the first match is taken as the
// intended entity. Zero matches is ErrNotFound; exhausted retries is
// ErrResolutionFailed.
func (r *GRSciCollResolver) Resolve(ctx context.Context, kind Kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		metrics.ResolverLookupsTotal.WithLabelValues(string(kind), "not_found").Inc()
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}

	endpoint := fmt.Sprintf("%s/grscicoll/%s/search?%s", r.config.BaseURL, kind, url.Values{
		"q":     {name},
		"limit": {fmt.Sprintf("%d", searchLimit)},
	}.Encode())

	var key string
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		key, callErr = r.search(ctx, endpoint)
		return callErr
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ResolverLookupsTotal.WithLabelValues(string(kind), "not_found").Inc()
			return "", err
		}
		metrics.ResolverLookupsTotal.WithLabelValues(string(kind), "error").Inc()
		r.logger.Warn("registry lookup failed", map[string]interface{}{
			"kind":  string(kind),
			"name":  name,
			"error": err.Error(),
		})
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	metrics.ResolverLookupsTotal.WithLabelValues(string(kind), "success").Inc()
	return key, nil
}

func (r *GRSciCollResolver) search(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("registry returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(apiErr)
		}
		return "", apiErr
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(parsed.Results) == 0 {
		return "", retry.Permanent(ErrNotFound)
	}

	return parsed.Results[0].Key, nil
}
