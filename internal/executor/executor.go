// Package executor runs occurrence searches against the GBIF API, one fixed
// size page at a time.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gbif-nl-search/internal/common/logger"
	"gbif-nl-search/internal/common/metrics"
	"gbif-nl-search/internal/common/retry"
	"gbif-nl-search/internal/schema"
)

// PageSize is the fixed occurrence page size. Offsets must be multiples of it.
const PageSize = 300

// Every search is scoped to physical specimens.
const basisOfRecord = "PRESERVED_SPECIMEN"

const permalinkBase = "https://gbif.org/occurrence/"

// SearchError reports a failed occurrence search. Status 0 means the request
// never produced an HTTP response.
type SearchError struct {
	Status  int
	Message string
}

func (e *SearchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("occurrence search failed: %s", e.Message)
	}
	return fmt.Sprintf("occurrence search failed with status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the failure is worth retrying. Client errors are
// definitive; server errors, rate limits, and transport failures are not.
func (e *SearchError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Config holds the settings for the occurrence search client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Executor pages through GBIF occurrence search results.
type Executor struct {
	config     Config
	httpClient *http.Client
	logger     logger.Logger
	retry      retry.Policy
}

func New(cfg Config, log logger.Logger) *Executor {
	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}

	return &Executor{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
		retry:  policy,
	}
}

// Search fetches the page of results starting at offset. Identical calls are
// read-only against the upstream API and safe to repeat.
func (e *Executor) Search(ctx context.Context, params *schema.ResolvedParameters, offset int64) (*SearchResult, error) {
	if offset < 0 || offset%PageSize != 0 {
		metrics.SearchesTotal.WithLabelValues("invalid").Inc()
		return nil, &SearchError{Status: http.StatusBadRequest, Message: fmt.Sprintf("offset %d is not a multiple of the page size", offset)}
	}

	endpoint := e.config.BaseURL + "/occurrence/search?" + buildQuery(params, offset).Encode()

	var result *SearchResult
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = e.fetch(ctx, endpoint)
		return callErr
	})
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		e.logger.Warn("occurrence search failed", map[string]interface{}{
			"offset": offset,
			"error":  err.Error(),
		})

		var sErr *SearchError
		if errors.As(err, &sErr) {
			return nil, sErr
		}
		return nil, &SearchError{Status: 0, Message: err.Error()}
	}

	metrics.SearchesTotal.WithLabelValues("success").Inc()
	return result, nil
}

// buildQuery maps resolved parameters onto GBIF occurrence search keys.
// A resolved institution key supersedes manual codes.
func buildQuery(params *schema.ResolvedParameters, offset int64) url.Values {
	q := url.Values{}
	q.Set("basisOfRecord", basisOfRecord)
	q.Set("limit", fmt.Sprintf("%d", PageSize))
	q.Set("offset", fmt.Sprintf("%d", offset))

	setIf := func(key string, v *string) {
		if v != nil {
			q.Set(key, *v)
		}
	}
	setIf("scientificName", params.ScientificName)
	setIf("locality", params.Locality)
	setIf("continent", params.Continent)
	setIf("country", params.Country)
	setIf("stateProvince", params.StateProvince)
	setIf("recordedBy", params.RecordedBy)

	if params.DateFrom != nil || params.DateTo != nil {
		from, to := "*", "*"
		if params.DateFrom != nil {
			from = *params.DateFrom
		}
		if params.DateTo != nil {
			to = *params.DateTo
		}
		q.Set("eventDate", from+","+to)
	}

	if params.HasImage != nil && *params.HasImage {
		q.Set("mediaType", "StillImage")
	}

	setIf("institutionKey", params.InstitutionKey)
	setIf("collectionKey", params.CollectionKey)
	if params.InstitutionKey == nil {
		setIf("institutionCode", params.InstitutionCode)
		setIf("collectionCode", params.CollectionCode)
	}

	return q
}

func (e *Executor) fetch(ctx context.Context, endpoint string) (*SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(&SearchError{Status: http.StatusBadRequest, Message: err.Error()})
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("occurrence request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sErr := &SearchError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if !sErr.Retryable() {
			return nil, retry.Permanent(sErr)
		}
		return nil, sErr
	}

	var parsed occurrenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	records := make([]Record, 0, len(parsed.Results))
	for _, occ := range parsed.Results {
		records = append(records, toRecord(occ))
	}

	return &SearchResult{
		Records:      records,
		Count:        parsed.Count,
		Offset:       parsed.Offset,
		EndOfRecords: parsed.EndOfRecords,
		RawURL:       endpoint,
	}, nil
}

// toRecord shapes an occurrence for display. The first still image becomes
// the preview; the count covers all media entries with an identifier.
func toRecord(occ occurrenceRecord) Record {
	rec := Record{
		Key:             occ.Key,
		Permalink:       fmt.Sprintf("%s%d", permalinkBase, occ.Key),
		CatalogNumber:   occ.CatalogNumber,
		ScientificName:  occ.ScientificName,
		EventDate:       occ.EventDate,
		RecordedBy:      occ.RecordedBy,
		Locality:        occ.Locality,
		InstitutionCode: occ.InstitutionCode,
	}

	for _, m := range occ.Media {
		if m.Identifier == "" {
			continue
		}
		if rec.ImageURL == "" {
			rec.ImageURL = m.Identifier
		}
		rec.ImageCount++
	}

	return rec
}
