// Package pipeline chains query translation, identifier resolution, and the
// configured institution scope into a single resolved parameter set.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gbif-nl-search/internal/common/logger"
	"gbif-nl-search/internal/common/metrics"
	"gbif-nl-search/internal/resolver"
	"gbif-nl-search/internal/schema"
	"gbif-nl-search/internal/translator"
)

// NameResolver resolves a free-text name to a GRSciColl identifier.
type NameResolver interface {
	Resolve(ctx context.Context, kind resolver.Kind, name string) (string, error)
}

// Overrides are manual institution and collection codes supplied alongside
// the query. They only apply when no institution key is in effect.
type Overrides struct {
	InstitutionCode string `json:"institutionCode"`
	CollectionCode  string `json:"collectionCode"`
}

// Pipeline prepares a resolved parameter set from a natural-language query.
type Pipeline struct {
	translator translator.Translator
	resolver   NameResolver
	logger     logger.Logger

	// institutionKey scopes every search to one institution when set.
	institutionKey string
}

func New(t translator.Translator, r NameResolver, log logger.Logger, institutionKey string) *Pipeline {
	return &Pipeline{
		translator:     t,
		resolver:       r,
		logger:         log,
		institutionKey: strings.TrimSpace(institutionKey),
	}
}

// Run translates the query and resolves any institution or collection names
// it mentions. Resolution misses and failures drop the field rather than
// failing the query; translation failures fail it outright. The returned
// candidate parameters echo what the model understood so the UI can show them.
func (p *Pipeline) Run(ctx context.Context, query string, overrides Overrides) (*schema.CandidateParameters, *schema.ResolvedParameters, error) {
	start := time.Now()
	candidate, err := p.translator.Translate(ctx, query)
	metrics.StageDuration.WithLabelValues("translate").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, err
	}

	resolved := candidate.Resolved()

	start = time.Now()
	instKey, collKey := p.resolveNames(ctx, candidate)
	metrics.StageDuration.WithLabelValues("resolve").Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	resolved.InstitutionKey = instKey
	resolved.CollectionKey = collKey

	// A configured institution key pins the search scope no matter what the
	// query or the registry said.
	if p.institutionKey != "" {
		key := p.institutionKey
		resolved.InstitutionKey = &key
	}

	if resolved.InstitutionKey == nil {
		if code := strings.TrimSpace(overrides.InstitutionCode); code != "" {
			resolved.InstitutionCode = &code
		}
		if code := strings.TrimSpace(overrides.CollectionCode); code != "" {
			resolved.CollectionCode = &code
		}
	}

	return candidate, resolved, nil
}

// resolveNames looks up the institution and collection names concurrently.
// Either lookup failing or missing leaves its key nil.
func (p *Pipeline) resolveNames(ctx context.Context, candidate *schema.CandidateParameters) (*string, *string) {
	var instKey, collKey *string

	g, gctx := errgroup.WithContext(ctx)

	if candidate.Institution != nil {
		g.Go(func() error {
			instKey = p.lookup(gctx, resolver.KindInstitution, *candidate.Institution)
			return nil
		})
	}
	if candidate.Collection != nil {
		g.Go(func() error {
			collKey = p.lookup(gctx, resolver.KindCollection, *candidate.Collection)
			return nil
		})
	}

	g.Wait()
	return instKey, collKey
}

func (p *Pipeline) lookup(ctx context.Context, kind resolver.Kind, name string) *string {
	key, err := p.resolver.Resolve(ctx, kind, name)
	if err != nil {
		fields := map[string]interface{}{
			"kind": string(kind),
			"name": name,
		}
		if errors.Is(err, resolver.ErrNotFound) {
			p.logger.Info("dropping unresolvable name from search", fields)
		} else {
			p.logger.WithError(err).Warn("dropping unresolvable name from search", fields)
		}
		return nil
	}
	return &key
}
