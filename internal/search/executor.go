package search

import (
	"context"
	"log"
	"strings"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/research"
)

const defaultMaxSources = 8

// Executor resolves a vertical into sources: every query of the vertical is
// sent to every configured provider, results are deduplicated by canonical
// URL, capped, and the top pages enriched. It implements
// research.VerticalSearcher, so failures never cross the boundary; a vertical
// whose providers all fail settles with zero sources.
type Executor struct {
	providers  []Provider
	enricher   *Enricher
	maxSources int
	logger     *log.Logger
}

func NewExecutor(providers []Provider, enricher *Enricher, cfg config.SearchConfig, logger *log.Logger) *Executor {
	maxSources := cfg.MaxSourcesPerVertical
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Executor{
		providers:  providers,
		enricher:   enricher,
		maxSources: maxSources,
		logger:     logger,
	}
}

// Search runs every query of the vertical. A vertical without its own
// queries searches for its name combined with the run query.
func (e *Executor) Search(ctx context.Context, vertical research.Vertical, query string) research.VerticalResult {
	result := research.VerticalResult{VerticalID: vertical.ID, Sources: []research.Source{}}

	queries := vertical.Queries
	if len(queries) == 0 {
		queries = []string{strings.TrimSpace(vertical.Name + " " + query)}
	}

	seen := make(map[string]bool)
	for _, q := range queries {
		if q == "" {
			continue
		}
		for _, p := range e.providers {
			sources, err := p.Search(ctx, q, e.maxSources)
			if err != nil {
				e.logger.Printf("provider %s failed for %q: %v", p.Name(), q, err)
				continue
			}
			for _, src := range sources {
				key, err := canonicalURL(src.URL)
				if err != nil || seen[key] {
					continue
				}
				seen[key] = true
				src.URL = key
				result.Sources = append(result.Sources, src)
				if len(result.Sources) == e.maxSources {
					e.enrich(ctx, vertical, result.Sources)
					return result
				}
			}
		}
	}
	e.enrich(ctx, vertical, result.Sources)
	return result
}

func (e *Executor) enrich(ctx context.Context, vertical research.Vertical, sources []research.Source) {
	if e.enricher == nil || len(sources) == 0 {
		return
	}
	e.enricher.Enrich(ctx, sources)
	e.logger.Printf("vertical %q resolved %d sources", vertical.Name, len(sources))
}
