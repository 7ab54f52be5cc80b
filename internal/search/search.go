// Package search ranks registry contents against fuzzy title queries.
package search

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/lectern/lectern/internal/domain"
	"github.com/lectern/lectern/internal/registry"
)

// Result is one matched book with its rank metadata.
type Result struct {
	Book   domain.BookWithStatus
	Score  int // lower is better
	Target string
}

// Service performs fuzzy search over the books currently known to the
// registry.
type Service struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewService creates a search service.
func NewService(reg *registry.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: reg, logger: logger}
}

// Search matches the query against book titles and authors, returning
// results ordered best-first.
func (s *Service) Search(query string) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	books := s.registry.All()
	targets := make([]string, len(books))
	for i, bws := range books {
		targets[i] = searchTarget(bws.Book.Entry)
	}

	ranks := fuzzy.RankFindFold(query, targets)

	index := make(map[string]int, len(targets))
	for i, t := range targets {
		if _, dup := index[t]; !dup {
			index[t] = i
		}
	}

	results := make([]Result, 0, len(ranks))
	for _, rank := range ranks {
		i, ok := index[rank.Target]
		if !ok {
			continue
		}
		results = append(results, Result{
			Book:   books[i],
			Score:  rank.Distance,
			Target: rank.Target,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score < results[j].Score
	})

	s.logger.Debug("search complete", "query", query, "results", len(results))
	return results
}

func searchTarget(entry domain.CatalogEntry) string {
	if len(entry.Authors) == 0 {
		return entry.Title
	}
	return entry.Title + " " + strings.Join(entry.Authors, " ")
}
