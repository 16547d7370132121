package search

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/listenupapp/bookstream/internal/domain"
)

// Match returns the ids of books whose title or author contains text, case
// insensitively. Wildcard characters in text are not escaped, so the result
// can include extra ids; callers confirm hits with domain.Book.Matches.
func (s *SearchIndex) Match(ctx context.Context, text string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, err := s.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(buildMatchQuery(text), int(total), 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func buildMatchQuery(text string) query.Query {
	if text == "" {
		return bleve.NewMatchAllQuery()
	}
	pattern := "*" + domain.Fold(text) + "*"

	title := bleve.NewWildcardQuery(pattern)
	title.SetField("title")
	author := bleve.NewWildcardQuery(pattern)
	author.SetField("author")

	return bleve.NewDisjunctionQuery(title, author)
}
