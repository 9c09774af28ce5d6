package driving

import (
	"context"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// Querier answers retrieval requests against the index.
type Querier interface {
	// Query returns the top-k chunks for the query text, ranked by hybrid
	// (dense + lexical) relevance, with citations attached.
	Query(ctx context.Context, queryText string, opts domain.QueryOptions) (*domain.QueryResult, error)
}
