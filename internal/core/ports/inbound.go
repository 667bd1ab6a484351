package ports

import (
	"context"

	"github.com/lexrag/query-engine/internal/core/domain"
)

// QueryRouter is the inbound contract for answering a natural-language query
// against a corpus scope.
type QueryRouter interface {
	Route(ctx context.Context, query string, scope domain.Scope) (*domain.RouteResponse, error)
}
