package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Source yields a lazy finite sequence of ingest items. Each call to Stream
// performs an independent traversal; order is not guaranteed to be stable
// across calls. Adapters may skip individual items they cannot fetch but must
// return an error on structural failures (missing org, unreachable root).
//
// emit returning an error stops the traversal and propagates the error.
type Source interface {
	Stream(ctx context.Context, emit func(models.IngestItem) error) error
}
