package detector

import (
	"context"
	"iter"

	"github.com/danmuck/acqctl/internal/model"
)

// Writer persists acquired frames and describes them as stream documents.
//
// The writer owns the stream cursor: CollectStreamDocs emits each index
// range once per open session, however often it is called with the same
// count.
type Writer interface {
	// Open prepares storage and describes the data it will produce. Each
	// written index stands for multiplier exposures.
	Open(ctx context.Context, multiplier int) (map[string]model.Descriptor, error)
	WaitForIndex(ctx context.Context, index int) error
	IndicesWritten(ctx context.Context) (int, error)
	CollectStreamDocs(ctx context.Context, indicesWritten int) iter.Seq2[model.Asset, error]
	// Close flushes and releases storage. It is idempotent.
	Close(ctx context.Context) error
}
