package vectorstore

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/codescout-dev/codescout/pkg/types"
)

// searchIndex is the L2 acceleration tier: an in-memory chromem-go
// collection per project used for cosine search over whatever fragments
// have been loaded so far. It never owns durability — the class shard
// files (durable.go) are the canonical source of truth; this is a
// rebuildable accelerator, grounded on kadirpekel-hector's
// pkg/vector/chromem.go identity-embedding pattern (vectors are always
// pre-computed by the embedding client, never by chromem itself).
type searchIndex struct {
	mu  sync.RWMutex
	db  *chromem.DB
	col *chromem.Collection
}

func newSearchIndex() (*searchIndex, error) {
	db := chromem.NewDB()
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("search index requires pre-computed vectors")
	}
	col, err := db.GetOrCreateCollection("fragments", nil, identity)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}
	return &searchIndex{db: db, col: col}, nil
}

func (s *searchIndex) Upsert(ctx context.Context, f types.VectorFragment) error {
	if len(f.Vector) == 0 {
		return nil // fragments with vector==null are skipped from search, per spec
	}
	strMeta := map[string]string{"title": f.Title}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.AddDocuments(ctx, []chromem.Document{{
		ID:        f.ID,
		Content:   f.Content,
		Metadata:  strMeta,
		Embedding: f.Vector,
	}}, 1)
}

func (s *searchIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.Delete(ctx, nil, nil, ids...)
}

// Query returns up to topK nearest fragments by id and raw similarity;
// callers re-rank/filter/tie-break per spec's exact ordering rules rather
// than trusting chromem's own result order, since chromem does not
// guarantee the lexicographic tie-break the spec requires.
func (s *searchIndex) Query(ctx context.Context, vector []float32, topK int) ([]chromem.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	return s.col.QueryEmbedding(ctx, vector, topK, nil, nil)
}

func (s *searchIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count()
}
