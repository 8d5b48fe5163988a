// Package vectorstore implements the tiered vector store of spec §4.9
// (C2): an L1 hot bounded-byte LRU, an L2 warm concurrent map accelerated
// by an in-memory chromem-go cosine index, and an L3 cold durable layout
// of meta.json/class.docs.json/class.vec.bin per project/class shard.
//
// Grounded on internal/storage's file-write conventions for the durable
// tier and kadirpekel-hector's pkg/vector/chromem.go for the in-memory
// acceleration tier.
package vectorstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/codescout-dev/codescout/internal/apperr"
	"github.com/codescout-dev/codescout/internal/classlock"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/pkg/types"
)

// largeCorpusThreshold is the fragment count above which Search uses the
// chromem index to thin candidates before the exact re-rank, instead of
// brute-forcing the whole project. Below it, brute force is both simplest
// and fast enough, per spec §4.9's "acceptable at small scales" note.
const largeCorpusThreshold = 500

// defaultSearchThreshold is the minimum cosine similarity a result must
// clear to be returned, regardless of topK.
const defaultSearchThreshold = 0.3

// Config configures a Store.
type Config struct {
	DataDir         string
	L1MaxBytes      int64
	SearchThreshold float64
	Model           string
	Dimension       int
}

// Store is the tiered vector store, scoped to possibly many projects.
type Store struct {
	cfg   Config
	st    *storage.Storage
	locks *classlock.Manager

	mu       sync.RWMutex
	projects map[string]*projectState
}

type projectState struct {
	mu            sync.RWMutex
	l1            *boundedLRU
	l2            map[string]types.VectorFragment // id -> fragment
	idClass       map[string]string                // id -> className
	classDocOrder map[string][]string              // className -> ordered fragment ids
	index         *searchIndex
	loadedClasses map[string]bool
	fullyLoaded   bool
}

// New constructs a Store rooted at cfg.DataDir.
func New(cfg Config) *Store {
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = defaultSearchThreshold
	}
	return &Store{
		cfg:      cfg,
		st:       storage.New(cfg.DataDir),
		locks:    classlock.New(),
		projects: make(map[string]*projectState),
	}
}

func (s *Store) project(projectKey string) *projectState {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectKey]
	if ok {
		return p
	}
	idx, err := newSearchIndex()
	if err != nil {
		logging.Error().Err(err).Str("project", projectKey).Msg("failed to create search index, falling back to brute force only")
	}
	p = &projectState{
		l1:            newBoundedLRU(s.cfg.L1MaxBytes),
		l2:            make(map[string]types.VectorFragment),
		idClass:       make(map[string]string),
		classDocOrder: make(map[string][]string),
		index:         idx,
		loadedClasses: make(map[string]bool),
	}
	s.projects[projectKey] = p
	return p
}

// ensureClassLoaded loads a class shard from L3 into L2/the search index
// exactly once per process lifetime (until invalidated by Delete).
func (s *Store) ensureClassLoaded(ctx context.Context, projectKey, className string) error {
	p := s.project(projectKey)

	p.mu.Lock()
	if p.loadedClasses[className] {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	docs, _, err := loadShard(ctx, s.st, projectKey, className)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedClasses[className] {
		return nil
	}
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		p.l2[d.ID] = d
		p.idClass[d.ID] = className
		order = append(order, d.ID)
		if p.index != nil {
			_ = p.index.Upsert(ctx, d)
		}
	}
	p.classDocOrder[className] = order
	p.loadedClasses[className] = true
	return nil
}

// ensureProjectLoaded loads every class shard of a project, needed by Get
// and Search since their contract takes no className.
func (s *Store) ensureProjectLoaded(ctx context.Context, projectKey string) error {
	p := s.project(projectKey)

	p.mu.RLock()
	done := p.fullyLoaded
	p.mu.RUnlock()
	if done {
		return nil
	}

	classes, err := s.st.List(ctx, []string{projectKey, "vector"})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, "list vector classes", err)
	}
	for _, c := range classes {
		if err := s.ensureClassLoaded(ctx, projectKey, c); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.fullyLoaded = true
	p.mu.Unlock()
	return nil
}

// Add writes a fragment to L1 synchronously and schedules an asynchronous
// L3 writeback for the owning class shard; subsequent Get calls hit L1
// immediately.
func (s *Store) Add(ctx context.Context, projectKey, className string, f types.VectorFragment) error {
	if err := s.ensureClassLoaded(ctx, projectKey, className); err != nil {
		return err
	}

	p := s.project(projectKey)

	p.mu.Lock()
	if _, exists := p.idClass[f.ID]; !exists {
		p.classDocOrder[className] = append(p.classDocOrder[className], f.ID)
	} else {
		// Replacing an existing fragment in place keeps its position.
	}
	p.l2[f.ID] = f
	p.idClass[f.ID] = className
	order := append([]string(nil), p.classDocOrder[className]...)
	p.mu.Unlock()

	p.l1.Put(f)
	if p.index != nil {
		if err := p.index.Upsert(ctx, f); err != nil {
			logging.Warn().Err(err).Msg("search index upsert failed, brute-force search remains authoritative")
		}
	}

	go s.persistClass(projectKey, className, order, p)
	return nil
}

func (s *Store) persistClass(projectKey, className string, order []string, p *projectState) {
	unlock := s.locks.Lock(projectKey, className)
	defer unlock()

	ctx := context.Background()
	p.mu.RLock()
	docs := make([]types.VectorFragment, 0, len(order))
	for _, id := range order {
		if f, ok := p.l2[id]; ok {
			docs = append(docs, f)
		}
	}
	p.mu.RUnlock()

	if err := saveShard(ctx, s.st, projectKey, className, docs, s.cfg.Model, s.dimensionOf(docs), nowMillis()); err != nil {
		logging.Error().Err(err).Str("project", projectKey).Str("class", className).Msg("failed to persist vector shard")
	}
}

func (s *Store) dimensionOf(docs []types.VectorFragment) int {
	if s.cfg.Dimension > 0 {
		return s.cfg.Dimension
	}
	for _, d := range docs {
		if len(d.Vector) > 0 {
			return len(d.Vector)
		}
	}
	return 1
}

// Get resolves a fragment by id, promoting an L3/L2 hit through to L1.
func (s *Store) Get(ctx context.Context, projectKey, id string) (*types.VectorFragment, error) {
	p := s.project(projectKey)

	if f, ok := p.l1.Get(id); ok {
		return &f, nil
	}

	if err := s.ensureProjectLoaded(ctx, projectKey); err != nil {
		return nil, err
	}

	p.mu.RLock()
	f, ok := p.l2[id]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	p.l1.Put(f)
	return &f, nil
}

// Search ranks fragments by descending cosine similarity to query, ties
// broken by lexicographic id, excluding anything below the configured
// threshold, capped at topK.
func (s *Store) Search(ctx context.Context, projectKey string, query []float32, topK int) ([]types.VectorSearchResult, error) {
	if err := s.ensureProjectLoaded(ctx, projectKey); err != nil {
		return nil, err
	}
	p := s.project(projectKey)

	p.mu.RLock()
	candidates := make([]types.VectorFragment, 0, len(p.l2))
	for _, f := range p.l2 {
		if len(f.Vector) == 0 {
			continue // a fragment with vector==null is skipped, per spec
		}
		candidates = append(candidates, f)
	}
	p.mu.RUnlock()

	if len(candidates) > largeCorpusThreshold && p.index != nil {
		if thinned, ok := s.thinViaIndex(ctx, p, query, topK, len(candidates)); ok {
			candidates = thinned
		}
	}

	return rankByCosine(candidates, query, topK, s.cfg.SearchThreshold), nil
}

func (s *Store) thinViaIndex(ctx context.Context, p *projectState, query []float32, topK, total int) ([]types.VectorFragment, bool) {
	k := topK * 4
	if k > total {
		k = total
	}
	results, err := p.index.Query(ctx, query, k)
	if err != nil {
		logging.Warn().Err(err).Msg("chromem candidate thinning failed, falling back to full brute force")
		return nil, false
	}
	out := make([]types.VectorFragment, 0, len(results))
	p.mu.RLock()
	for _, r := range results {
		if f, ok := p.l2[r.ID]; ok {
			out = append(out, f)
		}
	}
	p.mu.RUnlock()
	return out, true
}

func rankByCosine(candidates []types.VectorFragment, query []float32, topK int, threshold float64) []types.VectorSearchResult {
	results := make([]types.VectorSearchResult, 0, len(candidates))
	for _, f := range candidates {
		score := cosine(f.Vector, query)
		if float64(score) < threshold {
			continue
		}
		results = append(results, types.VectorSearchResult{Fragment: f, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fragment.ID < results[j].Fragment.ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (sqrt(normA) * sqrt(normB)))
}

// Delete removes every fragment whose id starts with idPrefix from all
// tiers, rewriting any affected class shard.
func (s *Store) Delete(ctx context.Context, projectKey, idPrefix string) error {
	if err := s.ensureProjectLoaded(ctx, projectKey); err != nil {
		return err
	}
	return s.deleteWhere(ctx, projectKey, func(id string) bool {
		return strings.HasPrefix(id, idPrefix)
	})
}

// CleanupMdVectors removes every fragment whose id indicates a markdown
// source, invalidating stale learning corpora derived from docs that have
// since changed.
func (s *Store) CleanupMdVectors(ctx context.Context, projectKey string) error {
	if err := s.ensureProjectLoaded(ctx, projectKey); err != nil {
		return err
	}
	return s.deleteWhere(ctx, projectKey, func(id string) bool {
		return strings.Contains(strings.ToLower(id), ".md")
	})
}

func (s *Store) deleteWhere(ctx context.Context, projectKey string, match func(id string) bool) error {
	p := s.project(projectKey)

	p.mu.Lock()
	affectedClasses := make(map[string]bool)
	var toDelete []string
	for id, class := range p.idClass {
		if match(id) {
			toDelete = append(toDelete, id)
			affectedClasses[class] = true
		}
	}
	for _, id := range toDelete {
		delete(p.l2, id)
		delete(p.idClass, id)
	}
	for class := range affectedClasses {
		order := p.classDocOrder[class]
		filtered := order[:0:0]
		for _, id := range order {
			if !match(id) {
				filtered = append(filtered, id)
			}
		}
		p.classDocOrder[class] = filtered
	}
	p.mu.Unlock()

	for _, id := range toDelete {
		p.l1.Delete(id)
		if p.index != nil {
			_ = p.index.Delete(ctx, id)
		}
	}

	for class := range affectedClasses {
		p.mu.RLock()
		order := append([]string(nil), p.classDocOrder[class]...)
		p.mu.RUnlock()
		s.persistClassSync(ctx, projectKey, class, order, p)
	}
	return nil
}

func (s *Store) persistClassSync(ctx context.Context, projectKey, className string, order []string, p *projectState) {
	unlock := s.locks.Lock(projectKey, className)
	defer unlock()

	p.mu.RLock()
	docs := make([]types.VectorFragment, 0, len(order))
	for _, id := range order {
		if f, ok := p.l2[id]; ok {
			docs = append(docs, f)
		}
	}
	p.mu.RUnlock()

	if err := saveShard(ctx, s.st, projectKey, className, docs, s.cfg.Model, s.dimensionOf(docs), nowMillis()); err != nil {
		logging.Error().Err(err).Str("project", projectKey).Str("class", className).Msg("failed to persist vector shard after delete")
	}
}
