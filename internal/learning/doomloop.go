package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/codescout-dev/codescout/internal/embedding"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/internal/vectorstore"
)

const (
	DefaultMaxConsecutiveErrors = 3
	DefaultBaseBackoff          = 30 * time.Second
	DefaultMaxBackoff           = 30 * time.Minute
	DefaultMaxDailyQuestions    = 200
	DefaultDuplicateThreshold   = 0.85

	// lexicalDuplicateThreshold is how similar (by normalized Levenshtein
	// distance) a candidate question must be to a recent one before the
	// guard skips the embedding call entirely.
	lexicalDuplicateThreshold = 0.92
)

// lexicalSimilarity returns a 0..1 score, 1 meaning identical strings.
func lexicalSimilarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// GuardConfig tunes the doom-loop guard's thresholds.
type GuardConfig struct {
	MaxConsecutiveErrors int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	MaxDailyQuestions    int
	DuplicateThreshold   float32
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxDailyQuestions <= 0 {
		c.MaxDailyQuestions = DefaultMaxDailyQuestions
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	return c
}

// guardState is the durable, per-project counters the guard consults.
type guardState struct {
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	LastFailureAt     int64  `json:"lastFailureAt,omitempty"`
	Day               string `json:"day"`
	QuestionsToday    int    `json:"questionsToday"`
}

// Guard implements shouldSkipQuestion: backoff after repeated failures, a
// rolling daily quota, and semantic dedup against the project's own
// question corpus.
type Guard struct {
	cfg      GuardConfig
	storage  *storage.Storage
	embed    *embedding.Client
	vectors  *vectorstore.Store
	mu       sync.Mutex
	inMemory map[string]*guardState
}

// NewGuard creates a doom-loop Guard.
func NewGuard(store *storage.Storage, embed *embedding.Client, vectors *vectorstore.Store, cfg GuardConfig) *Guard {
	return &Guard{
		cfg:      cfg.withDefaults(),
		storage:  store,
		embed:    embed,
		vectors:  vectors,
		inMemory: make(map[string]*guardState),
	}
}

func guardPath(projectKey string) []string {
	return []string{"learning", "guard", projectKey}
}

func (g *Guard) load(ctx context.Context, projectKey string) *guardState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.inMemory[projectKey]; ok {
		return s
	}

	var s guardState
	if err := g.storage.Get(ctx, guardPath(projectKey), &s); err != nil {
		s = guardState{}
	}
	cp := s
	g.inMemory[projectKey] = &cp
	return &cp
}

func (g *Guard) save(ctx context.Context, projectKey string, s *guardState) {
	g.mu.Lock()
	cp := *s
	g.inMemory[projectKey] = &cp
	g.mu.Unlock()
	_ = g.storage.Put(ctx, guardPath(projectKey), s)
}

// ShouldSkipQuestion composes the backoff, daily-quota, lexical pre-filter,
// and semantic-dedup checks. reason is non-empty only when shouldSkip is
// true. recentQuestions seeds the cheap lexical pre-filter that runs before
// the embedding call; pass nil to skip it.
func (g *Guard) ShouldSkipQuestion(ctx context.Context, projectKey, question string, recentQuestions []string) (shouldSkip bool, reason string, err error) {
	state := g.load(ctx, projectKey)

	today := time.Now().UTC().Format("2006-01-02")
	if state.Day != today {
		state.Day = today
		state.QuestionsToday = 0
		g.save(ctx, projectKey, state)
	}

	if state.ConsecutiveErrors >= g.cfg.MaxConsecutiveErrors {
		exp := min(state.ConsecutiveErrors, 30)
		backoff := g.cfg.BaseBackoff * time.Duration(1<<uint(exp))
		if backoff > g.cfg.MaxBackoff {
			backoff = g.cfg.MaxBackoff
		}
		if state.LastFailureAt > 0 {
			elapsed := time.Since(time.UnixMilli(state.LastFailureAt))
			if elapsed < backoff {
				return true, "backoff", nil
			}
		}
	}

	if state.QuestionsToday >= g.cfg.MaxDailyQuestions {
		return true, "daily quota exhausted", nil
	}

	for _, recent := range recentQuestions {
		if lexicalSimilarity(question, recent) >= lexicalDuplicateThreshold {
			return true, "near-duplicate of a recent question (lexical)", nil
		}
	}

	if g.embed != nil && g.vectors != nil {
		vec, embedErr := g.embed.Embed(ctx, question, "query")
		if embedErr == nil {
			results, searchErr := g.vectors.Search(ctx, projectKey, vec, 1)
			if searchErr == nil && len(results) > 0 && results[0].Score >= g.cfg.DuplicateThreshold {
				return true, fmt.Sprintf("duplicate of existing question (score %.2f)", results[0].Score), nil
			}
		}
	}

	state.QuestionsToday++
	g.save(ctx, projectKey, state)
	return false, "", nil
}

// RecordFailure increments the project's consecutive-error counter.
func (g *Guard) RecordFailure(ctx context.Context, projectKey string) {
	state := g.load(ctx, projectKey)
	state.ConsecutiveErrors++
	state.LastFailureAt = time.Now().UnixMilli()
	g.save(ctx, projectKey, state)
}

// RecordSuccess resets the project's consecutive-error counter to zero.
func (g *Guard) RecordSuccess(ctx context.Context, projectKey string) {
	state := g.load(ctx, projectKey)
	if state.ConsecutiveErrors == 0 {
		return
	}
	state.ConsecutiveErrors = 0
	g.save(ctx, projectKey, state)
}
