// Package selfevo implements the self-evolution loop: one cooperative
// background task per project that generates exploration questions, runs
// them through the tool explorer, and records what it learns. Grounded on
// internal/session's agentic loop for unattended exploration and
// internal/learning for the generator/guard/recorder trio (spec §4.14).
package selfevo

import (
	"context"
	"time"

	"github.com/codescout-dev/codescout/internal/learning"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/pkg/types"
)

// DefaultInterval is how long the loop sleeps between generation rounds.
const DefaultInterval = 30 * time.Minute

// DefaultQuestionsPerRound caps how many questions are generated per pass.
const DefaultQuestionsPerRound = 5

// Config configures one project's self-evolution Loop.
type Config struct {
	ProjectKey        string
	Directory         string
	TechStack         []string
	Domains           []string
	Interval          time.Duration
	QuestionsPerRound int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QuestionsPerRound <= 0 {
		c.QuestionsPerRound = DefaultQuestionsPerRound
	}
	return c
}

// loopState tracks which question (if any) the loop was in the middle of
// exploring, so a restart can resume instead of silently dropping it.
type loopState struct {
	CurrentQuestion *types.GeneratedQuestion `json:"currentQuestion,omitempty"`
}

func loopStatePath(projectKey string) []string {
	return []string{"learning", "loopstate", projectKey}
}

// Loop runs one project's self-evolution cycle.
type Loop struct {
	cfg       Config
	storage   *storage.Storage
	generator *learning.Generator
	guard     *learning.Guard
	recorder  *learning.Recorder
	explorer  ToolExplorer
}

// NewLoop assembles a self-evolution Loop from its dependencies.
func NewLoop(
	cfg Config,
	store *storage.Storage,
	generator *learning.Generator,
	guard *learning.Guard,
	recorder *learning.Recorder,
	explorer ToolExplorer,
) *Loop {
	return &Loop{
		cfg:       cfg.withDefaults(),
		storage:   store,
		generator: generator,
		guard:     guard,
		recorder:  recorder,
		explorer:  explorer,
	}
}

// Run executes the loop body per spec §4.14 until ctx is cancelled.
// Cancellation is checked at the top of each question iteration, between
// exploration steps is left to the explorer (it shares ctx), and at sleep.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.runRound(ctx); err != nil {
			logging.Warn().Err(err).Str("projectKey", l.cfg.ProjectKey).Msg("self-evolution round failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.Interval):
		}
	}
}

func (l *Loop) runRound(ctx context.Context) error {
	mem, err := loadProjectMemory(ctx, l.storage, l.cfg.ProjectKey)
	if err != nil {
		return err
	}

	recent := recentQuestions(ctx, l.storage, l.cfg.ProjectKey, 20)
	questions, err := l.generator.Generate(ctx, learning.GenerateRequest{
		ProjectKey:      l.cfg.ProjectKey,
		TechStack:       l.cfg.TechStack,
		Domains:         append([]string(nil), mem.DomainKnowledge...),
		RecentQuestions: recent,
		Count:           l.cfg.QuestionsPerRound,
	})
	if err != nil {
		return err
	}

	mem.EvolutionStatus.LastGeneratedAt = time.Now().UnixMilli()
	mem.EvolutionStatus.QuestionsGeneratedToday += len(questions)
	_ = saveProjectMemory(ctx, l.storage, mem)

	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return err
		}

		skip, reason, err := l.guard.ShouldSkipQuestion(ctx, l.cfg.ProjectKey, q.Question, recent)
		if err != nil {
			logging.Warn().Err(err).Msg("doom-loop guard check failed, skipping question defensively")
			continue
		}
		if skip {
			logging.Debug().Str("question", q.Question).Str("reason", reason).Msg("self-evolution skipped question")
			continue
		}

		l.saveLoopState(ctx, &q)
		result, err := l.explorer.Explore(ctx, l.cfg.ProjectKey, l.cfg.Directory, q)
		if err != nil || !result.Success {
			l.guard.RecordFailure(ctx, l.cfg.ProjectKey)
			continue
		}
		l.guard.RecordSuccess(ctx, l.cfg.ProjectKey)

		record, err := l.recorder.SummarizeAndSave(ctx, l.cfg.ProjectKey, q, result)
		if err != nil {
			logging.Warn().Err(err).Msg("failed to summarize and save learning record")
			continue
		}

		mem.LearningRecordIDs = append(mem.LearningRecordIDs, record.ID)
		mem.EvolutionStatus.TotalQuestionsExplored++
		_ = saveProjectMemory(ctx, l.storage, mem)
	}

	l.saveLoopState(ctx, nil)
	return nil
}

func (l *Loop) saveLoopState(ctx context.Context, current *types.GeneratedQuestion) {
	_ = l.storage.Put(ctx, loopStatePath(l.cfg.ProjectKey), &loopState{CurrentQuestion: current})
}
