package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codescout-dev/codescout/internal/embedding"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/internal/provider"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/internal/vectorstore"
	"github.com/codescout-dev/codescout/pkg/types"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

const recordSystemPrompt = `You summarize an autonomous code-exploration transcript into a learning record.
Respond with a single JSON object: {"answer","confidence","sourceFiles","domain","tags"}.
confidence is a float between 0 and 1.`

type rawSummary struct {
	Answer      string   `json:"answer"`
	Confidence  float64  `json:"confidence"`
	SourceFiles []string `json:"sourceFiles"`
	Domain      string   `json:"domain"`
	Tags        []string `json:"tags"`
}

// Recorder summarizes an exploration into a LearningRecord and persists it,
// alongside question/answer embeddings for later semantic retrieval.
type Recorder struct {
	providerRegistry *provider.Registry
	storage          *storage.Storage
	embed            *embedding.Client
	vectors          *vectorstore.Store
}

// NewRecorder creates a learning Recorder.
func NewRecorder(providerRegistry *provider.Registry, store *storage.Storage, embed *embedding.Client, vectors *vectorstore.Store) *Recorder {
	return &Recorder{
		providerRegistry: providerRegistry,
		storage:          store,
		embed:            embed,
		vectors:          vectors,
	}
}

// Summarize invokes the LLM in JSON-only mode to turn an exploration result
// into a durable LearningRecord. Confidence is capped at 0.7 whenever any
// exploration step errored; the answer must not be blank.
func (r *Recorder) Summarize(
	ctx context.Context,
	projectKey string,
	question types.GeneratedQuestion,
	result types.ExplorationResult,
) (*types.LearningRecord, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExploration transcript:\n", question.Question)
	hadError := false
	for i, step := range result.Steps {
		fmt.Fprintf(&b, "%d. %s(%v) -> %s: %s\n", i+1, step.ToolName, step.Params, step.Status, step.Summary)
		if step.Status == "ERROR" {
			hadError = true
		}
	}

	var raw rawSummary
	if err := provider.GenerateJSON(ctx, r.providerRegistry, recordSystemPrompt, b.String(), 1024, &raw); err != nil {
		return nil, fmt.Errorf("summarize exploration: %w", err)
	}

	answer := strings.TrimSpace(raw.Answer)
	if answer == "" {
		return nil, fmt.Errorf("summarize exploration: model returned a blank answer")
	}

	confidence := raw.Confidence
	if hadError && confidence > 0.7 {
		confidence = 0.7
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	record := &types.LearningRecord{
		ID:              ulid.Make().String(),
		ProjectKey:      projectKey,
		CreatedAt:       nowMillis(),
		Question:        question.Question,
		QuestionType:    question.Type,
		Answer:          answer,
		ExplorationPath: result.Steps,
		Confidence:      confidence,
		SourceFiles:     raw.SourceFiles,
		Domain:          raw.Domain,
		Tags:            raw.Tags,
	}
	return record, nil
}

// Save persists the record to the relational store, then embeds its
// question and answer as two separate vector fragments. Embedding failure
// is logged but never rolls back the relational write.
func (r *Recorder) Save(ctx context.Context, record *types.LearningRecord) error {
	if err := r.storage.Put(ctx, []string{"learning", "record", record.ProjectKey, record.ID}, record); err != nil {
		return fmt.Errorf("save learning record: %w", err)
	}

	if r.embed == nil || r.vectors == nil {
		return nil
	}

	r.addVector(ctx, record, "question", record.Question)
	r.addVector(ctx, record, "answer", record.Answer)
	return nil
}

func (r *Recorder) addVector(ctx context.Context, record *types.LearningRecord, part, content string) {
	vec, err := r.embed.Embed(ctx, content, "document")
	if err != nil {
		logging.Warn().Err(err).Str("recordID", record.ID).Str("part", part).
			Msg("learning record embedding failed, record remains queryable by id")
		return
	}

	fragment := types.VectorFragment{
		ID:      fmt.Sprintf("learning:%s:%s", record.ID, part),
		Title:   record.Question,
		Content: content,
		Tags:    []string{"learning", part, record.Domain},
		Vector:  vec,
	}
	if err := r.vectors.Add(ctx, record.ProjectKey, "learning", fragment); err != nil {
		logging.Warn().Err(err).Str("recordID", record.ID).Str("part", part).
			Msg("failed to add learning record vector to store")
	}
}

// SummarizeAndSave is a convenience wrapper combining Summarize and Save,
// matching the self-evolution loop's usage (spec §4.14).
func (r *Recorder) SummarizeAndSave(
	ctx context.Context,
	projectKey string,
	question types.GeneratedQuestion,
	result types.ExplorationResult,
) (*types.LearningRecord, error) {
	record, err := r.Summarize(ctx, projectKey, question, result)
	if err != nil {
		return nil, err
	}
	if err := r.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
