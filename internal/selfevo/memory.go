package selfevo

import (
	"context"
	"encoding/json"

	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/pkg/types"
)

func memoryPath(projectKey string) []string {
	return []string{"learning", "memory", projectKey}
}

// loadProjectMemory loads a project's durable memory, returning a fresh
// zero-value ProjectMemory if none has been persisted yet.
func loadProjectMemory(ctx context.Context, store *storage.Storage, projectKey string) (*types.ProjectMemory, error) {
	var mem types.ProjectMemory
	if err := store.Get(ctx, memoryPath(projectKey), &mem); err != nil {
		return &types.ProjectMemory{ProjectKey: projectKey}, nil
	}
	return &mem, nil
}

func saveProjectMemory(ctx context.Context, store *storage.Storage, mem *types.ProjectMemory) error {
	return store.Put(ctx, memoryPath(mem.ProjectKey), mem)
}

// recentQuestions returns up to n of the project's most recently recorded
// questions, used to seed the generator's deduplication list.
func recentQuestions(ctx context.Context, store *storage.Storage, projectKey string, n int) []string {
	var questions []string
	_ = store.Scan(ctx, []string{"learning", "record", projectKey}, func(key string, data json.RawMessage) error {
		var rec types.LearningRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			questions = append(questions, rec.Question)
		}
		return nil
	})
	if len(questions) > n {
		questions = questions[len(questions)-n:]
	}
	return questions
}
