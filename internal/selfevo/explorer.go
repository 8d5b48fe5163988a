package selfevo

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codescout-dev/codescout/internal/event"
	"github.com/codescout-dev/codescout/internal/session"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/pkg/types"
)

// ToolExplorer answers one generated question by running the agent loop in
// an unattended sub-session and reports what happened.
type ToolExplorer interface {
	Explore(ctx context.Context, projectKey, directory string, question types.GeneratedQuestion) (types.ExplorationResult, error)
}

// SessionExplorer reuses internal/session's agentic loop, the same way
// internal/executor's subagent executor spins up a child session, except
// the resulting session carries no parent (it is not a subtask of an
// interactive conversation, but a standalone exploration run by the
// self-evolution loop).
type SessionExplorer struct {
	processor *session.Processor
	storage   *storage.Storage
	agent     *session.Agent
}

// NewSessionExplorer creates a SessionExplorer.
func NewSessionExplorer(processor *session.Processor, store *storage.Storage, agent *session.Agent) *SessionExplorer {
	if agent == nil {
		agent = session.DefaultAgent()
	}
	return &SessionExplorer{processor: processor, storage: store, agent: agent}
}

func (e *SessionExplorer) Explore(ctx context.Context, projectKey, directory string, question types.GeneratedQuestion) (types.ExplorationResult, error) {
	sess, userMsg, err := e.createSession(ctx, projectKey, directory, question)
	if err != nil {
		return types.ExplorationResult{}, fmt.Errorf("create exploration session: %w", err)
	}
	_ = userMsg

	var responseParts []types.Part
	procErr := e.processor.Process(ctx, sess.ID, e.agent, func(msg *types.Message, parts []types.Part) {
		responseParts = parts
	})

	result := types.ExplorationResult{}
	for _, part := range responseParts {
		switch p := part.(type) {
		case *types.TextPart:
			if p.Text != "" {
				result.Answer = p.Text
			}
		case *types.ToolPart:
			step := types.ExplorationStep{
				ToolName: p.ToolName,
				Params:   p.Input,
				Status:   "OK",
			}
			if p.State == types.ToolStateError {
				step.Status = "ERROR"
				if p.Error != nil {
					step.Summary = *p.Error
				}
			} else if p.Output != nil {
				step.Summary = truncateSummary(*p.Output, 280)
			}
			result.Steps = append(result.Steps, step)
		}
	}

	if procErr != nil {
		result.Success = false
		if result.Answer == "" {
			result.Answer = procErr.Error()
		}
		return result, nil
	}

	result.Success = result.Answer != ""
	return result, nil
}

func (e *SessionExplorer) createSession(ctx context.Context, projectKey, directory string, question types.GeneratedQuestion) (*types.Session, *types.Message, error) {
	now := time.Now().UnixMilli()
	sess := &types.Session{
		ID:         ulid.Make().String(),
		ProjectKey: projectKey,
		Directory:  directory,
		Title:      fmt.Sprintf("Exploration: %s", truncateSummary(question.Question, 60)),
		Version:    "1",
		Time: types.SessionTime{
			Created: now,
			Updated: now,
		},
	}
	if err := e.storage.Put(ctx, []string{"session", projectKey, sess.ID}, sess); err != nil {
		return nil, nil, err
	}
	event.PublishSync(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{Info: sess}})

	msgID := ulid.Make().String()
	msg := &types.Message{
		ID:        msgID,
		SessionID: sess.ID,
		Role:      "user",
		Time:      types.MessageTime{Created: now},
	}
	if err := e.storage.Put(ctx, []string{"message", sess.ID, msg.ID}, msg); err != nil {
		return nil, nil, err
	}

	partID := ulid.Make().String()
	textPart := &types.UserPart{
		ID:        partID,
		SessionID: sess.ID,
		MessageID: msg.ID,
		Type:      "user",
		Text:      question.Question,
	}
	if err := e.storage.Put(ctx, []string{"part", msg.ID, partID}, textPart); err != nil {
		return nil, nil, err
	}
	event.PublishSync(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{Info: msg}})
	event.PublishSync(event.Event{Type: event.MessagePartUpdated, Data: event.MessagePartUpdatedData{Part: textPart}})

	return sess, msg, nil
}

func truncateSummary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
